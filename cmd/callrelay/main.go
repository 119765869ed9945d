package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/callrelay/pkg/callrelay"
	"github.com/harunnryd/callrelay/pkg/config"
	"github.com/harunnryd/callrelay/pkg/logging"
	"github.com/harunnryd/callrelay/pkg/metrics"
	"github.com/harunnryd/callrelay/pkg/runner"
	"github.com/harunnryd/callrelay/pkg/transports"
	twiliotransport "github.com/harunnryd/callrelay/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	dialTo := flag.String("dial_to", "", "destination number for an outbound call")
	dialFrom := flag.String("dial_from", "", "caller ID for an outbound call")
	dialURL := flag.String("dial_url", "", "override voice URL for the outbound call")
	flag.Parse()

	if err := run(*configPath, *dialTo, *dialFrom, *dialURL); err != nil {
		fmt.Fprintln(os.Stderr, "callrelay:", err)
		os.Exit(1)
	}
}

func run(configPath, dialTo, dialFrom, dialURL string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LoggingOptions())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var met *metrics.Metrics
	if cfg.Metrics.Enabled {
		m, shutdown, err := metrics.InitProvider("callrelay", runner.Version)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
		met = m
	}

	twCfg, err := cfg.TwilioConfig()
	if err != nil {
		return err
	}
	engine := callrelay.NewEngine(callrelay.EngineOptions{
		Config:  cfg,
		Logger:  logger,
		Metrics: met,
	})
	transport := twiliotransport.New(twCfg, engine, logger)
	if cfg.Metrics.Enabled {
		transport.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	if dialTo != "" && dialFrom != "" {
		req := transports.CallRequest{To: dialTo, From: dialFrom, URL: dialURL}
		go placeCall(ctx, logger, twiliotransport.NewDialer(twCfg), req)
	}

	return engine.Serve(ctx, transport)
}

func placeCall(ctx context.Context, logger *slog.Logger, placer transports.CallPlacer, req transports.CallRequest) {
	callSID, err := placer.PlaceCall(ctx, req)
	if err != nil {
		logger.Error("outbound_dial_failed", "error", err)
		return
	}
	logger.Info("outbound_dial_started", "call_sid", callSID)
}
