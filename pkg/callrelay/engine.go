// Package callrelay wires the relay together: it accepts media streams from
// the telephony transport, opens a speech AI session per call and runs the
// relay controller with an optional recorder.
package callrelay

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/callrelay/pkg/config"
	"github.com/harunnryd/callrelay/pkg/errorsx"
	"github.com/harunnryd/callrelay/pkg/logging"
	"github.com/harunnryd/callrelay/pkg/metrics"
	"github.com/harunnryd/callrelay/pkg/realtime"
	"github.com/harunnryd/callrelay/pkg/recorder"
	"github.com/harunnryd/callrelay/pkg/redact"
	"github.com/harunnryd/callrelay/pkg/relay"
	"github.com/harunnryd/callrelay/pkg/runner"
	"github.com/harunnryd/callrelay/pkg/transports"
	"github.com/harunnryd/callrelay/pkg/transports/twilio"
)

// DialFunc opens the speech AI session for one call.
type DialFunc func(ctx context.Context) (relay.AISession, error)

type EngineOptions struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Dial overrides the realtime client, mostly for tests.
	Dial DialFunc
}

type Engine struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	dial    DialFunc
	active  atomic.Int64
}

func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger := logging.NewComponentLogger(opts.Logger, "engine")

	dial := opts.Dial
	if dial == nil {
		client := realtime.NewClient(cfg.AI, opts.Logger)
		dial = func(ctx context.Context) (relay.AISession, error) {
			s, err := client.Dial(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}

	logger.Info("callrelay_init",
		"environment", cfg.Environment,
		"model", cfg.AI.Model,
		"voice", cfg.AI.Voice,
		"transport", cfg.Transports.Provider,
		"recording", cfg.Recording.Enabled,
		"redact_pii", redact.Enabled(),
	)

	return &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: opts.Metrics,
		dial:    dial,
	}
}

// ServeCall implements twilio.CallHandler.
func (e *Engine) ServeCall(ctx context.Context, conn *twilio.Conn) {
	_ = e.HandleCall(ctx, conn)
}

// ActiveCalls reports calls currently relayed.
func (e *Engine) ActiveCalls() int64 {
	return e.active.Load()
}

// HandleCall relays one call until it ends. The media stream is always
// closed on return.
func (e *Engine) HandleCall(ctx context.Context, media relay.MediaStream) error {
	traceID := uuid.NewString()
	logger := e.logger.With("trace_id", traceID)

	e.active.Add(1)
	defer e.active.Add(-1)
	e.metrics.CallStarted(ctx)

	started := time.Now()
	ai, err := e.dial(ctx)
	e.metrics.AIDialed(ctx, time.Since(started), err)
	if err != nil {
		logger.Error("ai_dial_failed", "reason", string(errorsx.Reason(err)), "error", err)
		_ = media.Close()
		e.metrics.CallEnded(ctx, "failed")
		return err
	}
	logger.Info("ai_session_opened", "dial_ms", time.Since(started).Milliseconds())

	var rec relay.Timeline
	if e.cfg.Recording.Enabled {
		rec = recorder.New(recorder.Config{
			Dir:     e.cfg.Recording.ArtifactsDir,
			Logger:  logger,
			Metrics: e.metrics,
		})
	}
	ctrl := relay.New(relay.Config{
		Logger:   logger,
		Metrics:  e.metrics,
		Recorder: rec,
		OnFinalize: func(art recorder.Artifacts, err error) {
			if err == nil {
				logger.Info("call_artifacts", "dir", art.Dir, "recording", art.RecordingPath, "events", art.EventsPath)
			}
		},
	})

	err = ctrl.Run(ctx, media, ai)
	outcome := "completed"
	switch {
	case err == nil:
	case errors.Is(err, errorsx.Mark(errorsx.ReasonAIClosed)):
		outcome = "ai_closed"
	default:
		outcome = "failed"
	}
	if err != nil {
		logger.Warn("call_failed", "stream_sid", ctrl.Session().StreamSID(), "reason", string(errorsx.Reason(err)), "error", err)
	}
	e.metrics.CallEnded(ctx, outcome)
	logger.Info("call_ended",
		"stream_sid", ctrl.Session().StreamSID(),
		"call_sid", ctrl.Session().CallSID(),
		"outcome", outcome,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return err
}

// Serve starts the transport and blocks until ctx is cancelled, then drains
// calls in flight within the shutdown timeout.
func (e *Engine) Serve(ctx context.Context, tr transports.Transport) error {
	e.purgeArtifacts()
	if err := tr.Start(ctx); err != nil {
		return err
	}
	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"transport", tr.Name()}
			if rr, ok := tr.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			e.logger.Info("engine_ready", fields...)
		},
		OnStop: func() {
			_ = tr.Stop()
			e.logger.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", e.ActiveCalls())
		},
	}
	return runner.NewLifecycle(runner.Options{
		Drainer:      tr,
		Hooks:        hooks,
		DrainTimeout: e.cfg.ShutdownTimeout(),
		Logger:       e.logger,
	}).Run(ctx)
}

func (e *Engine) purgeArtifacts() {
	dir := strings.TrimSpace(e.cfg.Recording.ArtifactsDir)
	maxAge := e.cfg.RetentionPeriod()
	if dir == "" || maxAge <= 0 {
		return
	}
	n, err := recorder.PurgeArtifacts(dir, maxAge)
	if err != nil {
		e.logger.Warn("artifact_purge_failed", "dir", dir, "error", err)
		return
	}
	if n > 0 {
		e.logger.Info("artifacts_purged", "dir", dir, "removed", n)
	}
}
