package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harunnryd/callrelay/pkg/config"
	"github.com/harunnryd/callrelay/pkg/redact"
	"github.com/harunnryd/callrelay/pkg/transports"
	twiliotransport "github.com/harunnryd/callrelay/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	from := flag.String("from", "", "caller ID")
	to := flag.String("to", "", "destination number")
	voiceURL := flag.String("voice_url", "", "override the voice webhook URL")
	sendDigits := flag.String("send_digits", "", "DTMF digits to send once answered")
	statusCallback := flag.String("status_callback", "", "override the status callback URL")
	timeout := flag.Int("timeout", 0, "ring timeout in seconds")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...]")
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	twCfg, err := cfg.TwilioConfig()
	if err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	if *voiceURL == "" && twCfg.PublicURL == "" {
		fmt.Println("public_url is empty; set transports.settings.public_url or -voice_url")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	callSID, err := twiliotransport.NewDialer(twCfg).PlaceCall(ctx, transports.CallRequest{
		To:             *to,
		From:           *from,
		URL:            *voiceURL,
		SendDigits:     *sendDigits,
		StatusCallback: *statusCallback,
		RingTimeout:    *timeout,
	})
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("calling", redact.Phone(*to), "call_sid:", callSID)
}
