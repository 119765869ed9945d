package twilio

import (
	"context"
	"errors"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/callrelay/pkg/transports"
)

var statusEvents = []string{"initiated", "ringing", "answered", "completed"}

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dialer starts outbound calls through the Twilio REST API.
type Dialer struct {
	cfg     Config
	creator callCreator
}

var _ transports.CallPlacer = (*Dialer)(nil)

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

// PlaceCall creates the call and returns its CallSid.
func (d *Dialer) PlaceCall(ctx context.Context, req transports.CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.To == "" || req.From == "" {
		return "", errors.New("twilio: to and from are required")
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errors.New("twilio: account_sid and auth_token are required to dial")
	}

	call, err := d.rest().CreateCall(d.callParams(req))
	if err != nil {
		return "", err
	}
	if call == nil || call.Sid == nil {
		return "", errors.New("twilio: create call returned no sid")
	}
	return *call.Sid, nil
}

func (d *Dialer) rest() callCreator {
	if d.creator != nil {
		return d.creator
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: d.cfg.AccountSID,
		Password: d.cfg.AuthToken,
	})
	return client.Api
}

func (d *Dialer) callParams(req transports.CallRequest) *api.CreateCallParams {
	url := req.URL
	if url == "" {
		url = publicURL(d.cfg, d.cfg.VoicePath)
	}
	p := (&api.CreateCallParams{}).SetTo(req.To).SetFrom(req.From).SetUrl(url)

	if digits := strings.TrimSpace(req.SendDigits); digits != "" {
		p.SetSendDigits(digits)
	}
	if req.RingTimeout > 0 {
		p.SetTimeout(req.RingTimeout)
	}

	callback := strings.TrimSpace(req.StatusCallback)
	if callback == "" && d.cfg.PublicURL != "" {
		callback = publicURL(d.cfg, d.cfg.StatusCallbackPath)
	}
	if callback != "" {
		p.SetStatusCallback(callback).
			SetStatusCallbackMethod("POST").
			SetStatusCallbackEvent(statusEvents)
	}
	return p
}
