// Package transports holds the contracts between the relay engine and the
// telephony providers that carry calls to it.
package transports

import "context"

// Transport accepts phone calls and hands each media stream to the engine.
// It owns its listener; Drain refuses new calls and waits for live ones.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Drain() error
	Stop() error
}

// CallRequest describes an outbound call. An empty URL means the provider's
// own voice webhook, so the callee reaches the relay like an inbound caller.
type CallRequest struct {
	To   string
	From string
	URL  string

	// SendDigits is played as DTMF once the callee answers.
	SendDigits     string
	StatusCallback string
	// RingTimeout in seconds, zero leaves the provider default.
	RingTimeout int
}

// CallPlacer is implemented by providers able to start outbound calls.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req CallRequest) (callSID string, err error)
}

// ReadyReporter exposes webhook addresses and similar details for the
// startup log line.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
