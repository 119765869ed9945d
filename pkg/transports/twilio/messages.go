package twilio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Media stream event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

// Millis is a media timestamp in milliseconds since the stream started.
// Twilio sends it as a decimal string; numbers are accepted too.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("media timestamp: %w", err)
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*m = 0
			return nil
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return fmt.Errorf("media timestamp %q: %w", raw, err)
		}
		v = int64(f)
	}
	*m = Millis(v)
	return nil
}

type Start struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	From             string            `json:"from,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp Millis `json:"timestamp"`
	Payload   string `json:"payload"`
}

type Mark struct {
	Name string `json:"name"`
}

type Stop struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type DTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// Inbound is one message received on the media stream.
type Inbound struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`
	Start          *Start `json:"start,omitempty"`
	Media          *Media `json:"media,omitempty"`
	Mark           *Mark  `json:"mark,omitempty"`
	Stop           *Stop  `json:"stop,omitempty"`
	DTMF           *DTMF  `json:"dtmf,omitempty"`
}

// ParseInbound decodes one media stream message.
func ParseInbound(b []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return Inbound{}, err
	}
	if in.Event == "" {
		return Inbound{}, fmt.Errorf("media stream message without event")
	}
	return in, nil
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

// Outbound is one message sent back on the media stream.
type Outbound struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
	Mark      *Mark          `json:"mark,omitempty"`
}

// MediaMessage plays base64 μ-law audio to the caller.
func MediaMessage(streamSID, payload string) Outbound {
	return Outbound{Event: EventMedia, StreamSID: streamSID, Media: &outboundMedia{Payload: payload}}
}

// MarkMessage asks Twilio to echo name back once playback reaches it.
func MarkMessage(streamSID, name string) Outbound {
	return Outbound{Event: EventMark, StreamSID: streamSID, Mark: &Mark{Name: name}}
}

// ClearMessage drops any audio Twilio has buffered for playback.
func ClearMessage(streamSID string) Outbound {
	return Outbound{Event: EventClear, StreamSID: streamSID}
}
