// Package realtime is a client for the OpenAI Realtime speech API. The relay
// opens one Session per call, streams caller μ-law audio into it and reads
// assistant audio, transcripts and voice activity events back.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/callrelay/pkg/errorsx"
	"github.com/harunnryd/callrelay/pkg/logging"
	"github.com/harunnryd/callrelay/pkg/resilience"
)

const (
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultModel              = "gpt-4o-realtime-preview-2024-10-01"
	defaultVoice              = "alloy"
	defaultTurnDetection      = "server_vad"
	defaultTranscriptionModel = "whisper-1"
	audioFormatULaw           = "g711_ulaw"
)

// ErrSessionClosed is returned once Close has been called.
var ErrSessionClosed = errors.New("realtime: session closed")

type Config struct {
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"`
	BaseURL            string        `mapstructure:"base_url"`
	Voice              string        `mapstructure:"voice"`
	Instructions       string        `mapstructure:"instructions"`
	Temperature        float64       `mapstructure:"temperature"`
	TurnDetection      string        `mapstructure:"turn_detection"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	DialRetries        int           `mapstructure:"dial_retries"`
	DialBackoff        time.Duration `mapstructure:"-"`
	DialTimeout        time.Duration `mapstructure:"-"`
	CircuitThreshold   int           `mapstructure:"circuit_threshold"`
	CircuitCooldown    time.Duration `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Voice == "" {
		c.Voice = defaultVoice
	}
	if c.TurnDetection == "" {
		c.TurnDetection = defaultTurnDetection
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = defaultTranscriptionModel
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// SessionParams renders the session.update payload for this config.
func (c Config) SessionParams() SessionParams {
	c = c.withDefaults()
	p := SessionParams{
		InputAudioFormat:  audioFormatULaw,
		OutputAudioFormat: audioFormatULaw,
		Voice:             c.Voice,
		Instructions:      c.Instructions,
		Modalities:        []string{"text", "audio"},
		Temperature:       c.Temperature,
	}
	if c.TurnDetection != "none" {
		p.TurnDetection = &turnDetection{Type: c.TurnDetection}
	}
	if c.TranscriptionModel != "none" {
		p.InputAudioTranscription = &inputTranscription{Model: c.TranscriptionModel}
	}
	return p
}

// Client dials sessions. It is shared across calls so the circuit breaker
// sees every rate limit response.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	retry := resilience.NewRetryPolicy(cfg.DialRetries, cfg.DialBackoff)
	retry.Retryable = retryableDialError
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		logger:  logging.NewComponentLogger(logger, "realtime"),
	}
}

// Dial is a one-off NewClient(cfg, nil).Dial(ctx).
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	return NewClient(cfg, nil).Dial(ctx)
}

// Dial opens a session and configures it with session.update.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, errorsx.New(errorsx.ReasonAIConnect, "realtime: missing api key")
	}
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonAIConnect)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	var ws *websocket.Conn
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		return c.breaker.Guard(func() error {
			conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
			if err != nil {
				return dialError(err, resp)
			}
			ws = conn
			return nil
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			return nil, errorsx.Wrap(fmt.Errorf("realtime: dial: %w", err), errorsx.ReasonAICircuitOpen)
		case resilience.IsRateLimit(err):
			return nil, errorsx.Wrap(fmt.Errorf("realtime: dial: %w", err), errorsx.ReasonAIRateLimit)
		default:
			return nil, errorsx.Wrap(fmt.Errorf("realtime: dial: %w", err), errorsx.ReasonAIConnect)
		}
	}

	s := &Session{ws: ws, logger: c.logger}
	if err := s.UpdateSession(c.cfg.SessionParams()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}
	return s, nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("handshake status %d: %v", e.code, e.err)
}

func (e *statusError) Unwrap() error { return e.err }

func dialError(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		rl := resilience.RateLimitError{Provider: "openai", Message: "openai: rate limited"}
		if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil {
			rl.RetryAfter = time.Duration(secs) * time.Second
		}
		return rl
	}
	return &statusError{code: resp.StatusCode, err: err}
}

// retryableDialError rejects client errors other than rate limits.
func retryableDialError(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
		return false
	}
	return true
}

// Session is one open realtime conversation. Recv must be called from a
// single goroutine; the send methods are safe for concurrent use.
type Session struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	once    sync.Once
}

// UpdateSession sends session.update.
func (s *Session) UpdateSession(params SessionParams) error {
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// AppendAudio forwards base64 μ-law caller audio unchanged.
func (s *Session) AppendAudio(payload string) error {
	return s.writeJSON(appendAudioMessage{Type: "input_audio_buffer.append", Audio: payload})
}

// Truncate tells the service how much of an assistant item was heard.
func (s *Session) Truncate(itemID string, contentIndex int, audioEndMS int64) error {
	return s.writeJSON(truncateMessage{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMS:   audioEndMS,
	})
}

// Recv returns the next server event. Undecodable messages are skipped.
func (s *Session) Recv() (ServerEvent, error) {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return ServerEvent{}, ErrSessionClosed
			}
			return ServerEvent{}, errorsx.Wrap(fmt.Errorf("realtime: read: %w", err), errorsx.ReasonAIClosed)
		}
		var evt ServerEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.Type == "" {
			s.logger.Warn("realtime_malformed_event", "error", err)
			continue
		}
		evt.Raw = data
		return evt, nil
	}
}

// Close closes the socket and unblocks a pending Recv. It is idempotent.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
			time.Now().Add(time.Second))
		err = s.ws.Close()
	})
	return err
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("realtime: marshal: %w", err), errorsx.ReasonAISend)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return errorsx.Wrap(ErrSessionClosed, errorsx.ReasonAISend)
	}
	if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errorsx.Wrap(fmt.Errorf("realtime: write: %w", err), errorsx.ReasonAISend)
	}
	return nil
}
