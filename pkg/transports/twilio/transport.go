package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/twiml"

	"github.com/harunnryd/callrelay/pkg/errorsx"
	"github.com/harunnryd/callrelay/pkg/logging"
	"github.com/harunnryd/callrelay/pkg/redact"
)

const (
	defaultGreetingVoice = "Google.fr-FR-Chirp3-HD-Aoede"
	statusMessage        = "Twilio Media Stream Server is running!"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	GreetingVoice      string   `mapstructure:"greeting_voice"`
	GreetingLanguage   string   `mapstructure:"greeting_language"`
	ReadyPrompt        string   `mapstructure:"ready_prompt"`
	PauseSeconds       int      `mapstructure:"pause_seconds"`
	SendBuffer         int      `mapstructure:"send_buffer"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	// RecordingEnabled is reported on the status endpoint.
	RecordingEnabled bool `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":5050"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/incoming-call"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/media-stream"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if c.GreetingVoice == "" {
		c.GreetingVoice = defaultGreetingVoice
	}
	if c.PauseSeconds < 0 {
		c.PauseSeconds = 0
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// CallHandler runs one call over an accepted media stream. ServeCall owns
// conn and returns when the call is over.
type CallHandler interface {
	ServeCall(ctx context.Context, conn *Conn)
}

// CallHandlerFunc adapts a function to CallHandler.
type CallHandlerFunc func(ctx context.Context, conn *Conn)

func (f CallHandlerFunc) ServeCall(ctx context.Context, conn *Conn) { f(ctx, conn) }

type Transport struct {
	cfg      Config
	handler  CallHandler
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	server   *http.Server

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	conns       map[*Conn]struct{}
	callStreams map[string]*Conn

	active   sync.WaitGroup
	draining atomic.Bool
}

func New(cfg Config, handler CallHandler, logger *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:     cfg,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "twilio_transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		mux:         http.NewServeMux(),
		baseCtx:     ctx,
		cancel:      cancel,
		conns:       make(map[*Conn]struct{}),
		callStreams: make(map[string]*Conn),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	t.mux.HandleFunc("/", t.handleRoot)
	t.mux.HandleFunc(cfg.VoicePath, t.handleVoice)
	t.mux.Handle(cfg.WebsocketPath, t)
	t.mux.HandleFunc(cfg.StatusCallbackPath, t.handleStatusCallback)
	t.mux.HandleFunc("/health", t.handleHealth)
	return t
}

func (t *Transport) Name() string { return "twilio" }

// Handle mounts an extra handler, e.g. the metrics endpoint. Call before Start.
func (t *Transport) Handle(pattern string, h http.Handler) {
	t.mux.Handle(pattern, h)
}

// Handler exposes the routes without a listener.
func (t *Transport) Handler() http.Handler { return t.mux }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"addr":                t.cfg.ServerAddr,
		"webhook_url":         t.voiceWebhookURL(),
		"status_callback_url": t.statusCallbackURL(),
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("twilio_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

// Drain refuses new streams and waits for the calls in flight to finish.
func (t *Transport) Drain() error {
	t.draining.Store(true)
	t.active.Wait()
	return nil
}

// Stop closes the listener and every open stream.
func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.cancel()
	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// ServeHTTP upgrades a media stream request and hands it to the call handler.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("twilio_upgrade_failed", "error", err)
		return
	}
	conn := newConn(ws, t.logger, t.cfg.SendBuffer)
	conn.onStart = t.attach

	t.active.Add(1)
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.detach(conn)
		_ = conn.Close()
		t.active.Done()
	}()

	t.logger.Info("media_stream_connected", "remote_addr", r.RemoteAddr)
	t.handler.ServeCall(t.baseCtx, conn)
}

func (t *Transport) attach(conn *Conn) {
	callSID := conn.CallSID()
	t.logger.Info("media_stream_started",
		"stream_sid", conn.StreamSID(),
		"call_sid", callSID,
		"from", redact.Phone(conn.From()),
	)
	if callSID == "" {
		return
	}
	t.mu.Lock()
	old := t.callStreams[callSID]
	t.callStreams[callSID] = conn
	t.mu.Unlock()
	if old != nil && old != conn {
		t.logger.Info("media_stream_replaced", "call_sid", callSID, "old_stream_sid", old.StreamSID())
		_ = old.Close()
	}
}

func (t *Transport) detach(conn *Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	if callSID := conn.CallSID(); callSID != "" && t.callStreams[callSID] == conn {
		delete(t.callStreams, callSID)
	}
	t.mu.Unlock()
}

func (t *Transport) streamForCall(callSID string) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callStreams[callSID]
}

func (t *Transport) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":         statusMessage,
		"logging_enabled": t.cfg.RecordingEnabled,
	})
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.signedByTwilio(r) {
		t.logger.Warn("twilio_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	doc, err := t.answerTwiML(t.websocketURL(r))
	if err != nil {
		t.logger.Error("twiml_build_failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(doc))
}

// answerTwiML greets the caller and connects the call to the media stream.
func (t *Transport) answerTwiML(streamURL string) (string, error) {
	var verbs []twiml.Element
	if greeting := strings.TrimSpace(t.cfg.VoiceGreeting); greeting != "" {
		verbs = append(verbs, t.say(greeting))
	}
	if t.cfg.PauseSeconds > 0 {
		verbs = append(verbs, &twiml.VoicePause{Length: strconv.Itoa(t.cfg.PauseSeconds)})
	}
	if prompt := strings.TrimSpace(t.cfg.ReadyPrompt); prompt != "" {
		verbs = append(verbs, t.say(prompt))
	}
	verbs = append(verbs, &twiml.VoiceConnect{
		InnerElements: []twiml.Element{&twiml.VoiceStream{Url: streamURL}},
	})
	return twiml.Voice(verbs)
}

func (t *Transport) say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{
		Message:  text,
		Voice:    t.cfg.GreetingVoice,
		Language: t.cfg.GreetingLanguage,
	}
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.signedByTwilio(r) {
		t.logger.Warn("twilio_status_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	t.logger.Info("twilio_call_status", "call_sid", callSID, "status", status)

	if callSID == "" || !callEnded(status) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if conn := t.streamForCall(callSID); conn != nil {
		t.logger.Info("media_stream_closed_by_status", "call_sid", callSID, "stream_sid", conn.StreamSID(), "status", status)
		_ = conn.Close()
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) voiceWebhookURL() string {
	return publicURL(t.cfg, t.cfg.VoicePath)
}

func (t *Transport) statusCallbackURL() string {
	return publicURL(t.cfg, t.cfg.StatusCallbackPath)
}

func publicURL(cfg Config, path string) string {
	if cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(cfg.PublicURL) + path
	}
	addr := cfg.ServerAddr
	if addr == "" {
		addr = ":5050"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
