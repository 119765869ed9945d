package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/callrelay/pkg/errorsx"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Errorf("readJSON: %v", err)
	}
}

func TestDialSendsHeadersAndSessionUpdate(t *testing.T) {
	type seen struct {
		auth, beta, model string
		update            map[string]any
	}
	got := make(chan seen, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		s := seen{
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
			model: r.URL.Query().Get("model"),
		}
		readJSON(t, conn, &s.update)
		got <- s
		_, _, _ = conn.ReadMessage()
	})

	sess, err := Dial(context.Background(), Config{
		APIKey:       "sk-test",
		BaseURL:      wsURL(srv),
		Instructions: "Tu es un assistant vocal.",
		Temperature:  0.8,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	s := <-got
	if s.auth != "Bearer sk-test" || s.beta != "realtime=v1" {
		t.Fatalf("unexpected headers: auth=%q beta=%q", s.auth, s.beta)
	}
	if s.model != defaultModel {
		t.Fatalf("unexpected model %q", s.model)
	}
	if s.update["type"] != "session.update" {
		t.Fatalf("expected session.update first, got %v", s.update["type"])
	}
	session, _ := s.update["session"].(map[string]any)
	if session["input_audio_format"] != "g711_ulaw" || session["output_audio_format"] != "g711_ulaw" {
		t.Fatalf("expected μ-law in and out, got %v", session)
	}
	if session["voice"] != "alloy" || session["temperature"] != 0.8 {
		t.Fatalf("unexpected voice/temperature: %v", session)
	}
	td, _ := session["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" {
		t.Fatalf("expected server_vad turn detection, got %v", session["turn_detection"])
	}
	tr, _ := session["input_audio_transcription"].(map[string]any)
	if tr["model"] != "whisper-1" {
		t.Fatalf("expected whisper-1 transcription, got %v", session["input_audio_transcription"])
	}
}

func TestSessionCommandsAndEvents(t *testing.T) {
	commands := make(chan map[string]any, 4)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteJSON(map[string]any{"type": "response.audio.delta", "item_id": "item_1", "delta": "//8="})
		_ = conn.WriteJSON(map[string]any{"type": "input_audio_buffer.speech_started", "audio_start_ms": 900})
		for i := 0; i < 2; i++ {
			var cmd map[string]any
			readJSON(t, conn, &cmd)
			commands <- cmd
		}
	})

	sess, err := Dial(context.Background(), Config{APIKey: "sk-test", BaseURL: wsURL(srv)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	evt, err := sess.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !evt.IsAudioDelta() || evt.ItemID != "item_1" || evt.Delta != "//8=" {
		t.Fatalf("unexpected first event: %+v", evt)
	}
	evt, err = sess.Recv()
	if err != nil || evt.Type != EventSpeechStarted || evt.AudioStartMS != 900 {
		t.Fatalf("unexpected second event: %+v %v", evt, err)
	}

	if err := sess.AppendAudio("AAAA"); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}
	if err := sess.Truncate("item_1", 0, 250); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	appendCmd := <-commands
	if appendCmd["type"] != "input_audio_buffer.append" || appendCmd["audio"] != "AAAA" {
		t.Fatalf("unexpected append command: %v", appendCmd)
	}
	truncCmd := <-commands
	if truncCmd["type"] != "conversation.item.truncate" || truncCmd["item_id"] != "item_1" ||
		truncCmd["content_index"] != float64(0) || truncCmd["audio_end_ms"] != float64(250) {
		t.Fatalf("unexpected truncate command: %v", truncCmd)
	}
}

func TestSessionCloseUnblocksRecv(t *testing.T) {
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	sess, err := Dial(context.Background(), Config{APIKey: "sk-test", BaseURL: wsURL(srv)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := sess.Recv()
		done <- err
	}()
	_ = sess.Close()
	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Recv did not return after Close")
	}
	if err := sess.AppendAudio("AAAA"); !errorsx.HasReason(err, errorsx.ReasonAISend) {
		t.Fatalf("expected ai_send error after close, got %v", err)
	}
	_ = sess.Close()
}

func TestDialRateLimitedAndRejected(t *testing.T) {
	var attempts, status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: wsURL(srv), DialRetries: 1, DialBackoff: time.Millisecond}, nil)
	_, err := client.Dial(context.Background())
	if !errorsx.HasReason(err, errorsx.ReasonAIRateLimit) {
		t.Fatalf("expected rate limit reason, got %v (%s)", err, errorsx.Reason(err))
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected rate limits to be retried, got %d attempts", attempts.Load())
	}

	attempts.Store(0)
	status.Store(http.StatusUnauthorized)
	_, err = client.Dial(context.Background())
	if !errorsx.HasReason(err, errorsx.ReasonAIConnect) {
		t.Fatalf("expected connect reason, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestDialCircuitOpensAfterRepeatedRateLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(Config{
		APIKey:           "sk-test",
		BaseURL:          wsURL(srv),
		CircuitThreshold: 2,
		CircuitCooldown:  time.Minute,
	}, nil)
	for i := 0; i < 2; i++ {
		_, _ = client.Dial(context.Background())
	}
	_, err := client.Dial(context.Background())
	if !errorsx.HasReason(err, errorsx.ReasonAICircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

func TestDialRequiresAPIKey(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	if !errorsx.HasReason(err, errorsx.ReasonAIConnect) {
		t.Fatalf("expected ai_connect error, got %v", err)
	}
}

func TestServerEventHelpers(t *testing.T) {
	var evt ServerEvent
	if err := json.Unmarshal([]byte(`{"type":"response.output_audio_transcript.done","transcript":"bonjour"}`), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !evt.IsAssistantTranscript() || evt.Transcript != "bonjour" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if (ServerEvent{Type: EventError}).ErrorMessage() != "unknown error" {
		t.Fatalf("expected fallback error message")
	}
}
