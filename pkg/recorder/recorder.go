// Package recorder keeps a per-call audio timeline and event log and writes
// them out as a mixed WAV recording plus events.json when the call ends.
//
// Caller audio is placed at the media timestamp the telephony side reports.
// Assistant audio carries no timestamp, so it is laid end to end from an
// anchor: the latest caller timestamp seen when the current utterance
// started. ResetAssistantAnchor starts a new utterance.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/callrelay/pkg/codec"
	"github.com/harunnryd/callrelay/pkg/logging"
	"github.com/harunnryd/callrelay/pkg/metrics"
	"github.com/harunnryd/callrelay/pkg/redact"
)

// Source identifies which side of the call produced a chunk.
type Source string

const (
	SourceCaller    Source = "caller"
	SourceAssistant Source = "assistant"
)

// Event types written to events.json.
const (
	EventCallStarted      = "call_started"
	EventCallEnded        = "call_ended"
	EventTranscription    = "transcription"
	EventAIResponse       = "ai_response"
	EventAudioDecodeError = "audio_decode_error"
	EventInterruption     = "interruption"
)

// Chunk is a run of decoded samples placed on the call timeline.
type Chunk struct {
	Samples     []int16
	TimestampMS int64
	Source      Source
}

// Event is one entry of the call event log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
}

// Config configures a Recorder.
type Config struct {
	// Dir is the artifacts root; each call gets its own subdirectory.
	Dir     string
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Artifacts describes what Finalize wrote.
type Artifacts struct {
	Dir           string
	RecordingPath string
	EventsPath    string
	Duration      time.Duration
	Events        int
}

// ErrNotStarted is returned by Finalize when no call is open.
var ErrNotStarted = errors.New("recorder: no call in progress")

// Recorder is safe for concurrent use by the two relay loops.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	callID         string
	startedAt      time.Time
	chunks         []Chunk
	events         []Event
	latestCallerMS int64
	cursorMS       int64
	anchored       bool
	finalized      *Artifacts
}

func New(cfg Config) *Recorder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	return &Recorder{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "recorder"),
	}
}

// Start opens a fresh timeline for callID, discarding anything buffered.
func (r *Recorder) Start(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callID = callID
	r.startedAt = r.cfg.Now()
	r.chunks = nil
	r.events = nil
	r.latestCallerMS = 0
	r.cursorMS = 0
	r.anchored = false
	r.finalized = nil
	r.logEventLocked(EventCallStarted, map[string]any{"stream_sid": callID})
}

// AppendCaller stores caller audio at its reported timestamp. The timestamp
// becomes the latest caller time even when the payload cannot be decoded or
// carries no samples.
func (r *Recorder) AppendCaller(payload string, tsMS int64) {
	r.mu.Lock()
	r.latestCallerMS = tsMS
	r.mu.Unlock()

	samples, err := codec.DecodeBase64PCM(payload)
	if err != nil {
		r.ReportDecodeError(metrics.DirectionIncoming, err)
		return
	}
	if len(samples) == 0 {
		return
	}

	r.mu.Lock()
	r.chunks = append(r.chunks, Chunk{Samples: samples, TimestampMS: tsMS, Source: SourceCaller})
	r.mu.Unlock()
}

// AppendAssistant stores assistant audio at the cursor and advances it by
// the chunk's whole-millisecond duration. It returns the decoded sample count.
// An empty chunk is ignored and does not anchor the cursor.
func (r *Recorder) AppendAssistant(payload string) (int, error) {
	samples, err := codec.DecodeBase64PCM(payload)
	if err != nil {
		r.ReportDecodeError(metrics.DirectionOutgoing, err)
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.anchored {
		r.cursorMS = r.latestCallerMS
		r.anchored = true
	}
	r.chunks = append(r.chunks, Chunk{Samples: samples, TimestampMS: r.cursorMS, Source: SourceAssistant})
	r.cursorMS += codec.DurationMS(len(samples))
	return len(samples), nil
}

// ResetAssistantAnchor makes the next assistant chunk re-anchor to the
// latest caller timestamp.
func (r *Recorder) ResetAssistantAnchor() {
	r.mu.Lock()
	r.anchored = false
	r.cursorMS = 0
	r.mu.Unlock()
}

// LogTranscript records a finished transcript. Assistant text is logged as
// an ai_response event, everything else as a transcription.
func (r *Recorder) LogTranscript(role, text string) {
	text = redact.Text(text)
	if role == "assistant" {
		r.LogEvent(EventAIResponse, map[string]any{"text": text})
		return
	}
	r.LogEvent(EventTranscription, map[string]any{"role": role, "text": text})
}

// LogEvent appends an entry to the call event log.
func (r *Recorder) LogEvent(eventType string, data map[string]any) {
	r.mu.Lock()
	r.logEventLocked(eventType, data)
	r.mu.Unlock()
}

// Events returns a copy of the event log so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Chunks returns a copy of the timeline so far.
func (r *Recorder) Chunks() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chunk(nil), r.chunks...)
}

// Finalize mixes the timeline and writes the call artifacts, then drops the
// buffered state. Calling it again for the same call returns the first
// result without writing anything.
func (r *Recorder) Finalize(callID string) (Artifacts, error) {
	r.mu.Lock()
	if r.finalized != nil && (callID == "" || callID == r.callID) {
		out := *r.finalized
		r.mu.Unlock()
		return out, nil
	}
	if r.callID == "" {
		r.mu.Unlock()
		return Artifacts{}, ErrNotStarted
	}
	r.logEventLocked(EventCallEnded, map[string]any{"duration_events": len(r.events) + 1})
	snap := snapshot{
		callID:    r.callID,
		startedAt: r.startedAt,
		chunks:    r.chunks,
		events:    r.events,
	}
	r.chunks = nil
	r.events = nil
	r.mu.Unlock()

	art, err := writeArtifacts(r.cfg.Dir, snap)

	r.mu.Lock()
	r.finalized = &art
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("recording_write_failed", "call_id", snap.callID, "error", err)
		return art, err
	}
	r.cfg.Metrics.RecordingWritten(context.Background(), art.Duration)
	r.logger.Info("recording_written",
		"call_id", snap.callID,
		"dir", art.Dir,
		"duration_ms", art.Duration.Milliseconds(),
		"events", art.Events,
	)
	return art, nil
}

// ReportDecodeError logs an audio_decode_error event for a dropped chunk.
func (r *Recorder) ReportDecodeError(direction string, err error) {
	data := map[string]any{"direction": direction, "error": err.Error()}
	var de *codec.DecodeError
	if errors.As(err, &de) {
		data["kind"] = string(de.Kind)
	}
	r.LogEvent(EventAudioDecodeError, data)
	r.cfg.Metrics.DecodeError(context.Background(), direction)
	r.logger.Warn("audio_decode_error", "direction", direction, "error", err)
}

func (r *Recorder) logEventLocked(eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	r.events = append(r.events, Event{Timestamp: r.cfg.Now(), Type: eventType, Data: data})
}
