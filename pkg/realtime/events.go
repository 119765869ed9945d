package realtime

import "encoding/json"

// Server event types the relay reacts to.
const (
	EventSessionCreated       = "session.created"
	EventSessionUpdated       = "session.updated"
	EventAudioDelta           = "response.audio.delta"
	EventOutputAudioDelta     = "response.output_audio.delta"
	EventAudioTranscriptDone  = "response.audio_transcript.done"
	EventOutputTranscriptDone = "response.output_audio_transcript.done"
	EventInputTranscriptDone  = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted        = "input_audio_buffer.speech_started"
	EventSpeechStopped        = "input_audio_buffer.speech_stopped"
	EventInputAudioCommitted  = "input_audio_buffer.committed"
	EventResponseDone         = "response.done"
	EventResponseContentDone  = "response.content.done"
	EventRateLimitsUpdated    = "rate_limits.updated"
	EventItemTruncated        = "conversation.item.truncated"
	EventError                = "error"
)

// ErrorDetail is the payload of an error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// ServerEvent is one decoded message from the realtime session. Only the
// fields the relay reads are mapped; Raw keeps the original bytes.
type ServerEvent struct {
	Type         string       `json:"type"`
	EventID      string       `json:"event_id,omitempty"`
	ResponseID   string       `json:"response_id,omitempty"`
	ItemID       string       `json:"item_id,omitempty"`
	ContentIndex int          `json:"content_index,omitempty"`
	Delta        string       `json:"delta,omitempty"`
	Transcript   string       `json:"transcript,omitempty"`
	AudioStartMS int64        `json:"audio_start_ms,omitempty"`
	AudioEndMS   int64        `json:"audio_end_ms,omitempty"`
	Error        *ErrorDetail `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// IsAudioDelta reports whether the event carries assistant audio.
func (e ServerEvent) IsAudioDelta() bool {
	return e.Type == EventAudioDelta || e.Type == EventOutputAudioDelta
}

// IsAssistantTranscript reports whether the event carries a finished
// assistant transcript.
func (e ServerEvent) IsAssistantTranscript() bool {
	return e.Type == EventAudioTranscriptDone || e.Type == EventOutputTranscriptDone
}

func (e ServerEvent) ErrorMessage() string {
	if e.Error == nil || e.Error.Message == "" {
		return "unknown error"
	}
	return e.Error.Message
}

type turnDetection struct {
	Type string `json:"type"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

// SessionParams is the session.update payload.
type SessionParams struct {
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Modalities              []string            `json:"modalities,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	InputAudioTranscription *inputTranscription `json:"input_audio_transcription,omitempty"`
}

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type truncateMessage struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}
