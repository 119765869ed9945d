package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonAudioDecode ReasonCode = "audio_decode"

	ReasonAIConnect     ReasonCode = "ai_connect"
	ReasonAISend        ReasonCode = "ai_send"
	ReasonAIClosed      ReasonCode = "ai_closed"
	ReasonAIRateLimit   ReasonCode = "ai_rate_limit"
	ReasonAICircuitOpen ReasonCode = "ai_circuit_open"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportClosed           ReasonCode = "transport_closed"

	ReasonRecordingWrite ReasonCode = "recording_write"
	ReasonConfigInvalid  ReasonCode = "config_invalid"
)
