package codec

import (
	"encoding/base64"
	"fmt"
)

// DecodeErrorKind classifies why a chunk could not be turned into samples.
type DecodeErrorKind string

const (
	KindInvalidBase64 DecodeErrorKind = "invalid_base64"
	KindOddLength     DecodeErrorKind = "odd_length"
)

// DecodeError is the failed outcome of a boundary decode.
type DecodeError struct {
	Kind DecodeErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "codec: " + string(e.Kind)
	}
	return fmt.Sprintf("codec: %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeBase64 unwraps a base64 media payload into raw μ-law bytes. An
// empty payload is a valid empty frame.
func DecodeBase64(payload string) ([]byte, error) {
	frame, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Kind: KindInvalidBase64, Err: err}
	}
	return frame, nil
}

// DecodeBase64PCM unwraps a base64 μ-law payload and expands it to samples.
func DecodeBase64PCM(payload string) ([]int16, error) {
	frame, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return DecodeSamples(frame), nil
}

// EncodeBase64 wraps raw μ-law bytes for the wire.
func EncodeBase64(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}

// EncodeBase64PCM compands little-endian PCM16 and wraps it for the wire.
func EncodeBase64PCM(pcm []byte) (string, error) {
	frame, err := Encode(pcm)
	if err != nil {
		return "", err
	}
	return EncodeBase64(frame), nil
}
