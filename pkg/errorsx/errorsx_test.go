package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonAIConnect)
	if Reason(err) != ReasonAIConnect {
		t.Fatalf("expected reason %s, got %s", ReasonAIConnect, Reason(err))
	}
	if !HasReason(err, ReasonAIConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonAudioDecode)
	second := Wrap(first, ReasonRecordingWrite)
	if Reason(second) != ReasonAudioDecode {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("dial: %w", Wrap(assertErr{}, ReasonAIRateLimit))
	if !HasReason(err, ReasonAIRateLimit) {
		t.Fatalf("expected reason through fmt wrap, got %s", Reason(err))
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown for nil error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestMarkMatchesByReason(t *testing.T) {
	err := fmt.Errorf("relay: %w", New(ReasonAIClosed, "session gone"))
	if !errors.Is(err, Mark(ReasonAIClosed)) {
		t.Fatalf("expected errors.Is to match ai_closed")
	}
	if errors.Is(err, Mark(ReasonAISend)) {
		t.Fatalf("unexpected match on ai_send")
	}
	if got := Mark(ReasonConfigInvalid).Error(); got != "config_invalid" {
		t.Fatalf("bare mark should print its reason, got %q", got)
	}
}
