package errorsx

import (
	"errors"
	"fmt"
)

// CallError carries a ReasonCode through error chains so log lines and
// metrics can label failures without string matching.
type CallError struct {
	Reason ReasonCode
	cause  error
}

func (e *CallError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return string(e.Reason)
}

func (e *CallError) Unwrap() error { return e.cause }

// Is matches another *CallError by reason, so errors.Is(err, Mark(r))
// reads naturally at call sites.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	return ok && t.cause == nil && t.Reason == e.Reason
}

// Mark returns a bare reason value usable as an errors.Is target.
func Mark(reason ReasonCode) error { return &CallError{Reason: reason} }

func New(reason ReasonCode, format string, args ...any) error {
	return &CallError{Reason: reason, cause: fmt.Errorf(format, args...)}
}

// Wrap tags err with reason. The innermost reason wins, so wrapping an
// already tagged error returns it unchanged.
func Wrap(err error, reason ReasonCode) error {
	switch {
	case err == nil:
		return nil
	case find(err) != nil:
		return err
	}
	return &CallError{Reason: reason, cause: err}
}

// Reason reports the reason attached to err, ReasonUnknown otherwise.
func Reason(err error) ReasonCode {
	if ce := find(err); ce != nil {
		return ce.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return err != nil && Reason(err) == reason
}

func find(err error) *CallError {
	var ce *CallError
	if err != nil && errors.As(err, &ce) {
		return ce
	}
	return nil
}
