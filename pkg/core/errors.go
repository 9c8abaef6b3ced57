package core

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed query or schema construction: a bad
// operator/operand combination, a mutation of an already-sliced query, a
// reserved field name. It is always raised locally, before any network call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf formats a new ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrTooFastRetry is the cause carried by a SessionError when a login attempt
// is refused because the previous attempt was within the cool-down window.
var ErrTooFastRetry = errors.New("login retried too fast")

// SessionError reports a failure of the session lifecycle: a failed login, a
// login refused by the cool-down guard, or a token still rejected after the
// single re-login retry.
type SessionError struct {
	Op  string // lifecycle step: "login", "logout", "retry"
	Err error
}

func (e *SessionError) Error() string { return fmt.Sprintf("session %s: %v", e.Op, e.Err) }

func (e *SessionError) Unwrap() error { return e.Err }

// RemoteError carries a non-zero FileMaker error code and its message,
// propagated verbatim from the response envelope. The client never treats
// these as retryable.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("filemaker error %d: %s", e.Code, e.Message)
}

// HasCode reports whether err is (or wraps) a RemoteError with the given code.
func HasCode(err error, code int) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}

// TransportError reports a network, timeout, or payload decoding failure from
// the HTTP layer. Retry policy for these belongs to the transport, never to
// the calling code.
type TransportError struct {
	Op  string // "send" or "decode"
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
