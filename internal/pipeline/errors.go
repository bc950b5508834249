package pipeline

import (
	"errors"
	"fmt"

	"github.com/roach88/connector/internal/ir"
)

// Error is a stage failure that becomes a rejection message.
type Error struct {
	Reason  ir.RejectionReason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Reject returns an Error with the given reason.
func Reject(reason ir.RejectionReason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a rejection.
func Wrap(reason ir.RejectionReason, err error, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

func Malformed(format string, args ...any) *Error {
	return Reject(ir.ReasonMalformedMessage, format, args...)
}

func BadParameters(format string, args ...any) *Error {
	return Reject(ir.ReasonBadParameters, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Reject(ir.ReasonNotFound, format, args...)
}

func NotAuthorized(format string, args ...any) *Error {
	return Reject(ir.ReasonNotAuthorized, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	return Wrap(ir.ReasonInternalRecipientError, err, format, args...)
}

// ReasonOf maps any error to a rejection reason. Errors that are not a
// *Error count as internal failures.
func ReasonOf(err error) ir.RejectionReason {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ir.ReasonInternalRecipientError
}
