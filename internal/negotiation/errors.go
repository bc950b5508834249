package negotiation

import (
	"errors"
	"fmt"
)

// Error is a negotiation failure with a code callers map to a rejection.
type Error struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Target is the rule target the failure relates to, if any.
	Target string

	// Err is the underlying cause for persistence failures.
	Err error
}

// ErrorCode categorizes negotiation failures.
type ErrorCode string

const (
	// ErrCodeMalformed indicates a request without rules or with an untargeted rule.
	ErrCodeMalformed ErrorCode = "MALFORMED"

	// ErrCodeNoOffer indicates no contract offer exists for a target and consumer.
	ErrCodeNoOffer ErrorCode = "NO_OFFER"

	// ErrCodeMismatch indicates requested rules differ from every applicable offer.
	ErrCodeMismatch ErrorCode = "RULE_MISMATCH"

	// ErrCodeUnknownAgreement indicates the agreement to confirm was never issued.
	ErrCodeUnknownAgreement ErrorCode = "UNKNOWN_AGREEMENT"

	// ErrCodeForeignAgreement indicates an agreement issued to another consumer.
	ErrCodeForeignAgreement ErrorCode = "FOREIGN_AGREEMENT"

	// ErrCodePersistence indicates the store failed.
	ErrCodePersistence ErrorCode = "PERSISTENCE"
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Target != "" {
		msg += fmt.Sprintf(" (target=%s)", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code == code
	}
	return false
}

// IsMalformed reports whether err is a malformed request error.
func IsMalformed(err error) bool { return hasCode(err, ErrCodeMalformed) }

// IsNoOffer reports whether err means no offer was found.
func IsNoOffer(err error) bool { return hasCode(err, ErrCodeNoOffer) }

// IsMismatch reports whether err is a rule mismatch.
func IsMismatch(err error) bool { return hasCode(err, ErrCodeMismatch) }

// IsUnknownAgreement reports whether err refers to a missing agreement.
func IsUnknownAgreement(err error) bool { return hasCode(err, ErrCodeUnknownAgreement) }

// IsForeignAgreement reports whether err refers to another consumer's agreement.
func IsForeignAgreement(err error) bool { return hasCode(err, ErrCodeForeignAgreement) }

// IsPersistence reports whether err is a store failure.
func IsPersistence(err error) bool { return hasCode(err, ErrCodePersistence) }

func malformed(msg string) *Error {
	return &Error{Code: ErrCodeMalformed, Message: msg}
}

func persistence(msg string, err error) *Error {
	return &Error{Code: ErrCodePersistence, Message: msg, Err: err}
}
