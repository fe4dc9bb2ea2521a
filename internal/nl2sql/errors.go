package nl2sql

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so transports can report them distinctly.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindRateLimited       Kind = "rate_limited"
	KindGenerationFailure Kind = "generation_failure"
	KindExtractionFailure Kind = "extraction_failure"
	KindRepairFailure     Kind = "repair_failure"
	KindInvalidStatement  Kind = "invalid_statement"
	KindDeniedOperation   Kind = "denied_operation"
	KindExecutionFailure  Kind = "execution_failure"
	KindVoiceUnavailable  Kind = "voice_unavailable"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the classification of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// IsClientError reports whether the failure stems from the request or the model
// output rather than from an unavailable dependency.
func IsClientError(kind Kind) bool {
	switch kind {
	case KindInvalidInput, KindRateLimited, KindExtractionFailure, KindRepairFailure,
		KindInvalidStatement, KindDeniedOperation, KindVoiceUnavailable:
		return true
	default:
		return false
	}
}
