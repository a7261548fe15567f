package schema

import (
	"errors"
	"fmt"
)

// Error codes carried by *Error.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeEvaluation        = "EVALUATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
)

// Code-only sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrNotFound          = &Error{Code: ErrCodeNotFound}
	ErrConflict          = &Error{Code: ErrCodeConflict}
	ErrInvalidTransition = &Error{Code: ErrCodeInvalidTransition}
)

// Error is a coded failure from validation, evaluation, the store or the
// instance state machine. StepID is set when the failure concerns one step.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Message == "":
		return "[" + e.Code + "]"
	case e.StepID != "":
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails merges details into any already attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err wraps an *Error carrying code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
