package app

import (
	"errors"
	"strings"

	"lexai/internal/ratelimit"
)

var (
	// ErrInvalidCredentials is shared by the unknown-user and wrong-password
	// paths so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("access denied")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("username or email already registered")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrFileTooLarge       = errors.New("file too large")

	// ErrExternalService marks embedding, vector index, object storage and
	// language model failures. The wrapped cause is for logs only.
	ErrExternalService = errors.New("external service unavailable")
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field issue found in a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation error"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// RateLimitError is returned when the caller exhausted the current window.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (e *RateLimitError) RetryAfter() int {
	return ratelimit.RetryAfterSeconds(e.Decision.RetryAfter)
}

type externalError struct {
	op  string
	err error
}

func (e *externalError) Error() string { return e.op + ": " + e.err.Error() }

func (e *externalError) Unwrap() []error { return []error{ErrExternalService, e.err} }

func external(op string, err error) error {
	return &externalError{op: op, err: err}
}
