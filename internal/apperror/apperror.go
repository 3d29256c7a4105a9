// Package apperror defines the error taxonomy shared by every layer.
//
// Each constructor returns an *AppError wrapping one sentinel, so callers
// check the kind with errors.Is and read the details with errors.As:
//
//	var appErr *apperror.AppError
//	if errors.As(err, &appErr) && errors.Is(err, apperror.ErrRateLimited) {
//	    reschedule(appErr.RetryAfter)
//	}
//
// Partial sync failures and data-integrity warnings are NOT errors here.
// They are counted in the sync result and logged, never returned.
package apperror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("Validation Error")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrAuth        = errors.New("unauthorized")
	ErrRateLimited = errors.New("rate limited")
)

type AppError struct {
	Err        error         // sentinel kind
	Message    string        // Human-readable error message
	Field      string        // Optional: field causing the error
	RetryAfter time.Duration // Optional: suggested wait for ErrRateLimited
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// ValidationFailed is the InvalidInput kind: malformed request parameters
// rejected before any external call is made.
func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is the AuthError kind: a missing or invalid integration or
// token. It is surfaced to the caller and never retried.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrAuth,
		Message: message,
	}
}

// RateLimited reports provider throttling. retryAfter is the provider's hint
// (or a default) for when the caller may try again.
func RateLimited(provider string, retryAfter time.Duration) *AppError {
	return &AppError{
		Err:        ErrRateLimited,
		Message:    fmt.Sprintf("%s rate limit reached, retry after %s", provider, retryAfter),
		RetryAfter: retryAfter,
	}
}

// RetryAfter extracts the retry hint from a rate-limit error anywhere in the
// chain. ok is false when err is not a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && errors.Is(appErr.Err, ErrRateLimited) {
		return appErr.RetryAfter, true
	}
	return 0, false
}

// Kind names the taxonomy entry of err for JSON consumers. It is empty for
// errors outside the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrValidation):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	return ""
}
