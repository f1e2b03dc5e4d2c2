package synth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Common synthesis errors
var (
	// ErrEmptyText indicates there is nothing to synthesize
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrTextTooLong indicates the text exceeds the provider's request limit
	ErrTextTooLong = errors.New("text too long")

	// ErrInvalidSpeed indicates the speaking rate is outside the supported range
	ErrInvalidSpeed = errors.New("speed must be between 0.25 and 4.0")

	// ErrNoAudio indicates the provider answered without audio content
	ErrNoAudio = errors.New("provider returned no audio")

	// ErrNotConfigured indicates required provider settings are missing
	ErrNotConfigured = errors.New("synthesis provider not configured")
)

// TransientError is a provider failure expected to succeed on retry, such as
// rate limiting or temporary overload.
type TransientError struct {
	Status     int           // HTTP-like status, 0 for network failures
	Message    string
	RetryAfter time.Duration // provider hint, 0 when absent
	Cause      error
}

// Error implements the error interface
func (e *TransientError) Error() string {
	msg := fmt.Sprintf("transient provider error (status %d): %s", e.Status, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// RateLimited reports whether the provider signalled rate limiting.
func (e *TransientError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// FatalError is a provider rejection that no retry will fix, such as an
// unknown voice, malformed input or bad credentials.
type FatalError struct {
	Status  int
	Message string
	Cause   error
}

// Error implements the error interface
func (e *FatalError) Error() string {
	msg := fmt.Sprintf("fatal provider error (status %d): %s", e.Status, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FatalError) Unwrap() error {
	return e.Cause
}

// Classify maps an HTTP-like status to a typed error: 429 and 5xx are
// transient, every other non-2xx status is fatal. It returns nil for 2xx.
func Classify(status int, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status >= 500:
		return &TransientError{Status: status, Message: message}
	default:
		return &FatalError{Status: status, Message: message}
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.RateLimited()
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyTransport turns a failed round trip into a typed error. Timeouts
// and connection failures are transient; caller cancellation is returned as is.
func classifyTransport(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Message: "network failure", Cause: err}
	}
	return &TransientError{Message: "request failed", Cause: err}
}
