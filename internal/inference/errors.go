package inference

import (
	"errors"
	"fmt"
	"io"

	"github.com/ent0n29/llmchat/internal/reliability"
)

var (
	// ErrConnectionFailed means the backend failed before any fragment
	// arrived.
	ErrConnectionFailed = errors.New("inference connection failed")
	// ErrStreamInterrupted means the backend failed after at least one
	// fragment arrived.
	ErrStreamInterrupted = errors.New("inference stream interrupted")
)

// ConnectionError reports a failure with no output delivered.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, ErrConnectionFailed, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{ErrConnectionFailed, e.Err} }

// InterruptedError reports a failure after output started. Partial holds
// every fragment forwarded before the failure.
type InterruptedError struct {
	Provider string
	Partial  string
	Err      error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("%s: %s after %d bytes: %v", e.Provider, ErrStreamInterrupted, len(e.Partial), e.Err)
}

func (e *InterruptedError) Unwrap() []error { return []error{ErrStreamInterrupted, e.Err} }

// StatusError is a non-2xx reply from an HTTP backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference http status %d: %s", e.Code, e.Body)
}

// Retryable reports whether a caller could reasonably resubmit.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// IsRetryable reports whether resubmitting the same turn may succeed: a
// retryable HTTP status, a dial or timeout failure, or a stream cut short.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return reliability.IsTransientNetError(err)
}
