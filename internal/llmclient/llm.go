// Package llmclient defines the narrow interface the pipeline consumes for
// both the generation and the diagnosis service, plus the error taxonomy
// callers use to decide whether a retry can help.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidJSON = errors.New("llmclient: invalid JSON from model")

// LLMClient is a completion client that returns structured JSON output.
type LLMClient interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}

// ServiceError is a transport or service-level failure. Retryable errors
// (overload, transient network trouble) may resolve with backoff; callers
// check Retryable before retrying at the point of call.
type ServiceError struct {
	Err       error
	Retryable bool
}

func (e *ServiceError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("service error (retryable): %v", e.Err)
	}
	return fmt.Sprintf("service error: %v", e.Err)
}
func (e *ServiceError) Unwrap() error { return e.Err }

// NewRetryableError wraps err as a ServiceError that retries may resolve.
func NewRetryableError(err error) error {
	return &ServiceError{Err: err, Retryable: true}
}

// IsRetryable reports whether err is a retryable ServiceError.
func IsRetryable(err error) bool {
	var sErr *ServiceError
	return errors.As(err, &sErr) && sErr.Retryable
}

// PermanentError indicates an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}
