package carrier

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// AdapterError is returned for carrier API failures. Retryable errors are
// left to the polling queue backoff.
type AdapterError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("carrier %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("carrier %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func NewAdapterError(op string, statusCode int, err error) *AdapterError {
	retryable := statusCode == 0 || statusCode == 408 || statusCode == 429 || statusCode >= 500
	return &AdapterError{Op: op, StatusCode: statusCode, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is a transient carrier failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}
