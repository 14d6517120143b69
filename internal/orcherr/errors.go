// Package orcherr defines the error taxonomy shared by the orchestration
// components and mapped to HTTP responses by the API layer.
package orcherr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed request. Surfaced as HTTP 400.
	ErrValidation = errors.New("validation failed")

	// ErrConnectionInit marks a connector construction or connect failure.
	// Callers must not retry automatically.
	ErrConnectionInit = errors.New("connection init failed")

	// ErrLinkingTimeout is returned when neither a QR payload nor an open
	// connection was observed before the linking deadline.
	ErrLinkingTimeout = errors.New("linking timed out")

	// ErrSendFailed marks an outbound message the connector could not deliver.
	ErrSendFailed = errors.New("send failed")
)

// ValidationError describes which request field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation returns a *ValidationError for field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConnectionInitError wraps the connector failure for a tenant.
type ConnectionInitError struct {
	Tenant string
	Err    error
}

func (e *ConnectionInitError) Error() string {
	return fmt.Sprintf("connection init for %q: %v", e.Tenant, e.Err)
}

func (e *ConnectionInitError) Unwrap() error { return e.Err }

func (e *ConnectionInitError) Is(target error) bool { return target == ErrConnectionInit }

// DispatchFailure records a webhook POST or command reply that failed.
// It is only ever logged: the message stream has no caller to report to.
type DispatchFailure struct {
	Tenant string
	Kind   string // "webhook" or "reply"
	Err    error
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("%s dispatch for %q: %v", e.Kind, e.Tenant, e.Err)
}

func (e *DispatchFailure) Unwrap() error { return e.Err }
