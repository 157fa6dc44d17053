/*
Package errs centralizes the error kinds the offline core can return.

PURPOSE:
  All error types in one place for consistency and discoverability, the
  same role generic/errors.go played in the resource-accounting engine
  this core grew from. Every error kind the gateway can surface gets a sentinel
  plus, where the kind carries extra context, a structured type with
  Unwrap so callers can still use errors.Is against the sentinel.

USAGE:
  if errors.Is(err, errs.ErrLimitExceeded) {
      // map to a LIMIT_EXCEEDED toast
  }
*/
package errs

import (
	"errors"
	"fmt"
)

// Kind names one of the error categories the gateway surface can return.
type Kind string

const (
	KindNotInitialized       Kind = "NOT_INITIALIZED"
	KindNotPaired            Kind = "NOT_PAIRED"
	KindLimitExceeded        Kind = "LIMIT_EXCEEDED"
	KindDatasetVersionNeeded Kind = "DATASET_VERSION_REQUIRED"
	KindNetworkError         Kind = "NETWORK_ERROR"
	KindTimeout              Kind = "TIMEOUT"
	KindAuthInvalid          Kind = "AUTH_INVALID"
	KindConflict             Kind = "CONFLICT"
	KindDBCorruption         Kind = "DB_CORRUPTION"
	KindSchemaMigration      Kind = "SCHEMA_MIGRATION_FAILED"
)

var (
	ErrNotInitialized   = errors.New("offline core: not initialized")
	ErrNotPaired        = errors.New("offline core: terminal not paired")
	ErrLimitExceeded    = errors.New("offline core: exposure limit exceeded")
	ErrVersionRequired  = errors.New("offline core: dataset version required")
	ErrNetwork          = errors.New("offline core: network error")
	ErrTimeout          = errors.New("offline core: request timeout")
	ErrAuthInvalid      = errors.New("offline core: api key rejected")
	ErrConflict         = errors.New("offline core: operation conflict")
	ErrDBCorruption     = errors.New("offline core: database corruption")
	ErrSchemaMigration  = errors.New("offline core: schema migration failed")
	ErrOlderVersion     = errors.New("offline core: dataset version older than stored version")
	ErrOrphanSkipped    = errors.New("offline core: orphan record skipped")
)

var kindToSentinel = map[Kind]error{
	KindNotInitialized:       ErrNotInitialized,
	KindNotPaired:            ErrNotPaired,
	KindLimitExceeded:        ErrLimitExceeded,
	KindDatasetVersionNeeded: ErrVersionRequired,
	KindNetworkError:         ErrNetwork,
	KindTimeout:              ErrTimeout,
	KindAuthInvalid:          ErrAuthInvalid,
	KindConflict:             ErrConflict,
	KindDBCorruption:         ErrDBCorruption,
	KindSchemaMigration:      ErrSchemaMigration,
}

// GatewayError is the structured error returned across the gateway
// boundary: every call returns either a typed result or a GatewayError.
// It carries the Kind so the UI shell can map it to a toast without
// string-matching the message.
type GatewayError struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *GatewayError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return kindToSentinel[e.Kind]
}

// New builds a GatewayError of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *GatewayError {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error, preserving it for Unwrap.
func Wrap(kind Kind, cause error) *GatewayError {
	if cause == nil {
		return nil
	}
	return &GatewayError{Kind: kind, Message: cause.Error(), cause: cause}
}

// IsRetryable reports whether the error is a transient transport
// failure the queue's backoff policy should retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}

// KindOf extracts the Kind from a GatewayError, defaulting to "" for
// any other error type.
func KindOf(err error) Kind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
