package pipeline

import "errors"

// The four failure classes a run distinguishes. Stages wrap underlying
// errors in one of these; the orchestrator decides retry behavior by
// class, not by inspecting causes.

// ConfigurationError means the run could never succeed as configured:
// missing credentials, invalid options. Never retried.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransientExternalError means an upstream dependency (news API,
// extraction backend, database) failed in a way worth retrying.
type TransientExternalError struct {
	Err error
}

func (e *TransientExternalError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientExternalError) Unwrap() error { return e.Err }

// DataQualityError means a single item was unusable. Items carrying it
// are dropped and counted; the run keeps going.
type DataQualityError struct {
	Err error
}

func (e *DataQualityError) Error() string { return "data quality: " + e.Err.Error() }
func (e *DataQualityError) Unwrap() error { return e.Err }

// ConflictError means concurrent writers raced on the same key.
// Retried once, immediately.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string { return "conflict: " + e.Err.Error() }
func (e *ConflictError) Unwrap() error { return e.Err }

// IsRetryable reports whether the orchestrator should re-run a stage
// that failed with err.
func IsRetryable(err error) bool {
	var transient *TransientExternalError
	var conflict *ConflictError
	return errors.As(err, &transient) || errors.As(err, &conflict)
}
