package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoFeasiblePoint tags a candidate returned without satisfying the
	// known constraints. It is logged, never returned to callers.
	ErrNoFeasiblePoint  = errors.New("no feasible point found")
	ErrCampaignNotFound = errors.New("campaign not found")
)

// InvalidParameterError reports a malformed configuration or an out-of-domain
// value. It aborts the whole call.
type InvalidParameterError struct {
	Parameter string
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	if e.Parameter == "" {
		return "invalid parameter: " + e.Reason
	}
	return fmt.Sprintf("invalid parameter %q: %s", e.Parameter, e.Reason)
}

func NewInvalidParameter(param, format string, args ...interface{}) *InvalidParameterError {
	return &InvalidParameterError{Parameter: param, Reason: fmt.Sprintf(format, args...)}
}

// ConstraintEvaluationError wraps a failure of the user feasibility predicate.
type ConstraintEvaluationError struct {
	Params ParameterValues
	Err    error
}

func (e *ConstraintEvaluationError) Error() string {
	return fmt.Sprintf("constraint evaluation failed: %v", e.Err)
}

func (e *ConstraintEvaluationError) Unwrap() error { return e.Err }

// EmbedderTrainingError is a recoverable descriptor training failure; the
// previous embedding stays in use.
type EmbedderTrainingError struct {
	Parameter string
	Reason    string
}

func (e *EmbedderTrainingError) Error() string {
	return fmt.Sprintf("descriptor training for %q failed: %s", e.Parameter, e.Reason)
}

// StorageUnavailableError is returned when a fetch cannot observe prior
// writes within the bounded wait.
type StorageUnavailableError struct {
	Operation string
	Wait      time.Duration
	Err       error
}

func (e *StorageUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage unavailable during %s after %s: %v", e.Operation, e.Wait, e.Err)
	}
	return fmt.Sprintf("storage unavailable during %s after %s", e.Operation, e.Wait)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }
