package pipeline

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, file not found, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// LaneFailureError represents a pipeline that completed with failing or
// errored lanes (exit code 1)
type LaneFailureError struct {
	Message string
}

func (e *LaneFailureError) Error() string {
	return fmt.Sprintf("pipeline failure: %s", e.Message)
}

// NewLaneFailureError creates a new LaneFailureError
func NewLaneFailureError(message string) *LaneFailureError {
	return &LaneFailureError{Message: message}
}

// IsLaneFailureError checks if the error is or wraps a LaneFailureError
func IsLaneFailureError(err error) bool {
	var laneErr *LaneFailureError
	return err != nil && errors.As(err, &laneErr)
}
