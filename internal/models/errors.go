package models

import (
	"errors"
	"fmt"
)

// InputError reports a malformed or missing request value.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

func NewInputError(field, format string, args ...any) error {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ModelNotReadyError is returned when a model is absent or not ready.
type ModelNotReadyError struct {
	Model  string
	Status ModelStatus
}

func (e *ModelNotReadyError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("model %s is not loaded", e.Model)
	}
	return fmt.Sprintf("model %s is not ready (status %s)", e.Model, e.Status)
}

type ComputationError struct {
	Estimator string
	Err       error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s: computation failed: %v", e.Estimator, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

type TrainingError struct {
	Stage string
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed during %s: %v", e.Stage, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

func IsInputError(err error) bool {
	var target *InputError
	return errors.As(err, &target)
}

func IsModelNotReady(err error) bool {
	var target *ModelNotReadyError
	return errors.As(err, &target)
}
