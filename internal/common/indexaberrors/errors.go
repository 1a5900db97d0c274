// Package indexaberrors contains the errors returned by the optimisation job engine.
// Callers look for the error types defined in this file (using errors.As) to decide
// whether a failure is a synchronous submission error or something recorded on a job.
//
// If multiple errors occur in some function (e.g., several index candidates fail to apply),
// that function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package indexaberrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kinds recorded on a failed job. These are part of the job record and must stay stable.
const (
	KindQueryValidation     = "query_validation_error"
	KindInvalidIdentifier   = "invalid_identifier"
	KindEnvironmentCreation = "environment_creation_failure"
	KindIndexApplication    = "index_application_failure"
	KindMeasurement         = "measurement_failure"
	KindCleanup             = "cleanup_failure"
	KindNotFound            = "not_found"
	KindAlreadyExists       = "already_exists"
	KindInvalidArgument     = "invalid_argument"
	KindInternal            = "internal_error"
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "optimisation job"
	Value   string // Resource name, e.g., "01gk..."
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "measurement.runsPerQuery"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// ErrQueryValidation is returned synchronously on submission when the workload is rejected.
// Index is the position of the offending query, or -1 if the workload as a whole is invalid.
type ErrQueryValidation struct {
	Index  int
	Reason string
}

func (err *ErrQueryValidation) Error() string {
	if err.Index < 0 {
		return fmt.Sprintf("invalid workload: %s", err.Reason)
	}
	return fmt.Sprintf("invalid query at position %d: %s", err.Index, err.Reason)
}

// ErrInvalidIdentifier is returned when a table, column or index name can't be safely
// interpolated into generated SQL.
type ErrInvalidIdentifier struct {
	Value  string
	Reason string
}

func (err *ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", err.Value, err.Reason)
}

// ErrEnvironmentCreation is returned when an isolated copy of the target database could not be provisioned.
// It is terminal for the job.
type ErrEnvironmentCreation struct {
	Environment string
	Cause       error
}

func (err *ErrEnvironmentCreation) Error() string {
	return fmt.Sprintf("failed to create environment %q: %v", err.Environment, err.Cause)
}

func (err *ErrEnvironmentCreation) Unwrap() error {
	return err.Cause
}

// ErrIndexApplication records a single index candidate that failed to apply.
// It is never terminal for the job.
type ErrIndexApplication struct {
	Candidate string
	Cause     error
}

func (err *ErrIndexApplication) Error() string {
	return fmt.Sprintf("failed to apply index %q: %v", err.Candidate, err.Cause)
}

func (err *ErrIndexApplication) Unwrap() error {
	return err.Cause
}

// ErrMeasurement records a measurement that produced no usable value.
type ErrMeasurement struct {
	Query   string
	Message string
	Cause   error
}

func (err *ErrMeasurement) Error() string {
	s := "measurement failed"
	if err.Query != "" {
		s = fmt.Sprintf("measurement of %q failed", err.Query)
	}
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	if err.Cause != nil {
		s = s + fmt.Sprintf(": %v", err.Cause)
	}
	return s
}

func (err *ErrMeasurement) Unwrap() error {
	return err.Cause
}

// ErrCleanup records a failure to release an environment or drop an index.
// It is logged and recorded but never surfaced as a job failure.
type ErrCleanup struct {
	Resource string
	Cause    error
}

func (err *ErrCleanup) Error() string {
	return fmt.Sprintf("failed to clean up %q: %v", err.Resource, err.Cause)
}

func (err *ErrCleanup) Unwrap() error {
	return err.Cause
}

// KindFromError maps error types to the kind recorded on a failed job.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func KindFromError(err error) string {
	if err == nil {
		return ""
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrQueryValidation
		if errors.As(err, &e) {
			return KindQueryValidation
		}
	}
	{
		var e *ErrInvalidIdentifier
		if errors.As(err, &e) {
			return KindInvalidIdentifier
		}
	}
	{
		var e *ErrEnvironmentCreation
		if errors.As(err, &e) {
			return KindEnvironmentCreation
		}
	}
	{
		var e *ErrIndexApplication
		if errors.As(err, &e) {
			return KindIndexApplication
		}
	}
	{
		var e *ErrMeasurement
		if errors.As(err, &e) {
			return KindMeasurement
		}
	}
	{
		var e *ErrCleanup
		if errors.As(err, &e) {
			return KindCleanup
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return KindNotFound
		}
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return KindAlreadyExists
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return KindInvalidArgument
		}
	}

	return KindInternal
}

// IsSubmissionError returns true if err must be surfaced synchronously to the submitter
// rather than recorded on a job.
func IsSubmissionError(err error) bool {
	switch KindFromError(err) {
	case KindQueryValidation, KindInvalidIdentifier:
		return true
	default:
		return false
	}
}
