package trigger

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"gluetrigger/internal/config"
)

// ConfigurationError means required setup is missing. It is never retried.
type ConfigurationError = config.Error

// ServiceError is a failed call to the Glue API, surfaced to the Lambda
// runtime as-is.
type ServiceError struct {
	Op      string
	JobName string
	// Code is the Glue error code (e.g. EntityNotFoundException) when the
	// failure came back from the service.
	Code string
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("glue %s (job=%s): %v", e.Op, e.JobName, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func newServiceError(op, jobName string, err error) *ServiceError {
	se := &ServiceError{Op: op, JobName: jobName, Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		se.Code = apiErr.ErrorCode()
	}
	return se
}

// InputError is an invocation payload the handler cannot act on.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

var ErrMissingRunID = &InputError{Field: "job_run_id", Reason: "required"}
