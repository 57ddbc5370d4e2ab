package service

import (
	"errors"
	"fmt"
)

// Request and conflict errors. Handlers map them to HTTP status codes.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrTermAlreadyBilled = errors.New("term is already billed")
	ErrRunInProgress     = errors.New("another run is already in progress")
	ErrYearAlreadyRolled = errors.New("academic year has already been rolled over")
)

// requestError carries a caller-facing message and matches its kind with errors.Is.
type requestError struct {
	kind error
	msg  string
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return e.kind }

func validationErr(format string, args ...any) error {
	return &requestError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func notFoundErr(format string, args ...any) error {
	return &requestError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// ReasonNoFeeConfiguration is the skip reason for students without a schedule row.
const ReasonNoFeeConfiguration = "no fee configuration"

// ConfigurationGapError means a student's grade and class have no fee schedule row.
type ConfigurationGapError struct {
	StudentID int
	Grade     string
	ClassName string
}

func (e *ConfigurationGapError) Error() string { return ReasonNoFeeConfiguration }

// EntityWriteError is a student write that still failed after its retries.
type EntityWriteError struct {
	StudentID int
	Attempts  int
	Err       error
}

func (e *EntityWriteError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("write failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("write failed: %v", e.Err)
}

func (e *EntityWriteError) Unwrap() error { return e.Err }

// FatalBatchError aborts a whole run.
type FatalBatchError struct {
	Stage string
	Err   error
}

func (e *FatalBatchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FatalBatchError) Unwrap() error { return e.Err }
