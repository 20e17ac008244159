package engine

import (
	"errors"
	"fmt"

	"github.com/fsiopt/fsiopt/pkg/design"
)

// ErrorClass represents the classification of an error. No class is
// retried by the engine; the class tells the optimizer driver whether
// the run can continue.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a missing or malformed config key
	// or an inconsistent design vector. Fatal.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassStaging indicates a failed directory, copy or link
	// operation. Fatal for the current query.
	ErrorClassStaging ErrorClass = "staging"

	// ErrorClassSolver indicates a solver exiting non-zero or leaving
	// unreadable outputs. Fatal for the current query.
	ErrorClassSolver ErrorClass = "solver"

	// ErrorClassSequencing indicates a stage requested before the stage it
	// depends on has completed for the same design. Fatal.
	ErrorClassSequencing ErrorClass = "sequencing"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Stage is the stage being run when the error occurred, if any.
	Stage design.Stage `json:"stage,omitempty"`

	// Design is the index of the design concerned, or -1.
	Design int `json:"design"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	switch {
	case e.Stage != "" && e.Design >= 0:
		return fmt.Sprintf("[%s] %s (design=%d, stage=%s)", e.Class, msg, e.Design, e.Stage)
	case e.Design >= 0:
		return fmt.Sprintf("[%s] %s (design=%d)", e.Class, msg, e.Design)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Message: message,
		Design:  -1,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return newError(ErrorClassConfiguration, message, err)
}

// NewStagingError creates a new staging error.
func NewStagingError(message string, err error) *EngineError {
	return newError(ErrorClassStaging, message, err)
}

// NewSolverError creates a new solver error.
func NewSolverError(message string, err error) *EngineError {
	return newError(ErrorClassSolver, message, err)
}

// NewSequencingError creates a new sequencing error.
func NewSequencingError(message string, err error) *EngineError {
	return newError(ErrorClassSequencing, message, err)
}

// WithStage adds stage context to an error.
func (e *EngineError) WithStage(stage design.Stage) *EngineError {
	e.Stage = stage
	return e
}

// WithDesign adds design context to an error.
func (e *EngineError) WithDesign(index int) *EngineError {
	e.Design = index
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsConfiguration returns true if the error is classified as configuration.
func IsConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfiguration
}

// IsStaging returns true if the error is classified as staging.
func IsStaging(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassStaging
}

// IsSolver returns true if the error is classified as solver.
func IsSolver(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassSolver
}

// IsSequencing returns true if the error is classified as sequencing.
func IsSequencing(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassSequencing
}

// IsFatal returns true if the error must end the optimization run rather
// than only the current query.
func IsFatal(err error) bool {
	return IsSequencing(err) || IsConfiguration(err)
}

// ErrorCode returns the code of an EngineError, or the empty string.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeMissingKey         = "MISSING_KEY"
	ErrCodeInvalidValue       = "INVALID_VALUE"
	ErrCodeDimensionMismatch  = "DIMENSION_MISMATCH"
	ErrCodeStoreNotEmpty      = "STORE_NOT_EMPTY"
	ErrCodeUnknownQuery       = "UNKNOWN_QUERY"
	ErrCodeDirExists          = "DIR_EXISTS"
	ErrCodeStagingFailed      = "STAGING_FAILED"
	ErrCodeSolverFailed       = "SOLVER_FAILED"
	ErrCodeOutputInvalid      = "OUTPUT_INVALID"
	ErrCodePrimalNotAvailable = "PRIMAL_NOT_AVAILABLE"
	ErrCodeStageOrder         = "STAGE_ORDER"
	ErrCodeDesignIncomplete   = "DESIGN_INCOMPLETE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)
