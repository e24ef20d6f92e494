package pipeweaver

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeConfiguration        = "CONFIGURATION_ERROR"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeInvalidArgument      = "INVALID_ARGUMENT"
	ErrCodeToolFailure          = "TOOL_FAILURE"
	ErrCodeProtocolLoopExceeded = "PROTOCOL_LOOP_EXCEEDED"
	ErrCodeAgentUnavailable     = "AGENT_UNAVAILABLE"
	ErrCodeRunActive            = "RUN_ALREADY_ACTIVE"
	ErrCodeTurnActive           = "TURN_ALREADY_ACTIVE"
	ErrCodeCancelled            = "EXECUTION_CANCELLED"
	ErrCodeTimeout              = "EXECUTION_TIMEOUT"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// PipeWeaverError is a custom error type for PipeWeaver specific errors.
type PipeWeaverError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeToolFailure)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "run", "turn")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *PipeWeaverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *PipeWeaverError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PipeWeaverError.
func NewError(code, stage, message string, cause error) *PipeWeaverError {
	return &PipeWeaverError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// IsPipeWeaverError reports whether err is (or wraps) a PipeWeaverError.
func IsPipeWeaverError(err error) bool {
	var pwErr *PipeWeaverError
	return errors.As(err, &pwErr)
}

// HasCode reports whether err is (or wraps) a PipeWeaverError with the
// given code.
func HasCode(err error, code string) bool {
	var pwErr *PipeWeaverError
	if !errors.As(err, &pwErr) {
		return false
	}
	return pwErr.Code == code
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *PipeWeaverError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewConfigurationError(message string, cause error) *PipeWeaverError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewInvalidInputError(stage, message string, cause error) *PipeWeaverError {
	return NewError(ErrCodeInvalidInput, stage, message, cause)
}

func NewInvalidArgumentError(stage, message string) *PipeWeaverError {
	return NewError(ErrCodeInvalidArgument, stage, message, nil)
}

func NewToolFailureError(stage, toolID string, cause error) *PipeWeaverError {
	return NewError(ErrCodeToolFailure, stage, fmt.Sprintf("invocation failed for tool '%s'", toolID), cause)
}

func NewProtocolLoopExceededError(rounds, maxRounds int) *PipeWeaverError {
	msg := fmt.Sprintf("agent requested %d tool-call rounds, cap is %d", rounds, maxRounds)
	return NewError(ErrCodeProtocolLoopExceeded, "turn", msg, nil)
}

func NewAgentUnavailableError(cause error) *PipeWeaverError {
	return NewError(ErrCodeAgentUnavailable, "turn", "reasoning agent unavailable", cause)
}

func NewRunActiveError(runID string) *PipeWeaverError {
	msg := fmt.Sprintf("a run is already in flight (run_id: %s)", runID)
	return NewError(ErrCodeRunActive, "run", msg, nil)
}

func NewTurnActiveError() *PipeWeaverError {
	return NewError(ErrCodeTurnActive, "turn", "a conversation turn is already in flight", nil)
}

func NewCancelledError(stage string, cause error) *PipeWeaverError {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *PipeWeaverError {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewInternalError(stage, message string, cause error) *PipeWeaverError {
	return NewError(ErrCodeInternal, stage, message, cause)
}
