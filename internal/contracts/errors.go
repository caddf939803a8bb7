package contracts

import "errors"

// Common errors
var (
	// ErrQueueNotFound is returned when a queue cannot be resolved
	ErrQueueNotFound = errors.New("sqslistener: queue not found")

	// ErrNoHandler is returned when no handler is registered for an event type
	ErrNoHandler = errors.New("sqslistener: no handler registered for event type")

	// ErrInvalidEnvelope is returned when a message has an invalid envelope format
	ErrInvalidEnvelope = errors.New("sqslistener: invalid message envelope")

	// ErrMessageVetoed is returned when an interceptor returns no message
	ErrMessageVetoed = errors.New("sqslistener: message vetoed by interceptor")
)

// ErrorType represents the classification of an error
type ErrorType int

const (
	// ErrorTypeUnknown is an unclassified error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeValidation is a configuration or input error
	ErrorTypeValidation
	// ErrorTypeTransient is a transient error (the operation may succeed later)
	ErrorTypeTransient
	// ErrorTypePermanent is a permanent error
	ErrorTypePermanent
)

// String returns the label used for logs and metrics
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ValidationError represents an invalid configuration or input.
// Returned by listener registration and container start.
type ValidationError struct {
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// TransientError represents a failure that may succeed on retry,
// such as a receive, delete or visibility call that timed out.
type TransientError struct {
	Message string
	Cause   error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// PermanentError represents a failure that will not succeed on retry.
type PermanentError struct {
	Message string
	Cause   error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error.
func NewValidationError(msg string, cause error) *ValidationError {
	return &ValidationError{Message: msg, Cause: cause}
}

// NewTransientError creates a new transient error.
func NewTransientError(msg string, cause error) *TransientError {
	return &TransientError{Message: msg, Cause: cause}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(msg string, cause error) *PermanentError {
	return &PermanentError{Message: msg, Cause: cause}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// IsTransientError checks if an error is a transient error.
func IsTransientError(err error) bool {
	var transErr *TransientError
	return errors.As(err, &transErr)
}

// IsPermanentError checks if an error is a permanent error.
func IsPermanentError(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// ClassifyError returns the error type for the given error.
func ClassifyError(err error) ErrorType {
	if IsValidationError(err) {
		return ErrorTypeValidation
	}
	if IsTransientError(err) {
		return ErrorTypeTransient
	}
	if IsPermanentError(err) {
		return ErrorTypePermanent
	}
	return ErrorTypeUnknown
}
