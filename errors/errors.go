// Package errors provides standardized error handling for reacher components.
// It includes error classification, standard error variables, and helper
// functions for consistent error wrapping across the engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or state
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Transport errors
	ErrPortNotOpen     = errors.New("serial port is not open")
	ErrOpenFailed      = errors.New("serial port failed to open")
	ErrNoPortSelected  = errors.New("no serial port selected")
	ErrPortUnavailable = errors.New("serial port unavailable")

	// Session lifecycle errors
	ErrInvalidState   = errors.New("operation not valid in current session state")
	ErrAlreadyStarted = errors.New("program already started")
	ErrNotStarted     = errors.New("program not started")
	ErrAlreadyStopped = errors.New("program already stopped")
	ErrShuttingDown   = errors.New("session is shutting down")

	// Decode errors (always recovered inside the dispatcher)
	ErrUnparsable = errors.New("line is neither structured nor positional")
	ErrBadStamp   = errors.New("timestamp field is not an integer or wildcard")

	// Limit policy errors
	ErrInvalidPolicy = errors.New("invalid limit policy")
	ErrMissingLimit  = errors.New("limit policy requires a limit value")
	ErrNegativeLimit = errors.New("limit values must be non-negative")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Worker errors
	ErrJoinTimeout = errors.New("worker join timed out")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrPortUnavailable) ||
		errors.Is(err, ErrJoinTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Check error message for common transient patterns
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"busy",
		"temporarily",
		"resource unavailable",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input or state
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrMissingLimit) ||
		errors.Is(err, ErrNegativeLimit) ||
		errors.Is(err, ErrUnparsable) ||
		errors.Is(err, ErrBadStamp)
}

// IsTransport reports whether an error belongs to the transport taxonomy:
// a write against a closed port or a failed open. These surface synchronously
// to the caller and are never swallowed.
func IsTransport(err error) bool {
	return errors.Is(err, ErrPortNotOpen) ||
		errors.Is(err, ErrOpenFailed) ||
		errors.Is(err, ErrNoPortSelected) ||
		errors.Is(err, ErrPortUnavailable)
}

// IsSession reports whether an error belongs to the session taxonomy:
// an operation invoked in an invalid lifecycle state.
func IsSession(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotStarted) ||
		errors.Is(err, ErrAlreadyStopped) ||
		errors.Is(err, ErrShuttingDown)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient // Default for nil
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
