package automation

import (
	"errors"
	"fmt"
)

// ErrNoResult is returned when the stream ends without a usable COMPLETE event.
var ErrNoResult = errors.New("no result from automation")

// ErrorClass represents a classification of backend failures.
type ErrorClass string

const (
	// ErrorClassUnavailable covers transport failures and non-2xx responses.
	ErrorClassUnavailable ErrorClass = "unavailable"

	// ErrorClassReported covers ERROR events sent by the backend.
	ErrorClassReported ErrorClass = "reported"

	// ErrorClassNoResult covers streams that end without a result.
	ErrorClassNoResult ErrorClass = "no_result"
)

// BackendError represents an automation failure with additional context.
type BackendError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("automation %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("automation %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsClass reports whether err is a BackendError of the given class.
func IsClass(err error, class ErrorClass) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Class == class
}
