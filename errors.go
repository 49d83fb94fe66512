package polystore

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Lookup errors
	ErrNotFound      = errors.New("document not found")
	ErrUnauthorized  = errors.New("unauthorized access")
	ErrAlreadyExists = errors.New("object already exists")

	// Input errors
	ErrAnalysis    = errors.New("document analysis failed")
	ErrInvalidData = errors.New("invalid data format")

	// Backend errors
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrTimeout            = errors.New("operation timed out")

	// Directory errors
	ErrDirectoryWrite = errors.New("directory write failed")
	ErrLockHeld       = errors.New("lock held by another process")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Machine-readable error kinds surfaced to callers
const (
	KindAnalysisError         = "analysis_error"
	KindBackendUnavailable    = "backend_unavailable"
	KindNotFound              = "not_found"
	KindUnauthorized          = "unauthorized"
	KindDirectoryWriteFailure = "directory_write_failure"
	KindInvalidConfig         = "invalid_config"
	KindInternal              = "internal"
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// backendError wraps a raw driver or SDK error so that it matches
// ErrBackendUnavailable (and ErrTimeout for deadline overruns) while keeping
// the cause reachable through errors.Unwrap for logging.
type backendError struct {
	backend string
	op      string
	cause   error
}

func (e *backendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.backend, e.op, e.cause)
}

func (e *backendError) Unwrap() []error {
	errs := []error{ErrBackendUnavailable, e.cause}
	if errors.Is(e.cause, context.DeadlineExceeded) {
		errs = append(errs, ErrTimeout)
	}
	return errs
}

// wrapBackend marks err as a hard backend failure. Lookup misses, data
// errors and already-classified errors pass through untouched.
func wrapBackend(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return &backendError{backend: backend, op: op, cause: err}
}

// Common error checking helpers

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized checks if an error is an owner mismatch
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsBackendUnavailable checks if an error is a connectivity or timeout failure
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrTimeout)
}

// IsRetryable checks if an error is safe to retry
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrLockHeld)
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrAnalysis) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidConfig)
}

// ErrorKind maps an error to its machine-readable kind
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAnalysis), errors.Is(err, ErrInvalidData):
		return KindAnalysisError
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrTimeout):
		return KindBackendUnavailable
	case errors.Is(err, ErrDirectoryWrite):
		return KindDirectoryWriteFailure
	case errors.Is(err, ErrInvalidConfig):
		return KindInvalidConfig
	default:
		return KindInternal
	}
}

// PublicError is the externally visible shape of a failed operation.
// Message never carries driver or SDK text.
type PublicError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var publicMessages = map[string]string{
	KindAnalysisError:         "document could not be analyzed",
	KindBackendUnavailable:    "storage backend unavailable",
	KindNotFound:              "document not found",
	KindUnauthorized:          "not authorized for this document",
	KindDirectoryWriteFailure: "document directory could not be updated",
	KindInvalidConfig:         "invalid configuration",
	KindInternal:              "internal error",
}

// ToPublicError converts err into a PublicError, or nil for a nil error
func ToPublicError(err error) *PublicError {
	if err == nil {
		return nil
	}
	kind := ErrorKind(err)
	return &PublicError{Kind: kind, Message: publicMessages[kind]}
}

func (e *PublicError) Error() string {
	return e.Kind + ": " + e.Message
}
