package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur during a crawl
type ErrorType string

const (
	ErrorTypeQuotaExceeded      ErrorType = "quota_exceeded"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeServerError        ErrorType = "server_error"
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeBadRequest         ErrorType = "bad_request"
	ErrorTypeClientError        ErrorType = "client_error"
	ErrorTypeInvalid            ErrorType = "invalid"
	ErrorTypeExtractionRejected ErrorType = "extraction_rejected"
	ErrorTypeExtractionFailed   ErrorType = "extraction_failed"
	ErrorTypeStorageCorruption  ErrorType = "storage_corruption"
	ErrorTypeCheckpointWrite    ErrorType = "checkpoint_write"
	ErrorTypeExhausted          ErrorType = "exhausted"
	ErrorTypeUnknown            ErrorType = "unknown"
)

// Sentinel errors shared across packages
var (
	ErrQuotaExceeded = stderrors.New("daily request quota exceeded")
	ErrRejected      = stderrors.New("extraction rejected")
	ErrDuplicate     = stderrors.New("record already stored")
	ErrLocked        = stderrors.New("data directory is locked by another run")
)

// Error is a classified crawl error
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Unit    string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	if e.Unit != "" {
		msg = fmt.Sprintf("%s [unit %s]", msg, e.Unit)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel that corresponds to the error type
func (e *Error) Is(target error) bool {
	switch target {
	case ErrQuotaExceeded:
		return e.Type == ErrorTypeQuotaExceeded
	case ErrRejected:
		return e.Type == ErrorTypeExtractionRejected
	}
	return false
}

// New creates a classified error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap classifies an underlying error
func Wrap(errorType ErrorType, err error, message string) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// QuotaExceeded reports that the daily quota refused a request
func QuotaExceeded(count, limit int) *Error {
	return &Error{
		Type:    ErrorTypeQuotaExceeded,
		Message: fmt.Sprintf("daily quota reached (%d/%d)", count, limit),
		Err:     ErrQuotaExceeded,
	}
}

// Rejected reports that an extractor found no record in the content
func Rejected(reason string) *Error {
	return &Error{Type: ErrorTypeExtractionRejected, Message: reason, Err: ErrRejected}
}

// StorageCorruption reports an unreadable durable file
func StorageCorruption(path string, err error) *Error {
	return &Error{Type: ErrorTypeStorageCorruption, Message: path, Err: err}
}

// CheckpointWrite reports a failed checkpoint save
func CheckpointWrite(err error) *Error {
	return &Error{Type: ErrorTypeCheckpointWrite, Message: "failed to persist checkpoint", Err: err}
}

// FromStatusCode maps an HTTP status code to an error type
func FromStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 400:
		return ErrorTypeBadRequest
	case statusCode >= 500:
		return ErrorTypeServerError
	case statusCode >= 400:
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}

// TypeOf returns the classified type of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	switch {
	case stderrors.Is(err, ErrQuotaExceeded):
		return ErrorTypeQuotaExceeded
	case stderrors.Is(err, ErrRejected):
		return ErrorTypeExtractionRejected
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error type must stop the whole run
func IsFatal(errorType ErrorType) bool {
	return errorType == ErrorTypeQuotaExceeded || errorType == ErrorTypeCheckpointWrite
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	default:
		return statusCode >= 500
	}
}
