package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors covering the participation failure taxonomy.
var (
	ErrNotFound            = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrInvalidTransition   = New("INVALID_STATUS_TRANSITION", http.StatusConflict, "invalid status transition")
	ErrInvalidTimeRange    = New("INVALID_TIME_RANGE", http.StatusBadRequest, "end time must be after start time")
	ErrInvalidCapacity     = New("INVALID_CAPACITY", http.StatusBadRequest, "capacity must not be negative")
	ErrDuplicateSession    = New("DUPLICATE_SESSION", http.StatusConflict, "session already exists for this program, date and start time")
	ErrDuplicateNote       = New("DUPLICATE_NOTE", http.StatusConflict, "provider already submitted a note for this record")
	ErrBlankContent        = New("BLANK_CONTENT", http.StatusBadRequest, "content must not be blank")
	ErrInvalidRecordStatus = New("INVALID_RECORD_STATUS", http.StatusConflict, "record is not checked in or checked out")
	ErrEmptyRecordIDs      = New("EMPTY_RECORD_IDS", http.StatusBadRequest, "record id list must not be empty")
	ErrStaleData           = New("STALE_DATA", http.StatusConflict, "data changed since it was read, re-read and retry")
	ErrValidation          = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal            = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
