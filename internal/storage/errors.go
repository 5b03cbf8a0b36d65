package storage

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes storage errors.
type ErrorCode string

const (
	// ErrCodeStorage indicates a backend I/O or query failure.
	ErrCodeStorage ErrorCode = "STORAGE_FAILURE"

	// ErrCodeConfiguration indicates a missing statement template or an
	// attempt to write a binary value inline.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// ErrCodeConnection indicates schema bootstrap or connection validation
	// failed. It is fatal to the connection.
	ErrCodeConnection ErrorCode = "CONNECTION_FAILURE"
)

// Error is returned by storage clients.
// Err carries the backend cause when there is one.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Row     string
	Column  string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	switch {
	case e.Row != "" && e.Column != "":
		msg += fmt.Sprintf(" (row=%s, column=%s)", e.Row, e.Column)
	case e.Row != "":
		msg += fmt.Sprintf(" (row=%s)", e.Row)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewStorageError wraps a backend failure for op on row.
func NewStorageError(op, row string, err error) *Error {
	return &Error{Code: ErrCodeStorage, Op: op, Row: row, Err: err}
}

// NewConfigurationError reports a misconfiguration detected during op.
func NewConfigurationError(op, message string) *Error {
	return &Error{Code: ErrCodeConfiguration, Op: op, Message: message}
}

// NewConnectionError reports a connection that cannot be used.
func NewConnectionError(op, message string, err error) *Error {
	return &Error{Code: ErrCodeConnection, Op: op, Message: message, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsStorageError returns true if err is a backend failure.
func IsStorageError(err error) bool { return hasCode(err, ErrCodeStorage) }

// IsConfigurationError returns true if err reports a misconfiguration.
func IsConfigurationError(err error) bool { return hasCode(err, ErrCodeConfiguration) }

// IsConnectionError returns true if err reports an unusable connection.
func IsConnectionError(err error) bool { return hasCode(err, ErrCodeConnection) }
