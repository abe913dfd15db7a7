package repositories

import "fmt"

// StoreErrorCode categorises persistence failures for backends that do not carry their own error type.
type StoreErrorCode string

const (
	StoreErrorUnknown     StoreErrorCode = "store_unknown"
	StoreErrorNotFound    StoreErrorCode = "store_not_found"
	StoreErrorConflict    StoreErrorCode = "store_conflict"
	StoreErrorUnavailable StoreErrorCode = "store_unavailable"
)

// StoreError wraps backend failures with a machine readable code and satisfies RepositoryError.
type StoreError struct {
	Op      string
	Code    StoreErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Code == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Code == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == StoreErrorUnavailable }

// NewStoreError constructs a typed store error.
func NewStoreError(op string, code StoreErrorCode, message string, err error) *StoreError {
	return &StoreError{Op: op, Code: code, Message: message, Err: err}
}

// NotFound is shorthand for a not-found StoreError.
func NotFound(op, message string) *StoreError {
	return NewStoreError(op, StoreErrorNotFound, message, nil)
}
