package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidPoint         = errors.New("invalid point")
	ErrInvalidEntryID       = errors.New("invalid entry id")
	ErrInvalidEntryKind     = errors.New("invalid entry kind")
	ErrInvalidEntryStatus   = errors.New("invalid entry status")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrUnknownEntry         = errors.New("unknown entry")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// StoreError marks err as a store failure. The result matches both
// ErrStoreUnavailable and err under errors.Is. Domain errors that a store
// reports on purpose (for example ErrUnknownEntry) are wrapped without the
// unavailability marker.
func StoreError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnknownEntry) || errors.Is(err, ErrStoreUnavailable) {
		return WrapError(operationStore, subject, code, err)
	}
	return WrapError(operationStore, subject, code, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
}
