// Package errs defines the error kinds callers of ragd branch on.
package errs

import (
	"errors"
	"fmt"
)

// TransportError is returned when an outbound call to an embedding,
// completion or alerts provider fails.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError. A nil err yields nil.
func Transport(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Provider: provider, Op: op, Err: err}
}

// StorageError is returned when the vector store fails to read or persist.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError. A nil err yields nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ValidationError rejects caller input. Index is the offending batch item,
// or -1 when the input is not a batch.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid document %d: %s %s", e.Index, e.Field, e.Reason)
	}
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

// Invalid returns a ValidationError for a non-batch field.
func Invalid(field, reason string) error {
	return &ValidationError{Index: -1, Field: field, Reason: reason}
}

// IsTransport reports whether err wraps a TransportError.
func IsTransport(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsStorage reports whether err wraps a StorageError.
func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
