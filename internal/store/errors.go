package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCollection is returned for operations on an undefined mapper.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrDuplicateMapper is returned when a collection name is defined twice.
	ErrDuplicateMapper = errors.New("mapper already defined")

	// ErrNotFound is returned by adapters for ids they do not hold.
	ErrNotFound = errors.New("record not found")

	// ErrMissingID is returned when a record has no value under the mapper's
	// id attribute where one is required.
	ErrMissingID = errors.New("record has no id")

	// ErrUnknownMethod is returned by Call for a method the mapper lacks.
	ErrUnknownMethod = errors.New("unknown mapper method")
)

// ValidationError reports a record rejected by its collection's schema.
type ValidationError struct {
	// Collection is the mapper name.
	Collection string

	// Err is the underlying CUE error.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %v", e.Collection, e.Err)
}

// Unwrap returns the underlying CUE error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
