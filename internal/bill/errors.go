package bill

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by DB lookups that match no row
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyProcessed is returned when extraction runs for a bill that is no longer PROCESSING
	ErrAlreadyProcessed = errors.New("bill already processed")
)

// StorageError reports a persistence failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
