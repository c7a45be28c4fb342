package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates nothing is stored under the requested key.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a key that cannot be stored.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageCorrupt indicates a file that could not be decoded.
	ErrStorageCorrupt = errors.New("storage corrupt")
)

// StorageError wraps a failed storage operation.
type StorageError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
