// Package customerrors defines errors shared by the metadata store, its
// backends and the superblock layer.
package customerrors

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotFound should be returned from lookup operations when the
	// lookup key is not found and absence is not a normal outcome.
	ErrNotFound = errors.New("not found")

	// ErrEmptyKey should be returned by backends when an operation is
	// requested with an empty key.
	ErrEmptyKey = errors.New("empty key")

	// ErrInterrupted is returned when a blocking wait is abandoned because
	// its context was cancelled. Nothing is held or mutated when it is
	// returned.
	ErrInterrupted = errors.New("interrupted")

	// ErrClosed is returned by operations on a closed store or backend.
	ErrClosed = errors.New("closed")

	// ErrFileInUse is returned when the backing file is locked by another
	// process.
	ErrFileInUse = errors.New("file in use")

	// ErrBackendOpen is returned when the backend could not be opened or
	// created.
	ErrBackendOpen = errors.New("cannot open backend")
)

// Interrupted wraps ctx's error so that it matches ErrInterrupted.
func Interrupted(cause error) error {
	if cause == nil {
		return ErrInterrupted
	}
	return errors.Wrap(ErrInterrupted, cause.Error())
}
