package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no snapshot exists for an id.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidID is returned for ids that could escape the store directory.
	ErrInvalidID = errors.New("invalid snapshot id")

	// ErrCompleted is returned when a save would replace a Completed snapshot
	// with a non-Completed one. Completed is terminal on disk as in memory.
	ErrCompleted = errors.New("snapshot already completed")
)

// CorruptionError describes a snapshot file that could not be used.
type CorruptionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt snapshot %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt snapshot %s: %s", e.Path, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}
