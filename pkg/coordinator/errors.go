package coordinator

import (
	"errors"

	"github.com/harun/weave/pkg/session"
)

var (
	// ErrInvalidName rejects names that are empty, too long, use other
	// characters than [A-Za-z0-9_ -] or clash with a live session.
	ErrInvalidName = session.ErrInvalidName

	// ErrInvalidSelector rejects empty selectors
	ErrInvalidSelector = errors.New("invalid session selector")

	// ErrEmptyPayload rejects blank input
	ErrEmptyPayload = errors.New("message cannot be empty")

	// ErrNotFound means no live or restorable session matched
	ErrNotFound = errors.New("session not found")

	// ErrOutOfRange means a numeric selector is past the session list
	ErrOutOfRange = errors.New("session position out of range")

	// ErrNoActiveSession is returned by foreground operations with nothing active
	ErrNoActiveSession = errors.New("no active session")
)

// IsValidation reports whether err is a caller input error that must not be retried
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) || errors.Is(err, ErrInvalidSelector) || errors.Is(err, ErrEmptyPayload)
}
