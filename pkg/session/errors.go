package session

import "errors"

var (
	// ErrInvalidName is returned when a session name fails validation
	ErrInvalidName = errors.New("invalid session name")

	// ErrMissingField is returned when a required constructor field is empty
	ErrMissingField = errors.New("missing required session field")

	// ErrInvalidStatus is returned for an unknown status value
	ErrInvalidStatus = errors.New("invalid session status")

	// ErrTerminal is returned when a completed session is asked to change status
	ErrTerminal = errors.New("session is completed")
)
