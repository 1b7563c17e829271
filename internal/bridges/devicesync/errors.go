package devicesync

import "errors"

// Sentinel errors for command handling.
var (
	// ErrUnknownCommand indicates a message on a command topic other than
	// patch or reset.
	ErrUnknownCommand = errors.New("devicesync: unknown command")

	// ErrInvalidCommand indicates a command payload that is not valid JSON.
	ErrInvalidCommand = errors.New("devicesync: invalid command payload")
)
