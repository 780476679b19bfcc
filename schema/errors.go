package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotReady indicates no sandbox is bound to the space yet.
	ErrNotReady = errors.New("no sandbox bound")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrSessionNotFound indicates a requested session could not be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTerminalNotFound indicates a requested terminal could not be found.
	ErrTerminalNotFound = errors.New("terminal not found")
	// ErrSpaceNotFound indicates a requested space could not be found.
	ErrSpaceNotFound = errors.New("space not found")
	// ErrInvalidSequence indicates an event carried a non-positive sequence.
	ErrInvalidSequence = errors.New("invalid event sequence")
	// ErrEmptyMessage indicates the message content was empty.
	ErrEmptyMessage = errors.New("empty message")
	// ErrInvalidReply indicates an unknown permission reply value.
	ErrInvalidReply = errors.New("invalid permission reply")
)
