package space

import (
	"context"

	"pkt.systems/spacedock/schema"
)

// AgentClient talks to the agent server running inside a space's sandbox.
// Implementations are keyed by a base URL that can change at runtime; the
// runtime discards and redials the client on rebind.
type AgentClient interface {
	// Ping checks that the agent server is reachable and healthy.
	Ping(ctx context.Context) error

	// CreateSession creates a chat session on the agent. Creating a session
	// that already exists returns a conflict-class AgentError.
	CreateSession(ctx context.Context, id schema.SessionID) error
	// PostMessage forwards a user prompt to the agent.
	PostMessage(ctx context.Context, id schema.SessionID, content string) error
	// ReplyPermission answers a pending agent permission request.
	ReplyPermission(ctx context.Context, id schema.SessionID, permissionID string, reply schema.PermissionReply) error
	// StreamEvents opens the session's transcript stream starting after the
	// given sequence. The stream is unbounded but honors ctx cancellation.
	StreamEvents(ctx context.Context, id schema.SessionID, afterSeq int64) (EventStream, error)

	// HasPtySession reports whether a durable multiplexer session exists.
	HasPtySession(ctx context.Context, name string) (bool, error)
	// CreatePtySession creates a durable multiplexer session.
	CreatePtySession(ctx context.Context, name string, cols, rows int) error
	// AttachPty attaches a fresh PTY bridge to the multiplexer session and
	// invokes onData for every chunk of raw output.
	AttachPty(ctx context.Context, name string, cols, rows int, onData func([]byte)) (PtyHandle, error)
	// CaptureScrollback reads the multiplexer's trailing output buffer.
	CaptureScrollback(ctx context.Context, name string) ([]byte, error)

	// Close releases the client's resources.
	Close() error
}

// EventStream yields transcript events from the agent.
type EventStream interface {
	Next(ctx context.Context) (schema.AgentEvent, error)
	Close() error
}

// PtyHandle is a live bridge to one remote PTY.
type PtyHandle interface {
	// ID is the remote process/session identifier of the bridge.
	ID() string
	// Send writes input bytes to the PTY.
	Send(ctx context.Context, data []byte) error
	// Resize updates the PTY geometry.
	Resize(ctx context.Context, cols, rows int) error
	// Disconnect detaches the bridge. The multiplexer session survives.
	Disconnect() error
	// Done is closed when the remote process exits or the bridge drops.
	Done() <-chan struct{}
}

// AgentDialer constructs an AgentClient for a sandbox base URL. Dialing must
// not perform network I/O; connection setup is lazy.
type AgentDialer func(baseURL string) (AgentClient, error)
