package space

import (
	"errors"
	"fmt"
)

// AgentErrorKind classifies remote agent failures.
type AgentErrorKind string

const (
	// AgentErrorUnknown is an uncategorized agent failure.
	AgentErrorUnknown AgentErrorKind = "unknown"
	// AgentErrorUnavailable indicates the agent server is unreachable.
	AgentErrorUnavailable AgentErrorKind = "unavailable"
	// AgentErrorTimeout indicates the agent call timed out.
	AgentErrorTimeout AgentErrorKind = "timeout"
	// AgentErrorCanceled indicates the call was canceled by its context.
	AgentErrorCanceled AgentErrorKind = "canceled"
	// AgentErrorConflict indicates the resource already exists remotely.
	AgentErrorConflict AgentErrorKind = "conflict"
	// AgentErrorNotFound indicates the remote resource does not exist.
	AgentErrorNotFound AgentErrorKind = "not_found"
	// AgentErrorProcessGone indicates the remote process or PTY vanished.
	AgentErrorProcessGone AgentErrorKind = "process_gone"
	// AgentErrorProtocol indicates an unexpected response shape.
	AgentErrorProtocol AgentErrorKind = "protocol"
)

// AgentError wraps agent failures with a stable classification.
type AgentError struct {
	Kind AgentErrorKind
	Op   string
	Err  error
}

// NewAgentError constructs a classified agent error.
func NewAgentError(kind AgentErrorKind, op string, err error) *AgentError {
	return &AgentError{Kind: kind, Op: op, Err: err}
}

func (e *AgentError) Error() string {
	if e == nil {
		return "agent error"
	}
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("agent %s: %v", e.Op, e.Err)
		}
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("agent %s failed", e.Op)
	}
	return "agent error"
}

func (e *AgentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsConflict reports whether err is a benign "already exists" agent error.
func IsConflict(err error) bool {
	return hasKind(err, AgentErrorConflict)
}

// IsProcessGone reports whether err means the remote process/PTY vanished.
func IsProcessGone(err error) bool {
	return hasKind(err, AgentErrorProcessGone)
}

func hasKind(err error, kind AgentErrorKind) bool {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Kind == kind
	}
	return false
}
