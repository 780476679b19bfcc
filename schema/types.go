package schema

import "time"

// SpaceID identifies a workspace.
type SpaceID string

// TabID identifies a tab within a space.
type TabID string

// SessionID identifies a chat session.
type SessionID string

// TerminalID identifies a terminal.
type TerminalID string

// ConnID identifies a subscribed client connection.
type ConnID string

// ChannelName is a fan-out topic connections subscribe to.
type ChannelName string

// TabKind discriminates tab payloads.
type TabKind string

const (
	// TabKindSession marks a chat session tab.
	TabKindSession TabKind = "session"
	// TabKindTerminal marks a terminal tab.
	TabKindTerminal TabKind = "terminal"
)

// SessionStatus tracks whether a session is waiting for input or running.
type SessionStatus string

const (
	// SessionWaiting means the agent is idle and ready for a prompt.
	SessionWaiting SessionStatus = "waiting"
	// SessionRunning means the agent is working on a prompt.
	SessionRunning SessionStatus = "running"
)

// PermissionReply is the user's answer to an agent permission request.
type PermissionReply string

const (
	// PermissionOnce grants the request a single time.
	PermissionOnce PermissionReply = "once"
	// PermissionAlways grants the request permanently.
	PermissionAlways PermissionReply = "always"
	// PermissionReject denies the request.
	PermissionReject PermissionReply = "reject"
)

// SessionTabID derives the tab id for a session.
func SessionTabID(id SessionID) TabID {
	return TabID(string(TabKindSession) + "_" + string(id))
}

// TerminalTabID derives the tab id for a terminal.
func TerminalTabID(id TerminalID) TabID {
	return TabID(string(TabKindTerminal) + "_" + string(id))
}

// TabChannel builds the channel name for a tab kind and entity id.
func TabChannel(kind TabKind, entityID string) ChannelName {
	return ChannelName("tab:" + string(kind) + ":" + entityID)
}

// SessionChannel is the channel carrying a session's transcript events.
func SessionChannel(id SessionID) ChannelName {
	return TabChannel(TabKindSession, string(id))
}

// TerminalChannel is the channel carrying a terminal's output bytes.
func TerminalChannel(id TerminalID) ChannelName {
	return TabChannel(TabKindTerminal, string(id))
}

// TabSnapshot is the polymorphic tab listing row.
type TabSnapshot struct {
	ID        TabID         `json:"id"`
	Kind      TabKind       `json:"kind"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Session   *SessionInfo  `json:"session,omitempty"`
	Terminal  *TerminalInfo `json:"terminal,omitempty"`
}

// SessionInfo carries session detail for tab listings.
type SessionInfo struct {
	ID     SessionID     `json:"id"`
	Status SessionStatus `json:"status"`
}

// TerminalInfo carries terminal detail for tab listings.
type TerminalInfo struct {
	ID   TerminalID `json:"id"`
	Cols int        `json:"cols"`
	Rows int        `json:"rows"`
}

// SandboxContext is the sandbox identity a space is bound to.
type SandboxContext struct {
	SandboxID  string `json:"sandbox_id"`
	SandboxURL string `json:"sandbox_url"`
}
