package schema

import "encoding/json"

// Session operations.

// EnsureSessionRequest creates a session tab if absent.
type EnsureSessionRequest struct {
	SessionID SessionID `json:"session_id"`
	Title     string    `json:"title,omitempty"`
}

// EnsureSessionResponse reports the session's tab snapshot.
type EnsureSessionResponse struct {
	Tab     TabSnapshot `json:"tab"`
	Created bool        `json:"created"`
}

// PostMessageRequest forwards a prompt to the agent.
type PostMessageRequest struct {
	SessionID  SessionID `json:"session_id"`
	Content    string    `json:"content"`
	SandboxURL string    `json:"sandbox_url,omitempty"`
}

// PostMessageResponse reports the updated tab snapshot.
type PostMessageResponse struct {
	Tab TabSnapshot `json:"tab"`
}

// ReplyPermissionRequest answers an agent permission request.
type ReplyPermissionRequest struct {
	SessionID    SessionID       `json:"session_id"`
	PermissionID string          `json:"permission_id"`
	Reply        PermissionReply `json:"reply"`
}

// ReplyPermissionResponse is empty on success.
type ReplyPermissionResponse struct{}

// GetTranscriptRequest reads transcript events after an offset.
type GetTranscriptRequest struct {
	SessionID SessionID `json:"session_id"`
	Offset    int64     `json:"offset"`
	Limit     int       `json:"limit,omitempty"`
}

// GetTranscriptResponse carries transcript events in sequence order.
type GetTranscriptResponse struct {
	Events []AgentEvent `json:"events"`
}

// Terminal operations.

// EnsureTerminalRequest creates a terminal tab if absent and attaches a PTY.
type EnsureTerminalRequest struct {
	TerminalID TerminalID `json:"terminal_id"`
	Cols       int        `json:"cols,omitempty"`
	Rows       int        `json:"rows,omitempty"`
}

// EnsureTerminalResponse reports the terminal's tab snapshot.
type EnsureTerminalResponse struct {
	Tab     TabSnapshot `json:"tab"`
	Created bool        `json:"created"`
}

// GetScrollbackRequest fetches accumulated terminal output.
type GetScrollbackRequest struct {
	TerminalID TerminalID `json:"terminal_id"`
}

// GetScrollbackResponse carries the trailing output buffer.
type GetScrollbackResponse struct {
	Data []byte `json:"data"`
}

// InputRequest sends bytes to a terminal's PTY.
type InputRequest struct {
	TerminalID TerminalID `json:"terminal_id"`
	Data       []byte     `json:"data"`
}

// InputResponse is empty on success.
type InputResponse struct{}

// ResizeRequest updates a terminal's geometry.
type ResizeRequest struct {
	TerminalID TerminalID `json:"terminal_id"`
	Cols       int        `json:"cols"`
	Rows       int        `json:"rows"`
}

// ResizeResponse is empty on success.
type ResizeResponse struct{}

// Space operations.

// ListTabsRequest lists the space's tabs.
type ListTabsRequest struct{}

// ListTabsResponse reports non-archived tabs, most recently updated first.
type ListTabsResponse struct {
	Tabs []TabSnapshot `json:"tabs"`
}

// SetSandboxContextRequest rebinds the space to a sandbox.
type SetSandboxContextRequest struct {
	SandboxID  string `json:"sandbox_id"`
	SandboxURL string `json:"sandbox_url,omitempty"`
}

// SetSandboxContextResponse reports the bound context.
type SetSandboxContextResponse struct {
	Sandbox SandboxContext `json:"sandbox"`
}

// Subscriptions.

// SubscribeRequest joins a connection to a tab channel.
type SubscribeRequest struct {
	ConnID    ConnID      `json:"conn_id"`
	Channel   ChannelName `json:"-"`
	SessionID SessionID   `json:"session_id,omitempty"`
	Terminal  TerminalID  `json:"terminal_id,omitempty"`
}

// SubscribeResponse is empty on success.
type SubscribeResponse struct{}

// Envelope is a fan-out delivery to one connection.
type Envelope struct {
	Channel ChannelName     `json:"channel,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
