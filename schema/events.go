package schema

import "encoding/json"

// AgentEvent is one entry of a session's transcript stream. The payload is
// the agent protocol event verbatim; the runtime only reads the sequence.
type AgentEvent struct {
	Sequence int64           `json:"sequence"`
	Payload  json.RawMessage `json:"payload"`
}

// Fan-out event names delivered to subscribed connections.
const (
	// EventSessionEvent carries one transcript event on a session channel.
	EventSessionEvent = "session-event"
	// EventTerminalData carries raw output bytes on a terminal channel.
	EventTerminalData = "terminal-data"
	// EventTabsChanged cues subscribers to re-fetch the tab list.
	EventTabsChanged = "tabs-changed"
)

// TerminalData is the payload published on terminal channels.
type TerminalData struct {
	TerminalID TerminalID `json:"terminal_id"`
	Data       []byte     `json:"data"`
}
