package space

import (
	"pkt.systems/pslog"
	"pkt.systems/spacedock/internal/channels"
	"pkt.systems/spacedock/internal/store"
)

// Deps captures dependencies for a space runtime.
type Deps struct {
	// Dial constructs an agent client for a sandbox base URL.
	Dial AgentDialer
	// Store is the space's durable database.
	Store *store.DB
	// Sender delivers fan-out events to subscribed connections.
	Sender channels.Sender
	// Logger is the base logger; nil falls back to the context logger.
	Logger pslog.Logger
}
