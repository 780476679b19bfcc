package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/schema"
)

// Hub owns the server's live stream connections and delivers registry
// fan-out to them. It implements channels.Sender.
//
// Delivery must never block: the registry publishes synchronously to keep
// per-channel ordering, so each connection gets a buffered queue and a full
// queue drops the event.
type Hub struct {
	mu    sync.Mutex
	conns map[schema.ConnID]*hubConn
	log   pslog.Logger
}

type hubConn struct {
	events chan schema.Envelope
}

// NewHub constructs an empty hub.
func NewHub(logger pslog.Logger) *Hub {
	return &Hub{
		conns: make(map[schema.ConnID]*hubConn),
		log:   logger,
	}
}

// Register creates a connection with a fresh id and its event queue.
func (h *Hub) Register() (schema.ConnID, <-chan schema.Envelope) {
	id := newConnID()
	conn := &hubConn{events: make(chan schema.Envelope, 256)}
	h.mu.Lock()
	h.conns[id] = conn
	total := len(h.conns)
	h.mu.Unlock()
	h.log.Debug("hub connection registered", "conn", id, "conns", total)
	return id, conn.events
}

// Unregister removes a connection and closes its queue.
func (h *Hub) Unregister(id schema.ConnID) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	total := len(h.conns)
	h.mu.Unlock()
	if !ok {
		return
	}
	close(conn.events)
	h.log.Debug("hub connection removed", "conn", id, "conns", total)
}

// Send implements channels.Sender. Envelopes for unknown or saturated
// connections are dropped; live subscribers resynchronize via the
// transcript and scrollback reads.
func (h *Hub) Send(connID schema.ConnID, channel schema.ChannelName, event string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	conn := h.conns[connID]
	h.mu.Unlock()
	if conn == nil {
		return nil
	}
	select {
	case conn.events <- schema.Envelope{Channel: channel, Event: event, Payload: encoded}:
	default:
		h.log.Warn("hub event dropped", "conn", connID, "event", event)
	}
	return nil
}

func newConnID() schema.ConnID {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return schema.ConnID(hex.EncodeToString(buf))
}
