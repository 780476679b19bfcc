package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/schema"
)

func newTestHub() *Hub {
	return NewHub(pslog.Ctx(context.Background()))
}

func TestHubDeliversToRegisteredConnection(t *testing.T) {
	hub := newTestHub()
	id, events := hub.Register()

	if err := hub.Send(id, "tab:session:chat-1", "agent-event", map[string]int{"sequence": 4}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env := <-events
	if env.Channel != schema.ChannelName("tab:session:chat-1") || env.Event != "agent-event" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var payload map[string]int
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["sequence"] != 4 {
		t.Fatalf("payload: got %v", payload)
	}
}

func TestHubIgnoresUnknownConnection(t *testing.T) {
	hub := newTestHub()
	if err := hub.Send("no-such-conn", "tab:session:chat-1", "agent-event", nil); err != nil {
		t.Fatalf("send to unknown conn: %v", err)
	}
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := newTestHub()
	id, events := hub.Register()

	// Nothing reads the queue, so overflow past the buffer must drop
	// instead of blocking the publisher.
	for i := 0; i < 300; i++ {
		if err := hub.Send(id, "tab:terminal:term-1", "terminal-data", fmt.Sprintf("chunk-%d", i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if got := len(events); got != cap(events) {
		t.Fatalf("queue length: got %d, want %d", got, cap(events))
	}
}

func TestHubUnregisterClosesQueue(t *testing.T) {
	hub := newTestHub()
	id, events := hub.Register()
	hub.Unregister(id)
	if _, ok := <-events; ok {
		t.Fatalf("expected closed queue")
	}
	// Late sends and double unregister are harmless.
	if err := hub.Send(id, "tab:session:chat-1", "agent-event", nil); err != nil {
		t.Fatalf("late send: %v", err)
	}
	hub.Unregister(id)
}

func TestConnIDsAreUnique(t *testing.T) {
	hub := newTestHub()
	seen := make(map[schema.ConnID]bool)
	for i := 0; i < 64; i++ {
		id, _ := hub.Register()
		if seen[id] {
			t.Fatalf("duplicate conn id %q", id)
		}
		seen[id] = true
	}
}
