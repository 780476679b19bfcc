package space

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/spacedock/schema"
)

func newTestManager(t *testing.T) (*Manager, *fakeAgent) {
	t.Helper()
	agent := newFakeAgent()
	dial, _ := agent.dialer()
	manager, err := NewManager(schema.RuntimeConfig{StateDir: t.TempDir()}, dial, &collectSender{}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { manager.Shutdown(context.Background()) })
	return manager, agent
}

func TestManagerReusesRuntime(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	first, err := manager.Space(ctx, "acme")
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	second, err := manager.Space(ctx, "acme")
	if err != nil {
		t.Fatalf("space again: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same runtime for one slug")
	}

	other, err := manager.Space(ctx, "globex")
	if err != nil {
		t.Fatalf("second space: %v", err)
	}
	if other == first {
		t.Fatalf("expected distinct runtimes per space")
	}
}

func TestManagerRejectsBadSlug(t *testing.T) {
	manager, _ := newTestManager(t)
	for _, slug := range []string{"", "Has Upper", "spaces here", "sla/sh"} {
		if _, err := manager.Space(context.Background(), schema.SpaceID(slug)); !errors.Is(err, schema.ErrSpaceNotFound) {
			t.Fatalf("slug %q: expected ErrSpaceNotFound, got %v", slug, err)
		}
	}
}

func TestManagerLookup(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := manager.Lookup("acme"); !errors.Is(err, schema.ErrSpaceNotFound) {
		t.Fatalf("expected ErrSpaceNotFound before first use, got %v", err)
	}
	created, err := manager.Space(ctx, "acme")
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	found, err := manager.Lookup("acme")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found != created {
		t.Fatalf("expected lookup to return the created runtime")
	}
}

func TestManagerSleepRevives(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	runtime, err := manager.Space(ctx, "acme")
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	if _, err := runtime.EnsureSession(ctx, schema.EnsureSessionRequest{SessionID: "chat-1"}); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := manager.Sleep(ctx, "acme"); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if err := manager.Sleep(ctx, "acme"); !errors.Is(err, schema.ErrSpaceNotFound) {
		t.Fatalf("expected ErrSpaceNotFound on double sleep, got %v", err)
	}

	// Reviving reopens the store with the durable tabs intact.
	revived, err := manager.Space(ctx, "acme")
	if err != nil {
		t.Fatalf("revive: %v", err)
	}
	if revived == runtime {
		t.Fatalf("expected a fresh runtime after sleep")
	}
	tabs, err := revived.ListTabs(ctx, schema.ListTabsRequest{})
	if err != nil {
		t.Fatalf("list tabs: %v", err)
	}
	if len(tabs.Tabs) != 1 || tabs.Tabs[0].ID != schema.SessionTabID("chat-1") {
		t.Fatalf("expected durable tab to survive sleep, got %+v", tabs.Tabs)
	}
}
