package store

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"pkt.systems/spacedock/schema"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), "demo", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAppendEventIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	session := schema.SessionID("chat-1")

	inserted, err := db.AppendEvent(ctx, session, 1, []byte(`{"type":"text"}`))
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first append to insert")
	}

	// Redelivery with a different payload must not overwrite the record.
	inserted, err = db.AppendEvent(ctx, session, 1, []byte(`{"type":"other"}`))
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate append to be ignored")
	}

	events, err := db.EventsSince(ctx, session, 0, 0)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !bytes.Equal(events[0].Payload, []byte(`{"type":"text"}`)) {
		t.Fatalf("expected original payload to survive, got %s", events[0].Payload)
	}
}

func TestAppendEventRejectsNonPositiveSequence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for _, seq := range []int64{0, -4} {
		if _, err := db.AppendEvent(ctx, "chat-1", seq, []byte(`{}`)); !errors.Is(err, schema.ErrInvalidSequence) {
			t.Fatalf("seq %d: expected ErrInvalidSequence, got %v", seq, err)
		}
	}
}

func TestEventsSinceSkipsGaps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	session := schema.SessionID("chat-1")
	for _, seq := range []int64{1, 2, 3, 5} {
		if _, err := db.AppendEvent(ctx, session, seq, []byte(`{}`)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	events, err := db.EventsSince(ctx, session, 2, 0)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	got := make([]int64, 0, len(events))
	for _, event := range events {
		got = append(got, event.Sequence)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Fatalf("expected [3 5], got %v", got)
	}

	last, err := db.LastSequence(ctx, session)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 5 {
		t.Fatalf("expected last sequence 5, got %d", last)
	}
}

func TestLastSequenceEmpty(t *testing.T) {
	db := openTestDB(t)
	last, err := db.LastSequence(context.Background(), "nope")
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected 0 for empty session, got %d", last)
	}
}

func TestEventsSinceLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	session := schema.SessionID("chat-1")
	for seq := int64(1); seq <= 10; seq++ {
		if _, err := db.AppendEvent(ctx, session, seq, []byte(`{}`)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	events, err := db.EventsSince(ctx, session, 0, 3)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(events) != 3 || events[2].Sequence != 3 {
		t.Fatalf("expected first 3 events, got %d ending %d", len(events), events[len(events)-1].Sequence)
	}
}

func TestCreateSessionIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	created, err := db.CreateSession(ctx, "chat-1", "First")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !created {
		t.Fatalf("expected session to be created")
	}
	created, err = db.CreateSession(ctx, "chat-1", "Second")
	if err != nil {
		t.Fatalf("create session again: %v", err)
	}
	if created {
		t.Fatalf("expected second create to be a no-op")
	}

	row, err := db.GetSession(ctx, "chat-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if row.Status != schema.SessionWaiting {
		t.Fatalf("expected waiting status, got %q", row.Status)
	}
	tab, err := db.GetTab(ctx, schema.SessionTabID("chat-1"))
	if err != nil {
		t.Fatalf("get tab: %v", err)
	}
	if tab.Title != "First" {
		t.Fatalf("expected original title to survive, got %q", tab.Title)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetSession(context.Background(), "missing"); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := db.GetTerminal(context.Background(), "missing"); !errors.Is(err, schema.ErrTerminalNotFound) {
		t.Fatalf("expected ErrTerminalNotFound, got %v", err)
	}
}

func TestListTabsExcludesArchived(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.CreateSession(ctx, "chat-1", "Chat"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := db.CreateTerminal(ctx, "term-1", "Terminal", 80, 24); err != nil {
		t.Fatalf("create terminal: %v", err)
	}

	tabs, err := db.ListTabs(ctx)
	if err != nil {
		t.Fatalf("list tabs: %v", err)
	}
	if len(tabs) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(tabs))
	}
	for _, tab := range tabs {
		switch tab.Kind {
		case schema.TabKindSession:
			if tab.Session == nil || tab.Session.ID != "chat-1" {
				t.Fatalf("expected session detail on %q", tab.ID)
			}
		case schema.TabKindTerminal:
			if tab.Terminal == nil || tab.Terminal.Cols != 80 || tab.Terminal.Rows != 24 {
				t.Fatalf("expected terminal detail on %q", tab.ID)
			}
		}
	}

	if err := db.ArchiveTab(ctx, schema.SessionTabID("chat-1")); err != nil {
		t.Fatalf("archive tab: %v", err)
	}
	tabs, err = db.ListTabs(ctx)
	if err != nil {
		t.Fatalf("list tabs after archive: %v", err)
	}
	if len(tabs) != 1 || tabs[0].Kind != schema.TabKindTerminal {
		t.Fatalf("expected only the terminal tab, got %d", len(tabs))
	}

	// Archiving twice reports the tab as gone.
	if err := db.ArchiveTab(ctx, schema.SessionTabID("chat-1")); !errors.Is(err, schema.ErrTabNotFound) {
		t.Fatalf("expected ErrTabNotFound on re-archive, got %v", err)
	}
}

func TestSandboxRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sandbox, err := db.LoadSandbox(ctx)
	if err != nil {
		t.Fatalf("load empty sandbox: %v", err)
	}
	if sandbox.SandboxID != "" || sandbox.SandboxURL != "" {
		t.Fatalf("expected empty sandbox, got %+v", sandbox)
	}

	want := schema.SandboxContext{SandboxID: "sbx-1", SandboxURL: "http://10.0.0.5:4100"}
	if err := db.SaveSandbox(ctx, want); err != nil {
		t.Fatalf("save sandbox: %v", err)
	}
	got, err := db.LoadSandbox(ctx)
	if err != nil {
		t.Fatalf("load sandbox: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestTerminalStateUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.CreateTerminal(ctx, "term-1", "Terminal", 80, 24); err != nil {
		t.Fatalf("create terminal: %v", err)
	}
	if err := db.SetTerminalPty(ctx, "term-1", "pid-42"); err != nil {
		t.Fatalf("set pty: %v", err)
	}
	if err := db.SetTerminalSize(ctx, "term-1", 132, 43); err != nil {
		t.Fatalf("set size: %v", err)
	}
	if err := db.SetTerminalScrollback(ctx, "term-1", []byte("hello")); err != nil {
		t.Fatalf("set scrollback: %v", err)
	}

	row, err := db.GetTerminal(ctx, "term-1")
	if err != nil {
		t.Fatalf("get terminal: %v", err)
	}
	if row.PtyID != "pid-42" || row.Cols != 132 || row.Rows != 43 || string(row.Scrollback) != "hello" {
		t.Fatalf("unexpected terminal row %+v", row)
	}
}
