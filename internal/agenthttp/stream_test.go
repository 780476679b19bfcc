package agenthttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"pkt.systems/spacedock/space"
)

func streamFrom(t *testing.T, body string) (space.EventStream, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("after"); got != "2" {
			t.Errorf("after: got %q", got)
		}
		_, _ = w.Write([]byte(body))
	}))
	client, err := New(srv.URL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("new: %v", err)
	}
	stream, err := client.StreamEvents(context.Background(), "chat-1", 2)
	if err != nil {
		srv.Close()
		t.Fatalf("stream: %v", err)
	}
	return stream, func() {
		_ = stream.Close()
		srv.Close()
	}
}

func TestStreamEventsSkipsKeepAlives(t *testing.T) {
	stream, done := streamFrom(t, "\n{\"sequence\":3,\"type\":\"text\"}\n\n\n{\"sequence\":4,\"type\":\"text\"}\n")
	defer done()
	ctx := context.Background()

	first, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Sequence != 3 {
		t.Fatalf("first sequence: got %d", first.Sequence)
	}
	// An event line with no payload field carries the whole line as payload.
	if len(first.Payload) == 0 {
		t.Fatalf("expected payload fallback")
	}
	second, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Sequence != 4 {
		t.Fatalf("second sequence: got %d", second.Sequence)
	}
	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestStreamEventsRejectsMalformedLine(t *testing.T) {
	stream, done := streamFrom(t, "{not json}\n")
	defer done()
	_, err := stream.Next(context.Background())
	var agentErr *space.AgentError
	if !errors.As(err, &agentErr) || agentErr.Kind != space.AgentErrorProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestStreamEventsHonorsContext(t *testing.T) {
	stream, done := streamFrom(t, "")
	defer done()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stream.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
