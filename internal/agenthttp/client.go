// Package agenthttp implements the agent-server client: JSON REST for
// session actions, a JSONL stream for transcript events, and a websocket
// bridge for PTY traffic.
package agenthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/schema"
	"pkt.systems/spacedock/space"
)

// Client talks to one agent server over its sandbox base URL. It implements
// space.AgentClient.
type Client struct {
	baseURL string
	http    *http.Client
	log     pslog.Logger
}

// Dialer returns a space.AgentDialer backed by HTTP. Construction does no
// network I/O; every call dials lazily.
func Dialer(logger pslog.Logger) space.AgentDialer {
	return func(baseURL string) (space.AgentClient, error) {
		return New(baseURL, logger)
	}
}

// New constructs a client for the given base URL.
func New(baseURL string, logger pslog.Logger) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("agent base url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid agent base url %q", baseURL)
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{
		baseURL: trimmed,
		http:    &http.Client{},
		log:     logger.With("agent", parsed.Host),
	}, nil
}

// Ping checks the agent's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// CreateSession creates a chat session. An existing session comes back as a
// conflict-class error.
func (c *Client) CreateSession(ctx context.Context, id schema.SessionID) error {
	body := map[string]string{"session_id": string(id)}
	return c.do(ctx, http.MethodPost, "/v1/sessions", body, nil)
}

// PostMessage forwards a user prompt to the session.
func (c *Client) PostMessage(ctx context.Context, id schema.SessionID, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(string(id))+"/messages", body, nil)
}

// ReplyPermission answers a pending permission request.
func (c *Client) ReplyPermission(ctx context.Context, id schema.SessionID, permissionID string, reply schema.PermissionReply) error {
	body := map[string]string{"reply": string(reply)}
	path := "/v1/sessions/" + url.PathEscape(string(id)) + "/permissions/" + url.PathEscape(permissionID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// HasPtySession reports whether a multiplexer session exists.
func (c *Client) HasPtySession(ctx context.Context, name string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/v1/pty/"+url.PathEscape(name), nil, nil)
	if err == nil {
		return true, nil
	}
	var agentErr *space.AgentError
	if errors.As(err, &agentErr) && agentErr.Kind == space.AgentErrorNotFound {
		return false, nil
	}
	return false, err
}

// CreatePtySession creates a durable multiplexer session.
func (c *Client) CreatePtySession(ctx context.Context, name string, cols, rows int) error {
	body := map[string]any{"name": name, "cols": cols, "rows": rows}
	return c.do(ctx, http.MethodPost, "/v1/pty", body, nil)
}

// CaptureScrollback reads the multiplexer's trailing output buffer.
func (c *Client) CaptureScrollback(ctx context.Context, name string) ([]byte, error) {
	var out struct {
		Data []byte `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/pty/"+url.PathEscape(name)+"/scrollback", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// do runs one JSON request/response cycle against the agent server.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	op := method + " " + path
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return space.NewAgentError(space.AgentErrorProtocol, op, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return space.NewAgentError(space.AgentErrorProtocol, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return space.NewAgentError(classifyTransport(ctx, err), op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.statusError(op, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return space.NewAgentError(space.AgentErrorProtocol, op, err)
		}
	}
	return nil
}

// statusError maps an agent HTTP error status onto an AgentError kind. The
// agent marks reaped PTY processes with a distinct error code so the caller
// can recreate instead of failing.
func (c *Client) statusError(op string, resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	_ = json.Unmarshal(raw, &payload)
	message := payload.Error
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = resp.Status
	}
	err := errors.New(message)

	kind := space.AgentErrorUnknown
	switch {
	case payload.Code == "process_gone":
		kind = space.AgentErrorProcessGone
	case resp.StatusCode == http.StatusConflict:
		kind = space.AgentErrorConflict
	case resp.StatusCode == http.StatusNotFound:
		kind = space.AgentErrorNotFound
	case resp.StatusCode == http.StatusGatewayTimeout:
		kind = space.AgentErrorTimeout
	case resp.StatusCode >= 500:
		kind = space.AgentErrorUnavailable
	}
	return space.NewAgentError(kind, op, err)
}

func classifyTransport(ctx context.Context, err error) space.AgentErrorKind {
	switch {
	case ctx.Err() == context.Canceled || errors.Is(err, context.Canceled):
		return space.AgentErrorCanceled
	case ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded):
		return space.AgentErrorTimeout
	default:
		return space.AgentErrorUnavailable
	}
}

// shortTimeout bounds quick control calls that must not hang a foreground
// action.
const shortTimeout = 10 * time.Second
