package agenthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/space"
)

// ptyControl is a text-frame control message on the PTY socket. Binary
// frames carry raw terminal bytes in both directions.
type ptyControl struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Pid  string `json:"pid,omitempty"`
}

// AttachPty dials the multiplexer session's websocket endpoint and pumps
// output into onData until the remote process exits or Disconnect is
// called.
func (c *Client) AttachPty(ctx context.Context, name string, cols, rows int, onData func([]byte)) (space.PtyHandle, error) {
	op := "attach " + name
	endpoint := wsURL(c.baseURL) + "/v1/pty/" + url.PathEscape(name) + "/attach" +
		"?cols=" + strconv.Itoa(cols) + "&rows=" + strconv.Itoa(rows)
	conn, resp, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		kind := classifyTransport(ctx, err)
		if resp != nil && resp.StatusCode == 404 {
			kind = space.AgentErrorProcessGone
		}
		return nil, space.NewAgentError(kind, op, err)
	}
	conn.SetReadLimit(1 << 20)

	// The agent announces the PTY's process id in the first text frame.
	hello, err := readControl(ctx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "bad hello")
		return nil, space.NewAgentError(space.AgentErrorProtocol, op, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	h := &ptyBridge{
		id:     hello.Pid,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    c.log.With("pty", name),
	}
	go h.pump(readCtx, onData)
	return h, nil
}

// ptyBridge is one live websocket attachment to a remote PTY.
type ptyBridge struct {
	id      string
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	log     pslog.Logger
	closeMu sync.Mutex
	closed  bool
}

func (h *ptyBridge) ID() string {
	return h.id
}

func (h *ptyBridge) Send(ctx context.Context, data []byte) error {
	if err := h.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return space.NewAgentError(h.classifyWrite(err), "pty send", err)
	}
	return nil
}

func (h *ptyBridge) Resize(ctx context.Context, cols, rows int) error {
	frame, err := json.Marshal(ptyControl{Type: "resize", Cols: cols, Rows: rows})
	if err != nil {
		return space.NewAgentError(space.AgentErrorProtocol, "pty resize", err)
	}
	if err := h.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return space.NewAgentError(h.classifyWrite(err), "pty resize", err)
	}
	return nil
}

func (h *ptyBridge) Disconnect() error {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		return nil
	}
	h.closed = true
	h.closeMu.Unlock()
	h.cancel()
	return h.conn.Close(websocket.StatusNormalClosure, "detach")
}

func (h *ptyBridge) Done() <-chan struct{} {
	return h.done
}

// pump reads frames until the socket drops or the remote reports exit.
func (h *ptyBridge) pump(ctx context.Context, onData func([]byte)) {
	defer close(h.done)
	for {
		kind, data, err := h.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.log.Debug("pty socket closed", "err", err)
			}
			return
		}
		switch kind {
		case websocket.MessageBinary:
			if onData != nil && len(data) > 0 {
				onData(data)
			}
		case websocket.MessageText:
			var ctl ptyControl
			if json.Unmarshal(data, &ctl) == nil && ctl.Type == "exit" {
				h.log.Debug("pty process exited")
				return
			}
		}
	}
}

// classifyWrite marks writes on a dead socket as process-gone so the caller
// recreates the PTY instead of surfacing a transport error.
func (h *ptyBridge) classifyWrite(err error) space.AgentErrorKind {
	select {
	case <-h.done:
		return space.AgentErrorProcessGone
	default:
	}
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return space.AgentErrorProcessGone
	}
	return space.AgentErrorUnavailable
}

func readControl(ctx context.Context, conn *websocket.Conn) (ptyControl, error) {
	helloCtx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()
	kind, data, err := conn.Read(helloCtx)
	if err != nil {
		return ptyControl{}, err
	}
	if kind != websocket.MessageText {
		return ptyControl{}, errors.New("expected control frame")
	}
	var ctl ptyControl
	if err := json.Unmarshal(data, &ctl); err != nil {
		return ptyControl{}, err
	}
	return ctl, nil
}

// wsURL rewrites an http(s) base URL to its websocket scheme.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
