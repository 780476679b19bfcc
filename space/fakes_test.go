package space

import (
	"context"
	"io"
	"strconv"
	"sync"

	"pkt.systems/spacedock/schema"
)

// fakeAgent is a scripted in-memory agent server shared by the clients a
// fakeDialer hands out.
type fakeAgent struct {
	mu sync.Mutex

	pingErr error

	sessions    map[schema.SessionID]bool
	createCalls map[schema.SessionID]int
	posted      map[schema.SessionID][]string
	replies     []string

	events map[schema.SessionID][]schema.AgentEvent
	// redeliverAll makes new streams ignore the requested offset, as an
	// at-least-once agent would after losing its cursor.
	redeliverAll bool
	streams      map[schema.SessionID][]*fakeStream

	ptySessions map[string]bool
	ptys        []*fakePty
	nextPid     int
	attachErr   error
	scrollbacks map[string][]byte
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		sessions:    make(map[schema.SessionID]bool),
		createCalls: make(map[schema.SessionID]int),
		posted:      make(map[schema.SessionID][]string),
		events:      make(map[schema.SessionID][]schema.AgentEvent),
		streams:     make(map[schema.SessionID][]*fakeStream),
		ptySessions: make(map[string]bool),
		scrollbacks: make(map[string][]byte),
	}
}

// emit records an event and pushes it to every open stream for the session.
func (a *fakeAgent) emit(sessionID schema.SessionID, seq int64, payload string) {
	event := schema.AgentEvent{Sequence: seq, Payload: []byte(payload)}
	a.mu.Lock()
	a.events[sessionID] = append(a.events[sessionID], event)
	streams := append([]*fakeStream(nil), a.streams[sessionID]...)
	a.mu.Unlock()
	for _, stream := range streams {
		stream.push(event)
	}
}

func (a *fakeAgent) lastPty() *fakePty {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ptys) == 0 {
		return nil
	}
	return a.ptys[len(a.ptys)-1]
}

// fakeDialer returns a dialer that always connects to the same fake agent,
// recording every dialed URL.
func (a *fakeAgent) dialer() (AgentDialer, *[]string) {
	urls := &[]string{}
	var mu sync.Mutex
	return func(baseURL string) (AgentClient, error) {
		mu.Lock()
		*urls = append(*urls, baseURL)
		mu.Unlock()
		return &fakeClient{agent: a}, nil
	}, urls
}

type fakeClient struct {
	agent  *fakeAgent
	closed bool
}

func (c *fakeClient) Ping(context.Context) error {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	return c.agent.pingErr
}

func (c *fakeClient) CreateSession(_ context.Context, id schema.SessionID) error {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	c.agent.createCalls[id]++
	if c.agent.sessions[id] {
		return NewAgentError(AgentErrorConflict, "create", nil)
	}
	c.agent.sessions[id] = true
	return nil
}

func (c *fakeClient) PostMessage(_ context.Context, id schema.SessionID, content string) error {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	c.agent.posted[id] = append(c.agent.posted[id], content)
	return nil
}

func (c *fakeClient) ReplyPermission(_ context.Context, id schema.SessionID, permissionID string, reply schema.PermissionReply) error {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	c.agent.replies = append(c.agent.replies, string(id)+"/"+permissionID+"/"+string(reply))
	return nil
}

func (c *fakeClient) StreamEvents(_ context.Context, id schema.SessionID, afterSeq int64) (EventStream, error) {
	stream := &fakeStream{events: make(chan schema.AgentEvent, 64)}
	c.agent.mu.Lock()
	for _, event := range c.agent.events[id] {
		if c.agent.redeliverAll || event.Sequence > afterSeq {
			stream.events <- event
		}
	}
	c.agent.streams[id] = append(c.agent.streams[id], stream)
	c.agent.mu.Unlock()
	return stream, nil
}

func (c *fakeClient) HasPtySession(_ context.Context, name string) (bool, error) {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	return c.agent.ptySessions[name], nil
}

func (c *fakeClient) CreatePtySession(_ context.Context, name string, cols, rows int) error {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	if c.agent.ptySessions[name] {
		return NewAgentError(AgentErrorConflict, "create pty", nil)
	}
	c.agent.ptySessions[name] = true
	return nil
}

func (c *fakeClient) AttachPty(_ context.Context, name string, cols, rows int, onData func([]byte)) (PtyHandle, error) {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	if c.agent.attachErr != nil {
		return nil, c.agent.attachErr
	}
	c.agent.nextPid++
	pty := &fakePty{
		id:     "pid-" + strconv.Itoa(c.agent.nextPid),
		name:   name,
		onData: onData,
		done:   make(chan struct{}),
	}
	c.agent.ptys = append(c.agent.ptys, pty)
	return pty, nil
}

func (c *fakeClient) CaptureScrollback(_ context.Context, name string) ([]byte, error) {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	data, ok := c.agent.scrollbacks[name]
	if !ok {
		return nil, NewAgentError(AgentErrorNotFound, "scrollback", nil)
	}
	return data, nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

// fakeStream blocks on Next until an event is pushed, the stream is closed,
// or the context ends.
type fakeStream struct {
	mu     sync.Mutex
	closed bool
	events chan schema.AgentEvent
}

func (s *fakeStream) push(event schema.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

func (s *fakeStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	select {
	case <-ctx.Done():
		return schema.AgentEvent{}, ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			return schema.AgentEvent{}, io.EOF
		}
		return event, nil
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// fakePty records input and lets tests simulate process exit or a reaped
// process.
type fakePty struct {
	mu           sync.Mutex
	id           string
	name         string
	onData       func([]byte)
	sent         [][]byte
	resizes      [][2]int
	disconnected bool
	gone         bool
	done         chan struct{}
}

func (p *fakePty) ID() string { return p.id }

func (p *fakePty) Send(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone {
		return NewAgentError(AgentErrorProcessGone, "pty send", nil)
	}
	p.sent = append(p.sent, append([]byte(nil), data...))
	return nil
}

func (p *fakePty) Resize(_ context.Context, cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone {
		return NewAgentError(AgentErrorProcessGone, "pty resize", nil)
	}
	p.resizes = append(p.resizes, [2]int{cols, rows})
	return nil
}

func (p *fakePty) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
	return nil
}

func (p *fakePty) Done() <-chan struct{} { return p.done }

// markGone makes subsequent writes fail as process-gone.
func (p *fakePty) markGone() {
	p.mu.Lock()
	p.gone = true
	p.mu.Unlock()
}

// exit simulates the remote process ending.
func (p *fakePty) exit() {
	close(p.done)
}

func (p *fakePty) output(data []byte) {
	p.onData(data)
}

// collectSender records fan-out deliveries for assertions.
type collectSender struct {
	mu   sync.Mutex
	sent []sentEnvelope
}

type sentEnvelope struct {
	conn    schema.ConnID
	channel schema.ChannelName
	event   string
	payload any
}

func (s *collectSender) Send(connID schema.ConnID, channel schema.ChannelName, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentEnvelope{conn: connID, channel: channel, event: event, payload: payload})
	return nil
}

func (s *collectSender) byEvent(event string) []sentEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentEnvelope
	for _, envelope := range s.sent {
		if envelope.event == event {
			out = append(out, envelope)
		}
	}
	return out
}
