// Package space implements the per-space runtime: an actor coordinating one
// sandbox's chat sessions and terminal PTYs, their durable state, and
// event fan-out to subscribed connections.
package space

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/internal/channels"
	"pkt.systems/spacedock/internal/logx"
	"pkt.systems/spacedock/internal/store"
	"pkt.systems/spacedock/schema"
)

// Runtime is the per-space orchestrator. It owns the sandbox binding, the
// agent client, the channel registry, and all live remote handles; drivers
// mutate that state only through the runtime's mutex.
//
// Foreground actions snapshot the shared state under the mutex and perform
// remote I/O unlocked. Background work (session pull-loops, PTY output
// callbacks) interleaves freely with foreground dispatch.
type Runtime struct {
	cfg      schema.RuntimeConfig
	spaceID  schema.SpaceID
	store    *store.DB
	registry *channels.Registry
	dial     AgentDialer
	log      pslog.Logger

	mu      sync.Mutex
	sandbox schema.SandboxContext
	client  AgentClient

	sessions  *sessionDriver
	terminals *terminalDriver
	drivers   map[schema.TabKind]driver
}

// NewRuntime constructs the runtime for one space, restoring any persisted
// sandbox binding.
func NewRuntime(ctx context.Context, spaceID schema.SpaceID, cfg schema.RuntimeConfig, deps Deps) (*Runtime, error) {
	normalized, err := schema.NormalizeRuntimeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Dial == nil {
		return nil, errors.New("agent dialer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	logger = logger.With("space", spaceID)

	r := &Runtime{
		cfg:      normalized,
		spaceID:  spaceID,
		store:    deps.Store,
		registry: channels.New(deps.Sender, logger),
		dial:     deps.Dial,
		log:      logger,
	}
	r.sessions = &sessionDriver{r: r, pulls: make(map[schema.SessionID]*pullLoop)}
	r.terminals = &terminalDriver{r: r, live: make(map[schema.TerminalID]*terminalState)}
	r.drivers = map[schema.TabKind]driver{
		r.sessions.kind():  r.sessions,
		r.terminals.kind(): r.terminals,
	}

	sandbox, err := deps.Store.LoadSandbox(ctx)
	if err != nil {
		return nil, err
	}
	r.sandbox = sandbox
	if sandbox.SandboxURL != "" {
		client, err := deps.Dial(sandbox.SandboxURL)
		if err != nil {
			logger.Warn("space agent dial failed", "url", sandbox.SandboxURL, "err", err)
		} else {
			r.client = client
		}
	}
	logger.Info("space runtime ready", "sandbox", sandbox.SandboxID, "bound", r.client != nil)
	return r, nil
}

// SpaceID returns the space this runtime serves.
func (r *Runtime) SpaceID() schema.SpaceID {
	return r.spaceID
}

// Sandbox returns the currently bound sandbox context.
func (r *Runtime) Sandbox() schema.SandboxContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sandbox
}

// SetSandboxContext rebinds the space to a sandbox. A changed sandbox id
// invalidates every live terminal handle; a changed URL redials the agent
// client and cancels all in-flight session pull-loops. The swap happens
// under the runtime mutex, so no driver action observes a half-rebound
// state.
func (r *Runtime) SetSandboxContext(ctx context.Context, req schema.SetSandboxContextRequest) (schema.SetSandboxContextResponse, error) {
	log := logx.WithSpace(ctx, r.spaceID)

	r.mu.Lock()
	idChanged := req.SandboxID != r.sandbox.SandboxID
	urlChanged := req.SandboxURL != "" && req.SandboxURL != r.sandbox.SandboxURL
	if urlChanged {
		if err := r.rebindClientLocked(req.SandboxURL); err != nil {
			r.mu.Unlock()
			log.Warn("space rebind failed", "url", req.SandboxURL, "err", err)
			return schema.SetSandboxContextResponse{}, err
		}
	}
	var stale []*terminalState
	if idChanged {
		// Live PTY handles point at the old sandbox's processes.
		stale = r.terminals.detachAllLocked()
	}
	if urlChanged {
		// In-flight pull streams read from the old endpoint.
		r.sessions.cancelPullsLocked()
	}
	r.sandbox.SandboxID = req.SandboxID
	if req.SandboxURL != "" {
		r.sandbox.SandboxURL = req.SandboxURL
	}
	sandbox := r.sandbox
	r.mu.Unlock()

	r.terminals.discard(ctx, stale)
	if err := r.store.SaveSandbox(ctx, sandbox); err != nil {
		log.Warn("space sandbox persist failed", "err", err)
		return schema.SetSandboxContextResponse{}, err
	}
	log.Info("space sandbox bound", "sandbox", sandbox.SandboxID, "id_changed", idChanged, "url_changed", urlChanged)
	return schema.SetSandboxContextResponse{Sandbox: sandbox}, nil
}

// rebindClientLocked swaps the agent client for a new base URL. Caller holds
// the mutex.
func (r *Runtime) rebindClientLocked(baseURL string) error {
	client, err := r.dial(baseURL)
	if err != nil {
		return err
	}
	if r.client != nil {
		_ = r.client.Close()
	}
	r.client = client
	return nil
}

// currentClient returns the bound agent client, or ErrNotReady.
func (r *Runtime) currentClient() (AgentClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, schema.ErrNotReady
	}
	return r.client, nil
}

// CheckSandbox pings the agent server with the configured health timeout.
func (r *Runtime) CheckSandbox(ctx context.Context) error {
	client, err := r.currentClient()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.HealthTimeout)
	defer cancel()
	return client.Ping(pingCtx)
}

// ListTabs returns the space's non-archived tabs, most recently updated
// first, each joined with its kind-specific detail.
func (r *Runtime) ListTabs(ctx context.Context, _ schema.ListTabsRequest) (schema.ListTabsResponse, error) {
	tabs, err := r.store.ListTabs(ctx)
	if err != nil {
		return schema.ListTabsResponse{}, err
	}
	return schema.ListTabsResponse{Tabs: tabs}, nil
}

// ArchiveTab hides a tab from listings without deleting it.
func (r *Runtime) ArchiveTab(ctx context.Context, tabID schema.TabID) error {
	log := logx.WithSpaceTab(ctx, r.spaceID, tabID)
	if err := r.store.ArchiveTab(ctx, tabID); err != nil {
		log.Warn("space tab archive failed", "err", err)
		return err
	}
	r.broadcastTabsChanged()
	log.Info("space tab archived")
	return nil
}

// Session operations, dispatched to the session driver.

// EnsureSession creates the session tab if absent.
func (r *Runtime) EnsureSession(ctx context.Context, req schema.EnsureSessionRequest) (schema.EnsureSessionResponse, error) {
	return r.sessions.ensure(ctx, req)
}

// PostMessage relays a prompt to the agent and starts the pull-loop.
func (r *Runtime) PostMessage(ctx context.Context, req schema.PostMessageRequest) (schema.PostMessageResponse, error) {
	return r.sessions.post(ctx, req)
}

// ReplyPermission forwards a permission decision to the agent.
func (r *Runtime) ReplyPermission(ctx context.Context, req schema.ReplyPermissionRequest) (schema.ReplyPermissionResponse, error) {
	return r.sessions.replyPermission(ctx, req)
}

// GetTranscript reads persisted transcript events after an offset.
func (r *Runtime) GetTranscript(ctx context.Context, req schema.GetTranscriptRequest) (schema.GetTranscriptResponse, error) {
	return r.sessions.transcript(ctx, req)
}

// Terminal operations, dispatched to the terminal driver.

// EnsureTerminal creates the terminal tab if absent and attaches its PTY.
func (r *Runtime) EnsureTerminal(ctx context.Context, req schema.EnsureTerminalRequest) (schema.EnsureTerminalResponse, error) {
	return r.terminals.ensure(ctx, req)
}

// GetScrollback returns the terminal's trailing output.
func (r *Runtime) GetScrollback(ctx context.Context, req schema.GetScrollbackRequest) (schema.GetScrollbackResponse, error) {
	return r.terminals.scrollback(ctx, req)
}

// Input sends bytes to the terminal's PTY.
func (r *Runtime) Input(ctx context.Context, req schema.InputRequest) (schema.InputResponse, error) {
	return r.terminals.input(ctx, req)
}

// Resize updates the terminal's geometry.
func (r *Runtime) Resize(ctx context.Context, req schema.ResizeRequest) (schema.ResizeResponse, error) {
	return r.terminals.resize(ctx, req)
}

// Subscriptions.

// SubscribeSession joins a connection to a session's tab channel.
func (r *Runtime) SubscribeSession(ctx context.Context, req schema.SubscribeRequest) error {
	if _, err := r.store.GetSession(ctx, req.SessionID); err != nil {
		return err
	}
	r.registry.Subscribe(schema.SessionChannel(req.SessionID), req.ConnID)
	return nil
}

// UnsubscribeSession removes a connection from a session's tab channel.
func (r *Runtime) UnsubscribeSession(_ context.Context, req schema.SubscribeRequest) error {
	r.registry.Unsubscribe(schema.SessionChannel(req.SessionID), req.ConnID)
	return nil
}

// SubscribeTerminal joins a connection to a terminal's tab channel.
func (r *Runtime) SubscribeTerminal(ctx context.Context, req schema.SubscribeRequest) error {
	if _, err := r.store.GetTerminal(ctx, req.Terminal); err != nil {
		return err
	}
	r.registry.Subscribe(schema.TerminalChannel(req.Terminal), req.ConnID)
	return nil
}

// UnsubscribeTerminal removes a connection from a terminal's tab channel.
func (r *Runtime) UnsubscribeTerminal(_ context.Context, req schema.SubscribeRequest) error {
	r.registry.Unsubscribe(schema.TerminalChannel(req.Terminal), req.ConnID)
	return nil
}

// DropConnection removes a disconnecting connection from every channel.
func (r *Runtime) DropConnection(connID schema.ConnID) {
	r.registry.UnsubscribeAll(connID)
}

// Sleep cancels all pull-loops, disconnects all terminal handles, and clears
// the registry. Safe to call at any point, including before first use.
func (r *Runtime) Sleep(ctx context.Context) {
	for _, d := range r.drivers {
		d.sleep(ctx)
	}
	r.registry.Clear()
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	r.log.Info("space runtime slept")
}

func (r *Runtime) broadcastTabsChanged() {
	r.registry.Broadcast(schema.EventTabsChanged, nil)
}
