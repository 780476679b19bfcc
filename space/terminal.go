package space

import (
	"context"

	"pkt.systems/spacedock/internal/logx"
	"pkt.systems/spacedock/schema"
)

// terminalDriver owns one PTY per terminal tab: attach through a durable
// multiplexer session, fan output out to subscribers, and self-heal when the
// remote process vanishes.
type terminalDriver struct {
	r *Runtime
	// live maps terminal ids to their attached bridges. Guarded by r.mu.
	live map[schema.TerminalID]*terminalState
}

type terminalState struct {
	id     schema.TerminalID
	handle PtyHandle
	scroll *scrollback
}

func (d *terminalDriver) kind() schema.TabKind {
	return schema.TabKindTerminal
}

// muxSession names the durable multiplexer session for a terminal. The name
// is stable across reattaches so the remote session survives bridge churn.
func (d *terminalDriver) muxSession(id schema.TerminalID) string {
	return "spacedock-" + string(d.r.spaceID) + "-" + string(id)
}

func (d *terminalDriver) ensure(ctx context.Context, req schema.EnsureTerminalRequest) (schema.EnsureTerminalResponse, error) {
	if err := schema.ValidateTerminalID(req.TerminalID); err != nil {
		return schema.EnsureTerminalResponse{}, schema.ErrInvalidRequest
	}
	tabID := schema.TerminalTabID(req.TerminalID)
	log := logx.WithTerminal(logx.WithSpaceTab(ctx, d.r.spaceID, tabID), req.TerminalID)

	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = d.r.cfg.DefaultCols
	}
	if rows <= 0 {
		rows = d.r.cfg.DefaultRows
	}
	created, err := d.r.store.CreateTerminal(ctx, req.TerminalID, "Terminal", cols, rows)
	if err != nil {
		log.Warn("terminal ensure failed", "err", err)
		return schema.EnsureTerminalResponse{}, err
	}
	if _, err := d.attach(ctx, req.TerminalID); err != nil {
		log.Warn("terminal attach failed", "err", err)
		return schema.EnsureTerminalResponse{}, err
	}
	d.r.broadcastTabsChanged()

	tab, err := d.snapshot(ctx, req.TerminalID)
	if err != nil {
		return schema.EnsureTerminalResponse{}, err
	}
	log.Info("terminal ensured", "created", created, "cols", cols, "rows", rows)
	return schema.EnsureTerminalResponse{Tab: tab, Created: created}, nil
}

// attach returns the live bridge for a terminal, creating the multiplexer
// session and attaching a fresh bridge when none is held.
func (d *terminalDriver) attach(ctx context.Context, id schema.TerminalID) (*terminalState, error) {
	d.r.mu.Lock()
	if state := d.live[id]; state != nil && state.handle != nil {
		d.r.mu.Unlock()
		return state, nil
	}
	client := d.r.client
	d.r.mu.Unlock()
	if client == nil {
		return nil, schema.ErrNotReady
	}

	row, err := d.r.store.GetTerminal(ctx, id)
	if err != nil {
		return nil, err
	}
	name := d.muxSession(id)
	exists, err := client.HasPtySession(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.CreatePtySession(ctx, name, row.Cols, row.Rows); err != nil && !IsConflict(err) {
			return nil, err
		}
	}

	state := &terminalState{id: id, scroll: newScrollback(d.r.cfg.ScrollbackMaxBytes)}
	if len(row.Scrollback) > 0 {
		state.scroll.Load(row.Scrollback)
	}
	channel := schema.TerminalChannel(id)
	handle, err := client.AttachPty(ctx, name, row.Cols, row.Rows, func(data []byte) {
		state.scroll.Write(data)
		d.r.registry.Publish(channel, schema.EventTerminalData, schema.TerminalData{
			TerminalID: id,
			Data:       data,
		})
	})
	if err != nil {
		return nil, err
	}
	state.handle = handle

	d.r.mu.Lock()
	if current := d.live[id]; current != nil && current.handle != nil {
		// Lost the race against a concurrent attach; keep the winner.
		d.r.mu.Unlock()
		_ = handle.Disconnect()
		return current, nil
	}
	d.live[id] = state
	d.r.mu.Unlock()

	if err := d.r.store.SetTerminalPty(ctx, id, handle.ID()); err != nil {
		d.r.log.Warn("terminal pty persist failed", "terminal", id, "err", err)
	}
	go d.watchExit(id, state)
	return state, nil
}

// watchExit clears the live handle and the persisted pty id once the remote
// process exits, so the next ensure creates a new one instead of
// reconnecting.
func (d *terminalDriver) watchExit(id schema.TerminalID, state *terminalState) {
	<-state.handle.Done()
	d.r.mu.Lock()
	removed := false
	if d.live[id] == state {
		delete(d.live, id)
		removed = true
	}
	d.r.mu.Unlock()
	if !removed {
		return
	}
	ctx := context.Background()
	if err := d.r.store.SetTerminalPty(ctx, id, ""); err != nil {
		d.r.log.Warn("terminal pty clear failed", "terminal", id, "err", err)
	}
	if err := d.r.store.SetTerminalScrollback(ctx, id, state.scroll.Bytes()); err != nil {
		d.r.log.Warn("terminal scrollback persist failed", "terminal", id, "err", err)
	}
	d.r.log.Debug("terminal process exited", "terminal", id)
}

func (d *terminalDriver) input(ctx context.Context, req schema.InputRequest) (schema.InputResponse, error) {
	log := logx.WithTerminal(logx.WithSpace(ctx, d.r.spaceID), req.TerminalID)
	err := d.withHandle(ctx, req.TerminalID, func(h PtyHandle) error {
		return h.Send(ctx, req.Data)
	})
	if err != nil {
		log.Warn("terminal input failed", "bytes", len(req.Data), "err", err)
		return schema.InputResponse{}, err
	}
	return schema.InputResponse{}, nil
}

func (d *terminalDriver) resize(ctx context.Context, req schema.ResizeRequest) (schema.ResizeResponse, error) {
	log := logx.WithTerminal(logx.WithSpace(ctx, d.r.spaceID), req.TerminalID)
	if req.Cols <= 0 || req.Rows <= 0 {
		return schema.ResizeResponse{}, schema.ErrInvalidRequest
	}
	if err := d.r.store.SetTerminalSize(ctx, req.TerminalID, req.Cols, req.Rows); err != nil {
		log.Warn("terminal resize failed", "err", err)
		return schema.ResizeResponse{}, err
	}
	err := d.withHandle(ctx, req.TerminalID, func(h PtyHandle) error {
		return h.Resize(ctx, req.Cols, req.Rows)
	})
	if err != nil {
		log.Warn("terminal resize failed", "cols", req.Cols, "rows", req.Rows, "err", err)
		return schema.ResizeResponse{}, err
	}
	log.Debug("terminal resized", "cols", req.Cols, "rows", req.Rows)
	return schema.ResizeResponse{}, nil
}

// withHandle runs op against the terminal's live handle, attaching one if
// needed. When the remote reports the process gone, the stale handle is
// dropped, recreated, and op retried exactly once: sandbox providers reap
// processes outside our control, and one self-heal beats surfacing a
// transient error on every keystroke.
func (d *terminalDriver) withHandle(ctx context.Context, id schema.TerminalID, op func(PtyHandle) error) error {
	state, err := d.attach(ctx, id)
	if err != nil {
		return err
	}
	err = op(state.handle)
	if err == nil || !IsProcessGone(err) {
		return err
	}

	d.r.log.Debug("terminal handle stale, recreating", "terminal", id)
	d.discard(ctx, d.detachLocked(id, state))
	state, err = d.attach(ctx, id)
	if err != nil {
		return err
	}
	return op(state.handle)
}

func (d *terminalDriver) scrollback(ctx context.Context, req schema.GetScrollbackRequest) (schema.GetScrollbackResponse, error) {
	log := logx.WithTerminal(logx.WithSpace(ctx, d.r.spaceID), req.TerminalID)
	row, err := d.r.store.GetTerminal(ctx, req.TerminalID)
	if err != nil {
		return schema.GetScrollbackResponse{}, err
	}

	d.r.mu.Lock()
	state := d.live[req.TerminalID]
	client := d.r.client
	d.r.mu.Unlock()

	if client != nil {
		data, err := client.CaptureScrollback(ctx, d.muxSession(req.TerminalID))
		if err == nil {
			return schema.GetScrollbackResponse{Data: data}, nil
		}
		log.Debug("terminal remote scrollback failed, using local", "err", err)
	}
	if state != nil {
		return schema.GetScrollbackResponse{Data: state.scroll.Bytes()}, nil
	}
	return schema.GetScrollbackResponse{Data: row.Scrollback}, nil
}

// detachLocked removes one terminal's live state. Returns what to discard.
func (d *terminalDriver) detachLocked(id schema.TerminalID, state *terminalState) []*terminalState {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	if d.live[id] == state {
		delete(d.live, id)
		return []*terminalState{state}
	}
	return nil
}

// detachAllLocked empties the live-handle map. Caller holds r.mu; the
// returned states must be passed to discard after unlocking.
func (d *terminalDriver) detachAllLocked() []*terminalState {
	states := make([]*terminalState, 0, len(d.live))
	for _, state := range d.live {
		states = append(states, state)
	}
	d.live = make(map[schema.TerminalID]*terminalState)
	return states
}

// discard disconnects detached bridges and clears their persisted pty ids.
func (d *terminalDriver) discard(ctx context.Context, states []*terminalState) {
	for _, state := range states {
		if state.handle != nil {
			_ = state.handle.Disconnect()
		}
		if err := d.r.store.SetTerminalPty(ctx, state.id, ""); err != nil {
			d.r.log.Warn("terminal pty clear failed", "terminal", state.id, "err", err)
		}
		if err := d.r.store.SetTerminalScrollback(ctx, state.id, state.scroll.Bytes()); err != nil {
			d.r.log.Warn("terminal scrollback persist failed", "terminal", state.id, "err", err)
		}
	}
}

func (d *terminalDriver) sleep(ctx context.Context) {
	d.r.mu.Lock()
	states := d.detachAllLocked()
	d.r.mu.Unlock()
	d.discard(ctx, states)
}

func (d *terminalDriver) snapshot(ctx context.Context, id schema.TerminalID) (schema.TabSnapshot, error) {
	tab, err := d.r.store.GetTab(ctx, schema.TerminalTabID(id))
	if err != nil {
		return schema.TabSnapshot{}, err
	}
	row, err := d.r.store.GetTerminal(ctx, id)
	if err != nil {
		return schema.TabSnapshot{}, err
	}
	tab.Terminal = &schema.TerminalInfo{ID: row.ID, Cols: row.Cols, Rows: row.Rows}
	return tab, nil
}
