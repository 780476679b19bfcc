package space

import (
	"context"
	"errors"
	"io"
	"strings"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/internal/logx"
	"pkt.systems/spacedock/schema"
)

// sessionDriver owns chat-session lifecycle: tab rows, prompt relay, and the
// background pull-loop draining the agent's event stream into the log.
type sessionDriver struct {
	r *Runtime
	// pulls tracks one running pull-loop per session. Guarded by r.mu.
	pulls map[schema.SessionID]*pullLoop
}

type pullLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (d *sessionDriver) kind() schema.TabKind {
	return schema.TabKindSession
}

func (d *sessionDriver) ensure(ctx context.Context, req schema.EnsureSessionRequest) (schema.EnsureSessionResponse, error) {
	if err := schema.ValidateSessionID(req.SessionID); err != nil {
		return schema.EnsureSessionResponse{}, schema.ErrInvalidRequest
	}
	tabID := schema.SessionTabID(req.SessionID)
	log := logx.WithSession(logx.WithSpaceTab(ctx, d.r.spaceID, tabID), req.SessionID)

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = d.r.cfg.DefaultSessionTitle
	}
	created, err := d.r.store.CreateSession(ctx, req.SessionID, title)
	if err != nil {
		log.Warn("session ensure failed", "err", err)
		return schema.EnsureSessionResponse{}, err
	}
	if !created && strings.TrimSpace(req.Title) != "" {
		if err := d.r.store.SetTabTitle(ctx, tabID, title); err != nil {
			log.Warn("session title update failed", "err", err)
			return schema.EnsureSessionResponse{}, err
		}
	}
	d.r.broadcastTabsChanged()

	tab, err := d.snapshot(ctx, req.SessionID)
	if err != nil {
		return schema.EnsureSessionResponse{}, err
	}
	log.Info("session ensured", "created", created)
	return schema.EnsureSessionResponse{Tab: tab, Created: created}, nil
}

func (d *sessionDriver) post(ctx context.Context, req schema.PostMessageRequest) (schema.PostMessageResponse, error) {
	if strings.TrimSpace(req.Content) == "" {
		return schema.PostMessageResponse{}, schema.ErrEmptyMessage
	}
	tabID := schema.SessionTabID(req.SessionID)
	log := logx.WithSession(logx.WithSpaceTab(ctx, d.r.spaceID, tabID), req.SessionID)

	if _, err := d.r.store.GetSession(ctx, req.SessionID); err != nil {
		log.Warn("session post failed", "err", err)
		return schema.PostMessageResponse{}, err
	}
	client, err := d.clientForPost(ctx, req.SandboxURL)
	if err != nil {
		log.Warn("session post failed", "err", err)
		return schema.PostMessageResponse{}, err
	}

	// Session creation on the agent is idempotent from our side: the agent
	// answers conflict when it already has the session.
	if err := client.CreateSession(ctx, req.SessionID); err != nil && !IsConflict(err) {
		log.Warn("session remote create failed", "err", err)
		return schema.PostMessageResponse{}, err
	}
	d.ensurePull(ctx, req.SessionID, client)

	if err := client.PostMessage(ctx, req.SessionID, req.Content); err != nil {
		log.Warn("session post failed", "err", err)
		return schema.PostMessageResponse{}, err
	}
	if err := d.r.store.SetSessionStatus(ctx, req.SessionID, schema.SessionRunning); err != nil {
		log.Warn("session status update failed", "err", err)
		return schema.PostMessageResponse{}, err
	}
	d.r.broadcastTabsChanged()

	tab, err := d.snapshot(ctx, req.SessionID)
	if err != nil {
		return schema.PostMessageResponse{}, err
	}
	log.Info("session message posted", "content_len", len(req.Content))
	return schema.PostMessageResponse{Tab: tab}, nil
}

// clientForPost returns the agent client, first rebinding the space when the
// caller supplied a fresher sandbox URL.
func (d *sessionDriver) clientForPost(ctx context.Context, urlHint string) (AgentClient, error) {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	if urlHint != "" && urlHint != d.r.sandbox.SandboxURL {
		if err := d.r.rebindClientLocked(urlHint); err != nil {
			return nil, err
		}
		// Running pulls still stream from the dead endpoint.
		d.cancelPullsLocked()
		d.r.sandbox.SandboxURL = urlHint
		sandbox := d.r.sandbox
		go func() {
			if err := d.r.store.SaveSandbox(context.Background(), sandbox); err != nil {
				d.r.log.Warn("space sandbox persist failed", "err", err)
			}
		}()
	}
	if d.r.client == nil {
		return nil, schema.ErrNotReady
	}
	return d.r.client, nil
}

func (d *sessionDriver) replyPermission(ctx context.Context, req schema.ReplyPermissionRequest) (schema.ReplyPermissionResponse, error) {
	log := logx.WithSession(logx.WithSpace(ctx, d.r.spaceID), req.SessionID)
	if _, err := schema.NormalizePermissionReply(string(req.Reply)); err != nil {
		return schema.ReplyPermissionResponse{}, err
	}
	client, err := d.r.currentClient()
	if err != nil {
		return schema.ReplyPermissionResponse{}, err
	}
	if err := client.ReplyPermission(ctx, req.SessionID, req.PermissionID, req.Reply); err != nil {
		log.Warn("session permission reply failed", "permission", req.PermissionID, "err", err)
		return schema.ReplyPermissionResponse{}, err
	}
	log.Info("session permission replied", "permission", req.PermissionID, "reply", req.Reply)
	return schema.ReplyPermissionResponse{}, nil
}

func (d *sessionDriver) transcript(ctx context.Context, req schema.GetTranscriptRequest) (schema.GetTranscriptResponse, error) {
	if _, err := d.r.store.GetSession(ctx, req.SessionID); err != nil {
		return schema.GetTranscriptResponse{}, err
	}
	limit := req.Limit
	if limit <= 0 || limit > d.r.cfg.TranscriptPageLimit {
		limit = d.r.cfg.TranscriptPageLimit
	}
	events, err := d.r.store.EventsSince(ctx, req.SessionID, req.Offset, limit)
	if err != nil {
		return schema.GetTranscriptResponse{}, err
	}
	return schema.GetTranscriptResponse{Events: events}, nil
}

// ensurePull starts the background pull-loop for a session unless one is
// already running.
func (d *sessionDriver) ensurePull(ctx context.Context, sessionID schema.SessionID, client AgentClient) {
	d.r.mu.Lock()
	if _, running := d.pulls[sessionID]; running {
		d.r.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(logx.CopyContextFields(
		pslog.ContextWithLogger(context.Background(), pslog.Ctx(ctx)), ctx))
	loop := &pullLoop{cancel: cancel, done: make(chan struct{})}
	d.pulls[sessionID] = loop
	d.r.mu.Unlock()

	go d.run(loopCtx, sessionID, client, loop)
}

// run drains the agent's event stream into the event log and publishes each
// event on the session's channel. The loop ends on cancellation or stream
// failure; the next postMessage restarts it.
func (d *sessionDriver) run(ctx context.Context, sessionID schema.SessionID, client AgentClient, loop *pullLoop) {
	log := logx.WithSession(logx.WithSpace(ctx, d.r.spaceID), sessionID)
	defer func() {
		d.r.mu.Lock()
		if d.pulls[sessionID] == loop {
			delete(d.pulls, sessionID)
		}
		d.r.mu.Unlock()
		close(loop.done)
	}()

	offset, err := d.r.store.LastSequence(ctx, sessionID)
	if err != nil {
		log.Warn("session pull offset read failed", "err", err)
		return
	}
	stream, err := client.StreamEvents(ctx, sessionID, offset)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("session pull stream open failed", "offset", offset, "err", err)
		}
		return
	}
	defer func() { _ = stream.Close() }()
	log.Debug("session pull started", "offset", offset)

	channel := schema.SessionChannel(sessionID)
	count := 0
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, context.Canceled):
				log.Debug("session pull canceled", "events", count)
			case errors.Is(err, io.EOF):
				log.Debug("session pull ended", "events", count)
			default:
				log.Warn("session pull stream failed", "events", count, "err", err)
			}
			return
		}
		if event.Sequence <= 0 {
			log.Warn("session pull event rejected", "sequence", event.Sequence)
			continue
		}
		inserted, err := d.r.store.AppendEvent(ctx, sessionID, event.Sequence, event.Payload)
		if err != nil {
			log.Warn("session pull persist failed", "sequence", event.Sequence, "err", err)
			return
		}
		count++
		if !inserted {
			log.Trace("session pull duplicate", "sequence", event.Sequence)
		}
		d.r.registry.Publish(channel, schema.EventSessionEvent, event)
	}
}

// cancelPullsLocked cancels every running pull-loop and forgets it, so the
// next postMessage can start a fresh loop without waiting for the old one to
// wind down. Caller holds r.mu.
func (d *sessionDriver) cancelPullsLocked() {
	for _, loop := range d.pulls {
		loop.cancel()
	}
	d.pulls = make(map[schema.SessionID]*pullLoop)
}

func (d *sessionDriver) sleep(_ context.Context) {
	d.r.mu.Lock()
	loops := make([]*pullLoop, 0, len(d.pulls))
	for _, loop := range d.pulls {
		loop.cancel()
		loops = append(loops, loop)
	}
	d.r.mu.Unlock()
	for _, loop := range loops {
		<-loop.done
	}
}

func (d *sessionDriver) snapshot(ctx context.Context, sessionID schema.SessionID) (schema.TabSnapshot, error) {
	tabID := schema.SessionTabID(sessionID)
	tab, err := d.r.store.GetTab(ctx, tabID)
	if err != nil {
		return schema.TabSnapshot{}, err
	}
	session, err := d.r.store.GetSession(ctx, sessionID)
	if err != nil {
		return schema.TabSnapshot{}, err
	}
	tab.Session = &schema.SessionInfo{ID: session.ID, Status: session.Status}
	return tab, nil
}
