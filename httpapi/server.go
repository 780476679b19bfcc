// Package httpapi exposes the space runtime over HTTP: JSON action
// endpoints scoped per space, plus a server-sent event stream carrying
// channel fan-out to subscribed connections.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/schema"
	"pkt.systems/spacedock/space"
)

// Server serves the HTTP API.
type Server struct {
	cfg    Config
	spaces *space.Manager
	hub    *Hub
	log    pslog.Logger
}

// NewServer constructs an HTTP server over the space manager.
func NewServer(cfg Config, spaces *space.Manager, hub *Hub, logger pslog.Logger) *Server {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Server{cfg: cfg, spaces: spaces, hub: hub, log: logger}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/stream", s.handleStream)

	mux.HandleFunc("POST /api/spaces/{space}/sandbox", s.withSpace(s.handleSetSandbox))
	mux.HandleFunc("GET /api/spaces/{space}/sandbox/health", s.withSpace(s.handleSandboxHealth))
	mux.HandleFunc("GET /api/spaces/{space}/tabs", s.withSpace(s.handleListTabs))
	mux.HandleFunc("POST /api/spaces/{space}/tabs/archive", s.withSpace(s.handleArchiveTab))
	mux.HandleFunc("POST /api/spaces/{space}/sleep", s.withSpace(s.handleSleep))

	mux.HandleFunc("POST /api/spaces/{space}/sessions/ensure", s.withSpace(s.handleEnsureSession))
	mux.HandleFunc("POST /api/spaces/{space}/sessions/message", s.withSpace(s.handlePostMessage))
	mux.HandleFunc("POST /api/spaces/{space}/sessions/permission", s.withSpace(s.handleReplyPermission))
	mux.HandleFunc("GET /api/spaces/{space}/sessions/{session}/transcript", s.withSpace(s.handleTranscript))

	mux.HandleFunc("POST /api/spaces/{space}/terminals/ensure", s.withSpace(s.handleEnsureTerminal))
	mux.HandleFunc("GET /api/spaces/{space}/terminals/{terminal}/scrollback", s.withSpace(s.handleScrollback))
	mux.HandleFunc("POST /api/spaces/{space}/terminals/input", s.withSpace(s.handleInput))
	mux.HandleFunc("POST /api/spaces/{space}/terminals/resize", s.withSpace(s.handleResize))

	mux.HandleFunc("POST /api/spaces/{space}/subscribe", s.withSpace(s.handleSubscribe))
	mux.HandleFunc("POST /api/spaces/{space}/unsubscribe", s.withSpace(s.handleUnsubscribe))

	return withRequestLogging(mux)
}

type spaceHandler func(w http.ResponseWriter, r *http.Request, rt *space.Runtime)

// withSpace resolves the path's space slug to its runtime, creating the
// runtime on first use.
func (s *Server) withSpace(next spaceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spaceID := schema.SpaceID(r.PathValue("space"))
		rt, err := s.spaces.Space(r.Context(), spaceID)
		if err != nil {
			writeRuntimeError(w, err)
			return
		}
		next(w, r, rt)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSetSandbox(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.SetSandboxContextRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := rt.SetSandboxContext(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSandboxHealth(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	if err := rt.CheckSandbox(r.Context()); err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	resp, err := rt.ListTabs(r.Context(), schema.ListTabsRequest{})
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArchiveTab(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req struct {
		TabID schema.TabID `json:"tab_id"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := rt.ArchiveTab(r.Context(), req.TabID); err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	if err := s.spaces.Sleep(r.Context(), rt.SpaceID()); err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEnsureSession(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.EnsureSessionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := rt.EnsureSession(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.PostMessageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := rt.PostMessage(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReplyPermission(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.ReplyPermissionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := rt.ReplyPermission(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	req := schema.GetTranscriptRequest{
		SessionID: schema.SessionID(r.PathValue("session")),
		Offset:    parseInt64(r.URL.Query().Get("offset")),
		Limit:     int(parseInt64(r.URL.Query().Get("limit"))),
	}
	resp, err := rt.GetTranscript(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnsureTerminal(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.EnsureTerminalRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := rt.EnsureTerminal(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScrollback(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	req := schema.GetScrollbackRequest{TerminalID: schema.TerminalID(r.PathValue("terminal"))}
	resp, err := rt.GetScrollback(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.InputRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := rt.Input(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.ResizeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := rt.Resize(r.Context(), req)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.SubscribeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch {
	case req.SessionID != "":
		err = rt.SubscribeSession(r.Context(), req)
	case req.Terminal != "":
		err = rt.SubscribeTerminal(r.Context(), req)
	default:
		err = schema.ErrInvalidRequest
	}
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request, rt *space.Runtime) {
	var req schema.SubscribeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch {
	case req.SessionID != "":
		err = rt.UnsubscribeSession(r.Context(), req)
	case req.Terminal != "":
		err = rt.UnsubscribeTerminal(r.Context(), req)
	default:
		err = schema.ErrInvalidRequest
	}
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleStream opens the event stream for one connection. The first event
// announces the connection id; the client passes it to subscribe calls.
// Disconnecting tears down every subscription the connection holds.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	connID, events := s.hub.Register()
	defer func() {
		s.spaces.DropConnection(connID)
		s.hub.Unregister(connID)
	}()

	hello, _ := json.Marshal(map[string]any{"conn_id": connID})
	_ = writeSSEvent(w, schema.Envelope{Event: "hello", Payload: hello})
	flusher.Flush()
	s.log.Info("http stream opened", "conn", connID)

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			s.log.Info("http stream closed", "conn", connID)
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeRuntimeError maps runtime and agent errors to HTTP statuses.
func writeRuntimeError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidSequence),
		errors.Is(err, schema.ErrEmptyMessage),
		errors.Is(err, schema.ErrInvalidReply):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, schema.ErrTabNotFound),
		errors.Is(err, schema.ErrSessionNotFound),
		errors.Is(err, schema.ErrTerminalNotFound),
		errors.Is(err, schema.ErrSpaceNotFound):
		return http.StatusNotFound
	}
	var agentErr *space.AgentError
	if errors.As(err, &agentErr) {
		switch agentErr.Kind {
		case space.AgentErrorTimeout:
			return http.StatusGatewayTimeout
		case space.AgentErrorUnavailable, space.AgentErrorProcessGone:
			return http.StatusBadGateway
		case space.AgentErrorNotFound:
			return http.StatusNotFound
		case space.AgentErrorConflict:
			return http.StatusConflict
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeSSEvent(w http.ResponseWriter, event schema.Envelope) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return err
}

func parseInt64(value string) int64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
