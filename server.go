// Package spacedock composes the space runtime with its HTTP API: one
// server process multiplexing many spaces, each bound to a sandbox running
// an agent server.
package spacedock

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/httpapi"
	"pkt.systems/spacedock/schema"
	"pkt.systems/spacedock/space"
)

// Server runs the HTTP API over the space manager.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	HTTP    httpapi.Config
	Runtime schema.RuntimeConfig
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	// Dial constructs agent clients for sandbox base URLs.
	Dial space.AgentDialer
	// Logger is the base logger for all components.
	Logger pslog.Logger
}

// New constructs a spacedock server.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	if deps.Dial == nil {
		return nil, errors.New("agent dialer dependency is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	hub := httpapi.NewHub(logger)
	spaces, err := space.NewManager(cfg.Runtime, deps.Dial, hub, logger)
	if err != nil {
		return nil, err
	}
	httpSrv := httpapi.NewServer(cfg.HTTP, spaces, hub, logger)

	return &compositeServer{
		cfg:     cfg,
		spaces:  spaces,
		httpSrv: httpSrv,
		logger:  logger,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	spaces  *space.Manager
	httpSrv *httpapi.Server
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.mu.Unlock()

	log := s.logger
	log.Info("server start", "http_addr", s.cfg.HTTP.Addr, "state_dir", s.cfg.Runtime.StateDir)
	go func() {
		serveCtx := pslog.ContextWithLogger(s.ctx, s.logger)
		if err := httpapi.ListenAndServe(serveCtx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			s.logger.Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	s.logger.Info("server stop requested")
	if ctx == nil {
		ctx = context.Background()
	}
	s.spaces.Shutdown(ctx)
	if cancel != nil {
		cancel()
	}
	s.logger.Info("server stopped")
	return nil
}
