package space

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/internal/channels"
	"pkt.systems/spacedock/internal/store"
	"pkt.systems/spacedock/schema"
)

// Manager maps space slugs to their runtimes, opening stores and building
// runtimes lazily on first use.
type Manager struct {
	cfg    schema.RuntimeConfig
	dial   AgentDialer
	sender channels.Sender
	log    pslog.Logger

	mu     sync.Mutex
	spaces map[schema.SpaceID]*managed
}

type managed struct {
	runtime *Runtime
	store   *store.DB
}

// NewManager constructs an empty manager.
func NewManager(cfg schema.RuntimeConfig, dial AgentDialer, sender channels.Sender, logger pslog.Logger) (*Manager, error) {
	normalized, err := schema.NormalizeRuntimeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		cfg:    normalized,
		dial:   dial,
		sender: sender,
		log:    logger,
		spaces: make(map[schema.SpaceID]*managed),
	}, nil
}

// Space returns the runtime for a space, creating it on first use.
func (m *Manager) Space(ctx context.Context, spaceID schema.SpaceID) (*Runtime, error) {
	if err := schema.ValidateSpaceID(spaceID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.spaces[spaceID]; ok {
		return entry.runtime, nil
	}
	db, err := store.Open(m.cfg.StateDir, spaceID, m.log)
	if err != nil {
		return nil, err
	}
	runtime, err := NewRuntime(ctx, spaceID, m.cfg, Deps{
		Dial:   m.dial,
		Store:  db,
		Sender: m.sender,
		Logger: m.log,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.spaces[spaceID] = &managed{runtime: runtime, store: db}
	m.log.Debug("space runtime created", "space", spaceID)
	return runtime, nil
}

// Lookup returns an already-running space runtime, or ErrSpaceNotFound.
func (m *Manager) Lookup(spaceID schema.SpaceID) (*Runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.spaces[spaceID]
	if !ok {
		return nil, schema.ErrSpaceNotFound
	}
	return entry.runtime, nil
}

// DropConnection removes a disconnecting connection from every space.
func (m *Manager) DropConnection(connID schema.ConnID) {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.spaces))
	for _, entry := range m.spaces {
		entries = append(entries, entry)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		entry.runtime.DropConnection(connID)
	}
}

// Sleep puts one space to sleep and releases its store, keeping its durable
// state intact. A later Space call revives it.
func (m *Manager) Sleep(ctx context.Context, spaceID schema.SpaceID) error {
	m.mu.Lock()
	entry, ok := m.spaces[spaceID]
	if ok {
		delete(m.spaces, spaceID)
	}
	m.mu.Unlock()
	if !ok {
		return schema.ErrSpaceNotFound
	}
	entry.runtime.Sleep(ctx)
	return entry.store.Close()
}

// Shutdown sleeps every space and closes every store.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.spaces))
	for _, entry := range m.spaces {
		entries = append(entries, entry)
	}
	m.spaces = make(map[schema.SpaceID]*managed)
	m.mu.Unlock()
	for _, entry := range entries {
		entry.runtime.Sleep(ctx)
		if err := entry.store.Close(); err != nil {
			m.log.Warn("space store close failed", "err", err)
		}
	}
	m.log.Info("space manager shut down", "spaces", len(entries))
}
