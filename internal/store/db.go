// Package store persists per-space durable state: tabs, sessions, terminals,
// and the session event log. One SQLite database per space, pure-Go driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/schema"
)

// DB wraps the SQLite database backing one space.
type DB struct {
	db  *sql.DB
	log pslog.Logger
}

// Open opens (or creates) the database for a space under dir.
func Open(dir string, spaceID schema.SpaceID, logger pslog.Logger) (*DB, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	path := filepath.Join(dir, sanitize(string(spaceID))+".db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &DB{db: db, log: logger.With("space", spaceID)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS space_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tabs (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			title       TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL,
			archived_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL DEFAULT 'waiting',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS terminals (
			id         TEXT PRIMARY KEY,
			pty_id     TEXT NOT NULL DEFAULT '',
			cols       INTEGER NOT NULL,
			rows       INTEGER NOT NULL,
			scrollback BLOB,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS session_events (
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			payload    BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS tabs_updated ON tabs (archived_at, updated_at DESC, created_at ASC);
	`)
	return err
}

// LoadSandbox reads the bound sandbox identity, if any.
func (s *DB) LoadSandbox(ctx context.Context) (schema.SandboxContext, error) {
	var sandbox schema.SandboxContext
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM space_meta WHERE key IN ('sandbox_id', 'sandbox_url')`)
	if err != nil {
		return schema.SandboxContext{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return schema.SandboxContext{}, err
		}
		switch key {
		case "sandbox_id":
			sandbox.SandboxID = value
		case "sandbox_url":
			sandbox.SandboxURL = value
		}
	}
	return sandbox, rows.Err()
}

// SaveSandbox records the bound sandbox identity.
func (s *DB) SaveSandbox(ctx context.Context, sandbox schema.SandboxContext) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for key, value := range map[string]string{
		"sandbox_id":  sandbox.SandboxID,
		"sandbox_url": sandbox.SandboxURL,
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO space_meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
