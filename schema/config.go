package schema

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// RuntimeConfig defines defaults and limits for the space runtime.
type RuntimeConfig struct {
	// StateDir holds one SQLite database per space.
	StateDir string
	// DefaultSessionTitle names a session tab created without a title.
	DefaultSessionTitle string
	// DefaultCols and DefaultRows are the terminal geometry used when
	// a terminal is created without one.
	DefaultCols int
	DefaultRows int
	// ScrollbackMaxBytes caps the in-memory scrollback accumulator.
	ScrollbackMaxBytes int
	// TranscriptPageLimit caps a single transcript read.
	TranscriptPageLimit int
	// HealthTimeout bounds sandbox-agent health checks.
	HealthTimeout time.Duration
}

// DefaultScrollbackMaxBytes is the scrollback accumulator cap.
const DefaultScrollbackMaxBytes = 256 * 1024

// DefaultTranscriptPageLimit is the transcript read page size.
const DefaultTranscriptPageLimit = 500

// NormalizeRuntimeConfig applies defaults and validates the config.
func NormalizeRuntimeConfig(cfg RuntimeConfig) (RuntimeConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return RuntimeConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".spacedock", "state")
	}
	if cfg.DefaultSessionTitle == "" {
		cfg.DefaultSessionTitle = "New Chat"
	}
	if cfg.DefaultCols <= 0 {
		cfg.DefaultCols = 120
	}
	if cfg.DefaultRows <= 0 {
		cfg.DefaultRows = 30
	}
	if cfg.ScrollbackMaxBytes <= 0 {
		cfg.ScrollbackMaxBytes = DefaultScrollbackMaxBytes
	}
	if cfg.TranscriptPageLimit <= 0 {
		cfg.TranscriptPageLimit = DefaultTranscriptPageLimit
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 3 * time.Second
	}
	if cfg.DefaultCols > 1000 || cfg.DefaultRows > 1000 {
		return RuntimeConfig{}, errors.New("terminal geometry out of range")
	}
	return cfg, nil
}
