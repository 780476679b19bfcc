// Package appconfig loads and writes the application's YAML configuration.
package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/spacedock/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Runtime       RuntimeConfig `mapstructure:"runtime" yaml:"runtime"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// RuntimeConfig controls per-space runtime behavior.
type RuntimeConfig struct {
	DefaultSessionTitle  string `mapstructure:"default_session_title" yaml:"default_session_title"`
	DefaultCols          int    `mapstructure:"default_cols" yaml:"default_cols"`
	DefaultRows          int    `mapstructure:"default_rows" yaml:"default_rows"`
	ScrollbackMaxBytes   int    `mapstructure:"scrollback_max_bytes" yaml:"scrollback_max_bytes"`
	TranscriptPageLimit  int    `mapstructure:"transcript_page_limit" yaml:"transcript_page_limit"`
	HealthTimeoutSeconds int    `mapstructure:"health_timeout_seconds" yaml:"health_timeout_seconds"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".spacedock", "state"),
		HTTP: HTTPConfig{
			Addr: ":27500",
		},
		Runtime: RuntimeConfig{
			DefaultSessionTitle:  "New Chat",
			DefaultCols:          120,
			DefaultRows:          30,
			ScrollbackMaxBytes:   256 * 1024,
			TranscriptPageLimit:  500,
			HealthTimeoutSeconds: 3,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".spacedock", "config.yaml"), nil
}

// RuntimeSchema converts the loaded runtime section into the schema form
// consumed by the space manager.
func (c Config) RuntimeSchema() schema.RuntimeConfig {
	return schema.RuntimeConfig{
		StateDir:            c.StateDir,
		DefaultSessionTitle: c.Runtime.DefaultSessionTitle,
		DefaultCols:         c.Runtime.DefaultCols,
		DefaultRows:         c.Runtime.DefaultRows,
		ScrollbackMaxBytes:  c.Runtime.ScrollbackMaxBytes,
		TranscriptPageLimit: c.Runtime.TranscriptPageLimit,
		HealthTimeout:       healthTimeout(c.Runtime.HealthTimeoutSeconds),
	}
}
