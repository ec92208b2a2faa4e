package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// RelayURL is the WebSocket endpoint of the message relay.
	RelayURL string `toml:"relay_url"`
	// APIBaseURL is the base URL of the collaborating REST surface.
	APIBaseURL string `toml:"api_base_url"`

	// PageSize is the page size used for conversation and message fetches.
	PageSize int `toml:"page_size"`

	// AckTimeoutMs bounds how long a channel send waits for its server
	// acknowledgment. Zero disables the timeout entirely: the ack callback
	// then either fires or never fires, and the message stays pending until
	// the channel drops. There is deliberately no built-in default.
	AckTimeoutMs int `toml:"ack_timeout_ms"`

	// ReconcileWindowMs is the timestamp window for the content-based
	// reconciliation fallback used when the relay does not echo clientKey.
	ReconcileWindowMs int `toml:"reconcile_window_ms"`

	// ReconnectMinMs and ReconnectMaxMs bound the jittered backoff the
	// daemon applies between channel dial attempts.
	ReconnectMinMs int `toml:"reconnect_min_ms"`
	ReconnectMaxMs int `toml:"reconnect_max_ms"`

	// SearchDebounceMs is the quiet period before a user-search query is
	// issued.
	SearchDebounceMs int `toml:"search_debounce_ms"`
}

// Default returns a config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		DefaultSession:    "default",
		RelayURL:          "wss://relay.taskora.io/channel",
		APIBaseURL:        "https://api.taskora.io",
		PageSize:          50,
		AckTimeoutMs:      0,
		ReconcileWindowMs: 15000,
		ReconnectMinMs:    1000,
		ReconnectMaxMs:    30000,
		SearchDebounceMs:  250,
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.DefaultSession == "" {
		c.DefaultSession = def.DefaultSession
	}
	if c.RelayURL == "" {
		c.RelayURL = def.RelayURL
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = def.APIBaseURL
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.ReconcileWindowMs <= 0 {
		c.ReconcileWindowMs = def.ReconcileWindowMs
	}
	if c.ReconnectMinMs <= 0 {
		c.ReconnectMinMs = def.ReconnectMinMs
	}
	if c.ReconnectMaxMs < c.ReconnectMinMs {
		c.ReconnectMaxMs = def.ReconnectMaxMs
	}
	if c.SearchDebounceMs <= 0 {
		c.SearchDebounceMs = def.SearchDebounceMs
	}
	// AckTimeoutMs intentionally keeps zero as "no timeout".
}
