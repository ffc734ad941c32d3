package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "15m", cfg.Sync.Interval)
	assert.Equal(t, int64(4*1024*1024), cfg.Sync.ChunkSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "baluhost-sync.db", cfg.Database.Path)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
base_url = "https://nas.example.com"

[sync]
interval = "5m"
max_retries = 5

[logging]
level = "debug"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://nas.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "5m", cfg.Sync.Interval)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched fields keep their defaults.
	assert.Equal(t, "2s", cfg.Sync.Debounce)
	assert.Equal(t, "15s", cfg.Network.ProbeInterval)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
base_url = "https://file.example.com"
access_token = "from-file"
`), 0o600))

	t.Setenv("BALUHOST_BASE_URL", "https://env.example.com")
	t.Setenv("BALUHOST_ACCESS_TOKEN", "from-env")
	t.Setenv("BALUHOST_SYNC_INTERVAL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "from-env", cfg.Server.AccessToken)
	assert.Equal(t, "1m", cfg.Sync.Interval)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nbase_url"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults pass", func(*Config) {}, true},
		{"base url with scheme and host", func(c *Config) { c.Server.BaseURL = "http://nas:8080" }, true},
		{"base url missing scheme", func(c *Config) { c.Server.BaseURL = "nas.example.com" }, false},
		{"bad interval", func(c *Config) { c.Sync.Interval = "15x" }, false},
		{"bad debounce", func(c *Config) { c.Sync.Debounce = "soon" }, false},
		{"bad probe interval", func(c *Config) { c.Network.ProbeInterval = "" }, false},
		{"zero chunk size", func(c *Config) { c.Sync.ChunkSize = 0 }, false},
		{"zero max retries", func(c *Config) { c.Sync.MaxRetries = 0 }, false},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, false},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 15*time.Minute, Duration("15m"))
	assert.Equal(t, 2*time.Second, Duration("2s"))
}
