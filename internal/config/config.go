// Package config implements TOML configuration loading for baluhost-sync
// with a three-layer override chain: built-in defaults, then the config
// file, then BALUHOST_* environment variables.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Sync     SyncConfig     `toml:"sync"`
	Network  NetworkConfig  `toml:"network"`
	Logging  LoggingConfig  `toml:"logging"`
	Database DatabaseConfig `toml:"database"`
}

// ServerConfig identifies the NAS and the credentials used against it. The
// access token is usually supplied via environment rather than the file.
type ServerConfig struct {
	BaseURL      string `toml:"base_url" env:"BALUHOST_BASE_URL"`
	AccessToken  string `toml:"access_token" env:"BALUHOST_ACCESS_TOKEN"`
	RefreshToken string `toml:"refresh_token" env:"BALUHOST_REFRESH_TOKEN"`
	DeviceID     string `toml:"device_id" env:"BALUHOST_DEVICE_ID"`
}

// SyncConfig controls engine behavior: pass cadence, change debouncing, and
// transfer sizing. Durations use Go syntax ("15m", "2s").
type SyncConfig struct {
	Interval       string `toml:"interval" env:"BALUHOST_SYNC_INTERVAL"`
	Debounce       string `toml:"debounce" env:"BALUHOST_SYNC_DEBOUNCE"`
	MtimeTolerance string `toml:"mtime_tolerance" env:"BALUHOST_MTIME_TOLERANCE"`
	ChunkSize      int64  `toml:"chunk_size" env:"BALUHOST_CHUNK_SIZE"`
	MaxRetries     int    `toml:"max_retries" env:"BALUHOST_MAX_RETRIES"`
}

// NetworkConfig controls reachability probing.
type NetworkConfig struct {
	ProbeInterval string `toml:"probe_interval" env:"BALUHOST_PROBE_INTERVAL"`
}

// LoggingConfig controls log output: level and format. Format "auto" picks
// colored text on a terminal and JSON otherwise.
type LoggingConfig struct {
	Level  string `toml:"level" env:"BALUHOST_LOG_LEVEL"`
	Format string `toml:"format" env:"BALUHOST_LOG_FORMAT"`
}

// DatabaseConfig locates the state database.
type DatabaseConfig struct {
	Path string `toml:"path" env:"BALUHOST_DB_PATH"`
}
