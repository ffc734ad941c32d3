package config

// Default values for configuration options, the bottom layer of the override
// chain. They are chosen so a first run works with only a base URL and token
// supplied.
const (
	defaultSyncInterval   = "15m"
	defaultDebounce       = "2s"
	defaultMtimeTolerance = "2s"
	defaultChunkSize      = 4 * 1024 * 1024
	defaultMaxRetries     = 3
	defaultProbeInterval  = "15s"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultDatabasePath   = "baluhost-sync.db"
)

// DefaultConfig returns a Config populated with all default values. TOML
// decoding starts from this so unset fields retain their defaults.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Interval:       defaultSyncInterval,
			Debounce:       defaultDebounce,
			MtimeTolerance: defaultMtimeTolerance,
			ChunkSize:      defaultChunkSize,
			MaxRetries:     defaultMaxRetries,
		},
		Network: NetworkConfig{
			ProbeInterval: defaultProbeInterval,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath,
		},
	}
}
