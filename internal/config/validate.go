package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks a resolved Config for values the rest of the system cannot
// work with. It is deliberately strict about durations: a typo like "15x"
// must fail at startup, not fall back silently.
func Validate(cfg *Config) error {
	if cfg.Server.BaseURL != "" {
		u, err := url.Parse(cfg.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: base_url %q is not a valid URL", cfg.Server.BaseURL)
		}
	}

	for name, value := range map[string]string{
		"sync.interval":          cfg.Sync.Interval,
		"sync.debounce":          cfg.Sync.Debounce,
		"sync.mtime_tolerance":   cfg.Sync.MtimeTolerance,
		"network.probe_interval": cfg.Network.ProbeInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("config: %s %q is not a duration: %w", name, value, err)
		}
	}

	if cfg.Sync.ChunkSize <= 0 {
		return fmt.Errorf("config: sync.chunk_size must be positive, got %d", cfg.Sync.ChunkSize)
	}

	if cfg.Sync.MaxRetries < 1 {
		return fmt.Errorf("config: sync.max_retries must be at least 1, got %d", cfg.Sync.MaxRetries)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("config: logging.format %q is not one of auto, text, json", cfg.Logging.Format)
	}

	return nil
}

// Duration returns a parsed duration field. Call only after Validate.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value) //nolint:errcheck // validated at load time

	return d
}
