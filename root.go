package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Xveyn/baluhost-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
	flagJSON       bool
)

// cfg and logger hold the effective configuration and process logger loaded
// by PersistentPreRunE, available to all subcommands afterwards.
var (
	cfg    *config.Config
	logger *slog.Logger
)

const defaultConfigPath = "baluhost-sync.toml"

// newRootCmd builds the fully-assembled root command. Called once from main.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baluhost-sync",
		Short: "BaluHost NAS folder synchronization client",
		Long: "Synchronizes local folders with a BaluHost NAS: offline-capable " +
			"reconciliation, a durable operation queue, and resumable chunked uploads.",
		Version:       version,
		SilenceErrors: false,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			path := flagConfigPath
			if path == "" {
				path = defaultConfigPath
			}

			loaded, err := config.Load(path)
			if err != nil {
				return err
			}

			cfg = loaded

			level := cfg.Logging.Level
			if flagVerbose {
				level = "debug"
			}

			logger = newLogger(level, cfg.Logging.Format, flagQuiet)
			slog.SetDefault(logger)

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit machine-readable JSON instead of tables")

	cmd.AddCommand(newFoldersCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newDaemonCmd())

	return cmd
}

// requireServer fails early when the config cannot reach a NAS.
func requireServer() error {
	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("no server configured: set server.base_url or BALUHOST_BASE_URL")
	}

	return nil
}
