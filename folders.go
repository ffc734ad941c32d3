package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Xveyn/baluhost-sync/internal/sync"
)

func newFoldersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage synced folder pairings",
	}

	cmd.AddCommand(newFoldersAddCmd())
	cmd.AddCommand(newFoldersListCmd())
	cmd.AddCommand(newFoldersRemoveCmd())
	cmd.AddCommand(newFoldersPauseCmd())
	cmd.AddCommand(newFoldersResumeCmd())

	return cmd
}

func newFoldersAddCmd() *cobra.Command {
	var (
		syncType string
		policy   string
		autoSync bool
		excludes []string
	)

	cmd := &cobra.Command{
		Use:   "add <local-root> <remote-path>",
		Short: "Register a local/remote folder pairing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			localRoot, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving %s: %w", args[0], err)
			}

			folder := &sync.Folder{
				DeviceID:        cfg.Server.DeviceID,
				LocalRoot:       localRoot,
				RemotePath:      args[1],
				SyncType:        sync.SyncType(syncType),
				AutoSync:        autoSync,
				ConflictPolicy:  sync.ConflictPolicy(policy),
				ExcludePatterns: excludes,
			}

			if err := app.service.AddFolder(cmd.Context(), folder); err != nil {
				return err
			}

			fmt.Printf("added folder %s: %s <-> %s\n", folder.ID, folder.LocalRoot, folder.RemotePath)

			return nil
		},
	}

	cmd.Flags().StringVar(&syncType, "type", "bidirectional", "sync direction: upload_only, download_only, bidirectional")
	cmd.Flags().StringVar(&policy, "policy", "keep_newest", "conflict policy: keep_local, keep_server, keep_newest, ask_user")
	cmd.Flags().BoolVar(&autoSync, "auto", false, "sync automatically on local changes")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "glob pattern to exclude (repeatable)")

	return cmd
}

func newFoldersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List folder pairings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			folders, err := app.service.ListFolders(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(folders)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tPOLICY\tLOCAL\tREMOTE")

			for _, f := range folders {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					f.ID, f.Status, f.SyncType, f.ConflictPolicy, f.LocalRoot, f.RemotePath)
			}

			return w.Flush()
		},
	}
}

func newFoldersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <folder-id>",
		Short: "Remove a pairing (local and remote files are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			return app.service.RemoveFolder(cmd.Context(), args[0])
		},
	}
}

func newFoldersPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <folder-id>",
		Short: "Pause syncing for a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			return app.service.PauseFolder(cmd.Context(), args[0])
		},
	}
}

func newFoldersResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <folder-id>",
		Short: "Resume syncing for a paused folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			return app.service.ResumeFolder(cmd.Context(), args[0])
		},
	}
}
