package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Xveyn/baluhost-sync/internal/sync"
)

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Review and resolve held sync conflicts",
	}

	cmd.AddCommand(newConflictsListCmd())
	cmd.AddCommand(newConflictsResolveCmd())

	return cmd
}

func newConflictsListCmd() *cobra.Command {
	var folderID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts awaiting a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			conflicts, err := app.service.ListConflicts(cmd.Context(), folderID)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(conflicts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPATH\tLOCAL\tREMOTE\tDETECTED")

			for _, c := range conflicts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.Path,
					sideSummary(c.LocalSize, c.LocalMtime),
					sideSummary(c.RemoteSize, c.RemoteMtime),
					time.Unix(0, c.DetectedAt).Format(time.RFC3339))
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&folderID, "folder", "", "limit to one folder")

	return cmd
}

func newConflictsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflict-id> <keep_local|keep_server|keep_newest>",
		Short: "Apply a resolution to a held conflict",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			if err := app.service.ResolveConflict(cmd.Context(), args[0], sync.ConflictPolicy(args[1])); err != nil {
				return err
			}

			fmt.Printf("conflict %s resolved: %s\n", args[0], args[1])

			return nil
		},
	}
}

// sideSummary renders one side of a conflict, or "absent" when that side was
// deleted.
func sideSummary(size, mtime int64) string {
	if mtime == 0 {
		return "absent"
	}

	return fmt.Sprintf("%dB @ %s", size, time.Unix(0, mtime).Format("2006-01-02 15:04"))
}
