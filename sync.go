package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [folder-id]",
		Short: "Run a reconciliation pass (all folders when no ID is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			if len(args) == 1 {
				result, err := app.service.TriggerReconcile(cmd.Context(), args[0])
				if result != nil {
					printResult(result.FolderID, result.FilesUploaded, result.FilesDownloaded,
						result.FilesDeleted, result.Conflicts, result.Success)
				}

				return err
			}

			results, err := app.service.TriggerReconcileAll(cmd.Context())
			for _, r := range results {
				if r == nil {
					continue
				}

				printResult(r.FolderID, r.FilesUploaded, r.FilesDownloaded,
					r.FilesDeleted, r.Conflicts, r.Success)
			}

			return err
		},
	}
}

func printResult(folderID string, up, down, deleted, conflicts int, ok bool) {
	state := "ok"
	if !ok {
		state = "failed"
	}

	fmt.Printf("%s: %s (%d up, %d down, %d deleted, %d conflicts)\n",
		folderID, state, up, down, deleted, conflicts)
}
