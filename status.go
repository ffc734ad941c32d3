package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// statusRow is one folder's line in the status report.
type statusRow struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	LastSync  string  `json:"last_sync"`
	Pending   int     `json:"pending"`
	LastError string  `json:"last_error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show folder sync status and queue depth",
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

			rows := make([]statusRow, 0, len(folders))

			for _, f := range folders {
				pending, err := app.service.ListOperations(cmd.Context(), f.ID)
				if err != nil {
					return err
				}

				open := 0
				for _, op := range pending {
					if !op.Terminal() {
						open++
					}
				}

				lastSync := "never"
				if f.LastSyncAt != nil {
					lastSync = time.Unix(0, *f.LastSyncAt).Format(time.RFC3339)
				}

				rows = append(rows, statusRow{
					ID:        f.ID,
					Status:    string(f.Status),
					Progress:  f.Progress(),
					LastSync:  lastSync,
					Pending:   open,
					LastError: f.LastError,
				})
			}

			if flagJSON {
				return printJSON(rows)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tLAST SYNC\tPENDING\tERROR")

			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%d\t%s\n",
					r.ID, r.Status, r.Progress*100, r.LastSync, r.Pending, r.LastError)
			}

			return w.Flush()
		},
	}
}
