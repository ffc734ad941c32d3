package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the pending-operation queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueRetryCmd())
	cmd.AddCommand(newQueueCancelCmd())
	cmd.AddCommand(newQueueDrainCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	var folderID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			ops, err := app.service.ListOperations(cmd.Context(), folderID)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(ops)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tPATH\tSTATUS\tRETRIES\tERROR")

			for _, op := range ops {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					op.ID, op.Type, op.Path, op.Status, op.RetryCount, op.MaxRetries, op.LastError)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&folderID, "folder", "", "limit to one folder")

	return cmd
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <operation-id>",
		Short: "Reset a failed operation for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			return app.service.RetryOperation(cmd.Context(), args[0])
		},
	}
}

func newQueueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <operation-id>",
		Short: "Remove a queued operation before it runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			return app.service.CancelOperation(cmd.Context(), args[0])
		},
	}
}

func newQueueDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Execute queued operations now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // read-mostly CLI invocation

			stats, err := app.service.DrainQueues(cmd.Context())
			if stats != nil {
				fmt.Printf("drained %d operations: %d completed, %d failed, %d requeued\n",
					stats.Executed, stats.Completed, stats.Failed, stats.Requeued)
			}

			return err
		},
	}
}
