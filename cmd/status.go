package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dep-population/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent tile tasks from the ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("status: the task ledger is disabled (store.driver is none)")
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		tileID, _ := cmd.Flags().GetString("tile-id")
		limit, _ := cmd.Flags().GetInt("limit")

		counts, err := st.StatusCounts(ctx)
		if err != nil {
			return eris.Wrap(err, "status counts")
		}
		tasks, err := st.ListTasks(ctx, store.TaskFilter{
			Status: store.TaskStatus(status),
			TileID: tileID,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "status list")
		}

		out := cmd.OutOrStdout()
		formatStatusCounts(out, counts)
		_, _ = fmt.Fprintln(out)
		if len(tasks) == 0 {
			fmt.Fprintln(os.Stderr, "No tasks found.")
			return nil
		}
		formatTaskList(out, tasks)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("status", "", "filter by task status (running, complete, empty, failed)")
	statusCmd.Flags().String("tile-id", "", `filter by tile id, e.g. "[12,345]"`)
	statusCmd.Flags().Int("limit", 50, "max number of tasks to display")
	rootCmd.AddCommand(statusCmd)
}

// formatStatusCounts writes per-status task totals to w.
func formatStatusCounts(out io.Writer, counts map[store.TaskStatus]int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	total := 0
	for _, s := range []store.TaskStatus{store.TaskComplete, store.TaskEmpty, store.TaskFailed, store.TaskRunning} {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", s, counts[s])
		total += counts[s]
	}
	_, _ = fmt.Fprintf(w, "total:\t%d\n", total)
	_ = w.Flush()
}

// formatTaskList writes a tabular list of tasks to w.
func formatTaskList(out io.Writer, tasks []store.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTILE\tSTATUS\tTERRITORIES\tCREATED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-----------\t-------\t--------\t-----")
	for _, t := range tasks {
		dur := t.UpdatedAt.Sub(t.CreatedAt).Round(time.Second).String()
		errMsg := t.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(t.ID),
			t.TileID,
			t.Status,
			len(t.Territories),
			t.CreatedAt.Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
