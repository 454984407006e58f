package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dep-population/internal/monitoring"
	"github.com/sells-group/dep-population/internal/store"
)

var checkWatch bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check recent tile tasks and send alerts",
	Long:  "Summarizes the task ledger over the lookback window, prints the snapshot and posts alerts to monitoring.webhook_url when thresholds are breached. With --watch, checks periodically until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("check: the task ledger is disabled (store.driver is none)")
		}
		defer st.Close() //nolint:errcheck

		checker := newChecker(st)
		if checkWatch {
			checker.Run(ctx)
			return nil
		}

		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			Snapshot *monitoring.MetricsSnapshot `json:"snapshot"`
			Alerts   []monitoring.Alert          `json:"alerts"`
		}{snap, alerts}, true)
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkWatch, "watch", false, "check every monitoring.check_interval_secs until interrupted")
	rootCmd.AddCommand(checkCmd)
}

func newChecker(tasks monitoring.TaskLister) *monitoring.Checker {
	m := cfg.Monitoring
	collector := monitoring.NewCollector(tasks, time.Duration(m.StaleTaskMinutes)*time.Minute)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(m), m)
}

// alertAfterBatch runs one alert check when a ledger and webhook are set.
func alertAfterBatch(ctx context.Context, st store.Store) {
	if st == nil || cfg.Monitoring.WebhookURL == "" {
		return
	}
	_, _, _ = newChecker(st).Check(ctx)
}
