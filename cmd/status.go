package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/policy-monitor/internal/metrics"
	"github.com/sells-group/policy-monitor/internal/monitoring"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document counts and evaluate alerts",
	Long:  "Prints counts per processing status, the relevant count and the failure rate, and raises alerts when monitoring thresholds are exceeded. With --watch the check repeats until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()
		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			m,
			cfg.Monitoring,
		)

		if statusWatch {
			checker.Run(ctx, func(*monitoring.Report) { writeMetrics(m) })
			return nil
		}

		rep, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		writeMetrics(m)
		return printJSON(os.Stdout, rep)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "repeat the check every monitoring.check_interval_secs")
	rootCmd.AddCommand(statusCmd)
}
