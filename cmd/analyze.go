package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/policy-monitor/internal/metrics"
)

var analyzeLimit int

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Classify every new document",
	Long:  "Sends each new document to the configured AI classifier, one at a time, and records it as analyzed or failed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()
		defer writeMetrics(m)

		coord, err := initAnalysis(ctx, st, m, analyzeLimit)
		if err != nil {
			return err
		}

		res, err := coord.AnalyzePending(ctx)
		if res != nil {
			if encErr := printJSON(os.Stdout, res); encErr != nil && err == nil {
				err = encErr
			}
		}
		return err
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "max documents to analyze (0 uses analysis.limit)")
	rootCmd.AddCommand(analyzeCmd)
}
