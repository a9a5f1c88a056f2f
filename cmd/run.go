package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/policy-monitor/internal/analysis"
	"github.com/sells-group/policy-monitor/internal/ingest"
	"github.com/sells-group/policy-monitor/internal/metrics"
)

var runLimit int

// runSummary is printed by the run command.
type runSummary struct {
	Ingest   *ingest.Stats    `json:"ingest"`
	Analysis *analysis.Result `json:"analysis,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest, then analyze",
	Long:  "Runs ingestion followed by analysis. Analysis is skipped when ingestion did not complete.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sources, err := loadSources()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()
		defer writeMetrics(m)

		ing, err := initIngest(st, m)
		if err != nil {
			return err
		}
		ana, err := initAnalysis(ctx, st, m, runLimit)
		if err != nil {
			return err
		}

		var sum runSummary
		sum.Ingest, err = ing.Ingest(ctx, sources)
		if err != nil {
			_ = printJSON(os.Stdout, sum)
			return eris.Wrap(err, "ingest")
		}

		sum.Analysis, err = ana.AnalyzePending(ctx)
		if encErr := printJSON(os.Stdout, sum); encErr != nil && err == nil {
			err = encErr
		}
		return err
	},
}

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max documents to analyze (0 uses analysis.limit)")
	rootCmd.AddCommand(runCmd)
}
