package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/policy-monitor/internal/metrics"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Scan feeds and store new documents",
	Long:  "Scans every configured feed, fetches unseen documents, extracts their text and stores them as new (or failed when they cannot be fetched).",
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

		coord, err := initIngest(st, m)
		if err != nil {
			return err
		}

		stats, err := coord.Ingest(ctx, sources)
		if stats != nil {
			if encErr := printJSON(os.Stdout, stats); encErr != nil && err == nil {
				err = encErr
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
