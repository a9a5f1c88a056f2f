package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/policy-monitor/internal/metrics"
)

var refetchCmd = &cobra.Command{
	Use:   "refetch",
	Short: "Archive PDFs for documents stored without one",
	Long:  "Re-extracts new and analyzed documents that have no archived file. When a PDF is found it is archived and the document text replaced; processing status is left alone.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if !cfg.Archive.Enabled {
			return eris.New("refetch requires archive.enabled and archive.pdf_dir")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()
		coord, err := initIngest(st, m)
		if err != nil {
			return err
		}

		stats, err := coord.Refetch(ctx)
		if stats != nil {
			if encErr := printJSON(os.Stdout, stats); encErr != nil && err == nil {
				err = encErr
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(refetchCmd)
}
