package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var taxonomyJSON bool

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Print the configured task taxonomy",
	RunE: func(_ *cobra.Command, _ []string) error {
		tax, err := loadTaxonomy()
		if err != nil {
			return err
		}
		if taxonomyJSON {
			return printJSON(os.Stdout, tax)
		}
		fmt.Fprintf(os.Stdout, "%s (version %d)\n\n%s\n", tax.Name, tax.Version, tax.Render())
		return nil
	},
}

func init() {
	taxonomyCmd.Flags().BoolVar(&taxonomyJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(taxonomyCmd)
}
