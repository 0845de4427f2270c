// Command export writes tracking data out of the record store: CSV to
// stdout or a file, CSV archives to S3, and campaign reports.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	campaignID string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "export",
	Short: "Export email engagement tracking data",
	Long: `export reads tracking records from the configured store and writes them
out as CSV, uploads CSV archives to S3, or prints campaign reports.

The store is selected the same way as for the tracking service: config.yaml
plus environment overrides (STORAGE_TYPE, DATABASE_URL, REDIS_URL, ...).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&campaignID, "campaign", "", "campaign id (default: all campaigns)")
	rootCmd.AddCommand(csvCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(reportCmd)
}
