package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "smsform",
	Short:        "SMS form-filling assistant",
	Long:         "Receives SMS webhooks from Azure Event Grid and walks each sender through a short form by text message.",
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
