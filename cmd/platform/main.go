// The platform binary is the single-entrypoint mode selector: one flag
// chooses which long-running service or one-shot job the process runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var mode string

var rootCmd = &cobra.Command{
	Use:   "platform",
	Short: "Market-data alert and screening platform",
	Long:  "Runs one platform component per invocation, selected with --mode: download-fundamental, download-ms, download-compliance, scan, alerts or scanner.",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch mode {
		case "download-fundamental", "download-ms", "download-compliance":
			return runDownload(mode)
		case "scan":
			return runScan()
		case "alerts":
			return runAlerts()
		case "scanner":
			return runScanner()
		default:
			return fmt.Errorf("invalid mode %q", mode)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&mode, "mode", "", "Component to run (download-fundamental, download-ms, download-compliance, scan, alerts, scanner)")
	_ = rootCmd.MarkFlagRequired("mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
