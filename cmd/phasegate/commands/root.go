// Package commands implements the phasegate CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "phasegate",
	Short: "Phase governance engine for autonomous task lifecycles",
	Long: `Phasegate coordinates autonomous worker agents through a mandatory,
auditable lifecycle: a fixed phase sequence with explicit backtracking,
time-boxed phase leases, a hash-chained transition ledger, drift detection
against attested baselines, and per-phase trust scoring.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Path to config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
}
