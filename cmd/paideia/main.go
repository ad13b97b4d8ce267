package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"paideia/internal/config"
	"paideia/internal/logging"
)

var (
	// Global flags
	configPath   string
	rubricPath   string
	scenarioPath string
	profilePath  string
	verbose      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "paideia",
	Short: "paideia - factorial evaluation harness for deliberative tutoring agents",
	Long: `paideia runs tutoring scenarios against agent profiles, scores the
resulting dialogues with a judge model, and decomposes the score differences
into architecture and memory effects.

A run is resumable: results are cached by configuration content, so an
interrupted run repeats no model calls when restarted unchanged.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		return logging.Init(level, "")
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/harness.yaml", "Harness configuration file")
	rootCmd.PersistentFlags().StringVar(&rubricPath, "rubric", "config/rubric.yaml", "Scoring rubric file")
	rootCmd.PersistentFlags().StringVar(&scenarioPath, "scenarios", "config/scenarios.yaml", "Scenario definitions file")
	rootCmd.PersistentFlags().StringVar(&profilePath, "profiles", "config/profiles.yaml", "Agent profile definitions file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadSnapshot loads and validates all configuration documents, fatally on
// any issue.
func loadSnapshot() (*config.Snapshot, error) {
	snap, err := config.LoadSnapshot(configPath, rubricPath, scenarioPath, profilePath)
	if err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return snap, nil
}

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
