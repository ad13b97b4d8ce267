package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paideia/internal/config"
	"paideia/internal/dialogue"
	"paideia/internal/experiment"
	"paideia/internal/llm"
)

var (
	runScenarios   []string
	runProfiles    []string
	runRepetitions int
	runConcurrency int
	runTimeout     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the experimental design and report job outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot()
		if err != nil {
			return err
		}

		store, err := experiment.OpenResultStore(snap.Harness.ResultDB)
		if err != nil {
			return err
		}
		defer store.Close()

		runnerCfg := experiment.RunnerConfig{
			Snapshot:    snap,
			Store:       store,
			Factory:     llm.NewFactory(snap.Harness.LLM),
			Concurrency: runConcurrency,
			JobTimeout:  runTimeout,
		}
		if anyProfileUsesMemory(snap) {
			memory, err := dialogue.OpenMemoryStore(snap.Harness.MemoryDB)
			if err != nil {
				return err
			}
			defer memory.Close()
			runnerCfg.Memory = memory
		}

		runner, err := experiment.NewRunner(runnerCfg)
		if err != nil {
			return err
		}

		// Interrupt cancels in-flight jobs; completed results are already
		// persisted and a rerun resumes from them.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		design := experiment.Design{
			Scenarios: runScenarios,
			Profiles:  runProfiles,
			Runs:      runRepetitions,
		}
		report, err := runner.Run(ctx, design)
		if err != nil {
			return err
		}

		exportPath := filepath.Join(snap.Harness.OutputDir, report.RunID+".jsonl")
		if err := experiment.ExportJSONL(exportPath, report.Results); err != nil {
			return err
		}

		fmt.Print(report.Summary())
		fmt.Printf("exported %s\n", exportPath)
		fmt.Printf("run id: %s\n", report.RunID)
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runScenarios, "scenario", nil, "Scenario ids to run (default: all)")
	runCmd.Flags().StringSliceVar(&runProfiles, "profile", nil, "Profile ids to run (default: all)")
	runCmd.Flags().IntVar(&runRepetitions, "runs", 1, "Repetitions per (scenario, profile) cell")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Worker pool width (default: harness config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-job wall clock limit (default: harness config)")
}

func anyProfileUsesMemory(snap *config.Snapshot) bool {
	for _, id := range snap.ProfileIDs() {
		p, _ := snap.Profile(id)
		if p.Memory {
			return true
		}
	}
	return false
}
