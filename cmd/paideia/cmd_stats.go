package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"paideia/internal/experiment"
	"paideia/internal/stats"
)

var statsRunID string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Recompute descriptives and factorial effects from a persisted run",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsRunID == "" {
			return fmt.Errorf("--run-id is required")
		}
		snap, err := loadSnapshot()
		if err != nil {
			return err
		}

		store, err := experiment.OpenResultStore(snap.Harness.ResultDB)
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.ResultsForRun(statsRunID)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("no results for run %s", statsRunID)
		}

		minN := snap.Harness.MinSampleSize

		fmt.Printf("run %s: %d results\n\n", statsRunID, len(results))
		fmt.Println("per-cell composite descriptives:")
		values := experiment.CellValues(results)
		cells := make([]experiment.CellRef, 0, len(values))
		for cell := range values {
			cells = append(cells, cell)
		}
		sort.Slice(cells, func(i, j int) bool {
			if cells[i].ScenarioID != cells[j].ScenarioID {
				return cells[i].ScenarioID < cells[j].ScenarioID
			}
			return cells[i].ProfileID < cells[j].ProfileID
		})
		for _, cell := range cells {
			d := stats.Describe(values[cell], minN)
			flag := ""
			if d.Underpowered {
				flag = "  [underpowered]"
			}
			fmt.Printf("  %s / %-20s n=%-3d mean=%6.2f sd=%5.2f%s\n",
				cell.ScenarioID, cell.ProfileID, d.N, d.Mean, d.SD, flag)
		}

		printPairwise(values, cells)

		factorial, err := experiment.FactorialCells(snap, results)
		if err != nil {
			return err
		}
		if len(factorial) < 2 {
			fmt.Println("\ntoo few factorial cells for effect decomposition")
			return nil
		}

		effects, err := stats.Decompose(factorial, minN)
		if err != nil {
			return err
		}
		fmt.Println("\neffect decomposition (composite score):")
		for _, e := range effects {
			kind := "main"
			if e.Interaction {
				kind = "interaction"
			}
			flag := ""
			if e.Underpowered {
				flag = "  [underpowered]"
			}
			fmt.Printf("  %-22s %-11s %+7.2f  95%% CI [%+.2f, %+.2f]  d=%.2f  n=%d%s\n",
				e.Factor, kind, e.Estimate, e.CI.Low, e.CI.High, e.CohensD, e.N, flag)
		}
		return nil
	},
}

// printPairwise runs Welch comparisons between profile pairs within each
// scenario, where both cells have enough observations.
func printPairwise(values map[experiment.CellRef][]float64, cells []experiment.CellRef) {
	byScenario := make(map[string][]experiment.CellRef)
	for _, cell := range cells {
		byScenario[cell.ScenarioID] = append(byScenario[cell.ScenarioID], cell)
	}
	scenarios := make([]string, 0, len(byScenario))
	for id := range byScenario {
		scenarios = append(scenarios, id)
	}
	sort.Strings(scenarios)

	printed := false
	for _, scenario := range scenarios {
		group := byScenario[scenario]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				cmp, err := stats.Compare(values[group[i]], values[group[j]])
				if err != nil {
					continue
				}
				if !printed {
					fmt.Println("\npairwise profile comparisons (Welch):")
					printed = true
				}
				fmt.Printf("  %s: %s vs %s  diff=%+.2f  d=%.2f  p=%.4f\n",
					scenario, group[i].ProfileID, group[j].ProfileID,
					cmp.MeanDiff, cmp.CohensD, cmp.PValue)
			}
		}
	}
}

func init() {
	statsCmd.Flags().StringVar(&statsRunID, "run-id", "", "Run id to analyze")
}
