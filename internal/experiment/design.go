// Package experiment expands an experimental design into a flat job list,
// runs the jobs through a bounded worker pool, and persists every result so
// interrupted runs resume without repeating model calls.
package experiment

import (
	"fmt"
	"sort"

	"paideia/internal/config"
)

// Job is one unit of work: one scenario under one profile, one repetition.
type Job struct {
	ScenarioID string `json:"scenario_id"`
	ProfileID  string `json:"profile_id"`
	RunIndex   int    `json:"run_index"`
}

// CellRef names one (scenario, profile) cell of the design.
type CellRef struct {
	ScenarioID string `json:"scenario_id"`
	ProfileID  string `json:"profile_id"`
}

// Design describes which cells to run and how many repetitions each gets.
// Either Cells is explicit, or the cross product of Scenarios and Profiles
// is taken; empty Scenarios/Profiles default to everything the snapshot
// declares.
type Design struct {
	Scenarios []string
	Profiles  []string
	Cells     []CellRef
	Runs      int
}

// FullDesign covers every scenario under every profile.
func FullDesign(snap *config.Snapshot, runs int) Design {
	return Design{
		Scenarios: snap.ScenarioIDs(),
		Profiles:  snap.ProfileIDs(),
		Runs:      runs,
	}
}

// Expand resolves the design into a deterministic, duplicate-free job list.
// Dangling references are a configuration error caught before any job runs.
func (d Design) Expand(snap *config.Snapshot) ([]Job, error) {
	if d.Runs < 1 {
		return nil, fmt.Errorf("design requires at least 1 run per cell, got %d", d.Runs)
	}

	cells := d.Cells
	if len(cells) == 0 {
		scenarios := d.Scenarios
		if len(scenarios) == 0 {
			scenarios = snap.ScenarioIDs()
		}
		profiles := d.Profiles
		if len(profiles) == 0 {
			profiles = snap.ProfileIDs()
		}
		for _, sc := range scenarios {
			for _, p := range profiles {
				cells = append(cells, CellRef{ScenarioID: sc, ProfileID: p})
			}
		}
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("design expands to zero cells")
	}

	seen := make(map[CellRef]bool, len(cells))
	var jobs []Job
	for _, cell := range cells {
		if seen[cell] {
			continue
		}
		seen[cell] = true
		if _, ok := snap.Scenario(cell.ScenarioID); !ok {
			return nil, fmt.Errorf("design references unknown scenario %q", cell.ScenarioID)
		}
		if _, ok := snap.Profile(cell.ProfileID); !ok {
			return nil, fmt.Errorf("design references unknown profile %q", cell.ProfileID)
		}
		for run := 0; run < d.Runs; run++ {
			jobs = append(jobs, Job{
				ScenarioID: cell.ScenarioID,
				ProfileID:  cell.ProfileID,
				RunIndex:   run,
			})
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].ScenarioID != jobs[j].ScenarioID {
			return jobs[i].ScenarioID < jobs[j].ScenarioID
		}
		if jobs[i].ProfileID != jobs[j].ProfileID {
			return jobs[i].ProfileID < jobs[j].ProfileID
		}
		return jobs[i].RunIndex < jobs[j].RunIndex
	})
	return jobs, nil
}
