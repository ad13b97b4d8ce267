package experiment

import (
	"fmt"
	"sort"
	"strings"

	"paideia/internal/config"
	"paideia/internal/dialogue"
	"paideia/internal/judge"
	"paideia/internal/stats"
	"paideia/internal/trajectory"
)

// Outcome classifies how a job ended. Every job gets exactly one.
type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeJudgeFailure Outcome = "judge-failure"
	OutcomeTimeout      Outcome = "timeout"
	// OutcomeRoundLimit marks jobs where at least one turn hit the round
	// limit without convergence. The data is complete and scorable; the
	// condition is surfaced because it is itself a finding.
	OutcomeRoundLimit Outcome = "round-limit-exhausted"
	OutcomeFailed     Outcome = "failed"
)

// JobResult is the complete persisted record of one job.
type JobResult struct {
	Job        Job                  `json:"job"`
	CellHash   string               `json:"cell_hash"`
	Outcome    Outcome              `json:"outcome"`
	Cached     bool                 `json:"cached"`
	Err        string               `json:"error,omitempty"`
	Score      *judge.ScoreRecord   `json:"score,omitempty"`
	Transcript *dialogue.Transcript `json:"transcript,omitempty"`
	// TurnClasses holds the trajectory class of each turn's deliberation
	// trace, in turn order.
	TurnClasses []trajectory.Class `json:"turn_classes,omitempty"`
}

// Scorable reports whether the result carries usable scores for aggregation.
func (r JobResult) Scorable() bool {
	return r.Score != nil && !r.Score.JudgeFailure
}

// Report is the outcome of one orchestrator run.
type Report struct {
	RunID   string      `json:"run_id"`
	Results []JobResult `json:"results"`
}

// Counts tallies jobs by outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// CachedCount reports how many jobs were served from the result store.
func (r *Report) CachedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Cached {
			n++
		}
	}
	return n
}

// Summary renders a one-screen run summary.
func (r *Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s: %d jobs (%d cached)\n", r.RunID, len(r.Results), r.CachedCount())
	counts := r.Counts()
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&sb, "  %-40s %d\n", o, counts[Outcome(o)])
	}
	return sb.String()
}

// CellValues groups composite scores by (scenario, profile) cell, skipping
// results with no usable score. Judge failures stay visible in Counts but
// never enter the aggregates.
func CellValues(results []JobResult) map[CellRef][]float64 {
	out := make(map[CellRef][]float64)
	for _, res := range results {
		if !res.Scorable() {
			continue
		}
		cell := CellRef{ScenarioID: res.Job.ScenarioID, ProfileID: res.Job.ProfileID}
		out[cell] = append(out[cell], res.Score.Composite)
	}
	return out
}

// FactorialCells maps results onto the 2x2 architecture x memory design for
// effect decomposition. Profiles supply the factor levels; composites pool
// across scenarios within each cell.
func FactorialCells(snap *config.Snapshot, results []JobResult) ([]stats.Cell, error) {
	byLevels := make(map[[2]int]*stats.Cell)
	for _, res := range results {
		if !res.Scorable() {
			continue
		}
		p, ok := snap.Profile(res.Job.ProfileID)
		if !ok {
			return nil, fmt.Errorf("result references unknown profile %q", res.Job.ProfileID)
		}
		arch := 0
		if p.Architecture == config.ArchMulti {
			arch = 1
		}
		mem := 0
		if p.Memory {
			mem = 1
		}
		key := [2]int{arch, mem}
		cell, ok := byLevels[key]
		if !ok {
			cell = &stats.Cell{Levels: map[string]int{"architecture": arch, "memory": mem}}
			byLevels[key] = cell
		}
		cell.Values = append(cell.Values, res.Score.Composite)
	}

	cells := make([]stats.Cell, 0, len(byLevels))
	for _, key := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		if cell, ok := byLevels[key]; ok {
			cells = append(cells, *cell)
		}
	}
	return cells, nil
}
