package experiment

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paideia/internal/judge"
)

func sampleResult(scenario, profile string, runIndex int, composite float64) JobResult {
	return JobResult{
		Job:      Job{ScenarioID: scenario, ProfileID: profile, RunIndex: runIndex},
		CellHash: "abcd1234",
		Outcome:  OutcomeSucceeded,
		Score: &judge.ScoreRecord{
			ScenarioID: scenario,
			ProfileID:  profile,
			RunIndex:   runIndex,
			Dimensions: map[string]float64{"warmth": 4},
			Composite:  composite,
		},
	}
}

func TestResultStore_SaveAndLookup(t *testing.T) {
	store := openStore(t)

	res := sampleResult("s1", "p1", 0, 75)
	require.NoError(t, store.Save("run-a", res))

	got, ok, err := store.Lookup(res.Job, "abcd1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Job, got.Job)
	assert.Equal(t, OutcomeSucceeded, got.Outcome)
	require.NotNil(t, got.Score)
	assert.Equal(t, 75.0, got.Score.Composite)

	// A different configuration hash is a miss.
	_, ok, err = store.Lookup(res.Job, "ffff0000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultStore_UpsertReplacesByTriple(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.Save("run-a", sampleResult("s1", "p1", 0, 60)))
	require.NoError(t, store.Save("run-b", sampleResult("s1", "p1", 0, 80)))

	got, ok, err := store.Lookup(Job{ScenarioID: "s1", ProfileID: "p1"}, "abcd1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 80.0, got.Score.Composite)

	// The replaced row moved to run-b.
	old, err := store.ResultsForRun("run-a")
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestResultStore_ResultsForRunOrdered(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.Save("run-a", sampleResult("s2", "p1", 0, 50)))
	require.NoError(t, store.Save("run-a", sampleResult("s1", "p2", 1, 60)))
	require.NoError(t, store.Save("run-a", sampleResult("s1", "p2", 0, 70)))
	require.NoError(t, store.Save("run-x", sampleResult("s9", "p9", 0, 10)))

	got, err := store.ResultsForRun("run-a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Job{"s1", "p2", 0}, got[0].Job)
	assert.Equal(t, Job{"s1", "p2", 1}, got[1].Job)
	assert.Equal(t, Job{"s2", "p1", 0}, got[2].Job)
}

func TestExportJSONL_RoundTrips(t *testing.T) {
	results := []JobResult{
		sampleResult("s1", "p1", 0, 75),
		sampleResult("s1", "p2", 0, 82.5),
	}
	path := filepath.Join(t.TempDir(), "runs", "run-a.jsonl")
	require.NoError(t, ExportJSONL(path, results))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var decoded []JobResult
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var res JobResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &res))
		decoded = append(decoded, res)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, results, decoded)
}
