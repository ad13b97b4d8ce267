package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validRubric = `
name: relational-v2
scale_min: 1
scale_max: 5
dimensions:
  - name: warmth
    weight: 0.3
    relational: true
  - name: accuracy
    weight: 0.4
  - name: acknowledgment
    weight: 0.3
    relational: true
`

const validScenarios = `
scenarios:
  - id: frustrated-learner
    description: tutor should acknowledge frustration before explaining
    min_score: 60
    turns:
      - learner: "I just don't get Kant at all. This is hopeless."
      - learner: "Okay... but what does 'categorical' even mean?"
  - id: adaptive-learner
    description: counterpart reacts to the tutor
    turns:
      - learner: "What is virtue ethics?"
      - generate: "push back on the tutor's last explanation"
`

const validProfiles = `
profiles:
  - id: multi-3r
    architecture: multi
    max_rounds: 3
    models:
      ego: gemini-2.0-flash
      superego: gemini-2.0-flash
      judge: gemini-1.5-pro
      learner: gemini-2.0-flash
    fallback_models:
      judge: gpt-4o
    memory: true
    learner_architecture: single
  - id: single-1r
    architecture: single
    max_rounds: 1
    models:
      ego: gemini-2.0-flash
      judge: gemini-1.5-pro
`

func TestLoadRubric_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rubric.yaml", validRubric)

	r, err := LoadRubric(path)
	require.NoError(t, err)
	assert.Equal(t, "relational-v2", r.Name)
	assert.Len(t, r.Dimensions, 3)
	assert.Len(t, r.RelationalDimensions(), 2)
	assert.Equal(t, []string{"warmth", "accuracy", "acknowledgment"}, r.DimensionNames())
}

func TestLoadRubric_WeightsMustSumToOne(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rubric.yaml", `
name: broken
scale_min: 1
scale_max: 5
dimensions:
  - name: warmth
    weight: 0.5
  - name: accuracy
    weight: 0.4
`)
	_, err := LoadRubric(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights sum to 0.9")
}

func TestLoadRubric_WeightEpsilonTolerated(t *testing.T) {
	r := &Rubric{
		Name:     "eps",
		ScaleMin: 1,
		ScaleMax: 5,
		Dimensions: []Dimension{
			{Name: "a", Weight: 1.0 / 3},
			{Name: "b", Weight: 1.0 / 3},
			{Name: "c", Weight: 1.0 / 3},
		},
	}
	assert.NoError(t, r.Validate())
}

func TestLoadScenarios(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scenarios.yaml", validScenarios)

	scenarios, err := LoadScenarios(path)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)

	s := scenarios["frustrated-learner"]
	assert.Len(t, s.Turns, 2)
	assert.True(t, s.Turns[0].Scripted())

	adaptive := scenarios["adaptive-learner"]
	assert.False(t, adaptive.Turns[1].Scripted())
}

func TestLoadScenarios_RejectsEmptyTurns(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scenarios.yaml", `
scenarios:
  - id: empty
    turns: []
`)
	_, err := LoadScenarios(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no turns")
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profiles.yaml", validProfiles)

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	multi := profiles["multi-3r"]
	assert.Equal(t, ArchMulti, multi.Architecture)
	assert.Equal(t, 3, multi.MaxRounds)
	assert.True(t, multi.Memory)
	assert.Equal(t, "gpt-4o", multi.Fallback(RoleJudge))

	single := profiles["single-1r"]
	assert.Equal(t, ArchSingle, single.Architecture)
	assert.Equal(t, LearnerScripted, single.LearnerArch)
}

func TestLoadProfiles_RejectsBadRoundLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profiles.yaml", `
profiles:
  - id: too-many
    architecture: multi
    max_rounds: 9
    models:
      ego: m
      superego: m
      judge: m
`)
	_, err := LoadProfiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestLoadProfiles_RejectsUnknownRole(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profiles.yaml", `
profiles:
  - id: bad-role
    models:
      ego: m
      superego: m
      judge: m
      oracle: m
`)
	_, err := LoadProfiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown model role "oracle"`)
}

func loadTestSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "concurrency: 2\n")
	rubricPath := writeFile(t, dir, "rubric.yaml", validRubric)
	scenarioPath := writeFile(t, dir, "scenarios.yaml", validScenarios)
	profilePath := writeFile(t, dir, "profiles.yaml", validProfiles)

	snap, err := LoadSnapshot(cfgPath, rubricPath, scenarioPath, profilePath)
	require.NoError(t, err)
	return snap
}

func TestSnapshot_CellHashStable(t *testing.T) {
	snap := loadTestSnapshot(t)

	h1, err := snap.CellHash("frustrated-learner", "multi-3r")
	require.NoError(t, err)
	h2, err := snap.CellHash("frustrated-learner", "multi-3r")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	other, err := snap.CellHash("adaptive-learner", "multi-3r")
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

func TestSnapshot_CellHashChangesWithConfig(t *testing.T) {
	snap := loadTestSnapshot(t)
	before, err := snap.CellHash("frustrated-learner", "multi-3r")
	require.NoError(t, err)

	// Simulate a configuration edit to the scenario.
	sc := snap.Scenarios["frustrated-learner"]
	sc.MinScore = 75
	snap.Scenarios["frustrated-learner"] = sc

	after, err := snap.CellHash("frustrated-learner", "multi-3r")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestSnapshot_DanglingReference(t *testing.T) {
	snap := loadTestSnapshot(t)
	_, err := snap.CellHash("no-such-scenario", "multi-3r")
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "10m", cfg.JobTimeout)
}
