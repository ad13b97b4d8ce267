package experiment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"paideia/internal/config"
	"paideia/internal/llm"
)

const (
	approveVerdict = `{"verdict": "approve", "confidence": 0.9, "feedback": "fine"}`
	reviseVerdict  = `{"verdict": "revise", "confidence": 0.8, "feedback": "more warmth"}`
	goodScore      = `{"warmth": 4, "score": 4, "rationale": "warm enough"}`
)

func testSnapshot(profiles ...config.Profile) *config.Snapshot {
	harness := config.DefaultConfig()
	harness.Concurrency = 4
	harness.JobTimeout = "5s"
	harness.MinSampleSize = 2

	snap := &config.Snapshot{
		Harness: harness,
		Rubric: &config.Rubric{
			Name:     "relational-test",
			ScaleMin: 1,
			ScaleMax: 5,
			Dimensions: []config.Dimension{
				{Name: "warmth", Weight: 1.0, Relational: true},
			},
		},
		Scenarios: map[string]config.Scenario{
			"s1": {
				ID: "s1",
				Turns: []config.TurnSpec{
					{Learner: "I keep getting this wrong."},
					{Learner: "Can you show me again?"},
				},
			},
		},
		Profiles: make(map[string]config.Profile),
	}
	for _, p := range profiles {
		snap.Profiles[p.ID] = p
	}
	return snap
}

func multiProfile(id string) config.Profile {
	return config.Profile{
		ID:           id,
		Architecture: config.ArchMulti,
		MaxRounds:    3,
		LearnerArch:  config.LearnerScripted,
		Models: map[string]string{
			config.RoleEgo:      "ego-model",
			config.RoleSuperego: "superego-model",
			config.RoleJudge:    "judge-model",
		},
	}
}

func singleProfile(id string) config.Profile {
	return config.Profile{
		ID:           id,
		Architecture: config.ArchSingle,
		MaxRounds:    1,
		LearnerArch:  config.LearnerScripted,
		Models: map[string]string{
			config.RoleEgo:   "ego-model",
			config.RoleJudge: "judge-model",
		},
	}
}

// happyFactory registers deterministic clients that always produce a
// scorable dialogue.
func happyFactory() (*llm.Factory, *llm.ScriptedClient) {
	f := llm.NewFactory(config.LLMConfig{})
	ego := llm.NewScriptedClient("ego-model", "a patient answer")
	f.Register("ego-model", ego)
	f.Register("superego-model", llm.NewScriptedClient("superego-model", approveVerdict))
	f.Register("judge-model", llm.NewScriptedClient("judge-model", goodScore))
	return f, ego
}

func newTestRunner(t *testing.T, snap *config.Snapshot, f *llm.Factory, store *ResultStore) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{Snapshot: snap, Store: store, Factory: f})
	require.NoError(t, err)
	return r
}

func openStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := OpenResultStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunner_FullDesign(t *testing.T) {
	defer goleak.VerifyNone(t)

	snap := testSnapshot(multiProfile("p-multi"), singleProfile("p-single"))
	f, _ := happyFactory()
	store := openStore(t)
	r := newTestRunner(t, snap, f, store)

	report, err := r.Run(context.Background(), FullDesign(snap, 2))
	require.NoError(t, err)

	require.Len(t, report.Results, 4) // 1 scenario x 2 profiles x 2 runs
	counts := report.Counts()
	assert.Equal(t, 4, counts[OutcomeSucceeded])
	assert.Zero(t, report.CachedCount())

	for _, res := range report.Results {
		require.NotNil(t, res.Score, "job %v", res.Job)
		assert.False(t, res.Score.JudgeFailure)
		require.NotNil(t, res.Transcript)
		assert.Len(t, res.Transcript.Turns, 2)
		assert.Len(t, res.TurnClasses, 2)
		assert.NotEmpty(t, res.CellHash)
	}

	persisted, err := store.ResultsForRun(report.RunID)
	require.NoError(t, err)
	assert.Len(t, persisted, 4)
}

// Re-running an unchanged design serves every job from the result store. The
// second runner's factory has no usable clients, so any model invocation
// would fail the run.
func TestRunner_ResumeSkipsCachedJobsWithoutModelCalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	snap := testSnapshot(multiProfile("p-multi"))
	store := openStore(t)

	f, _ := happyFactory()
	first, err := newTestRunner(t, snap, f, store).Run(context.Background(), FullDesign(snap, 3))
	require.NoError(t, err)
	require.Equal(t, 3, first.Counts()[OutcomeSucceeded])

	dead := llm.NewFactory(config.LLMConfig{})
	dead.Register("ego-model", llm.NewScriptedClient("ego-model"))      // errors if called
	dead.Register("superego-model", llm.NewScriptedClient("superego-model"))
	dead.Register("judge-model", llm.NewScriptedClient("judge-model"))

	second, err := newTestRunner(t, snap, dead, store).Run(context.Background(), FullDesign(snap, 3))
	require.NoError(t, err)

	assert.Equal(t, 3, second.Counts()[OutcomeSucceeded])
	assert.Equal(t, 3, second.CachedCount())
	for _, res := range second.Results {
		assert.True(t, res.Cached)
		assert.Empty(t, res.Err)
	}
}

// Editing the profile changes the cell hash, so the cache misses and the
// cells re-run.
func TestRunner_ConfigEditInvalidatesCache(t *testing.T) {
	snap := testSnapshot(multiProfile("p-multi"))
	store := openStore(t)

	f, ego := happyFactory()
	_, err := newTestRunner(t, snap, f, store).Run(context.Background(), FullDesign(snap, 1))
	require.NoError(t, err)
	callsAfterFirst := ego.Calls()

	edited := multiProfile("p-multi")
	edited.MaxRounds = 5
	snap2 := testSnapshot(edited)

	report, err := newTestRunner(t, snap2, f, store).Run(context.Background(), FullDesign(snap2, 1))
	require.NoError(t, err)
	assert.Zero(t, report.CachedCount())
	assert.Greater(t, ego.Calls(), callsAfterFirst)
}

// blockingClient stalls every completion until the context expires.
type blockingClient struct{}

func (b *blockingClient) Model() string { return "blocking" }

func (b *blockingClient) Complete(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (b *blockingClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return b.Complete(ctx, userPrompt)
}

func (b *blockingClient) CompleteWithOptions(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	return b.Complete(ctx, prompt)
}

func TestRunner_TimeoutOutcome(t *testing.T) {
	defer goleak.VerifyNone(t)

	snap := testSnapshot(multiProfile("p-multi"))
	f := llm.NewFactory(config.LLMConfig{})
	f.Register("ego-model", &blockingClient{})
	f.Register("superego-model", llm.NewScriptedClient("superego-model", approveVerdict))
	f.Register("judge-model", llm.NewScriptedClient("judge-model", goodScore))

	store := openStore(t)
	r, err := NewRunner(RunnerConfig{
		Snapshot:   snap,
		Store:      store,
		Factory:    f,
		JobTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	report, err := r.Run(context.Background(), FullDesign(snap, 1))
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeTimeout, report.Results[0].Outcome)
	assert.Contains(t, report.Results[0].Err, "exceeded")
}

// A deadline that expires while the judge is scoring is a timeout, not a
// judge failure: the scorer folds context errors into its failure record,
// so the outcome classification has to look at the deadline itself.
func TestRunner_TimeoutDuringScoringOutranksJudgeFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	snap := testSnapshot(multiProfile("p-multi"))
	f := llm.NewFactory(config.LLMConfig{})
	f.Register("ego-model", llm.NewScriptedClient("ego-model", "an answer"))
	f.Register("superego-model", llm.NewScriptedClient("superego-model", approveVerdict))
	f.Register("judge-model", &blockingClient{})

	store := openStore(t)
	r, err := NewRunner(RunnerConfig{
		Snapshot:   snap,
		Store:      store,
		Factory:    f,
		JobTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	report, err := r.Run(context.Background(), FullDesign(snap, 1))
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Contains(t, res.Err, "exceeded")
	// The dialogue itself completed; only scoring was cut off.
	require.NotNil(t, res.Transcript)
	assert.False(t, res.Transcript.Turns[0].Failed)
}

func TestRunner_RoundLimitOutcomeStillScored(t *testing.T) {
	snap := testSnapshot(multiProfile("p-multi"))
	f := llm.NewFactory(config.LLMConfig{})
	f.Register("ego-model", llm.NewScriptedClient("ego-model", "draft"))
	f.Register("superego-model", llm.NewScriptedClient("superego-model", reviseVerdict))
	f.Register("judge-model", llm.NewScriptedClient("judge-model", goodScore))

	store := openStore(t)
	report, err := newTestRunner(t, snap, f, store).Run(context.Background(), FullDesign(snap, 1))
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, OutcomeRoundLimit, res.Outcome)
	// Exhaustion is reportable, not an error: the transcript was still
	// delivered and scored.
	require.NotNil(t, res.Score)
	assert.False(t, res.Score.JudgeFailure)
	assert.True(t, res.Scorable())
}

func TestRunner_JudgeFailureOutcome(t *testing.T) {
	snap := testSnapshot(multiProfile("p-multi"))
	f := llm.NewFactory(config.LLMConfig{})
	f.Register("ego-model", llm.NewScriptedClient("ego-model", "an answer"))
	f.Register("superego-model", llm.NewScriptedClient("superego-model", approveVerdict))
	f.Register("judge-model", llm.NewScriptedClient("judge-model", "not json at all"))

	store := openStore(t)
	report, err := newTestRunner(t, snap, f, store).Run(context.Background(), FullDesign(snap, 1))
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, OutcomeJudgeFailure, res.Outcome)
	assert.False(t, res.Scorable())
	// Judge failures never contribute fabricated values to aggregation.
	assert.Empty(t, CellValues(report.Results))
}

func TestRunner_FailedJobDoesNotHaltSiblings(t *testing.T) {
	snap := testSnapshot(multiProfile("p-multi"))
	snap.Scenarios["s-gen"] = config.Scenario{
		ID:    "s-gen",
		Turns: []config.TurnSpec{{Generate: "push back"}},
	}

	f, _ := happyFactory()
	store := openStore(t)
	report, err := newTestRunner(t, snap, f, store).Run(context.Background(), FullDesign(snap, 1))
	require.NoError(t, err)

	counts := report.Counts()
	// The generative scenario cannot run under a scripted-only profile; the
	// other cell is unaffected.
	assert.Equal(t, 1, counts[OutcomeFailed])
	assert.Equal(t, 1, counts[OutcomeSucceeded])
}

func TestNewRunner_MemoryProfileRequiresStore(t *testing.T) {
	p := multiProfile("p-mem")
	p.Memory = true
	snap := testSnapshot(p)
	f, _ := happyFactory()

	_, err := NewRunner(RunnerConfig{Snapshot: snap, Store: openStore(t), Factory: f})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory")
}

func TestDesign_Expand(t *testing.T) {
	snap := testSnapshot(multiProfile("p-a"), multiProfile("p-b"))

	jobs, err := Design{Runs: 2}.Expand(snap)
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	// Deterministic order: scenario, profile, run index.
	assert.Equal(t, Job{"s1", "p-a", 0}, jobs[0])
	assert.Equal(t, Job{"s1", "p-a", 1}, jobs[1])
	assert.Equal(t, Job{"s1", "p-b", 0}, jobs[2])

	// Explicit cells deduplicate.
	jobs, err = Design{
		Cells: []CellRef{{"s1", "p-a"}, {"s1", "p-a"}},
		Runs:  1,
	}.Expand(snap)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = Design{Runs: 0}.Expand(snap)
	assert.Error(t, err)

	_, err = Design{Cells: []CellRef{{"nope", "p-a"}}, Runs: 1}.Expand(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario")

	_, err = Design{Cells: []CellRef{{"s1", "nope"}}, Runs: 1}.Expand(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}
