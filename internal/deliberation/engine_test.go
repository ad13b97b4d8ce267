package deliberation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paideia/internal/config"
	"paideia/internal/llm"
)

var testRubric = &config.Rubric{
	Name:     "relational-test",
	ScaleMin: 1,
	ScaleMax: 5,
	Dimensions: []config.Dimension{
		{Name: "warmth", Weight: 0.5, Relational: true},
		{Name: "acknowledgment", Weight: 0.5, Relational: true},
	},
}

func testProfile(arch config.Architecture, maxRounds int) config.Profile {
	p := config.Profile{
		ID:           "test-profile",
		Architecture: arch,
		MaxRounds:    maxRounds,
		Models: map[string]string{
			config.RoleEgo:   "ego-model",
			config.RoleJudge: "judge-model",
		},
	}
	if arch == config.ArchMulti {
		p.Models[config.RoleSuperego] = "superego-model"
	}
	return p
}

func newTestEngine(t *testing.T, arch config.Architecture, maxRounds int, ego, superego llm.Client) *Engine {
	t.Helper()
	f := llm.NewFactory(config.LLMConfig{})
	f.Register("ego-model", ego)
	f.Register("judge-model", llm.NewScriptedClient("judge-model", "{}"))
	if superego != nil {
		f.Register("superego-model", superego)
	}

	roles, err := llm.NewRoleSet(context.Background(), f, testProfile(arch, maxRounds))
	require.NoError(t, err)

	eng, err := NewEngine(EngineConfig{
		Profile: testProfile(arch, maxRounds),
		Rubric:  testRubric,
		Roles:   roles,
		Prompts: DefaultPromptSet(),
	})
	require.NoError(t, err)
	return eng
}

func turnCtx() TurnContext {
	return TurnContext{
		ScenarioID:     "frustrated-learner",
		LearnerMessage: "I just don't get Kant at all. This is hopeless.",
	}
}

const approveVerdict = `{"verdict": "approve", "confidence": 0.92, "feedback": "warm and clear"}`

func TestRunTurn_SingleAgentSkipsReview(t *testing.T) {
	ego := llm.NewScriptedClient("ego-model", "Kant is tricky; let's start small.")
	eng := newTestEngine(t, config.ArchSingle, 1, ego, nil)

	trace, err := eng.RunTurn(context.Background(), turnCtx())
	require.NoError(t, err)
	assert.Equal(t, StatusSingleAgent, trace.Status)
	require.Len(t, trace.Rounds, 1)
	assert.Nil(t, trace.Rounds[0].Verdict)
	assert.Equal(t, "Kant is tricky; let's start small.", trace.Delivered())
	assert.Equal(t, 1, ego.Calls())
}

func TestRunTurn_ImmediateApproval(t *testing.T) {
	ego := llm.NewScriptedClient("ego-model", "That feeling is common - Kant is dense. Let's take one idea at a time.")
	superego := llm.NewScriptedClient("superego-model", approveVerdict)
	eng := newTestEngine(t, config.ArchMulti, 3, ego, superego)

	trace, err := eng.RunTurn(context.Background(), turnCtx())
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, trace.Status)
	assert.Equal(t, 1, trace.RoundsToConvergence)
	require.Len(t, trace.Rounds, 1)
	assert.Equal(t, VerdictApprove, trace.Rounds[0].Verdict.Type)
	assert.Equal(t, 0.92, trace.Rounds[0].Verdict.Confidence)
}

// The concrete case from the harness requirements: revise on round 1 citing a
// missing acknowledgment, approve on round 2.
func TestRunTurn_SingleRevisionConvergence(t *testing.T) {
	firstDraft := "The categorical imperative means act only on universalizable maxims."
	secondDraft := "It sounds like you're frustrated - that's normal with Kant. Let's build up to the categorical imperative slowly."

	ego := llm.NewScriptedClient("ego-model", firstDraft, secondDraft)
	superego := llm.NewScriptedClient("superego-model",
		`{"verdict": "revise", "confidence": 0.8, "feedback": "does not acknowledge the learner's frustration", "criteria": {"warmth": false, "acknowledgment": false}}`,
		approveVerdict,
	)
	eng := newTestEngine(t, config.ArchMulti, 3, ego, superego)

	trace, err := eng.RunTurn(context.Background(), turnCtx())
	require.NoError(t, err)

	assert.Equal(t, StatusConverged, trace.Status)
	assert.Equal(t, 2, trace.RoundsToConvergence)
	require.Len(t, trace.Rounds, 2)

	assert.Equal(t, VerdictRevise, trace.Rounds[0].Verdict.Type)
	assert.True(t, trace.Rounds[0].Incorporated)
	assert.False(t, trace.Rounds[0].Verdict.Criteria["acknowledgment"])

	assert.NotEqual(t, trace.Rounds[0].Draft, trace.Delivered())
	assert.Equal(t, secondDraft, trace.Delivered())
}

func TestRunTurn_RevisionPromptCarriesFeedbackAndCriteria(t *testing.T) {
	var prompts []string
	ego := llm.NewScriptedClient("ego-model", "draft one", "draft two")
	ego.OnCall = func(prompt string, opts llm.Options) {
		prompts = append(prompts, prompt)
	}
	superego := llm.NewScriptedClient("superego-model",
		`{"verdict": "enhance", "confidence": 0.6, "feedback": "add a concrete example", "criteria": {"warmth": true, "acknowledgment": false}}`,
		approveVerdict,
	)
	eng := newTestEngine(t, config.ArchMulti, 3, ego, superego)

	_, err := eng.RunTurn(context.Background(), turnCtx())
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	revision := prompts[1]
	assert.Contains(t, revision, "draft one")
	assert.Contains(t, revision, "add a concrete example")
	assert.Contains(t, revision, "acknowledgment: FAIL")
	assert.Contains(t, revision, "warmth: PASS")
}

func TestRunTurn_RoundLimitExhaustion(t *testing.T) {
	ego := llm.NewScriptedClient("ego-model", "draft one", "draft two", "draft three")
	superego := llm.NewScriptedClient("superego-model",
		`{"verdict": "revise", "confidence": 0.7, "feedback": "still too abstract"}`,
	)
	eng := newTestEngine(t, config.ArchMulti, 3, ego, superego)

	trace, err := eng.RunTurn(context.Background(), turnCtx())
	require.NoError(t, err)

	assert.Equal(t, StatusRoundLimitExhausted, trace.Status)
	assert.Equal(t, 0, trace.RoundsToConvergence)
	require.Len(t, trace.Rounds, 3)
	assert.Equal(t, "draft three", trace.Delivered())
	// The trace is complete even though delivery was forced.
	for _, r := range trace.Rounds {
		assert.NotNil(t, r.Verdict)
	}
}

func TestRunTurn_TerminatesWithinMaxRoundsForAnyVerdicts(t *testing.T) {
	verdicts := []string{
		`{"verdict": "reframe", "confidence": 0.5, "feedback": "a"}`,
		`{"verdict": "redirect", "confidence": 0.5, "feedback": "b"}`,
		`{"verdict": "escalate", "confidence": 0.5, "feedback": "c"}`,
		`{"verdict": "enhance", "confidence": 0.5, "feedback": "d"}`,
		`{"verdict": "revise", "confidence": 0.5, "feedback": "e"}`,
	}
	for maxRounds := 1; maxRounds <= 5; maxRounds++ {
		ego := llm.NewScriptedClient("ego-model", "d1", "d2", "d3", "d4", "d5")
		superego := llm.NewScriptedClient("superego-model", verdicts...)
		eng := newTestEngine(t, config.ArchMulti, maxRounds, ego, superego)

		trace, err := eng.RunTurn(context.Background(), turnCtx())
		require.NoError(t, err)
		assert.Len(t, trace.Rounds, maxRounds)
		assert.NotEmpty(t, trace.Delivered())
	}
}

func TestRunTurn_UnusableReviewDegradesToRevise(t *testing.T) {
	ego := llm.NewScriptedClient("ego-model", "draft one", "draft two")
	superego := llm.NewScriptedClient("superego-model",
		"I cannot produce JSON today.",
		"Still prose, sorry.",
		approveVerdict,
	)
	eng := newTestEngine(t, config.ArchMulti, 2, ego, superego)

	trace, err := eng.RunTurn(context.Background(), turnCtx())
	require.NoError(t, err)

	require.NotEmpty(t, trace.Rounds)
	first := trace.Rounds[0].Verdict
	require.NotNil(t, first)
	assert.Equal(t, VerdictRevise, first.Type)
	assert.Zero(t, first.Confidence)
}

func TestParseVerdictType(t *testing.T) {
	tests := []struct {
		in   string
		want VerdictType
		ok   bool
	}{
		{"approve", VerdictApprove, true},
		{" APPROVE ", VerdictApprove, true},
		{"Revise", VerdictRevise, true},
		{"escalate", VerdictEscalate, true},
		{"ship it", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseVerdictType(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTrace_VerdictSequence(t *testing.T) {
	trace := &Trace{Rounds: []Round{
		{Index: 1, Verdict: &Verdict{Type: VerdictRevise}},
		{Index: 2, Verdict: &Verdict{Type: VerdictApprove}},
	}}
	assert.Equal(t, []VerdictType{VerdictRevise, VerdictApprove}, trace.VerdictSequence())
}
