package deliberation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"paideia/internal/config"
	"paideia/internal/extract"
	"paideia/internal/llm"
	"paideia/internal/logging"
)

// verdictSchema is the expected shape of a superego review.
var verdictSchema = extract.Schema{
	Fields: []extract.Field{
		{Name: "verdict", Kind: extract.KindString},
		{Name: "confidence", Kind: extract.KindNumber},
		{Name: "feedback", Kind: extract.KindString},
		{Name: "criteria", Kind: extract.KindMap, Optional: true},
	},
}

// TurnContext is the immutable input for one turn. The engine holds no state
// between turns; everything it needs arrives here.
type TurnContext struct {
	ScenarioID     string
	History        []Exchange
	LearnerMessage string
	Memory         []string // durable summaries, empty when memory is disabled
}

// Engine runs the bounded critique loop for single turns.
type Engine struct {
	ego          llm.Client
	superego     llm.Client // nil for the single-agent architecture
	egoFallback  llm.Client
	superegoFbk  llm.Client
	prompts      PromptSet
	architecture config.Architecture
	maxRounds    int
	relational   []config.Dimension
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Profile config.Profile
	Rubric  *config.Rubric
	Roles   *llm.RoleSet
	Prompts PromptSet
}

// NewEngine builds an engine for one profile. The profile's round limit and
// architecture were validated at configuration load.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	ego := cfg.Roles.Primary(config.RoleEgo)
	if ego == nil {
		return nil, fmt.Errorf("profile %q: no ego client", cfg.Profile.ID)
	}
	e := &Engine{
		ego:          ego,
		egoFallback:  cfg.Roles.Fallback(config.RoleEgo),
		prompts:      cfg.Prompts,
		architecture: cfg.Profile.Architecture,
		maxRounds:    cfg.Profile.MaxRounds,
		relational:   cfg.Rubric.RelationalDimensions(),
	}
	if cfg.Profile.Architecture == config.ArchMulti {
		e.superego = cfg.Roles.Primary(config.RoleSuperego)
		e.superegoFbk = cfg.Roles.Fallback(config.RoleSuperego)
		if e.superego == nil {
			return nil, fmt.Errorf("profile %q: multi architecture without superego client", cfg.Profile.ID)
		}
	}
	return e, nil
}

// RunTurn executes the state machine for one turn and returns its complete
// trace. The trace always carries at least one round and exactly one
// delivered output; round-limit exhaustion is reported in the status, never
// as an error.
func (e *Engine) RunTurn(ctx context.Context, tc TurnContext) (*Trace, error) {
	log := logging.L(logging.CategoryDeliberation).With(
		zap.String("scenario", tc.ScenarioID))

	draft, err := e.ego.CompleteWithSystem(ctx, e.prompts.EgoSystem, egoDraftPrompt(tc))
	if err != nil {
		return nil, fmt.Errorf("ego draft failed: %w", err)
	}

	trace := &Trace{}

	if e.architecture == config.ArchSingle {
		trace.Rounds = append(trace.Rounds, Round{Index: 1, Draft: draft})
		trace.Status = StatusSingleAgent
		log.Debug("single-agent turn delivered without review")
		return trace, nil
	}

	for round := 1; ; round++ {
		verdict := e.review(ctx, tc, draft, log)
		trace.Rounds = append(trace.Rounds, Round{
			Index:   round,
			Draft:   draft,
			Verdict: verdict,
		})

		if verdict.Type.Terminal() {
			trace.Status = StatusConverged
			trace.RoundsToConvergence = round
			log.Debug("deliberation converged",
				zap.Int("rounds", round),
				zap.Float64("confidence", verdict.Confidence))
			return trace, nil
		}
		if round == e.maxRounds {
			// Deliver the last draft anyway; the condition is reported,
			// not raised.
			trace.Status = StatusRoundLimitExhausted
			log.Info("round limit exhausted, delivering last draft",
				zap.Int("rounds", round))
			return trace, nil
		}

		revised, err := e.regenerate(ctx, tc, draft, verdict)
		if err != nil {
			return nil, fmt.Errorf("ego revision failed in round %d: %w", round, err)
		}
		trace.Rounds[len(trace.Rounds)-1].Incorporated = revised != draft
		draft = revised
	}
}

// review asks the superego for a verdict on the draft. Extraction failures
// after the retry policy degrade to a conservative revise verdict with zero
// confidence so the loop stays bounded and the trace stays complete.
func (e *Engine) review(ctx context.Context, tc TurnContext, draft string, log *zap.Logger) *Verdict {
	prompt := superegoReviewPrompt(tc, draft, e.relational)
	opts := llm.DefaultOptions()
	opts.System = e.prompts.SuperegoSystem

	res, stats, err := llm.Structured(ctx, e.superego, e.superegoFbk, prompt, opts, verdictSchema)
	if err != nil {
		log.Warn("superego review unusable, recording conservative verdict",
			zap.Error(err),
			zap.Int("attempts", stats.Attempts))
		return &Verdict{
			Type:     VerdictRevise,
			Feedback: "review unavailable; revise for clarity and warmth",
		}
	}

	vt, ok := ParseVerdictType(res.String("verdict"))
	if !ok {
		log.Warn("unknown verdict type from superego",
			zap.String("verdict", res.String("verdict")))
		vt = VerdictRevise
	}
	confidence := res.Number("confidence")
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	verdict := &Verdict{
		Type:       vt,
		Confidence: confidence,
		Feedback:   res.String("feedback"),
	}
	if criteria := res.Map("criteria"); len(criteria) > 0 {
		verdict.Criteria = make(map[string]bool, len(criteria))
		for name, v := range criteria {
			passed, _ := v.(bool)
			verdict.Criteria[name] = passed
		}
	}
	return verdict
}

// regenerate asks the ego for a new draft, given the rejected draft, the
// verdict feedback, and the full criteria map.
func (e *Engine) regenerate(ctx context.Context, tc TurnContext, draft string, v *Verdict) (string, error) {
	prompt := egoRevisionPrompt(tc, draft, v)
	revised, err := e.ego.CompleteWithSystem(ctx, e.prompts.EgoSystem, prompt)
	if err != nil && e.egoFallback != nil {
		revised, err = e.egoFallback.CompleteWithSystem(ctx, e.prompts.EgoSystem, prompt)
	}
	return revised, err
}
