package dialogue

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"paideia/internal/config"
	"paideia/internal/deliberation"
	"paideia/internal/llm"
	"paideia/internal/logging"
)

// Driver advances one scenario turn by turn for one profile. Turns are
// causally ordered and never run concurrently with each other; one Driver
// serves one job.
type Driver struct {
	scenario config.Scenario
	profile  config.Profile
	prompts  deliberation.PromptSet

	engine *deliberation.Engine

	// Counterpart generation. learnerClient serves the single-call
	// architecture; learnerEngine the deliberative one. Both nil when the
	// scenario is fully scripted.
	learnerClient llm.Client
	learnerEngine *deliberation.Engine

	memory   *MemoryStore // nil when the profile disables memory
	identity string       // synthetic learner identity keying the store
}

// DriverConfig wires a Driver.
type DriverConfig struct {
	Scenario      config.Scenario
	Profile       config.Profile
	Prompts       deliberation.PromptSet
	Engine        *deliberation.Engine
	LearnerClient llm.Client
	LearnerEngine *deliberation.Engine
	Memory        *MemoryStore
	Identity      string
}

// NewDriver validates the wiring against the scenario's needs.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("driver requires a deliberation engine")
	}
	needsGeneration := false
	for _, t := range cfg.Scenario.Turns {
		if !t.Scripted() {
			needsGeneration = true
		}
	}
	if needsGeneration {
		switch cfg.Profile.LearnerArch {
		case config.LearnerScripted:
			return nil, fmt.Errorf("scenario %q has generative turns but profile %q is scripted-only",
				cfg.Scenario.ID, cfg.Profile.ID)
		case config.LearnerSingle:
			if cfg.LearnerClient == nil {
				return nil, fmt.Errorf("profile %q: single learner architecture without learner client", cfg.Profile.ID)
			}
		case config.LearnerDeliberative:
			if cfg.LearnerEngine == nil {
				return nil, fmt.Errorf("profile %q: deliberative learner architecture without learner engine", cfg.Profile.ID)
			}
		}
	}
	identity := cfg.Identity
	if identity == "" {
		identity = cfg.Profile.ID + ":" + cfg.Scenario.ID
	}
	return &Driver{
		scenario:      cfg.Scenario,
		profile:       cfg.Profile,
		prompts:       cfg.Prompts,
		engine:        cfg.Engine,
		learnerClient: cfg.LearnerClient,
		learnerEngine: cfg.LearnerEngine,
		memory:        cfg.Memory,
		identity:      identity,
	}, nil
}

// Run executes every turn of the scenario. A failed turn is recorded and
// scored at the rubric minimum downstream; later turns still run with the
// last successfully delivered message as context, so partial-failure data
// survives into analysis.
func (d *Driver) Run(ctx context.Context) (*Transcript, error) {
	log := logging.L(logging.CategoryDialogue).With(
		zap.String("scenario", d.scenario.ID),
		zap.String("profile", d.profile.ID))

	transcript := &Transcript{
		ScenarioID: d.scenario.ID,
		ProfileID:  d.profile.ID,
	}

	for i, spec := range d.scenario.Turns {
		if err := ctx.Err(); err != nil {
			return transcript, err
		}

		learnerMsg, err := d.counterpartMessage(ctx, transcript, spec)
		if err != nil {
			// Without a counterpart message the turn cannot exist at all.
			// The generation directive stays out of the transcript; it is
			// an instruction, not an utterance.
			log.Warn("counterpart generation failed", zap.Int("turn", i+1), zap.Error(err))
			transcript.Append(Turn{
				Failed:     true,
				FailReason: fmt.Sprintf("counterpart generation: %v", err),
			})
			continue
		}

		tc := deliberation.TurnContext{
			ScenarioID:     d.scenario.ID,
			History:        transcript.History(),
			LearnerMessage: learnerMsg,
		}
		if d.memory != nil {
			memories, err := d.memory.Recall(d.identity)
			if err != nil {
				log.Warn("memory recall failed", zap.Error(err))
			} else {
				tc.Memory = memories
			}
		}

		trace, err := d.engine.RunTurn(ctx, tc)
		if err != nil {
			// One retry; the engine already exhausted its own fallbacks.
			trace, err = d.engine.RunTurn(ctx, tc)
		}
		if err != nil {
			log.Warn("turn failed after retries", zap.Int("turn", i+1), zap.Error(err))
			transcript.Append(Turn{
				LearnerMessage: learnerMsg,
				Failed:         true,
				FailReason:     err.Error(),
			})
			continue
		}

		turn := Turn{
			LearnerMessage: learnerMsg,
			TutorMessage:   trace.Delivered(),
			Trace:          trace,
		}
		transcript.Append(turn)

		if d.memory != nil {
			if err := d.memory.Append(d.identity, turnSummary(len(transcript.Turns), turn)); err != nil {
				log.Warn("memory append failed", zap.Error(err))
			}
		}
	}

	log.Debug("scenario complete", zap.Int("turns", len(transcript.Turns)))
	return transcript, nil
}

// counterpartMessage produces the learner's message for a turn: the scripted
// text, or a generated reaction contingent on the dialogue so far.
func (d *Driver) counterpartMessage(ctx context.Context, tr *Transcript, spec config.TurnSpec) (string, error) {
	if spec.Scripted() {
		return spec.Learner, nil
	}

	switch d.profile.LearnerArch {
	case config.LearnerSingle:
		prompt := learnerPrompt(tr, spec.Generate)
		return d.learnerClient.CompleteWithSystem(ctx, d.prompts.LearnerSystem, prompt)

	case config.LearnerDeliberative:
		tc := deliberation.TurnContext{
			ScenarioID:     d.scenario.ID,
			History:        tr.History(),
			LearnerMessage: spec.Generate,
		}
		trace, err := d.learnerEngine.RunTurn(ctx, tc)
		if err != nil {
			return "", err
		}
		return trace.Delivered(), nil
	}
	return "", fmt.Errorf("profile %q cannot generate counterpart turns", d.profile.ID)
}

// learnerPrompt renders the generation directive plus dialogue context.
func learnerPrompt(tr *Transcript, directive string) string {
	var sb strings.Builder
	sb.WriteString("## Conversation so far\n")
	history := tr.History()
	if len(history) == 0 {
		sb.WriteString("(start of conversation)\n")
	}
	for _, ex := range history {
		sb.WriteString(ex.Speaker)
		sb.WriteString(": ")
		sb.WriteString(ex.Message)
		sb.WriteString("\n")
	}
	sb.WriteString("\n## Direction\n")
	sb.WriteString(directive)
	sb.WriteString("\n\nWrite the learner's next message.")
	return sb.String()
}

// turnSummary builds the durable memory entry for one completed turn: a
// compact summary, never the raw trace.
func turnSummary(index int, t Turn) string {
	return fmt.Sprintf("turn %d: learner said %q; tutor responded %q",
		index, clip(t.LearnerMessage, 120), clip(t.TutorMessage, 120))
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
