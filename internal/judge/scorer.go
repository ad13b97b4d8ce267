// Package judge scores completed transcripts against the rubric with an
// external judge model. Unparseable judge output is retried with backoff and
// escalated to a fallback model; a record that still cannot be scored is
// marked as a judge failure and excluded from aggregation, never silently
// zero-filled, so failure rates stay measurable.
package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"paideia/internal/config"
	"paideia/internal/dialogue"
	"paideia/internal/extract"
	"paideia/internal/llm"
	"paideia/internal/logging"
)

// maxParseRetries is the per-call retry budget before the fallback model.
const maxParseRetries = 2

// ScoreRecord is the immutable scoring result for one job.
type ScoreRecord struct {
	ScenarioID string             `json:"scenario_id"`
	ProfileID  string             `json:"profile_id"`
	RunIndex   int                `json:"run_index"`
	Dimensions map[string]float64 `json:"dimensions"` // rubric scale, averaged over turns
	Composite  float64            `json:"composite"`  // weighted sum normalized to 0-100
	Holistic   *Holistic          `json:"holistic,omitempty"`
	RetryCount int                `json:"retry_count"`
	// JudgeFailure marks a record whose scoring could not be completed.
	// Such records are excluded from statistical aggregation.
	JudgeFailure bool   `json:"judge_failure"`
	FailReason   string `json:"fail_reason,omitempty"`
}

// Holistic is the whole-transcript score from the trajectory-level pass.
// Stored alongside the per-turn composite, never averaged into it.
type Holistic struct {
	Score     float64 `json:"score"` // rubric scale
	Rationale string  `json:"rationale"`
}

// Scorer scores transcripts for one profile's judge binding.
type Scorer struct {
	rubric   *config.Rubric
	judge    llm.Client
	fallback llm.Client // nil when the profile configures none

	backoffBase time.Duration
	sleep       func(time.Duration) // injectable for tests
}

// NewScorer builds a scorer. fallback may be nil.
func NewScorer(rubric *config.Rubric, judgeClient, fallback llm.Client) *Scorer {
	return &Scorer{
		rubric:      rubric,
		judge:       judgeClient,
		fallback:    fallback,
		backoffBase: 500 * time.Millisecond,
		sleep:       time.Sleep,
	}
}

// schema returns the expected judge output: one numeric field per rubric
// dimension plus a rationale.
func (s *Scorer) schema() extract.Schema {
	fields := make([]extract.Field, 0, len(s.rubric.Dimensions)+1)
	for _, d := range s.rubric.Dimensions {
		fields = append(fields, extract.Field{Name: d.Name, Kind: extract.KindNumber})
	}
	fields = append(fields, extract.Field{Name: "rationale", Kind: extract.KindString})
	return extract.Schema{Fields: fields}
}

// Score produces the ScoreRecord for a completed transcript: a per-turn
// pass over every turn, then - for multi-turn scenarios - one holistic pass
// over the whole transcript. Failed turns score at the rubric minimum.
func (s *Scorer) Score(ctx context.Context, tr *dialogue.Transcript, runIndex int) *ScoreRecord {
	log := logging.L(logging.CategoryJudge).With(
		zap.String("scenario", tr.ScenarioID),
		zap.String("profile", tr.ProfileID),
		zap.Int("run", runIndex))

	record := &ScoreRecord{
		ScenarioID: tr.ScenarioID,
		ProfileID:  tr.ProfileID,
		RunIndex:   runIndex,
		Dimensions: make(map[string]float64, len(s.rubric.Dimensions)),
	}

	sums := make(map[string]float64, len(s.rubric.Dimensions))
	scored := 0
	for _, turn := range tr.Turns {
		var dims map[string]float64
		if turn.Failed {
			// Degraded, not dropped: the failure is visible as a minimum
			// score rather than a missing observation.
			dims = s.minimumScores()
		} else {
			var retries int
			var err error
			dims, retries, err = s.scoreTurn(ctx, tr, turn.Index)
			record.RetryCount += retries
			if err != nil {
				log.Warn("judge scoring failed for turn",
					zap.Int("turn", turn.Index), zap.Error(err))
				record.JudgeFailure = true
				record.FailReason = fmt.Sprintf("turn %d: %v", turn.Index, err)
				return record
			}
		}
		for name, v := range dims {
			sums[name] += v
		}
		scored++
	}

	if scored == 0 {
		record.JudgeFailure = true
		record.FailReason = "no turns to score"
		return record
	}

	for name, sum := range sums {
		record.Dimensions[name] = sum / float64(scored)
	}
	record.Composite = s.composite(record.Dimensions)

	if len(tr.Turns) > 1 {
		holistic, retries, err := s.scoreHolistic(ctx, tr)
		record.RetryCount += retries
		if err != nil {
			// The per-turn composite stands on its own; a failed holistic
			// pass is recorded, not fatal.
			log.Warn("holistic pass failed", zap.Error(err))
		} else {
			record.Holistic = holistic
		}
	}

	log.Debug("transcript scored",
		zap.Float64("composite", record.Composite),
		zap.Int("retries", record.RetryCount))
	return record
}

// scoreTurn runs the judge on a single turn with the retry/backoff/fallback
// policy. Returns the per-dimension scores clamped to the rubric scale.
func (s *Scorer) scoreTurn(ctx context.Context, tr *dialogue.Transcript, turnIndex int) (map[string]float64, int, error) {
	prompt := s.turnPrompt(tr, turnIndex)
	res, retries, err := s.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, retries, err
	}
	return s.dimensionScores(res), retries, nil
}

// scoreHolistic runs the trajectory-level pass over the full transcript.
func (s *Scorer) scoreHolistic(ctx context.Context, tr *dialogue.Transcript) (*Holistic, int, error) {
	prompt := s.holisticPrompt(tr)
	schema := extract.Schema{Fields: []extract.Field{
		{Name: "score", Kind: extract.KindNumber},
		{Name: "rationale", Kind: extract.KindString},
	}}

	res, retries, err := s.callSchemaWithRetry(ctx, prompt, schema)
	if err != nil {
		return nil, retries, err
	}
	return &Holistic{
		Score:     s.clamp(res.Number("score")),
		Rationale: res.String("rationale"),
	}, retries, nil
}

func (s *Scorer) callWithRetry(ctx context.Context, prompt string) (extract.Result, int, error) {
	return s.callSchemaWithRetry(ctx, prompt, s.schema())
}

// callSchemaWithRetry invokes the judge up to 1+maxParseRetries times with
// exponential backoff, then once against the fallback judge model.
func (s *Scorer) callSchemaWithRetry(ctx context.Context, prompt string, schema extract.Schema) (extract.Result, int, error) {
	retries := 0
	var lastErr error

	for attempt := 0; attempt <= maxParseRetries; attempt++ {
		if attempt > 0 {
			retries++
			s.sleep(s.backoffBase << (attempt - 1))
		}
		if err := ctx.Err(); err != nil {
			return nil, retries, err
		}

		raw, err := s.judge.CompleteWithSystem(ctx, judgeSystemPrompt, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		res, fail := extract.Extract(raw, schema)
		if fail == nil {
			return res, retries, nil
		}
		lastErr = fail
	}

	if s.fallback != nil {
		retries++
		raw, err := s.fallback.CompleteWithSystem(ctx, judgeSystemPrompt, prompt)
		if err == nil {
			if res, fail := extract.Extract(raw, schema); fail == nil {
				return res, retries, nil
			} else {
				lastErr = fail
			}
		} else {
			lastErr = err
		}
	}
	return nil, retries, fmt.Errorf("judge output unusable after %d retries: %w", retries, lastErr)
}

// dimensionScores pulls each rubric dimension out of a validated result,
// clamped to the rubric scale.
func (s *Scorer) dimensionScores(res extract.Result) map[string]float64 {
	out := make(map[string]float64, len(s.rubric.Dimensions))
	for _, d := range s.rubric.Dimensions {
		out[d.Name] = s.clamp(res.Number(d.Name))
	}
	return out
}

// minimumScores is the degraded score set for a failed turn.
func (s *Scorer) minimumScores() map[string]float64 {
	out := make(map[string]float64, len(s.rubric.Dimensions))
	for _, d := range s.rubric.Dimensions {
		out[d.Name] = s.rubric.ScaleMin
	}
	return out
}

func (s *Scorer) clamp(v float64) float64 {
	if v < s.rubric.ScaleMin {
		return s.rubric.ScaleMin
	}
	if v > s.rubric.ScaleMax {
		return s.rubric.ScaleMax
	}
	return v
}

// composite computes the weighted dimension sum normalized to 0-100.
// Weights were validated to sum to 1.0 at load time.
func (s *Scorer) composite(dims map[string]float64) float64 {
	weighted := 0.0
	for _, d := range s.rubric.Dimensions {
		weighted += d.Weight * dims[d.Name]
	}
	span := s.rubric.ScaleMax - s.rubric.ScaleMin
	return (weighted - s.rubric.ScaleMin) / span * 100
}

// turnPrompt renders a single turn plus the rubric for per-turn scoring.
func (s *Scorer) turnPrompt(tr *dialogue.Transcript, turnIndex int) string {
	var sb strings.Builder
	sb.WriteString("## Exchange to score\n")
	sb.WriteString(tr.RenderTurn(turnIndex))
	sb.WriteString("\n## Full conversation (context)\n")
	sb.WriteString(tr.Render())
	sb.WriteString("\n")
	s.writeRubric(&sb)
	sb.WriteString(fmt.Sprintf(
		"\nScore the tutor's response in the exchange above. Respond with ONLY a JSON object: "+
			"{%s, \"rationale\": \"...\"}", s.schemaHint()))
	return sb.String()
}

// holisticPrompt asks for trajectory-level qualities across all turns.
func (s *Scorer) holisticPrompt(tr *dialogue.Transcript) string {
	var sb strings.Builder
	sb.WriteString("## Full conversation\n")
	sb.WriteString(tr.Render())
	sb.WriteString("\n")
	s.writeRubric(&sb)
	sb.WriteString(fmt.Sprintf(
		"\nConsidering the conversation as a whole - consistency, progression, and how the tutor "+
			"adapted across turns - give one overall score on the %g-%g scale. Respond with ONLY a "+
			"JSON object: {\"score\": <number>, \"rationale\": \"...\"}",
		s.rubric.ScaleMin, s.rubric.ScaleMax))
	return sb.String()
}

func (s *Scorer) writeRubric(sb *strings.Builder) {
	fmt.Fprintf(sb, "## Rubric (%g-%g scale)\n", s.rubric.ScaleMin, s.rubric.ScaleMax)
	for _, d := range s.rubric.Dimensions {
		fmt.Fprintf(sb, "- %s (weight %.2f)", d.Name, d.Weight)
		if d.Description != "" {
			fmt.Fprintf(sb, ": %s", d.Description)
		}
		sb.WriteString("\n")
	}
}

func (s *Scorer) schemaHint() string {
	parts := make([]string, len(s.rubric.Dimensions))
	for i, d := range s.rubric.Dimensions {
		parts[i] = fmt.Sprintf("%q: <number>", d.Name)
	}
	return strings.Join(parts, ", ")
}

// judgeSystemPrompt frames the judge role. The rubric text itself arrives
// per call.
const judgeSystemPrompt = `You are an expert evaluator of tutoring dialogues. ` +
	`You score tutor responses against a rubric, one number per dimension on the given scale. ` +
	`Be objective and consistent. Respond with ONLY the requested JSON object.`
