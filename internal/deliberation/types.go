// Package deliberation implements the bounded ego/superego critique loop.
// One turn runs as an explicit state machine: the ego drafts, the superego
// reviews against the rubric's relational dimensions, and the ego revises
// until approval or the profile's round limit. Every round is recorded in an
// append-only trace, including the forced delivery on round-limit
// exhaustion.
package deliberation

import "strings"

// VerdictType is the superego's judgment on a draft.
type VerdictType string

const (
	VerdictApprove  VerdictType = "approve"
	VerdictEnhance  VerdictType = "enhance"
	VerdictRevise   VerdictType = "revise"
	VerdictReframe  VerdictType = "reframe"
	VerdictRedirect VerdictType = "redirect"
	VerdictEscalate VerdictType = "escalate"
)

// ParseVerdictType normalizes a model-produced verdict string.
func ParseVerdictType(s string) (VerdictType, bool) {
	switch VerdictType(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictApprove:
		return VerdictApprove, true
	case VerdictEnhance:
		return VerdictEnhance, true
	case VerdictRevise:
		return VerdictRevise, true
	case VerdictReframe:
		return VerdictReframe, true
	case VerdictRedirect:
		return VerdictRedirect, true
	case VerdictEscalate:
		return VerdictEscalate, true
	}
	return "", false
}

// Terminal reports whether the verdict ends the round sequence.
func (v VerdictType) Terminal() bool { return v == VerdictApprove }

// Verdict is the superego's structured judgment on one draft.
type Verdict struct {
	Type       VerdictType     `json:"type"`
	Confidence float64         `json:"confidence"` // in [0,1]
	Feedback   string          `json:"feedback"`
	Criteria   map[string]bool `json:"criteria,omitempty"` // relational dimension -> pass
}

// Round is one ego-proposal/superego-review cycle. Verdict is nil for the
// single-agent architecture, which skips review.
type Round struct {
	Index   int      `json:"index"`
	Draft   string   `json:"draft"`
	Verdict *Verdict `json:"verdict,omitempty"`
	// Incorporated reports whether the ego's next draft actually changed
	// in response to this round's feedback.
	Incorporated bool `json:"incorporated"`
}

// TraceStatus describes how a turn's round sequence ended.
type TraceStatus string

const (
	// StatusConverged - the superego approved a draft.
	StatusConverged TraceStatus = "converged"
	// StatusRoundLimitExhausted - the round limit was reached without
	// approval and the last draft was delivered anyway. Reportable, not
	// an error.
	StatusRoundLimitExhausted TraceStatus = "round-limit-exhausted"
	// StatusSingleAgent - architecture delivered the first draft with no
	// review.
	StatusSingleAgent TraceStatus = "single-agent"
)

// Trace is the complete, append-only record of one turn's rounds. Once a
// round's verdict is recorded it is never mutated; only appending further
// rounds changes the trace.
type Trace struct {
	Rounds []Round     `json:"rounds"`
	Status TraceStatus `json:"status"`
	// RoundsToConvergence is the round count at approval, 0 when the
	// turn never converged.
	RoundsToConvergence int `json:"rounds_to_convergence"`
}

// Delivered returns the text that left the deliberation loop: the approved
// draft, or the last draft when delivery was forced.
func (t *Trace) Delivered() string {
	if len(t.Rounds) == 0 {
		return ""
	}
	return t.Rounds[len(t.Rounds)-1].Draft
}

// VerdictSequence returns the verdict types in round order, skipping
// review-less rounds.
func (t *Trace) VerdictSequence() []VerdictType {
	var seq []VerdictType
	for _, r := range t.Rounds {
		if r.Verdict != nil {
			seq = append(seq, r.Verdict.Type)
		}
	}
	return seq
}

// Exchange is one (speaker, message) pair of accumulated dialogue handed to
// the engine as context.
type Exchange struct {
	Speaker string `json:"speaker"` // "tutor" or "learner"
	Message string `json:"message"`
}
