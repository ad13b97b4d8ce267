// Package trajectory derives secondary metrics from deliberation traces:
// how far the ego's output moved between the first and final draft, and
// which named pattern the round-by-round verdict sequence matches. All of
// it is deterministic string and sequence analysis; no model calls.
package trajectory

import (
	"strings"
	"unicode"

	"paideia/internal/deliberation"
)

// Class names the shape of a round sequence's verdicts.
type Class string

const (
	ClassImmediateApproval    Class = "immediate-approval"
	ClassSingleRevision       Class = "single-revision-convergence"
	ClassMultiRevision        Class = "multi-revision-convergence"
	ClassOscillatingRejection Class = "oscillating-rejection"
	ClassRoundLimitExhaustion Class = "round-limit-exhaustion-without-convergence"
	ClassSingleAgent          Class = "single-agent"
	ClassEmpty                Class = "empty"
)

// Classify matches the trace's verdict sequence against the fixed pattern
// set. Deterministic; a given trace always classifies the same way.
func Classify(t *deliberation.Trace) Class {
	if t == nil || len(t.Rounds) == 0 {
		return ClassEmpty
	}
	if t.Status == deliberation.StatusSingleAgent {
		return ClassSingleAgent
	}

	seq := t.VerdictSequence()
	switch t.Status {
	case deliberation.StatusConverged:
		switch len(seq) {
		case 1:
			return ClassImmediateApproval
		case 2:
			return ClassSingleRevision
		default:
			return ClassMultiRevision
		}
	case deliberation.StatusRoundLimitExhausted:
		if oscillates(seq) {
			return ClassOscillatingRejection
		}
		return ClassRoundLimitExhaustion
	}
	return ClassEmpty
}

// oscillates reports whether a non-converged sequence bounces between at
// least two distinct rejection types rather than repeating one critique.
func oscillates(seq []deliberation.VerdictType) bool {
	if len(seq) < 3 {
		return false
	}
	changes := 0
	for i := 1; i < len(seq); i++ {
		if seq[i] != seq[i-1] {
			changes++
		}
	}
	return changes >= 2
}

// Modulation quantifies how much the ego's output changed within one turn.
type Modulation struct {
	// WordOverlapDelta is 1 - Jaccard similarity of the first and final
	// draft token sets: 0 means unchanged, 1 means fully rewritten.
	WordOverlapDelta float64 `json:"word_overlap_delta"`
	// ToneFirst/ToneFinal are lexicon-detected tone categories.
	ToneFirst string `json:"tone_first"`
	ToneFinal string `json:"tone_final"`
	// ToneShifted reports a tone-category change between drafts.
	ToneShifted bool `json:"tone_shifted"`
	// ActionTargetChanged reports a change in the suggested-action target.
	ActionTargetChanged bool `json:"action_target_changed"`
	// Rounds is the number of rounds the turn took.
	Rounds int `json:"rounds"`
}

// Analyzer computes modulation metrics. The lexicons are configurable axes;
// the defaults cover the tutoring domain.
type Analyzer struct {
	toneLexicon map[string][]string
	actionVerbs []string
}

// NewAnalyzer returns an analyzer with the default axes.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		toneLexicon: map[string][]string{
			"empathic": {
				"understand", "feel", "frustrating", "frustrated", "normal",
				"okay", "common", "together", "sounds", "hear",
			},
			"directive": {
				"must", "should", "need", "first", "step", "start",
				"try", "practice", "read", "review",
			},
		},
		actionVerbs: []string{
			"try", "read", "write", "practice", "review", "consider",
			"reread", "summarize",
		},
	}
}

// ModulationDepth compares the first and final ego drafts of a trace.
func (a *Analyzer) ModulationDepth(t *deliberation.Trace) Modulation {
	m := Modulation{}
	if t == nil || len(t.Rounds) == 0 {
		return m
	}
	m.Rounds = len(t.Rounds)

	first := t.Rounds[0].Draft
	final := t.Delivered()

	m.WordOverlapDelta = 1 - jaccard(tokenize(first), tokenize(final))
	m.ToneFirst = a.toneOf(first)
	m.ToneFinal = a.toneOf(final)
	m.ToneShifted = m.ToneFirst != m.ToneFinal
	m.ActionTargetChanged = a.actionTarget(first) != a.actionTarget(final)
	return m
}

// toneOf picks the lexicon category with the most hits; ties and zero hits
// are "neutral".
func (a *Analyzer) toneOf(text string) string {
	tokens := tokenize(text)
	best, bestCount, tied := "neutral", 0, false
	for category, words := range a.toneLexicon {
		count := 0
		for _, w := range words {
			if tokens[w] {
				count++
			}
		}
		switch {
		case count > bestCount:
			best, bestCount, tied = category, count, false
		case count == bestCount && count > 0:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return "neutral"
	}
	return best
}

// actionTarget returns the word following the first action verb, an
// approximation of "what the tutor told the learner to act on".
func (a *Analyzer) actionTarget(text string) string {
	words := splitWords(text)
	for i, w := range words {
		for _, verb := range a.actionVerbs {
			if w == verb && i+1 < len(words) {
				return words[i+1]
			}
		}
	}
	return ""
}

// tokenize lowercases and splits text into a word set.
func tokenize(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range splitWords(text) {
		set[w] = true
	}
	return set
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// jaccard computes set similarity; two empty sets count as identical.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
