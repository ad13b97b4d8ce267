// Package dialogue advances scenarios turn by turn, feeding counterpart
// messages and accumulated context into the deliberation engine and
// recording the resulting transcript.
package dialogue

import (
	"fmt"
	"strings"

	"paideia/internal/deliberation"
)

// Speaker labels for transcript entries.
const (
	SpeakerLearner = "learner"
	SpeakerTutor   = "tutor"
)

// Turn is one completed exchange of a scenario run. Failed turns keep their
// slot so partial-failure data survives into analysis.
type Turn struct {
	Index          int                 `json:"index"`
	LearnerMessage string              `json:"learner_message"`
	TutorMessage   string              `json:"tutor_message"`
	Trace          *deliberation.Trace `json:"trace,omitempty"`
	Failed         bool                `json:"failed"`
	FailReason     string              `json:"fail_reason,omitempty"`
}

// Transcript is the ordered record of one scenario execution under one
// profile. Turns are strictly append-only; once the scenario completes the
// transcript is read-only evidence.
type Transcript struct {
	ScenarioID string `json:"scenario_id"`
	ProfileID  string `json:"profile_id"`
	RunIndex   int    `json:"run_index"`
	Turns      []Turn `json:"turns"`
}

// Append adds a completed turn. Turn order is assigned here and never
// changes afterward.
func (tr *Transcript) Append(t Turn) {
	t.Index = len(tr.Turns) + 1
	tr.Turns = append(tr.Turns, t)
}

// History flattens the transcript into exchanges for prompt context,
// skipping tutor messages of failed turns.
func (tr *Transcript) History() []deliberation.Exchange {
	var out []deliberation.Exchange
	for _, t := range tr.Turns {
		if t.LearnerMessage != "" {
			out = append(out, deliberation.Exchange{Speaker: SpeakerLearner, Message: t.LearnerMessage})
		}
		if !t.Failed && t.TutorMessage != "" {
			out = append(out, deliberation.Exchange{Speaker: SpeakerTutor, Message: t.TutorMessage})
		}
	}
	return out
}

// Render formats the transcript for inclusion in a judge prompt.
func (tr *Transcript) Render() string {
	var sb strings.Builder
	for _, t := range tr.Turns {
		learnerMsg := t.LearnerMessage
		if learnerMsg == "" && t.Failed {
			learnerMsg = "(no message - turn failed)"
		}
		sb.WriteString(fmt.Sprintf("[turn %d] %s: %s\n", t.Index, SpeakerLearner, learnerMsg))
		if t.Failed {
			sb.WriteString(fmt.Sprintf("[turn %d] %s: (no response - turn failed)\n", t.Index, SpeakerTutor))
			continue
		}
		sb.WriteString(fmt.Sprintf("[turn %d] %s: %s\n", t.Index, SpeakerTutor, t.TutorMessage))
	}
	return sb.String()
}

// RenderTurn formats a single turn for per-turn scoring.
func (tr *Transcript) RenderTurn(index int) string {
	for _, t := range tr.Turns {
		if t.Index == index {
			sub := Transcript{Turns: []Turn{t}}
			sub.Turns[0].Index = index
			return sub.Render()
		}
	}
	return ""
}
