package deliberation

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"paideia/internal/config"
)

// PromptSet carries the persona/system text for each role. The content is
// opaque configuration; the harness only composes it with turn context.
type PromptSet struct {
	EgoSystem      string `yaml:"ego_system"`
	SuperegoSystem string `yaml:"superego_system"`
	LearnerSystem  string `yaml:"learner_system"`
}

// DefaultPromptSet returns a minimal working prompt set, used when a profile
// does not reference one.
func DefaultPromptSet() PromptSet {
	return PromptSet{
		EgoSystem: "You are a tutor. Respond to the learner's last message, " +
			"building on the conversation so far.",
		SuperegoSystem: "You review a tutor's draft response against relational " +
			"criteria before it is delivered. Respond with ONLY a JSON object: " +
			`{"verdict": "approve|enhance|revise|reframe|redirect|escalate", ` +
			`"confidence": 0.0-1.0, "feedback": "...", ` +
			`"criteria": {"<criterion>": true|false, ...}}`,
		LearnerSystem: "You are simulating a learner in a tutoring dialogue. " +
			"React naturally to the tutor's last message.",
	}
}

// LoadPromptSet reads a prompt set document, layering over defaults so a
// partial file still yields a usable set.
func LoadPromptSet(path string) (PromptSet, error) {
	ps := DefaultPromptSet()
	if path == "" {
		return ps, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ps, fmt.Errorf("failed to read prompt set: %w", err)
	}
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return ps, fmt.Errorf("failed to parse prompt set: %w", err)
	}
	return ps, nil
}

// renderHistory flattens accumulated exchanges for inclusion in a prompt.
func renderHistory(history []Exchange) string {
	if len(history) == 0 {
		return "(start of conversation)"
	}
	var sb strings.Builder
	for _, ex := range history {
		sb.WriteString(ex.Speaker)
		sb.WriteString(": ")
		sb.WriteString(ex.Message)
		sb.WriteString("\n")
	}
	return sb.String()
}

// egoDraftPrompt builds the initial draft request for a turn.
func egoDraftPrompt(tc TurnContext) string {
	var sb strings.Builder
	sb.WriteString("## Conversation so far\n")
	sb.WriteString(renderHistory(tc.History))
	if len(tc.Memory) > 0 {
		sb.WriteString("\n## What you remember about this learner\n")
		for _, m := range tc.Memory {
			sb.WriteString("- ")
			sb.WriteString(m)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n## Learner's new message\n")
	sb.WriteString(tc.LearnerMessage)
	sb.WriteString("\n\nWrite your response to the learner.")
	return sb.String()
}

// superegoReviewPrompt builds the review request for a draft.
func superegoReviewPrompt(tc TurnContext, draft string, dims []config.Dimension) string {
	var sb strings.Builder
	sb.WriteString("## Conversation so far\n")
	sb.WriteString(renderHistory(tc.History))
	sb.WriteString("\n## Learner's new message\n")
	sb.WriteString(tc.LearnerMessage)
	sb.WriteString("\n\n## Tutor's draft response\n")
	sb.WriteString(draft)
	sb.WriteString("\n\n## Criteria to evaluate\n")
	for _, d := range dims {
		sb.WriteString(fmt.Sprintf("- %s", d.Name))
		if d.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(d.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// egoRevisionPrompt builds the regeneration request: the rejected draft, the
// verdict feedback, and the full per-criterion pass/fail map.
func egoRevisionPrompt(tc TurnContext, draft string, v *Verdict) string {
	var sb strings.Builder
	sb.WriteString(egoDraftPrompt(tc))
	sb.WriteString("\n\n## Your previous draft\n")
	sb.WriteString(draft)
	sb.WriteString(fmt.Sprintf("\n\n## Reviewer verdict: %s\n", v.Type))
	sb.WriteString("Feedback: ")
	sb.WriteString(v.Feedback)
	sb.WriteString("\n")
	if len(v.Criteria) > 0 {
		sb.WriteString("Criteria results:\n")
		names := make([]string, 0, len(v.Criteria))
		for name := range v.Criteria {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			state := "FAIL"
			if v.Criteria[name] {
				state = "PASS"
			}
			sb.WriteString(fmt.Sprintf("- %s: %s\n", name, state))
		}
	}
	sb.WriteString("\nRevise your response to address the feedback.")
	return sb.String()
}
