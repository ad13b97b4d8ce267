package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes one multi-turn test case. Immutable once loaded;
// referenced by value everywhere.
type Scenario struct {
	ID               string     `yaml:"id"`
	Description      string     `yaml:"description"` // expected tutor behavior
	Turns            []TurnSpec `yaml:"turns"`
	RequiredElements []string   `yaml:"required_elements"`
	ForbiddenElement []string   `yaml:"forbidden_elements"`
	MinScore         float64    `yaml:"min_score"` // composite floor, 0-100
	// DimensionTests carries dimension-specific expectations consumed by
	// the external reporting stage, opaque to the harness.
	DimensionTests map[string]string `yaml:"dimension_tests"`
}

// TurnSpec is either a literal learner utterance or a directive for the
// generative counterpart.
type TurnSpec struct {
	Learner  string `yaml:"learner,omitempty"`  // scripted utterance
	Generate string `yaml:"generate,omitempty"` // directive for a generated utterance
}

// Scripted reports whether the turn uses a literal utterance.
func (t TurnSpec) Scripted() bool { return t.Generate == "" }

// scenarioFile is the on-disk document shape.
type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadScenarios reads and validates a scenario document. Scenarios are keyed
// by ID; duplicate or empty IDs are fatal.
func LoadScenarios(path string) (map[string]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios: %w", err)
	}
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}

	v := &ValidationError{}
	out := make(map[string]Scenario, len(file.Scenarios))
	for _, s := range file.Scenarios {
		if s.ID == "" {
			v.Addf("scenario with empty id")
			continue
		}
		if _, dup := out[s.ID]; dup {
			v.Addf("scenario %q declared twice", s.ID)
			continue
		}
		if len(s.Turns) == 0 {
			v.Addf("scenario %q has no turns", s.ID)
		}
		for i, turn := range s.Turns {
			if turn.Learner == "" && turn.Generate == "" {
				v.Addf("scenario %q turn %d is neither scripted nor generative", s.ID, i)
			}
			if turn.Learner != "" && turn.Generate != "" {
				v.Addf("scenario %q turn %d is both scripted and generative", s.ID, i)
			}
		}
		out[s.ID] = s
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}
