package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Architecture selects how an agent produces its output.
type Architecture string

const (
	// ArchSingle delivers the first ego draft without review.
	ArchSingle Architecture = "single"
	// ArchMulti runs the full ego/superego deliberation loop.
	ArchMulti Architecture = "multi"
)

// LearnerArchitecture selects how generative counterpart turns are produced.
type LearnerArchitecture string

const (
	// LearnerScripted never generates; generative turns are a config error.
	LearnerScripted LearnerArchitecture = "scripted"
	// LearnerSingle produces counterpart turns with one model call.
	LearnerSingle LearnerArchitecture = "single"
	// LearnerDeliberative runs the counterpart through its own
	// deliberation loop, sharing the tutor verdict taxonomy.
	LearnerDeliberative LearnerArchitecture = "deliberative"
)

// Model roles a profile must bind.
const (
	RoleEgo      = "ego"
	RoleSuperego = "superego"
	RoleJudge    = "judge"
	RoleLearner  = "learner"
)

// Profile is one experimental condition: which architecture runs, with which
// models, under which round limit. Immutable configuration.
type Profile struct {
	ID           string       `yaml:"id"`
	Architecture Architecture `yaml:"architecture"`
	MaxRounds    int          `yaml:"max_rounds"`

	// Models binds each role to a model name; FallbackModels are the
	// retry/escalation targets. Both are data, never code.
	Models         map[string]string `yaml:"models"`
	FallbackModels map[string]string `yaml:"fallback_models"`

	Memory    bool   `yaml:"memory"`     // enable per-identity cross-turn memory
	PromptSet string `yaml:"prompt_set"` // opaque reference to prompt text config

	LearnerArch LearnerArchitecture `yaml:"learner_architecture"`
}

// profileFile is the on-disk document shape.
type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads and validates a profile document.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}

	v := &ValidationError{}
	out := make(map[string]Profile, len(file.Profiles))
	for _, p := range file.Profiles {
		if p.ID == "" {
			v.Addf("profile with empty id")
			continue
		}
		if _, dup := out[p.ID]; dup {
			v.Addf("profile %q declared twice", p.ID)
			continue
		}
		p.applyDefaults()
		p.validate(v)
		out[p.ID] = p
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Profile) applyDefaults() {
	if p.Architecture == "" {
		p.Architecture = ArchMulti
	}
	if p.MaxRounds == 0 {
		p.MaxRounds = 3
	}
	if p.LearnerArch == "" {
		p.LearnerArch = LearnerScripted
	}
}

var knownRoles = map[string]bool{
	RoleEgo:      true,
	RoleSuperego: true,
	RoleJudge:    true,
	RoleLearner:  true,
}

func (p *Profile) validate(v *ValidationError) {
	switch p.Architecture {
	case ArchSingle, ArchMulti:
	default:
		v.Addf("profile %q: unknown architecture %q", p.ID, p.Architecture)
	}
	switch p.LearnerArch {
	case LearnerScripted, LearnerSingle, LearnerDeliberative:
	default:
		v.Addf("profile %q: unknown learner_architecture %q", p.ID, p.LearnerArch)
	}
	if p.MaxRounds < 1 || p.MaxRounds > 5 {
		v.Addf("profile %q: max_rounds %d out of range [1,5]", p.ID, p.MaxRounds)
	}
	for role := range p.Models {
		if !knownRoles[role] {
			v.Addf("profile %q: unknown model role %q", p.ID, role)
		}
	}
	for role := range p.FallbackModels {
		if !knownRoles[role] {
			v.Addf("profile %q: unknown fallback model role %q", p.ID, role)
		}
	}
	if p.Models[RoleEgo] == "" {
		v.Addf("profile %q: no ego model bound", p.ID)
	}
	if p.Architecture == ArchMulti && p.Models[RoleSuperego] == "" {
		v.Addf("profile %q: multi architecture requires a superego model", p.ID)
	}
	if p.Models[RoleJudge] == "" {
		v.Addf("profile %q: no judge model bound", p.ID)
	}
	if p.LearnerArch != LearnerScripted && p.Models[RoleLearner] == "" {
		v.Addf("profile %q: learner_architecture %q requires a learner model",
			p.ID, p.LearnerArch)
	}
}

// Model returns the model bound to role, or the empty string.
func (p Profile) Model(role string) string { return p.Models[role] }

// Fallback returns the fallback model for role, or the empty string.
func (p Profile) Fallback(role string) string { return p.FallbackModels[role] }
