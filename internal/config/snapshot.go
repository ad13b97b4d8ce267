package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot is the immutable configuration view handed to every component.
// Nothing reads configuration ambiently; a Snapshot is loaded once and
// passed down explicitly.
type Snapshot struct {
	Harness   *Config
	Rubric    *Rubric
	Scenarios map[string]Scenario
	Profiles  map[string]Profile
}

// LoadSnapshot loads and cross-validates all configuration documents.
// Any failure here is fatal before jobs start.
func LoadSnapshot(configPath, rubricPath, scenarioPath, profilePath string) (*Snapshot, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	rubric, err := LoadRubric(rubricPath)
	if err != nil {
		return nil, err
	}
	scenarios, err := LoadScenarios(scenarioPath)
	if err != nil {
		return nil, err
	}
	profiles, err := LoadProfiles(profilePath)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		Harness:   cfg,
		Rubric:    rubric,
		Scenarios: scenarios,
		Profiles:  profiles,
	}
	if err := s.crossValidate(); err != nil {
		return nil, err
	}
	return s, nil
}

// crossValidate checks references between documents. A profile that enables
// generative learners against a rubric with no relational dimensions, or a
// scenario with a generative turn under a scripted-only profile, is caught
// at execution planning time; here we check document-level consistency.
func (s *Snapshot) crossValidate() error {
	v := &ValidationError{}
	if len(s.Rubric.RelationalDimensions()) == 0 {
		for _, p := range s.Profiles {
			if p.Architecture == ArchMulti {
				v.Addf("profile %q uses multi architecture but rubric %q has no relational dimensions",
					p.ID, s.Rubric.Name)
				break
			}
		}
	}
	return v.OrNil()
}

// Scenario returns the scenario by id. The second return is false for
// dangling references; callers treat that as a construction error.
func (s *Snapshot) Scenario(id string) (Scenario, bool) {
	sc, ok := s.Scenarios[id]
	return sc, ok
}

// Profile returns the profile by id.
func (s *Snapshot) Profile(id string) (Profile, bool) {
	p, ok := s.Profiles[id]
	return p, ok
}

// CellHash is a stable content hash of one (scenario, profile) configuration
// pair plus the rubric. It keys cached results: editing a scenario, profile,
// or the rubric invalidates only the affected cells.
func (s *Snapshot) CellHash(scenarioID, profileID string) (string, error) {
	sc, ok := s.Scenarios[scenarioID]
	if !ok {
		return "", fmt.Errorf("unknown scenario %q", scenarioID)
	}
	p, ok := s.Profiles[profileID]
	if !ok {
		return "", fmt.Errorf("unknown profile %q", profileID)
	}
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, part := range []any{sc, p, s.Rubric} {
		if err := enc.Encode(part); err != nil {
			return "", fmt.Errorf("failed to hash configuration: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// ScenarioIDs returns all scenario ids, sorted.
func (s *Snapshot) ScenarioIDs() []string {
	ids := make([]string, 0, len(s.Scenarios))
	for id := range s.Scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProfileIDs returns all profile ids, sorted.
func (s *Snapshot) ProfileIDs() []string {
	ids := make([]string, 0, len(s.Profiles))
	for id := range s.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
