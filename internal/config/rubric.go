package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// weightEpsilon is the tolerance for the weights-sum-to-one check.
const weightEpsilon = 1e-6

// Rubric is the named, weighted set of scoring dimensions used by the judge
// and, for its relational subset, by the superego during review.
type Rubric struct {
	Name       string      `yaml:"name"`
	ScaleMin   float64     `yaml:"scale_min"`
	ScaleMax   float64     `yaml:"scale_max"`
	Dimensions []Dimension `yaml:"dimensions"`
}

// Dimension is one scoring axis of the rubric.
type Dimension struct {
	Name        string  `yaml:"name"`
	Weight      float64 `yaml:"weight"`
	Description string  `yaml:"description"`
	// Relational marks dimensions the superego critiques during
	// deliberation (as opposed to content dimensions only the judge sees).
	Relational bool `yaml:"relational"`
}

// LoadRubric reads and validates a rubric document.
func LoadRubric(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric: %w", err)
	}
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rubric: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks structural soundness. Weight sum outside 1.0±epsilon is a
// fatal configuration error.
func (r *Rubric) Validate() error {
	v := &ValidationError{}
	if len(r.Dimensions) == 0 {
		v.Addf("rubric %q has no dimensions", r.Name)
	}
	if r.ScaleMin >= r.ScaleMax {
		v.Addf("rubric %q scale [%g, %g] is empty", r.Name, r.ScaleMin, r.ScaleMax)
	}
	seen := make(map[string]bool, len(r.Dimensions))
	sum := 0.0
	for _, d := range r.Dimensions {
		if d.Name == "" {
			v.Addf("rubric %q has an unnamed dimension", r.Name)
		}
		if seen[d.Name] {
			v.Addf("rubric %q dimension %q declared twice", r.Name, d.Name)
		}
		seen[d.Name] = true
		if d.Weight < 0 {
			v.Addf("dimension %q has negative weight %g", d.Name, d.Weight)
		}
		sum += d.Weight
	}
	if len(r.Dimensions) > 0 && math.Abs(sum-1.0) > weightEpsilon {
		v.Addf("rubric %q weights sum to %g, must sum to 1.0", r.Name, sum)
	}
	return v.OrNil()
}

// RelationalDimensions returns the subset the superego reviews against.
func (r *Rubric) RelationalDimensions() []Dimension {
	var out []Dimension
	for _, d := range r.Dimensions {
		if d.Relational {
			out = append(out, d)
		}
	}
	return out
}

// DimensionNames returns dimension names in declaration order.
func (r *Rubric) DimensionNames() []string {
	names := make([]string, len(r.Dimensions))
	for i, d := range r.Dimensions {
		names[i] = d.Name
	}
	return names
}
