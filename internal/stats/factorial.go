package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Cell is one factor-level combination with its collected scores. Levels
// maps factor name to a level index (0 or 1; two-level designs only).
type Cell struct {
	Levels map[string]int
	Values []float64
}

// EffectEstimate is one main or interaction effect from a factorial design.
// Recomputed on demand from cells, never cached.
type EffectEstimate struct {
	Factor       string             `json:"factor"` // "A", or "A×B" for interactions
	Interaction  bool               `json:"interaction"`
	Estimate     float64            `json:"estimate"`
	SE           float64            `json:"se"`
	CI           ConfidenceInterval `json:"ci"`
	CohensD      float64            `json:"cohens_d"`
	N            int                `json:"n"` // observations contributing
	Underpowered bool               `json:"underpowered"`
}

// Decompose computes main effects for every factor and interaction effects
// for every factor pair of a two-level factorial design, by marginal-mean
// differencing:
//
//	main(F)        = mean of cell means at F=1  -  mean of cell means at F=0
//	interaction(F,G) = ((m11 - m01) - (m10 - m00)) / 2
//
// where mij are marginal cell means at F=i, G=j. Cell means are unweighted,
// so a 2x2 with means {A0B0=40, A1B0=42, A0B1=75, A1B1=81} yields a B main
// effect of +37, an A main effect of +4, and an A×B interaction of +2.
func Decompose(cells []Cell, minSampleSize int) ([]EffectEstimate, error) {
	if len(cells) < 2 {
		return nil, fmt.Errorf("decompose needs at least 2 cells, got %d", len(cells))
	}

	factors, err := checkFactors(cells)
	if err != nil {
		return nil, err
	}

	var out []EffectEstimate
	for _, f := range factors {
		est, err := mainEffect(cells, f, minSampleSize)
		if err != nil {
			return nil, err
		}
		out = append(out, est)
	}
	for i := 0; i < len(factors); i++ {
		for j := i + 1; j < len(factors); j++ {
			est, err := interactionEffect(cells, factors[i], factors[j], minSampleSize)
			if err != nil {
				return nil, err
			}
			out = append(out, est)
		}
	}
	return out, nil
}

// checkFactors validates that every cell assigns every factor a binary level.
func checkFactors(cells []Cell) ([]string, error) {
	var factors []string
	for f := range cells[0].Levels {
		factors = append(factors, f)
	}
	sort.Strings(factors)

	for _, c := range cells {
		if len(c.Levels) != len(factors) {
			return nil, fmt.Errorf("inconsistent factor sets across cells")
		}
		for _, f := range factors {
			lvl, ok := c.Levels[f]
			if !ok {
				return nil, fmt.Errorf("cell missing factor %q", f)
			}
			if lvl != 0 && lvl != 1 {
				return nil, fmt.Errorf("factor %q has non-binary level %d", f, lvl)
			}
		}
	}
	return factors, nil
}

// half gathers the cells at the given level of a factor.
func half(cells []Cell, factor string, level int) []Cell {
	var out []Cell
	for _, c := range cells {
		if c.Levels[factor] == level {
			out = append(out, c)
		}
	}
	return out
}

// marginalMean is the unweighted mean of cell means.
func marginalMean(cells []Cell) float64 {
	if len(cells) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range cells {
		sum += Mean(c.Values)
	}
	return sum / float64(len(cells))
}

// contrastSE propagates per-cell sampling variance through a contrast where
// each cell mean carries the given absolute weight.
func contrastSE(groups [][]Cell, weights []float64) float64 {
	variance := 0.0
	for gi, group := range groups {
		w := weights[gi]
		for _, c := range group {
			n := float64(len(c.Values))
			if n < 2 {
				continue
			}
			sd := SD(c.Values)
			variance += w * w * sd * sd / n
		}
	}
	return math.Sqrt(variance)
}

func pooledValues(cells []Cell) []float64 {
	var out []float64
	for _, c := range cells {
		out = append(out, c.Values...)
	}
	return out
}

func totalN(cells []Cell) int {
	n := 0
	for _, c := range cells {
		n += len(c.Values)
	}
	return n
}

func anyUnderpowered(cells []Cell, minN int) bool {
	for _, c := range cells {
		if len(c.Values) < minN {
			return true
		}
	}
	return false
}

func mainEffect(cells []Cell, factor string, minN int) (EffectEstimate, error) {
	hi := half(cells, factor, 1)
	lo := half(cells, factor, 0)
	if len(hi) == 0 || len(lo) == 0 {
		return EffectEstimate{}, fmt.Errorf("factor %q has an empty level", factor)
	}

	est := EffectEstimate{
		Factor:       factor,
		Estimate:     marginalMean(hi) - marginalMean(lo),
		N:            totalN(cells),
		Underpowered: anyUnderpowered(cells, minN),
	}
	est.SE = contrastSE(
		[][]Cell{hi, lo},
		[]float64{1 / float64(len(hi)), 1 / float64(len(lo))},
	)
	est.CohensD = CohensD(pooledValues(hi), pooledValues(lo))
	est.CI = waldCI(est.Estimate, est.SE)
	return est, nil
}

func interactionEffect(cells []Cell, factorA, factorB string, minN int) (EffectEstimate, error) {
	quadrant := func(a, b int) []Cell {
		var out []Cell
		for _, c := range cells {
			if c.Levels[factorA] == a && c.Levels[factorB] == b {
				out = append(out, c)
			}
		}
		return out
	}

	q00, q01 := quadrant(0, 0), quadrant(0, 1)
	q10, q11 := quadrant(1, 0), quadrant(1, 1)
	for _, q := range [][]Cell{q00, q01, q10, q11} {
		if len(q) == 0 {
			return EffectEstimate{}, fmt.Errorf("interaction %s×%s has an empty quadrant", factorA, factorB)
		}
	}

	m00, m01 := marginalMean(q00), marginalMean(q01)
	m10, m11 := marginalMean(q10), marginalMean(q11)

	est := EffectEstimate{
		Factor:       strings.Join([]string{factorA, factorB}, "×"),
		Interaction:  true,
		Estimate:     ((m11 - m01) - (m10 - m00)) / 2,
		N:            totalN(cells),
		Underpowered: anyUnderpowered(cells, minN),
	}
	est.SE = contrastSE(
		[][]Cell{q00, q01, q10, q11},
		[]float64{
			1 / (2 * float64(len(q00))),
			1 / (2 * float64(len(q01))),
			1 / (2 * float64(len(q10))),
			1 / (2 * float64(len(q11))),
		},
	)
	if sd := SD(pooledValues(cells)); sd > 0 {
		est.CohensD = est.Estimate / sd
	}
	est.CI = waldCI(est.Estimate, est.SE)
	return est, nil
}

// waldCI is a normal-approximation 95% interval around a contrast.
func waldCI(estimate, se float64) ConfidenceInterval {
	const z = 1.959963984540054
	return ConfidenceInterval{
		Low:   estimate - z*se,
		High:  estimate + z*se,
		Level: 0.95,
	}
}
