// Package stats aggregates raw per-job scores into effect estimates. Every
// function is pure: deterministic for identical inputs, no mutation of the
// slices it receives, no hidden randomness. Interpretation of the numbers
// (ceiling effects and the like) is left entirely to the consumer; only raw
// terms are reported.
package stats

import (
	"fmt"
	"math"
)

// Descriptive summarizes one cell's scores.
type Descriptive struct {
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	SD   float64 `json:"sd"` // sample standard deviation
	// Underpowered flags cells below the configured minimum sample size.
	// Flagged, never suppressed.
	Underpowered bool `json:"underpowered"`
}

// Describe computes descriptive statistics for a set of scores.
func Describe(values []float64, minSampleSize int) Descriptive {
	d := Descriptive{N: len(values)}
	d.Mean = Mean(values)
	d.SD = SD(values)
	d.Underpowered = len(values) < minSampleSize
	return d
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SD returns the sample standard deviation (n-1 denominator), 0 when n < 2.
func SD(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// ConfidenceInterval is a two-sided interval at the given level.
type ConfidenceInterval struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Level float64 `json:"level"`
}

// Comparison is a pairwise contrast between two cells.
type Comparison struct {
	MeanDiff float64            `json:"mean_diff"` // mean(a) - mean(b)
	CohensD  float64            `json:"cohens_d"`  // pooled-SD standardized
	TStat    float64            `json:"t_stat"`    // Welch statistic
	DF       float64            `json:"df"`        // Welch-Satterthwaite
	PValue   float64            `json:"p_value"`   // two-tailed
	CI       ConfidenceInterval `json:"ci"`        // 95% CI of the difference
	NA       int                `json:"n_a"`
	NB       int                `json:"n_b"`
}

// Compare runs a two-tailed Welch t-test between two score sets and reports
// the pooled-SD Cohen's d alongside.
func Compare(a, b []float64) (Comparison, error) {
	if len(a) < 2 || len(b) < 2 {
		return Comparison{}, fmt.Errorf("compare needs at least 2 observations per side, got %d and %d", len(a), len(b))
	}

	c := Comparison{NA: len(a), NB: len(b)}
	meanA, meanB := Mean(a), Mean(b)
	sdA, sdB := SD(a), SD(b)
	nA, nB := float64(len(a)), float64(len(b))

	c.MeanDiff = meanA - meanB
	c.CohensD = CohensD(a, b)

	varA, varB := sdA*sdA/nA, sdB*sdB/nB
	se := math.Sqrt(varA + varB)
	if se == 0 {
		// Zero variance on both sides: identical constants.
		if c.MeanDiff == 0 {
			c.PValue = 1
		}
		c.CI = ConfidenceInterval{Low: c.MeanDiff, High: c.MeanDiff, Level: 0.95}
		return c, nil
	}

	c.TStat = c.MeanDiff / se
	// Welch-Satterthwaite degrees of freedom.
	c.DF = (varA + varB) * (varA + varB) /
		(varA*varA/(nA-1) + varB*varB/(nB-1))
	c.PValue = TwoTailedP(c.TStat, c.DF)

	tcrit := TCritical(c.DF, 0.95)
	c.CI = ConfidenceInterval{
		Low:   c.MeanDiff - tcrit*se,
		High:  c.MeanDiff + tcrit*se,
		Level: 0.95,
	}
	return c, nil
}

// CohensD computes the pooled-standard-deviation effect size.
func CohensD(a, b []float64) float64 {
	nA, nB := float64(len(a)), float64(len(b))
	if nA < 2 || nB < 2 {
		return 0
	}
	sdA, sdB := SD(a), SD(b)
	pooled := math.Sqrt(((nA-1)*sdA*sdA + (nB-1)*sdB*sdB) / (nA + nB - 2))
	if pooled == 0 {
		return 0
	}
	return (Mean(a) - Mean(b)) / pooled
}

// TwoTailedP returns the two-tailed p-value of a t statistic with df degrees
// of freedom, via the regularized incomplete beta function.
func TwoTailedP(t, df float64) float64 {
	if df <= 0 {
		return 1
	}
	x := df / (df + t*t)
	return regIncBeta(df/2, 0.5, x)
}

// TCritical returns the two-sided critical t value for the given confidence
// level, solved by bisection on the p-value. Deterministic.
func TCritical(df, level float64) float64 {
	if df <= 0 {
		return 0
	}
	alpha := 1 - level
	lo, hi := 0.0, 1000.0
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if TwoTailedP(mid, df) > alpha {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// regIncBeta computes the regularized incomplete beta function I_x(a, b)
// using the continued fraction expansion (Lentz's method).
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lnBeta := lgamma(a) + lgamma(b) - lgamma(a+b)
	front := math.Exp(a*math.Log(x)+b*math.Log(1-x)-lnBeta) / a

	// Symmetry: converge faster on the smaller tail.
	if x > (a+1)/(a+b+2) {
		return 1 - regIncBeta(b, a, 1-x)
	}

	const (
		maxIter = 300
		eps     = 1e-12
		tiny    = 1e-300
	)
	c := 1.0
	d := 1 - (a+b)*x/(a+1)
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	result := d

	for m := 1; m <= maxIter; m++ {
		fm := float64(m)

		// Even step.
		num := fm * (b - fm) * x / ((a + 2*fm - 1) * (a + 2*fm))
		d = 1 + num*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		d = 1 / d
		c = 1 + num/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		result *= d * c

		// Odd step.
		num = -(a + fm) * (a + b + fm) * x / ((a + 2*fm) * (a + 2*fm + 1))
		d = 1 + num*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		d = 1 / d
		c = 1 + num/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		delta := d * c
		result *= delta

		if math.Abs(delta-1) < eps {
			break
		}
	}
	return front * result
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
