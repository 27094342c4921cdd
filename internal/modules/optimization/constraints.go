package optimization

import (
	"fmt"
	"math"
	"sort"
)

// Default weight bounds: long-only, fully invested.
const (
	DefaultMinWeight = 0.0
	DefaultMaxWeight = 1.0
)

// Options tunes a single solve.
type Options struct {
	// Lower and Upper override the per-asset weight bounds. Missing assets
	// keep the defaults [0, 1].
	Lower map[string]float64
	Upper map[string]float64
	// MaxIterations caps the active-set iterations. Zero picks a limit
	// proportional to the number of assets.
	MaxIterations int
}

// Constraints is the resolved, asset-ordered form of Options.
type Constraints struct {
	Assets     []string
	MinWeights []float64
	MaxWeights []float64
}

// BuildConstraints resolves per-asset bounds in the order of assets.
// Bounds outside [0, 1], lower above upper, or bounds naming unknown assets
// are rejected with ErrInvalidInput.
func BuildConstraints(assets []string, opts Options) (Constraints, error) {
	if err := checkBoundAssets(assets, opts.Lower, "lower"); err != nil {
		return Constraints{}, err
	}
	if err := checkBoundAssets(assets, opts.Upper, "upper"); err != nil {
		return Constraints{}, err
	}
	if opts.MaxIterations < 0 {
		return Constraints{}, fmtInvalid("max iterations must not be negative, got %d", opts.MaxIterations)
	}

	c := Constraints{
		Assets:     append([]string(nil), assets...),
		MinWeights: make([]float64, len(assets)),
		MaxWeights: make([]float64, len(assets)),
	}
	for i, asset := range assets {
		lower, upper := DefaultMinWeight, DefaultMaxWeight
		if v, ok := opts.Lower[asset]; ok {
			lower = v
		}
		if v, ok := opts.Upper[asset]; ok {
			upper = v
		}
		if !isFinite(lower) || !isFinite(upper) {
			return Constraints{}, fmtInvalid("bounds for %s are not finite", asset)
		}
		if lower < 0 || upper > 1 {
			return Constraints{}, fmtInvalid("bounds for %s must lie in [0, 1], got [%g, %g]", asset, lower, upper)
		}
		if lower > upper {
			return Constraints{}, fmtInvalid("lower bound %g exceeds upper bound %g for %s", lower, upper, asset)
		}
		c.MinWeights[i] = lower
		c.MaxWeights[i] = upper
	}
	return c, nil
}

// Feasible reports whether any fully invested portfolio satisfies the bounds.
func (c Constraints) Feasible() bool {
	var lo, hi float64
	for i := range c.Assets {
		lo += c.MinWeights[i]
		hi += c.MaxWeights[i]
	}
	return lo <= 1+feasibleTol && hi >= 1-feasibleTol
}

// Satisfied reports whether w respects the bounds and the budget within tol.
func (c Constraints) Satisfied(w []float64, tol float64) bool {
	var sum float64
	for i, v := range w {
		if v < c.MinWeights[i]-tol || v > c.MaxWeights[i]+tol {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) <= tol
}

func checkBoundAssets(assets []string, bounds map[string]float64, side string) error {
	if len(bounds) == 0 {
		return nil
	}
	known := make(map[string]bool, len(assets))
	for _, a := range assets {
		known[a] = true
	}
	var unknown []string
	for a := range bounds {
		if !known[a] {
			unknown = append(unknown, a)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s bounds name unknown assets %v", ErrInvalidInput, side, unknown)
	}
	return nil
}
