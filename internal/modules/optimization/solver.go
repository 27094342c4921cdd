package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Optimize finds the minimum-variance, long-only, fully invested portfolio
// whose expected return is at least targetReturn.
//
// Mathematical formulation:
//   - minimize ½ w'Σw
//   - Σw = 1
//   - w'μ ≥ targetReturn
//   - 0 ≤ w_i ≤ 1
//
// Malformed inputs return an error wrapping ErrInvalidInput. An unreachable
// target or a solver breakdown is reported through Result.Failure instead.
// Weights are returned as solved, without filtering or renormalization.
func Optimize(mu ExpectedReturns, sigma CovarianceMatrix, targetReturn float64) (Result, error) {
	return OptimizeWithOptions(mu, sigma, targetReturn, Options{})
}

// OptimizeWithOptions is Optimize with per-asset bounds and an iteration cap.
func OptimizeWithOptions(mu ExpectedReturns, sigma CovarianceMatrix, targetReturn float64, opts Options) (Result, error) {
	if !isFinite(targetReturn) {
		return Result{}, fmtInvalid("target return must be finite, got %v", targetReturn)
	}
	if err := checkAligned(mu, sigma); err != nil {
		return Result{}, err
	}
	cons, err := BuildConstraints(mu.Assets, opts)
	if err != nil {
		return Result{}, err
	}

	q := &qpProblem{
		G:       sigma.Values,
		lower:   cons.MinWeights,
		upper:   cons.MaxWeights,
		ret:     mu.Values,
		target:  targetReturn,
		maxIter: opts.MaxIterations,
	}
	return run(q, mu, sigma, cons), nil
}

// MinVariance returns the global minimum-variance portfolio under the
// default bounds, with no return requirement.
func MinVariance(mu ExpectedReturns, sigma CovarianceMatrix) (Result, error) {
	return MinVarianceWithOptions(mu, sigma, Options{})
}

// MinVarianceWithOptions is MinVariance with per-asset bounds.
func MinVarianceWithOptions(mu ExpectedReturns, sigma CovarianceMatrix, opts Options) (Result, error) {
	if err := checkAligned(mu, sigma); err != nil {
		return Result{}, err
	}
	cons, err := BuildConstraints(mu.Assets, opts)
	if err != nil {
		return Result{}, err
	}

	q := &qpProblem{
		G:       sigma.Values,
		lower:   cons.MinWeights,
		upper:   cons.MaxWeights,
		maxIter: opts.MaxIterations,
	}
	return run(q, mu, sigma, cons), nil
}

// MaxReturn returns the highest expected return any portfolio within the
// bounds can reach. Targets above it are infeasible.
func MaxReturn(mu ExpectedReturns, opts Options) (float64, error) {
	if len(mu.Assets) == 0 {
		return 0, fmtInvalid("no assets provided")
	}
	if len(mu.Values) != len(mu.Assets) {
		return 0, fmtInvalid("expected returns have %d values for %d assets", len(mu.Values), len(mu.Assets))
	}
	cons, err := BuildConstraints(mu.Assets, opts)
	if err != nil {
		return 0, err
	}
	if !cons.Feasible() {
		return 0, fmt.Errorf("%w: weight bounds admit no fully invested portfolio", ErrInvalidInput)
	}
	q := &qpProblem{lower: cons.MinWeights, upper: cons.MaxWeights, ret: mu.Values}
	return floats.Dot(mu.Values, q.maxReturnAllocation()), nil
}

// PortfolioRisk returns sqrt(w'Σw) for weights in sigma's asset order.
func PortfolioRisk(sigma CovarianceMatrix, w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	variance := mat.Inner(v, sigma.Values, v)
	return math.Sqrt(math.Max(variance, 0))
}

func run(q *qpProblem, mu ExpectedReturns, sigma CovarianceMatrix, cons Constraints) Result {
	start, ok, reason := q.feasibleStart()
	if !ok {
		return failed(FailureInfeasible, reason, 0)
	}

	sol := q.solve(start)
	switch sol.status {
	case qpOptimal:
	case qpIterationLimit, qpSingular:
		return failed(FailureNonConvergent, sol.reason, sol.iterations)
	default:
		return failed(FailureInfeasible, sol.reason, sol.iterations)
	}

	if !cons.Satisfied(sol.w, 1e-8) {
		return failed(FailureNonConvergent, "solution drifted outside the weight bounds or budget", sol.iterations)
	}
	achieved := floats.Dot(mu.Values, sol.w)
	if q.ret != nil && achieved < q.target-1e-8 {
		return failed(FailureNonConvergent,
			fmt.Sprintf("solution return %g falls short of target %g", achieved, q.target), sol.iterations)
	}

	weights := make(PortfolioWeights, len(mu.Assets))
	for i, asset := range mu.Assets {
		weights[asset] = sol.w[i]
	}
	return Result{
		Success:        true,
		Weights:        weights,
		Risk:           PortfolioRisk(sigma, sol.w),
		AchievedReturn: achieved,
		Iterations:     sol.iterations,
	}
}

// checkAligned validates that mu and sigma describe the same assets in the
// same order, with finite values.
func checkAligned(mu ExpectedReturns, sigma CovarianceMatrix) error {
	n := len(mu.Assets)
	if n == 0 {
		return fmtInvalid("no assets provided")
	}
	if len(mu.Values) != n {
		return fmtInvalid("expected returns have %d values for %d assets", len(mu.Values), n)
	}
	if sigma.Values == nil {
		return fmtInvalid("covariance matrix is missing")
	}
	if len(sigma.Assets) != n {
		return fmtInvalid("covariance matrix covers %d assets, expected returns cover %d", len(sigma.Assets), n)
	}
	if dim := sigma.Values.SymmetricDim(); dim != n {
		return fmtInvalid("covariance matrix size %d doesn't match asset count %d", dim, n)
	}

	seen := make(map[string]bool, n)
	for i, asset := range mu.Assets {
		if seen[asset] {
			return fmtInvalid("duplicate asset %s", asset)
		}
		seen[asset] = true
		if sigma.Assets[i] != asset {
			return fmtInvalid("asset order mismatch at position %d: %s vs %s", i, asset, sigma.Assets[i])
		}
		if !isFinite(mu.Values[i]) {
			return fmtInvalid("expected return for %s is not finite", asset)
		}
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if !isFinite(sigma.Values.At(i, j)) {
				return fmtInvalid("covariance entry (%d,%d) is not finite", i, j)
			}
		}
	}
	return nil
}
