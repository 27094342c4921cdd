package optimization

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// ErrInvalidInput is returned when inputs are rejected before any computation runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientData is returned when a series is too short for a covariance estimate.
	ErrInsufficientData = errors.New("insufficient data")
)

// DefaultPeriodsPerYear is the annualization factor for daily observations.
const DefaultPeriodsPerYear = 252

// ReturnMatrix holds aligned per-period fractional returns.
// Assets fixes the order used by every derived vector and matrix.
type ReturnMatrix struct {
	Assets []string
	Dates  []time.Time // optional, len(Dates) == observations when set
	Series map[string][]float64
}

// Observations returns the number of rows of the first asset, or 0.
func (rm ReturnMatrix) Observations() int {
	if len(rm.Assets) == 0 {
		return 0
	}
	return len(rm.Series[rm.Assets[0]])
}

// ExpectedReturns holds annualized expected returns in asset order.
type ExpectedReturns struct {
	Assets []string  `json:"assets"`
	Values []float64 `json:"values"`
}

// Get returns the expected return of an asset.
func (er ExpectedReturns) Get(asset string) (float64, bool) {
	for i, a := range er.Assets {
		if a == asset {
			return er.Values[i], true
		}
	}
	return 0, false
}

// Map returns the expected returns keyed by asset.
func (er ExpectedReturns) Map() map[string]float64 {
	out := make(map[string]float64, len(er.Assets))
	for i, a := range er.Assets {
		out[a] = er.Values[i]
	}
	return out
}

// Max returns the highest expected return and its asset.
func (er ExpectedReturns) Max() (string, float64) {
	if len(er.Values) == 0 {
		return "", 0
	}
	best := 0
	for i, v := range er.Values {
		if v > er.Values[best] {
			best = i
		}
	}
	return er.Assets[best], er.Values[best]
}

// CovarianceMatrix holds the annualized covariance matrix in asset order.
// Symmetric storage guarantees At(i, j) == At(j, i).
type CovarianceMatrix struct {
	Assets []string
	Values *mat.SymDense
}

// At returns the covariance between two assets.
func (cm CovarianceMatrix) At(a, b string) (float64, bool) {
	i, j := indexOf(cm.Assets, a), indexOf(cm.Assets, b)
	if i < 0 || j < 0 {
		return 0, false
	}
	return cm.Values.At(i, j), true
}

// Rows returns the matrix as a nested slice, the wire format used by the API.
func (cm CovarianceMatrix) Rows() [][]float64 {
	n := len(cm.Assets)
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			rows[i][j] = cm.Values.At(i, j)
		}
	}
	return rows
}

// NewCovarianceMatrix builds a covariance matrix from nested rows.
// The upper triangle is used; rows must be square and symmetric within 1e-12.
func NewCovarianceMatrix(assets []string, rows [][]float64) (CovarianceMatrix, error) {
	n := len(assets)
	if n == 0 {
		return CovarianceMatrix{}, fmtInvalid("no assets provided")
	}
	if len(rows) != n {
		return CovarianceMatrix{}, fmtInvalid("covariance matrix size %d doesn't match asset count %d", len(rows), n)
	}
	for i := range rows {
		if len(rows[i]) != n {
			return CovarianceMatrix{}, fmtInvalid("covariance matrix row %d has size %d, expected %d", i, len(rows[i]), n)
		}
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if !isFinite(rows[i][j]) || !isFinite(rows[j][i]) {
				return CovarianceMatrix{}, fmtInvalid("covariance entry (%d,%d) is not finite", i, j)
			}
			if diff := rows[i][j] - rows[j][i]; diff > 1e-12 || diff < -1e-12 {
				return CovarianceMatrix{}, fmtInvalid("covariance matrix is not symmetric at (%d,%d)", i, j)
			}
			sym.SetSym(i, j, rows[i][j])
		}
	}
	return CovarianceMatrix{Assets: append([]string(nil), assets...), Values: sym}, nil
}

// PortfolioWeights maps asset to weight.
type PortfolioWeights map[string]float64

// Sum returns the total weight.
func (pw PortfolioWeights) Sum() float64 {
	var sum float64
	for _, w := range pw {
		sum += w
	}
	return sum
}

// FailureKind classifies an unsuccessful optimization.
type FailureKind string

const (
	FailureInfeasible    FailureKind = "infeasible"
	FailureNonConvergent FailureKind = "non_convergent"
)

// Failure describes why the solver produced no allocation.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// Result is the outcome of one optimization. Exactly one of the success
// fields or Failure is meaningful, selected by Success.
type Result struct {
	Success        bool             `json:"success"`
	Weights        PortfolioWeights `json:"weights,omitempty"`
	Risk           float64          `json:"risk"`
	AchievedReturn float64          `json:"achieved_return"`
	Iterations     int              `json:"iterations"`
	Failure        *Failure         `json:"failure,omitempty"`
}

// Message returns the failure reason, or "" on success.
func (r Result) Message() string {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Reason
}

func failed(kind FailureKind, reason string, iterations int) Result {
	return Result{
		Success:    false,
		Iterations: iterations,
		Failure:    &Failure{Kind: kind, Reason: reason},
	}
}

func indexOf(assets []string, asset string) int {
	for i, a := range assets {
		if a == asset {
			return i
		}
	}
	return -1
}
