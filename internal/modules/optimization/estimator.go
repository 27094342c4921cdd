package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Estimate converts aligned returns into annualized expected returns and an
// annualized sample covariance matrix (N-1 denominator).
//
// The input must already be cleaned: any NaN or Inf is rejected rather than
// propagated. Series shorter than two observations yield ErrInsufficientData.
func Estimate(returns ReturnMatrix, periodsPerYear int) (ExpectedReturns, CovarianceMatrix, error) {
	if periodsPerYear <= 0 {
		return ExpectedReturns{}, CovarianceMatrix{}, fmtInvalid("periods per year must be positive, got %d", periodsPerYear)
	}

	data, err := returnsToDense(returns)
	if err != nil {
		return ExpectedReturns{}, CovarianceMatrix{}, err
	}

	n := len(returns.Assets)
	scale := float64(periodsPerYear)

	mu := ExpectedReturns{
		Assets: append([]string(nil), returns.Assets...),
		Values: make([]float64, n),
	}
	for j, asset := range returns.Assets {
		mu.Values[j] = stat.Mean(returns.Series[asset], nil) * scale
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, data, nil)
	cov.ScaleSym(scale, cov)

	return mu, CovarianceMatrix{
		Assets: append([]string(nil), returns.Assets...),
		Values: cov,
	}, nil
}

// CorrelationMatrix holds pairwise Pearson correlations in asset order.
type CorrelationMatrix struct {
	Assets []string
	Values *mat.SymDense
}

// Rows returns the correlations as a nested slice.
func (cm CorrelationMatrix) Rows() [][]float64 {
	return CovarianceMatrix(cm).Rows()
}

// Correlations derives the correlation matrix from a covariance matrix.
// Pairs involving a zero-variance asset get correlation 0.
func Correlations(sigma CovarianceMatrix) CorrelationMatrix {
	n := len(sigma.Assets)
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		vi := sigma.Values.At(i, i)
		for j := i; j < n; j++ {
			vj := sigma.Values.At(j, j)
			if vi <= 0 || vj <= 0 {
				continue
			}
			if i == j {
				corr.SetSym(i, i, 1)
				continue
			}
			corr.SetSym(i, j, sigma.Values.At(i, j)/math.Sqrt(vi*vj))
		}
	}
	return CorrelationMatrix{Assets: append([]string(nil), sigma.Assets...), Values: corr}
}

// AssetProfile is one asset's standalone annualized return and volatility.
type AssetProfile struct {
	Asset      string  `json:"asset"`
	Return     float64 `json:"return"`
	Volatility float64 `json:"volatility"`
}

// AssetProfiles pairs each asset's expected return with sqrt of its variance.
func AssetProfiles(mu ExpectedReturns, sigma CovarianceMatrix) ([]AssetProfile, error) {
	if err := checkAligned(mu, sigma); err != nil {
		return nil, err
	}
	profiles := make([]AssetProfile, len(mu.Assets))
	for i, asset := range mu.Assets {
		profiles[i] = AssetProfile{
			Asset:      asset,
			Return:     mu.Values[i],
			Volatility: math.Sqrt(math.Max(sigma.Values.At(i, i), 0)),
		}
	}
	return profiles, nil
}

// returnsToDense validates the matrix and lays it out as observations x assets.
func returnsToDense(returns ReturnMatrix) (*mat.Dense, error) {
	if len(returns.Assets) == 0 {
		return nil, fmtInvalid("no assets provided")
	}

	seen := make(map[string]bool, len(returns.Assets))
	length := -1
	for _, asset := range returns.Assets {
		if seen[asset] {
			return nil, fmtInvalid("duplicate asset %s", asset)
		}
		seen[asset] = true

		series, ok := returns.Series[asset]
		if !ok {
			return nil, fmtInvalid("missing returns for asset %s", asset)
		}
		if len(series) < 2 {
			return nil, fmt.Errorf("%w: asset %s has %d observations, need at least 2", ErrInsufficientData, asset, len(series))
		}
		if length < 0 {
			length = len(series)
		}
		if len(series) != length {
			return nil, fmtInvalid("inconsistent return lengths: expected %d, got %d for asset %s", length, len(series), asset)
		}
		for t, r := range series {
			if !isFinite(r) {
				return nil, fmtInvalid("asset %s has a missing or non-finite return at row %d", asset, t)
			}
		}
	}
	if len(returns.Dates) > 0 && len(returns.Dates) != length {
		return nil, fmtInvalid("date index has %d rows, series have %d", len(returns.Dates), length)
	}

	data := mat.NewDense(length, len(returns.Assets), nil)
	for j, asset := range returns.Assets {
		data.SetCol(j, returns.Series[asset])
	}
	return data, nil
}

func fmtInvalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
