package optimization

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizerService_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := NewOptimizerService(0, metrics, zerolog.Nop())
	assert.Equal(t, DefaultPeriodsPerYear, svc.PeriodsPerYear())

	mu, sigma := diagonalInputs(t)

	res, err := svc.Optimize(mu, sigma, 0.06, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = svc.Optimize(mu, sigma, 0.5, Options{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	_, err = svc.Optimize(mu, sigma, 0.06, Options{Upper: map[string]float64{"A": 2}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, err = svc.MinVariance(mu, sigma, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.solves.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.solves.WithLabelValues("infeasible")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.solves.WithLabelValues("invalid")))
}

func TestOptimizerService_Estimate(t *testing.T) {
	metrics := NewMetrics(nil)
	svc := NewOptimizerService(12, metrics, zerolog.Nop())

	mu, _, err := svc.Estimate(twoAssetReturns())
	require.NoError(t, err)
	assert.InDelta(t, 0.005*12, mu.Values[0], 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.estimations))

	_, _, err = svc.Estimate(ReturnMatrix{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.estimations))
}

func TestOptimizerService_EstimateWithPeriods(t *testing.T) {
	metrics := NewMetrics(nil)
	svc := NewOptimizerService(12, metrics, zerolog.Nop())

	mu, _, err := svc.EstimateWithPeriods(twoAssetReturns(), DefaultPeriodsPerYear)
	require.NoError(t, err)
	assert.InDelta(t, 0.005*252, mu.Values[0], 1e-12)

	mu, _, err = svc.EstimateWithPeriods(twoAssetReturns(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.005*12, mu.Values[0], 1e-12)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.estimations))
}

func TestOptimizerService_Frontier(t *testing.T) {
	svc := NewOptimizerService(DefaultPeriodsPerYear, nil, zerolog.Nop())
	mu, sigma := diagonalInputs(t)

	points, err := svc.Frontier(context.Background(), mu, sigma, 4, Options{})
	require.NoError(t, err)
	assert.Len(t, points, 4)

	_, err = svc.Frontier(context.Background(), mu, sigma, 1, Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
