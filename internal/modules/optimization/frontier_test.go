package optimization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEfficientFrontier(t *testing.T) {
	mu, sigma := estimatedInputs(t)

	points, err := EfficientFrontier(context.Background(), mu, sigma, 8, Options{})
	require.NoError(t, err)
	require.Len(t, points, 8)

	gmv, err := MinVariance(mu, sigma)
	require.NoError(t, err)
	_, top := mu.Max()

	assert.InDelta(t, gmv.AchievedReturn, points[0].TargetReturn, 1e-12)
	assert.Equal(t, top, points[len(points)-1].TargetReturn)

	for i, p := range points {
		assertValidAllocation(t, p.Result, mu, p.TargetReturn)
		if i > 0 {
			assert.Greater(t, p.TargetReturn, points[i-1].TargetReturn)
			assert.GreaterOrEqual(t, p.Result.Risk, points[i-1].Result.Risk-1e-9)
		}
	}
}

func TestEfficientFrontier_MatchesSequentialSolves(t *testing.T) {
	mu, sigma := diagonalInputs(t)

	points, err := EfficientFrontier(context.Background(), mu, sigma, 5, Options{})
	require.NoError(t, err)

	for _, p := range points {
		res, err := Optimize(mu, sigma, p.TargetReturn)
		require.NoError(t, err)
		assert.Equal(t, res, p.Result)
	}
}

func TestEfficientFrontier_RespectsBounds(t *testing.T) {
	mu, sigma := diagonalInputs(t)
	opts := Options{Upper: map[string]float64{"C": 0.3}}

	points, err := EfficientFrontier(context.Background(), mu, sigma, 6, opts)
	require.NoError(t, err)
	require.Len(t, points, 6)

	// C capped at 0.3 leaves A to fill the rest: 0.3*0.15 + 0.7*0.12.
	assert.InDelta(t, 0.129, points[len(points)-1].TargetReturn, 1e-12)
	for _, p := range points {
		assertValidAllocation(t, p.Result, mu, p.TargetReturn)
		assert.LessOrEqual(t, p.Result.Weights["C"], 0.3+1e-9, "target %v", p.TargetReturn)

		res, err := OptimizeWithOptions(mu, sigma, p.TargetReturn, opts)
		require.NoError(t, err)
		assert.Equal(t, res, p.Result)
	}
}

func TestEfficientFrontier_InvalidPoints(t *testing.T) {
	mu, sigma := diagonalInputs(t)

	for _, n := range []int{-1, 0, 1, MaxFrontierPoints + 1} {
		_, err := EfficientFrontier(context.Background(), mu, sigma, n, Options{})
		assert.ErrorIs(t, err, ErrInvalidInput, "points=%d", n)
	}
}

func TestEfficientFrontier_Cancelled(t *testing.T) {
	mu, sigma := diagonalInputs(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := EfficientFrontier(ctx, mu, sigma, 10, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
