package optimization

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// MaxFrontierPoints bounds a single sweep.
const MaxFrontierPoints = 200

// FrontierPoint is one solved target on the efficient frontier.
type FrontierPoint struct {
	TargetReturn float64 `json:"target_return"`
	Result       Result  `json:"result"`
}

// EfficientFrontier solves evenly spaced targets from the minimum-variance
// return up to the highest achievable return, every point under the same
// weight bounds. Each target is an independent solve; points come back
// sorted by target.
func EfficientFrontier(ctx context.Context, mu ExpectedReturns, sigma CovarianceMatrix, points int, opts Options) ([]FrontierPoint, error) {
	if points < 2 || points > MaxFrontierPoints {
		return nil, fmtInvalid("frontier points must be between 2 and %d, got %d", MaxFrontierPoints, points)
	}

	gmv, err := MinVarianceWithOptions(mu, sigma, opts)
	if err != nil {
		return nil, err
	}
	if !gmv.Success {
		return nil, fmt.Errorf("global minimum-variance portfolio: %s", gmv.Message())
	}
	top, err := MaxReturn(mu, opts)
	if err != nil {
		return nil, err
	}

	low := gmv.AchievedReturn
	if top < low {
		low = top
	}
	step := (top - low) / float64(points-1)

	out := make([]FrontierPoint, points)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < points; i++ {
		i := i
		target := low + float64(i)*step
		if i == points-1 {
			target = top
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := OptimizeWithOptions(mu, sigma, target, opts)
			if err != nil {
				return fmt.Errorf("frontier point %d: %w", i, err)
			}
			out[i] = FrontierPoint{TargetReturn: target, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
