package optimization

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// OptimizerService wraps the pure estimator and solver with logging and
// metrics for the HTTP and dataset layers.
type OptimizerService struct {
	periodsPerYear int
	metrics        *Metrics
	log            zerolog.Logger
}

// NewOptimizerService creates an optimizer service. metrics may be nil.
func NewOptimizerService(periodsPerYear int, metrics *Metrics, log zerolog.Logger) *OptimizerService {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	return &OptimizerService{
		periodsPerYear: periodsPerYear,
		metrics:        metrics,
		log:            log.With().Str("service", "optimizer").Logger(),
	}
}

// PeriodsPerYear returns the annualization factor used by Estimate.
func (s *OptimizerService) PeriodsPerYear() int {
	return s.periodsPerYear
}

// Estimate runs the metrics estimator with the configured annualization.
func (s *OptimizerService) Estimate(returns ReturnMatrix) (ExpectedReturns, CovarianceMatrix, error) {
	return s.EstimateWithPeriods(returns, 0)
}

// EstimateWithPeriods is Estimate with a per-call annualization factor.
// periodsPerYear <= 0 uses the configured one.
func (s *OptimizerService) EstimateWithPeriods(returns ReturnMatrix, periodsPerYear int) (ExpectedReturns, CovarianceMatrix, error) {
	if periodsPerYear <= 0 {
		periodsPerYear = s.periodsPerYear
	}
	mu, sigma, err := Estimate(returns, periodsPerYear)
	if err != nil {
		s.log.Warn().Err(err).Int("assets", len(returns.Assets)).Msg("Estimation rejected")
		return mu, sigma, err
	}
	s.metrics.observeEstimate()
	s.log.Debug().
		Int("assets", len(returns.Assets)).
		Int("observations", returns.Observations()).
		Int("periods_per_year", periodsPerYear).
		Msg("Estimated expected returns and covariance")
	return mu, sigma, nil
}

// Optimize solves for a target return.
func (s *OptimizerService) Optimize(mu ExpectedReturns, sigma CovarianceMatrix, target float64, opts Options) (Result, error) {
	start := time.Now()
	res, err := OptimizeWithOptions(mu, sigma, target, opts)
	s.metrics.observeSolve(res, err, time.Since(start))
	s.logResult("target", target, res, err)
	return res, err
}

// MinVariance solves for the global minimum-variance portfolio.
func (s *OptimizerService) MinVariance(mu ExpectedReturns, sigma CovarianceMatrix, opts Options) (Result, error) {
	start := time.Now()
	res, err := MinVarianceWithOptions(mu, sigma, opts)
	s.metrics.observeSolve(res, err, time.Since(start))
	s.logResult("min_variance", 0, res, err)
	return res, err
}

// Frontier sweeps the efficient frontier.
func (s *OptimizerService) Frontier(ctx context.Context, mu ExpectedReturns, sigma CovarianceMatrix, points int, opts Options) ([]FrontierPoint, error) {
	start := time.Now()
	out, err := EfficientFrontier(ctx, mu, sigma, points, opts)
	if err != nil {
		s.log.Warn().Err(err).Int("points", points).Msg("Frontier sweep failed")
		return nil, err
	}
	for _, p := range out {
		s.metrics.observeSolve(p.Result, nil, 0)
	}
	s.log.Info().
		Int("points", points).
		Dur("duration", time.Since(start)).
		Msg("Frontier sweep completed")
	return out, nil
}

func (s *OptimizerService) logResult(mode string, target float64, res Result, err error) {
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("mode", mode).Float64("target_return", target).Msg("Optimization rejected")
	case !res.Success:
		s.log.Info().
			Str("mode", mode).
			Float64("target_return", target).
			Str("failure", string(res.Failure.Kind)).
			Str("reason", res.Failure.Reason).
			Msg("Optimization did not produce an allocation")
	default:
		s.log.Debug().
			Str("mode", mode).
			Float64("target_return", target).
			Float64("risk", res.Risk).
			Float64("achieved_return", res.AchievedReturn).
			Int("iterations", res.Iterations).
			Msg("Optimization succeeded")
	}
}
