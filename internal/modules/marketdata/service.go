package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/modules/optimization"
)

// ErrArchiveDisabled is returned by Archive when no archiver is configured.
var ErrArchiveDisabled = errors.New("dataset archive is disabled")

// SliderStep is the target-return granularity offered to interactive clients.
const SliderStep = 0.005

// Archiver stores a named blob and returns its location.
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte) (string, error)
}

// Config tunes the dataset service.
type Config struct {
	// TTL of freshly fetched datasets. Ranges that ended more than a week
	// ago use clientdata.TTLClosedRange instead.
	TTL time.Duration
	// FetchConcurrency caps parallel symbol downloads per dataset.
	FetchConcurrency int
	// ArchiveOnFetch uploads a CSV copy after every fetch.
	ArchiveOnFetch bool
	// FetchTimeout bounds one shared fetch. The fetch outlives the caller
	// that started it, so it is not tied to any request context.
	FetchTimeout time.Duration
}

// Service loads datasets cache-first and derives optimizer inputs from them.
type Service struct {
	sources   *Sources
	store     clientdata.Store
	optimizer *optimization.OptimizerService
	archiver  Archiver
	metrics   *Metrics
	cfg       Config
	group     singleflight.Group
	now       func() time.Time
	log       zerolog.Logger
}

// NewService creates a dataset service. archiver and metrics may be nil.
func NewService(
	sources *Sources,
	store clientdata.Store,
	optimizer *optimization.OptimizerService,
	archiver Archiver,
	metrics *Metrics,
	cfg Config,
	log zerolog.Logger,
) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = clientdata.TTLDataset
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	return &Service{
		sources:   sources,
		store:     store,
		optimizer: optimizer,
		archiver:  archiver,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With().Str("service", "datasets").Logger(),
	}
}

// Load returns the dataset for key, from the cache when fresh. Concurrent
// loads of one key share a single fetch. When the fetch fails, a stale
// cached copy is returned if one exists.
func (s *Service) Load(ctx context.Context, key DatasetKey) (Dataset, error) {
	if err := key.Validate(); err != nil {
		return Dataset{}, err
	}
	cacheKey := key.String()

	if data, ok, err := s.store.Get(ctx, cacheKey); err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("Dataset cache read failed, fetching")
	} else if ok {
		ds, err := UnmarshalDataset(data)
		if err == nil {
			s.metrics.lookup("hit")
			return ds, nil
		}
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("Discarding undecodable cached dataset")
	}
	s.metrics.lookup("miss")

	return s.fetchShared(ctx, key)
}

// Refresh fetches key from its source regardless of the cache.
func (s *Service) Refresh(ctx context.Context, key DatasetKey) (Dataset, error) {
	if err := key.Validate(); err != nil {
		return Dataset{}, err
	}
	return s.fetchShared(ctx, key)
}

// Invalidate drops one cached dataset.
func (s *Service) Invalidate(ctx context.Context, key DatasetKey) error {
	if err := s.store.Delete(ctx, key.String()); err != nil {
		return err
	}
	s.log.Info().Str("key", key.String()).Msg("Invalidated dataset")
	return nil
}

// InvalidateSource drops every cached dataset of a source.
func (s *Service) InvalidateSource(ctx context.Context, source string) (int64, error) {
	source = NormalizeSource(source)
	if _, err := s.sources.Get(source); err != nil {
		return 0, err
	}
	deleted, err := s.store.DeleteSource(ctx, source)
	if err != nil {
		return deleted, err
	}
	s.log.Info().Str("source", source).Int64("deleted", deleted).Msg("Invalidated source datasets")
	return deleted, nil
}

// fetchShared joins or starts the single in-flight fetch of key. Callers
// stop waiting when their own context ends; the fetch keeps running for
// the others and still fills the cache.
func (s *Service) fetchShared(ctx context.Context, key DatasetKey) (Dataset, error) {
	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, key)
	})

	select {
	case <-ctx.Done():
		return Dataset{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Dataset{}, res.Err
		}
		if res.Shared {
			s.log.Debug().Str("key", key.String()).Msg("Shared in-flight dataset fetch")
		}
		return res.Val.(Dataset), nil
	}
}

func (s *Service) fetch(ctx context.Context, key DatasetKey) (Dataset, error) {
	ds, err := s.build(ctx, key)
	s.metrics.fetch(key.Source, err)
	if err != nil {
		stale, ok := s.stale(ctx, key)
		if !ok {
			return Dataset{}, err
		}
		s.metrics.lookup("stale")
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Fetch failed, serving stale dataset")
		return stale, nil
	}

	data, err := MarshalDataset(ds)
	if err != nil {
		return Dataset{}, err
	}
	if err := s.store.Put(ctx, key.String(), key.Source, data, s.ttlFor(key)); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache dataset")
	}

	if s.cfg.ArchiveOnFetch && s.archiver != nil {
		if _, err := s.Archive(ctx, ds); err != nil {
			s.log.Warn().Err(err).Str("key", key.String()).Msg("Failed to archive dataset")
		}
	}
	return ds, nil
}

func (s *Service) stale(ctx context.Context, key DatasetKey) (Dataset, bool) {
	data, ok, err := s.store.GetStale(ctx, key.String())
	if err != nil || !ok {
		return Dataset{}, false
	}
	ds, err := UnmarshalDataset(data)
	if err != nil {
		return Dataset{}, false
	}
	return ds, true
}

func (s *Service) ttlFor(key DatasetKey) time.Duration {
	if key.End.Before(s.now().AddDate(0, 0, -7)) {
		return clientdata.TTLClosedRange
	}
	return s.cfg.TTL
}

// build downloads every asset, aligns on the union of dates, forward-fills,
// drops incomplete rows and converts to returns.
func (s *Service) build(ctx context.Context, key DatasetKey) (Dataset, error) {
	src, err := s.sources.Get(key.Source)
	if err != nil {
		return Dataset{}, err
	}

	results := make([][]PricePoint, len(key.Assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, asset := range key.Assets {
		i, asset := i, asset
		g.Go(func() error {
			points, err := src.History(gctx, asset, key.Start, key.End)
			if err != nil {
				return fmt.Errorf("failed to fetch %s from %s: %w", asset, key.Source, err)
			}
			if len(points) == 0 {
				return fmt.Errorf("%w: %s returned no prices for %s", ErrDatasetNotFound, key.Source, asset)
			}
			results[i] = points
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dataset{}, err
	}

	series := make(map[string][]PricePoint, len(key.Assets))
	for i, asset := range key.Assets {
		series[asset] = results[i]
	}

	table, stats := FillMissing(Align(key.Assets, series))
	if stats.Missing > 0 {
		s.log.Warn().
			Str("key", key.String()).
			Int("missing_data_points", stats.Missing).
			Int("filled_data_points", stats.Filled).
			Int("dropped_rows", stats.DroppedRows).
			Msg("Filled missing price data")
	}

	returns, err := SimpleReturns(table)
	if err != nil {
		return Dataset{}, fmt.Errorf("dataset %s: %w", key, err)
	}

	s.log.Info().
		Str("key", key.String()).
		Int("assets", len(key.Assets)).
		Int("observations", returns.Observations()).
		Msg("Built dataset")

	return Dataset{Key: key, Returns: returns, Fill: stats, FetchedAt: s.now().UTC()}, nil
}

// SliderRange bounds the target returns offered for a dataset.
type SliderRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// DatasetMetrics are the estimator outputs and diagnostics of a dataset.
type DatasetMetrics struct {
	Key             DatasetKey
	Observations    int
	Fill            FillStats
	ExpectedReturns optimization.ExpectedReturns
	Covariance      optimization.CovarianceMatrix
	Correlations    optimization.CorrelationMatrix
	Profiles        []optimization.AssetProfile
	Slider          SliderRange
}

// Metrics loads key and estimates its expected returns and covariance.
func (s *Service) Metrics(ctx context.Context, key DatasetKey) (DatasetMetrics, error) {
	ds, err := s.Load(ctx, key)
	if err != nil {
		return DatasetMetrics{}, err
	}
	mu, sigma, err := s.optimizer.Estimate(ds.Returns)
	if err != nil {
		return DatasetMetrics{}, err
	}
	profiles, err := optimization.AssetProfiles(mu, sigma)
	if err != nil {
		return DatasetMetrics{}, err
	}
	_, maxMu := mu.Max()
	return DatasetMetrics{
		Key:             ds.Key,
		Observations:    ds.Returns.Observations(),
		Fill:            ds.Fill,
		ExpectedReturns: mu,
		Covariance:      sigma,
		Correlations:    optimization.Correlations(sigma),
		Profiles:        profiles,
		Slider:          SliderRange{Min: 0, Max: math.Max(maxMu, 0), Step: SliderStep},
	}, nil
}

// Optimize estimates key and solves for target.
func (s *Service) Optimize(ctx context.Context, key DatasetKey, target float64, opts optimization.Options) (optimization.Result, error) {
	m, err := s.Metrics(ctx, key)
	if err != nil {
		return optimization.Result{}, err
	}
	return s.optimizer.Optimize(m.ExpectedReturns, m.Covariance, target, opts)
}

// ArchiveKey loads key and archives its returns CSV.
func (s *Service) ArchiveKey(ctx context.Context, key DatasetKey) (string, error) {
	if s.archiver == nil {
		return "", ErrArchiveDisabled
	}
	ds, err := s.Load(ctx, key)
	if err != nil {
		return "", err
	}
	return s.Archive(ctx, ds)
}

// Archive uploads the dataset's returns CSV.
func (s *Service) Archive(ctx context.Context, ds Dataset) (string, error) {
	if s.archiver == nil {
		return "", ErrArchiveDisabled
	}
	body, err := ds.CSV()
	if err != nil {
		return "", err
	}
	location, err := s.archiver.Archive(ctx, ds.Key.ArchiveName(), body)
	if err != nil {
		return "", err
	}
	s.log.Info().Str("key", ds.Key.String()).Str("location", location).Msg("Archived dataset")
	return location, nil
}

// Sources returns the registered source names.
func (s *Service) Sources() []string {
	return s.sources.Names()
}

// Optimizer returns the optimizer used for estimation and solving.
func (s *Service) Optimizer() *optimization.OptimizerService {
	return s.optimizer
}
