package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/marketdata"
)

// DatasetRefresher re-fetches a dataset regardless of the cache.
type DatasetRefresher interface {
	Refresh(ctx context.Context, key marketdata.DatasetKey) (marketdata.Dataset, error)
}

// RefreshDatasetJob keeps one dataset warm in the cache, typically the
// default dataset served to dashboards.
type RefreshDatasetJob struct {
	refresher DatasetRefresher
	key       marketdata.DatasetKey
	timeout   time.Duration
	log       zerolog.Logger
}

// NewRefreshDatasetJob creates a refresh job for key
func NewRefreshDatasetJob(refresher DatasetRefresher, key marketdata.DatasetKey, log zerolog.Logger) *RefreshDatasetJob {
	return &RefreshDatasetJob{
		refresher: refresher,
		key:       key,
		timeout:   5 * time.Minute,
		log:       log.With().Str("job", "refresh_dataset").Logger(),
	}
}

// Name returns the job name
func (j *RefreshDatasetJob) Name() string {
	return "refresh_dataset"
}

// Run refreshes the dataset
func (j *RefreshDatasetJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	startTime := time.Now()
	ds, err := j.refresher.Refresh(ctx, j.key)
	if err != nil {
		return fmt.Errorf("failed to refresh dataset %s: %w", j.key, err)
	}

	j.log.Info().
		Str("key", j.key.String()).
		Int("observations", ds.Returns.Observations()).
		Time("fetched_at", ds.FetchedAt).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Dataset refreshed")

	return nil
}
