package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/modules/optimization"
)

type fakeRefresher struct {
	keys        []marketdata.DatasetKey
	hadDeadline bool
	err         error
}

func (f *fakeRefresher) Refresh(ctx context.Context, key marketdata.DatasetKey) (marketdata.Dataset, error) {
	f.keys = append(f.keys, key)
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return marketdata.Dataset{}, f.err
	}
	return marketdata.Dataset{
		Key: key,
		Returns: optimization.ReturnMatrix{
			Assets: []string{"SPY"},
			Series: map[string][]float64{"SPY": {0.01, 0.02}},
		},
		FetchedAt: time.Now(),
	}, nil
}

func defaultKey(t *testing.T) marketdata.DatasetKey {
	t.Helper()
	key, err := marketdata.NewDatasetKey("yahoo",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		[]string{"SPY", "TLT"})
	require.NoError(t, err)
	return key
}

func TestRefreshDatasetJob_Run(t *testing.T) {
	refresher := &fakeRefresher{}
	key := defaultKey(t)
	job := NewRefreshDatasetJob(refresher, key, zerolog.Nop())

	require.NoError(t, job.Run())
	require.Len(t, refresher.keys, 1)
	assert.Equal(t, key.String(), refresher.keys[0].String())
	assert.True(t, refresher.hadDeadline)
	assert.Equal(t, "refresh_dataset", job.Name())
}

func TestRefreshDatasetJob_RunError(t *testing.T) {
	refresher := &fakeRefresher{err: marketdata.ErrDatasetNotFound}
	job := NewRefreshDatasetJob(refresher, defaultKey(t), zerolog.Nop())

	err := job.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, marketdata.ErrDatasetNotFound))
	assert.Contains(t, err.Error(), "yahoo:2020-01-01:2023-01-01:")
}
