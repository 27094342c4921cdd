package marketdata

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/optimization"
)

type fakeSource struct {
	mu     sync.Mutex
	series map[string][]PricePoint
	err    error
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{series: gappySeries(), calls: make(map[string]int)}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) History(_ context.Context, symbol string, _, _ time.Time) ([]PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if f.err != nil {
		return nil, f.err
	}
	return f.series[symbol], nil
}

func (f *fakeSource) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

// gatedSource blocks every History call until release is closed.
type gatedSource struct {
	*fakeSource
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSource) History(ctx context.Context, symbol string, start, end time.Time) ([]PricePoint, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.fakeSource.History(ctx, symbol, start, end)
}

type fakeArchiver struct {
	name string
	data []byte
}

func (f *fakeArchiver) Archive(_ context.Context, name string, data []byte) (string, error) {
	f.name, f.data = name, data
	return "s3://bucket/" + name, nil
}

func newTestStore(t *testing.T) clientdata.Store {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return clientdata.NewRepository(db.Conn())
}

func newTestService(t *testing.T, archiver Archiver) (*Service, *fakeSource, *Metrics) {
	t.Helper()
	src := newFakeSource()
	metrics := NewMetrics(nil)
	svc := NewService(
		NewSources(src),
		newTestStore(t),
		optimization.NewOptimizerService(optimization.DefaultPeriodsPerYear, nil, zerolog.Nop()),
		archiver,
		metrics,
		Config{},
		zerolog.Nop(),
	)
	return svc, src, metrics
}

func testKey(t *testing.T) DatasetKey {
	t.Helper()
	key, err := NewDatasetKey("fake", day(1), day(6), []string{"TLT", "SPY"})
	require.NoError(t, err)
	return key
}

func TestService_LoadCachesDataset(t *testing.T) {
	svc, src, metrics := newTestService(t, nil)
	ctx := context.Background()
	key := testKey(t)

	first, err := svc.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY", "TLT"}, first.Returns.Assets)
	assert.Equal(t, 2, first.Returns.Observations())
	assert.Equal(t, FillStats{Missing: 2, Filled: 1, DroppedRows: 1}, first.Fill)

	second, err := svc.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.Returns, second.Returns)

	assert.Equal(t, 1, src.callCount("SPY"))
	assert.Equal(t, 1, src.callCount("TLT"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fetches.WithLabelValues("fake", "success")))
}

func TestService_RefreshFallsBackToStale(t *testing.T) {
	svc, src, metrics := newTestService(t, nil)
	ctx := context.Background()
	key := testKey(t)

	cached, err := svc.Load(ctx, key)
	require.NoError(t, err)

	src.failWith(errors.New("upstream down"))
	ds, err := svc.Refresh(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, cached.Returns, ds.Returns)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fetches.WithLabelValues("fake", "error")))
}

func TestService_LoadSurvivesCancelledJoiner(t *testing.T) {
	src := &gatedSource{
		fakeSource: newFakeSource(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := NewService(
		NewSources(src),
		newTestStore(t),
		optimization.NewOptimizerService(optimization.DefaultPeriodsPerYear, nil, zerolog.Nop()),
		nil,
		nil,
		Config{},
		zerolog.Nop(),
	)
	key := testKey(t)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Load(firstCtx, key)
		firstErr <- err
	}()
	<-src.started

	type loaded struct {
		ds  Dataset
		err error
	}
	second := make(chan loaded, 1)
	go func() {
		ds, err := svc.Load(context.Background(), key)
		second <- loaded{ds, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled load did not return")
	}

	close(src.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, 2, res.ds.Returns.Observations())
	case <-time.After(5 * time.Second):
		t.Fatal("second load did not return")
	}
	assert.Equal(t, 1, src.callCount("SPY"))
}

func TestService_LoadErrorWithoutCache(t *testing.T) {
	svc, src, _ := newTestService(t, nil)
	src.failWith(errors.New("upstream down"))

	_, err := svc.Load(context.Background(), testKey(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestService_LoadEmptySeries(t *testing.T) {
	svc, src, _ := newTestService(t, nil)
	src.series["TLT"] = nil

	_, err := svc.Load(context.Background(), testKey(t))
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestService_UnknownSource(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	key, err := NewDatasetKey("nowhere", day(1), day(6), []string{"SPY"})
	require.NoError(t, err)

	_, err = svc.Load(context.Background(), key)
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = svc.InvalidateSource(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestService_Invalidate(t *testing.T) {
	svc, src, _ := newTestService(t, nil)
	ctx := context.Background()
	key := testKey(t)

	_, err := svc.Load(ctx, key)
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx, key))
	_, err = svc.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount("SPY"))

	deleted, err := svc.InvalidateSource(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	_, err = svc.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, src.callCount("SPY"))
}

func TestService_Metrics(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	m, err := svc.Metrics(context.Background(), testKey(t))
	require.NoError(t, err)

	assert.Equal(t, 2, m.Observations)
	spy, ok := m.ExpectedReturns.Get("SPY")
	require.True(t, ok)
	assert.InDelta(t, 0.01*252, spy, 1e-9)
	assert.InDelta(t, 0.0002*252, m.Covariance.Values.At(1, 1), 1e-12)
	assert.Len(t, m.Profiles, 2)
	assert.Equal(t, SliderStep, m.Slider.Step)
	assert.InDelta(t, 2.52, m.Slider.Max, 1e-9)
	assert.Zero(t, m.Slider.Min)
}

func TestService_Optimize(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	res, err := svc.Optimize(context.Background(), testKey(t), 1.0, optimization.Options{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message())
	// SPY has zero variance over the window, so it takes everything.
	assert.InDelta(t, 1.0, res.Weights["SPY"], 1e-6)
	assert.InDelta(t, 0.0, res.Risk, 1e-6)
}

func TestService_Archive(t *testing.T) {
	archiver := &fakeArchiver{}
	svc, _, _ := newTestService(t, archiver)

	location, err := svc.ArchiveKey(context.Background(), testKey(t))
	require.NoError(t, err)

	key := testKey(t)
	assert.Equal(t, "s3://bucket/"+key.ArchiveName(), location)
	assert.True(t, strings.HasPrefix(string(archiver.data), "Date,SPY,TLT\n2024-01-04,"))
}

func TestService_ArchiveDisabled(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	_, err := svc.ArchiveKey(context.Background(), testKey(t))
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}

func TestDataset_MarshalRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ds, err := svc.Load(context.Background(), testKey(t))
	require.NoError(t, err)

	b, err := MarshalDataset(ds)
	require.NoError(t, err)
	got, err := UnmarshalDataset(b)
	require.NoError(t, err)

	assert.Equal(t, ds.Key.String(), got.Key.String())
	assert.Equal(t, ds.Returns, got.Returns)
	assert.Equal(t, ds.Fill, got.Fill)
	assert.Equal(t, ds.FetchedAt.Unix(), got.FetchedAt.Unix())

	_, err = UnmarshalDataset([]byte{0xc1})
	assert.Error(t, err)
}
