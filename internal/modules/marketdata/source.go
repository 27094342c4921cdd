package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/frontier/internal/clients/yahoo"
)

var (
	// ErrUnknownSource is returned for a dataset key whose source is not registered.
	ErrUnknownSource = errors.New("unknown price source")
	// ErrDatasetNotFound is returned when a source has no prices for an asset.
	ErrDatasetNotFound = errors.New("dataset not found")
)

// PriceSource provides daily close history for a symbol over [start, end).
type PriceSource interface {
	Name() string
	History(ctx context.Context, symbol string, start, end time.Time) ([]PricePoint, error)
}

// historyClient is the subset of the Yahoo client used here.
type historyClient interface {
	GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]yahoo.HistoricalPrice, error)
}

// YahooSource serves adjusted closes from the Yahoo chart API.
type YahooSource struct {
	client historyClient
}

// NewYahooSource wraps a Yahoo client as a PriceSource.
func NewYahooSource(client historyClient) *YahooSource {
	return &YahooSource{client: client}
}

// Name returns "yahoo".
func (s *YahooSource) Name() string {
	return "yahoo"
}

// History returns adjusted closes.
func (s *YahooSource) History(ctx context.Context, symbol string, start, end time.Time) ([]PricePoint, error) {
	bars, err := s.client.GetHistoricalPrices(ctx, symbol, start, end)
	if err != nil {
		if errors.Is(err, yahoo.ErrSymbolNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, err)
		}
		return nil, err
	}
	points := make([]PricePoint, 0, len(bars))
	for _, b := range bars {
		points = append(points, PricePoint{Date: b.Date, Close: b.AdjClose})
	}
	return points, nil
}

// Sources is a registry of price sources by name.
type Sources struct {
	mu      sync.RWMutex
	sources map[string]PriceSource
}

// NewSources creates a registry holding the given sources.
func NewSources(sources ...PriceSource) *Sources {
	s := &Sources{sources: make(map[string]PriceSource, len(sources))}
	for _, src := range sources {
		s.Register(src)
	}
	return s
}

// Register adds or replaces a source.
func (s *Sources) Register(src PriceSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.Name()] = src
}

// Get returns the source registered under name.
func (s *Sources) Get(name string) (PriceSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return src, nil
}

// Names returns the registered source names, sorted.
func (s *Sources) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
