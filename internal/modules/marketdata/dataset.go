package marketdata

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/frontier/internal/modules/optimization"
)

// Dataset is a loaded return table with the provenance of its prices.
type Dataset struct {
	Key       DatasetKey
	Returns   optimization.ReturnMatrix
	Fill      FillStats
	FetchedAt time.Time
}

// snapshot is the cached encoding of a Dataset.
type snapshot struct {
	Source    string               `msgpack:"source"`
	Start     int64                `msgpack:"start"`
	End       int64                `msgpack:"end"`
	Assets    []string             `msgpack:"assets"`
	Dates     []int64              `msgpack:"dates"`
	Series    map[string][]float64 `msgpack:"series"`
	Fill      FillStats            `msgpack:"fill"`
	FetchedAt int64                `msgpack:"fetched_at"`
}

// MarshalDataset encodes a dataset for the cache.
func MarshalDataset(ds Dataset) ([]byte, error) {
	dates := make([]int64, len(ds.Returns.Dates))
	for i, d := range ds.Returns.Dates {
		dates[i] = d.Unix()
	}
	b, err := msgpack.Marshal(snapshot{
		Source:    ds.Key.Source,
		Start:     ds.Key.Start.Unix(),
		End:       ds.Key.End.Unix(),
		Assets:    ds.Returns.Assets,
		Dates:     dates,
		Series:    ds.Returns.Series,
		Fill:      ds.Fill,
		FetchedAt: ds.FetchedAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode dataset %s: %w", ds.Key, err)
	}
	return b, nil
}

// UnmarshalDataset decodes a cached dataset.
func UnmarshalDataset(b []byte) (Dataset, error) {
	var s snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return Dataset{}, fmt.Errorf("failed to decode dataset: %w", err)
	}
	dates := make([]time.Time, len(s.Dates))
	for i, d := range s.Dates {
		dates[i] = time.Unix(d, 0).UTC()
	}
	key, err := NewDatasetKey(s.Source, time.Unix(s.Start, 0).UTC(), time.Unix(s.End, 0).UTC(), s.Assets)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to decode dataset key: %w", err)
	}
	return Dataset{
		Key: key,
		Returns: optimization.ReturnMatrix{
			Assets: s.Assets,
			Dates:  dates,
			Series: s.Series,
		},
		Fill:      s.Fill,
		FetchedAt: time.Unix(s.FetchedAt, 0).UTC(),
	}, nil
}

// CSV renders the dataset returns as CSV.
func (ds Dataset) CSV() ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteReturnsCSV(&buf, ds.Returns); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
