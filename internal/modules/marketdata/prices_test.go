package marketdata

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/modules/optimization"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

// gappySeries has a leading gap in SPY and an interior gap in TLT.
func gappySeries() map[string][]PricePoint {
	return map[string][]PricePoint{
		"SPY": {
			{Date: day(3), Close: 100},
			{Date: day(4), Close: 101},
			{Date: day(5), Close: 102.01},
		},
		"TLT": {
			{Date: day(2), Close: 50},
			{Date: day(3), Close: 50},
			{Date: day(5), Close: 51},
		},
	}
}

func TestAlign_UnionOfDates(t *testing.T) {
	table := Align([]string{"SPY", "TLT"}, gappySeries())

	require.Equal(t, []time.Time{day(2), day(3), day(4), day(5)}, table.Dates)
	assert.True(t, math.IsNaN(table.Data["SPY"][0]))
	assert.Equal(t, 100.0, table.Data["SPY"][1])
	assert.True(t, math.IsNaN(table.Data["TLT"][2]))
	assert.Equal(t, 51.0, table.Data["TLT"][3])
}

func TestAlign_NormalizesTimeOfDay(t *testing.T) {
	series := map[string][]PricePoint{
		"A": {{Date: time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC), Close: 1}},
		"B": {{Date: day(2), Close: 2}},
	}
	table := Align([]string{"A", "B"}, series)
	require.Len(t, table.Dates, 1)
	assert.Equal(t, 1.0, table.Data["A"][0])
	assert.Equal(t, 2.0, table.Data["B"][0])
}

func TestFillMissing(t *testing.T) {
	table, stats := FillMissing(Align([]string{"SPY", "TLT"}, gappySeries()))

	assert.Equal(t, FillStats{Missing: 2, Filled: 1, DroppedRows: 1}, stats)
	assert.Equal(t, []time.Time{day(3), day(4), day(5)}, table.Dates)
	assert.Equal(t, []float64{100, 101, 102.01}, table.Data["SPY"])
	assert.Equal(t, []float64{50, 50, 51}, table.Data["TLT"])
}

func TestFillMissing_NoGaps(t *testing.T) {
	in := PriceTable{
		Dates:  []time.Time{day(2), day(3)},
		Assets: []string{"A"},
		Data:   map[string][]float64{"A": {1, 2}},
	}
	out, stats := FillMissing(in)
	assert.Equal(t, FillStats{}, stats)
	assert.Equal(t, in.Data["A"], out.Data["A"])
}

func TestSimpleReturns(t *testing.T) {
	table, _ := FillMissing(Align([]string{"SPY", "TLT"}, gappySeries()))

	returns, err := SimpleReturns(table)
	require.NoError(t, err)

	assert.Equal(t, []string{"SPY", "TLT"}, returns.Assets)
	assert.Equal(t, []time.Time{day(4), day(5)}, returns.Dates)
	assert.InDeltaSlice(t, []float64{0.01, 0.01}, returns.Series["SPY"], 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0.02}, returns.Series["TLT"], 1e-12)
}

func TestSimpleReturns_Errors(t *testing.T) {
	tests := []struct {
		name  string
		table PriceTable
		want  error
	}{
		{
			name:  "no assets",
			table: PriceTable{Dates: []time.Time{day(2), day(3)}},
			want:  optimization.ErrInvalidInput,
		},
		{
			name: "single row",
			table: PriceTable{
				Dates:  []time.Time{day(2)},
				Assets: []string{"A"},
				Data:   map[string][]float64{"A": {1}},
			},
			want: optimization.ErrInsufficientData,
		},
		{
			name: "gap",
			table: PriceTable{
				Dates:  []time.Time{day(2), day(3)},
				Assets: []string{"A"},
				Data:   map[string][]float64{"A": {1, math.NaN()}},
			},
			want: optimization.ErrInvalidInput,
		},
		{
			name: "zero price",
			table: PriceTable{
				Dates:  []time.Time{day(2), day(3)},
				Assets: []string{"A"},
				Data:   map[string][]float64{"A": {0, 1}},
			},
			want: optimization.ErrInvalidInput,
		},
		{
			name: "short column",
			table: PriceTable{
				Dates:  []time.Time{day(2), day(3)},
				Assets: []string{"A"},
				Data:   map[string][]float64{"A": {1}},
			},
			want: optimization.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SimpleReturns(tt.table)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
