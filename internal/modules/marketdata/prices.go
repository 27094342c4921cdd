// Package marketdata turns daily price history into the aligned return
// tables consumed by the optimizer, with a cache in front of the sources.
package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/frontier/internal/modules/optimization"
)

// PricePoint is one daily close.
type PricePoint struct {
	Date  time.Time
	Close float64
}

// PriceTable holds closes aligned on a shared ascending date index.
// Missing closes are NaN until FillMissing runs.
type PriceTable struct {
	Dates  []time.Time
	Assets []string
	Data   map[string][]float64
}

// Rows returns the number of dates.
func (pt PriceTable) Rows() int {
	return len(pt.Dates)
}

// FillStats reports what FillMissing did.
type FillStats struct {
	Missing     int `json:"missing"`
	Filled      int `json:"filled"`
	DroppedRows int `json:"dropped_rows"`
}

// Align builds a table on the union of all dates. Assets with no point on
// a date get NaN there.
func Align(assets []string, series map[string][]PricePoint) PriceTable {
	byAsset := make(map[string]map[time.Time]float64, len(assets))
	dateSet := make(map[time.Time]bool)

	for _, asset := range assets {
		closes := make(map[time.Time]float64, len(series[asset]))
		for _, p := range series[asset] {
			d := dayOf(p.Date)
			closes[d] = p.Close
			dateSet[d] = true
		}
		byAsset[asset] = closes
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	data := make(map[string][]float64, len(assets))
	for _, asset := range assets {
		prices := make([]float64, len(dates))
		for i, d := range dates {
			if price, ok := byAsset[asset][d]; ok {
				prices[i] = price
			} else {
				prices[i] = math.NaN()
			}
		}
		data[asset] = prices
	}

	return PriceTable{
		Dates:  dates,
		Assets: append([]string(nil), assets...),
		Data:   data,
	}
}

// FillMissing forward-fills every asset, then drops each row that still
// has a gap. Only leading gaps survive the forward fill, so the dropped
// rows are a prefix of the table.
func FillMissing(table PriceTable) (PriceTable, FillStats) {
	var stats FillStats
	filled := make(map[string][]float64, len(table.Assets))

	for _, asset := range table.Assets {
		prices := append([]float64(nil), table.Data[asset]...)
		last, hasLast := 0.0, false
		for i, p := range prices {
			if math.IsNaN(p) {
				stats.Missing++
				if hasLast {
					prices[i] = last
					stats.Filled++
				}
				continue
			}
			last, hasLast = p, true
		}
		filled[asset] = prices
	}

	keep := make([]int, 0, len(table.Dates))
	for i := range table.Dates {
		complete := true
		for _, asset := range table.Assets {
			if math.IsNaN(filled[asset][i]) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, i)
		}
	}
	stats.DroppedRows = len(table.Dates) - len(keep)

	out := PriceTable{
		Dates:  make([]time.Time, len(keep)),
		Assets: append([]string(nil), table.Assets...),
		Data:   make(map[string][]float64, len(table.Assets)),
	}
	for k, i := range keep {
		out.Dates[k] = table.Dates[i]
	}
	for _, asset := range table.Assets {
		prices := make([]float64, len(keep))
		for k, i := range keep {
			prices[k] = filled[asset][i]
		}
		out.Data[asset] = prices
	}
	return out, stats
}

// SimpleReturns computes period-over-period percentage changes. The first
// row has no predecessor and is dropped. The table must be gap-free with
// positive prices.
func SimpleReturns(table PriceTable) (optimization.ReturnMatrix, error) {
	if len(table.Assets) == 0 {
		return optimization.ReturnMatrix{}, fmt.Errorf("%w: price table has no assets", optimization.ErrInvalidInput)
	}
	if table.Rows() < 2 {
		return optimization.ReturnMatrix{}, fmt.Errorf("%w: need at least 2 price rows, got %d",
			optimization.ErrInsufficientData, table.Rows())
	}

	series := make(map[string][]float64, len(table.Assets))
	for _, asset := range table.Assets {
		prices := table.Data[asset]
		if len(prices) != table.Rows() {
			return optimization.ReturnMatrix{}, fmt.Errorf("%w: asset %s has %d prices for %d dates",
				optimization.ErrInvalidInput, asset, len(prices), table.Rows())
		}
		returns := make([]float64, len(prices)-1)
		for i := 1; i < len(prices); i++ {
			prev, cur := prices[i-1], prices[i]
			if math.IsNaN(prev) || math.IsNaN(cur) {
				return optimization.ReturnMatrix{}, fmt.Errorf("%w: asset %s has a missing price on %s",
					optimization.ErrInvalidInput, asset, table.Dates[i].Format(dateLayout))
			}
			if prev <= 0 {
				return optimization.ReturnMatrix{}, fmt.Errorf("%w: asset %s has non-positive price on %s",
					optimization.ErrInvalidInput, asset, table.Dates[i-1].Format(dateLayout))
			}
			returns[i-1] = (cur - prev) / prev
		}
		series[asset] = returns
	}

	return optimization.ReturnMatrix{
		Assets: append([]string(nil), table.Assets...),
		Dates:  append([]time.Time(nil), table.Dates[1:]...),
		Series: series,
	}, nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
