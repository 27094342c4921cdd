package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/modules/optimization"
)

const dateColumn = "Date"

// WriteReturnsCSV writes a Date column followed by one column per asset.
func WriteReturnsCSV(w io.Writer, returns optimization.ReturnMatrix) error {
	rows := returns.Observations()
	if len(returns.Dates) != rows {
		return fmt.Errorf("%w: %d dates for %d observations", optimization.ErrInvalidInput, len(returns.Dates), rows)
	}
	return writeTable(w, returns.Assets, returns.Dates, returns.Series)
}

// WritePricesCSV writes a price table in the same layout. Gaps are empty cells.
func WritePricesCSV(w io.Writer, table PriceTable) error {
	return writeTable(w, table.Assets, table.Dates, table.Data)
}

func writeTable(w io.Writer, assets []string, dates []time.Time, data map[string][]float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{dateColumn}, assets...)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, len(assets)+1)
	for i, d := range dates {
		record[0] = d.Format(dateLayout)
		for j, asset := range assets {
			col := data[asset]
			if i >= len(col) {
				return fmt.Errorf("%w: column %s is shorter than the date index", optimization.ErrInvalidInput, asset)
			}
			if math.IsNaN(col[i]) {
				record[j+1] = ""
			} else {
				record[j+1] = strconv.FormatFloat(col[i], 'g', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadReturnsCSV reads a table written by WriteReturnsCSV. Empty cells are
// rejected since returns must be complete.
func ReadReturnsCSV(r io.Reader) (optimization.ReturnMatrix, error) {
	assets, dates, data, err := readTable(r)
	if err != nil {
		return optimization.ReturnMatrix{}, err
	}
	for _, asset := range assets {
		for i, v := range data[asset] {
			if math.IsNaN(v) {
				return optimization.ReturnMatrix{}, fmt.Errorf("%w: missing return for %s on %s",
					optimization.ErrInvalidInput, asset, dates[i].Format(dateLayout))
			}
		}
	}
	return optimization.ReturnMatrix{Assets: assets, Dates: dates, Series: data}, nil
}

// ReadPricesCSV reads a price table. Empty cells become NaN.
func ReadPricesCSV(r io.Reader) (PriceTable, error) {
	assets, dates, data, err := readTable(r)
	if err != nil {
		return PriceTable{}, err
	}
	return PriceTable{Dates: dates, Assets: assets, Data: data}, nil
}

func readTable(r io.Reader) ([]string, []time.Time, map[string][]float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil, fmt.Errorf("%w: empty csv", optimization.ErrInvalidInput)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), dateColumn) {
		return nil, nil, nil, fmt.Errorf("%w: header must start with %s and name at least one asset",
			optimization.ErrInvalidInput, dateColumn)
	}

	assets := make([]string, len(header)-1)
	data := make(map[string][]float64, len(assets))
	for i, h := range header[1:] {
		assets[i] = strings.TrimSpace(h)
		if _, dup := data[assets[i]]; dup || assets[i] == "" {
			return nil, nil, nil, fmt.Errorf("%w: duplicate or empty column %q", optimization.ErrInvalidInput, h)
		}
		data[assets[i]] = nil
	}

	var dates []time.Time
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		d, err := time.Parse(dateLayout, strings.TrimSpace(record[0]))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: line %d: invalid date %q", optimization.ErrInvalidInput, line, record[0])
		}
		dates = append(dates, d)
		for j, asset := range assets {
			cell := strings.TrimSpace(record[j+1])
			v := math.NaN()
			if cell != "" {
				v, err = strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, nil, nil, fmt.Errorf("%w: line %d: invalid value %q for %s",
						optimization.ErrInvalidInput, line, cell, asset)
				}
			}
			data[asset] = append(data[asset], v)
		}
	}
	return assets, dates, data, nil
}

// CSVSource serves per-symbol price files <dir>/<SYMBOL>.csv with a Date
// column and a close column ("Adj Close" preferred, else "Close").
type CSVSource struct {
	dir string
}

// NewCSVSource creates a source reading from dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

// Name returns "csv".
func (s *CSVSource) Name() string {
	return "csv"
}

// History returns closes dated within [start, end).
func (s *CSVSource) History(_ context.Context, symbol string, start, end time.Time) ([]PricePoint, error) {
	path := filepath.Join(s.dir, strings.ToUpper(symbol)+".csv")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no price file for %s", ErrDatasetNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	table, err := ReadPricesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	column := ""
	for _, name := range []string{"Adj Close", "Close"} {
		if _, ok := table.Data[name]; ok {
			column = name
			break
		}
	}
	if column == "" {
		return nil, fmt.Errorf("%w: %s has no Close column", optimization.ErrInvalidInput, path)
	}

	points := make([]PricePoint, 0, table.Rows())
	for i, d := range table.Dates {
		v := table.Data[column][i]
		if d.Before(start) || !d.Before(end) || math.IsNaN(v) {
			continue
		}
		points = append(points, PricePoint{Date: d, Close: v})
	}
	return points, nil
}
