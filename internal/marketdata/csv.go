package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// CSV File Source
// ════════════════════════════════════════════════════════════════════

// CSVSource serves daily bars from CSV files, one file per ticker. Files are
// resolved as <dir>/<TICKER>.csv unless a path was registered explicitly.
// The expected layout is a header row followed by
// date,open,high,low,close,volume[,adj_close] with ISO dates; column order
// is free and extra columns are ignored.
type CSVSource struct {
	dir   string
	files map[string]string
}

// NewCSVSource creates a source rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir, files: make(map[string]string)}
}

// Name returns "csv".
func (s *CSVSource) Name() string { return "csv" }

// Register maps a ticker to an explicit file path, overriding directory
// resolution.
func (s *CSVSource) Register(ticker, path string) {
	s.files[utils.CleanSymbol(ticker)] = path
}

// GetHistoricalData loads the ticker's file and returns bars inside
// [from, to]. Only daily bars are supported.
func (s *CSVSource) GetHistoricalData(_ context.Context, ticker string, from, to time.Time, interval models.Interval) (*models.Series, error) {
	if interval != "" && interval != models.Interval1Day {
		return nil, fmt.Errorf("%w: interval %s", ErrNotSupported, interval)
	}

	clean := utils.CleanSymbol(ticker)
	path, ok := s.files[clean]
	if !ok {
		path = filepath.Join(s.dir, clean+".csv")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	series, err := ParseCSV(f, clean)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	window := series.Slice(from, to)
	if window.Empty() {
		return nil, ErrNoData
	}
	return &window, nil
}

// GetQuote synthesizes a flat quote from the file's last close.
func (s *CSVSource) GetQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	series, err := s.GetHistoricalData(ctx, ticker, time.Time{}, farFuture, models.Interval1Day)
	if err != nil {
		return nil, err
	}
	last, _ := series.LastClose()
	return flatQuote(ticker, last, series.Bars[len(series.Bars)-1].Timestamp), nil
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// ParseCSV reads an OHLCV table into a daily series. Rows are sorted by
// date and validated; a header row is required.
func ParseCSV(r io.Reader, ticker string) (*models.Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	series := &models.Series{Ticker: ticker, Interval: models.Interval1Day}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar, err := cols.parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		series.Bars = append(series.Bars, bar)
	}

	sort.Slice(series.Bars, func(i, j int) bool {
		return series.Bars[i].Timestamp.Before(series.Bars[j].Timestamp)
	})
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

// columns holds the resolved index of each field in the CSV header.
type columns struct {
	date, open, high, low, close, volume int
	adjClose                             int // -1 when absent
}

// mapColumns resolves header names to indices, case-insensitively.
func mapColumns(header []string) (*columns, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}

	cols := &columns{adjClose: -1}
	var ok bool
	if cols.date, ok = firstOf(idx, "date", "timestamp"); !ok {
		return nil, fmt.Errorf("missing date column")
	}
	for _, field := range []struct {
		name string
		dst  *int
	}{
		{"open", &cols.open},
		{"high", &cols.high},
		{"low", &cols.low},
		{"close", &cols.close},
		{"volume", &cols.volume},
	} {
		if *field.dst, ok = idx[field.name]; !ok {
			return nil, fmt.Errorf("missing %s column", field.name)
		}
	}
	if i, ok := firstOf(idx, "adj_close", "adj close", "adjclose"); ok {
		cols.adjClose = i
	}
	return cols, nil
}

func firstOf(idx map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := idx[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// parseRow converts one CSV record to a bar.
func (c *columns) parseRow(record []string) (models.Bar, error) {
	var bar models.Bar

	ts, err := parseDate(record[c.date])
	if err != nil {
		return bar, err
	}
	bar.Timestamp = ts

	for _, field := range []struct {
		name string
		col  int
		dst  *decimal.Decimal
	}{
		{"open", c.open, &bar.Open},
		{"high", c.high, &bar.High},
		{"low", c.low, &bar.Low},
		{"close", c.close, &bar.Close},
	} {
		d, err := decimal.NewFromString(strings.TrimSpace(record[field.col]))
		if err != nil {
			return bar, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = d
	}

	vol, err := decimal.NewFromString(strings.TrimSpace(record[c.volume]))
	if err != nil {
		return bar, fmt.Errorf("volume: %w", err)
	}
	bar.Volume = vol.IntPart()

	if c.adjClose >= 0 && c.adjClose < len(record) {
		if raw := strings.TrimSpace(record[c.adjClose]); raw != "" {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return bar, fmt.Errorf("adj_close: %w", err)
			}
			bar.AdjClose = decimal.NewNullDecimal(d)
		}
	}
	return bar, nil
}

// parseDate accepts ISO dates with or without a time component.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
