package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

const sampleCSV = `date,open,high,low,close,volume,adj_close
2025-03-05,102.0,103.5,101.0,103.0,120000,103.0
2025-03-03,100.0,101.0,99.5,100.5,150000,100.5
2025-03-04,100.5,102.5,100.0,102.0,90000,102.0
`

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestCSVSource_GetHistoricalData(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL.csv", sampleCSV)
	src := NewCSVSource(dir)
	ctx := context.Background()

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	series, err := src.GetHistoricalData(ctx, "aapl", from, to, models.Interval1Day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if series.Len() != 3 {
		t.Fatalf("expected 3 bars, got %d", series.Len())
	}
	// Out-of-order rows come back sorted.
	if !series.Bars[0].Timestamp.Before(series.Bars[1].Timestamp) {
		t.Error("bars should be sorted ascending")
	}
	if !series.Bars[0].Close.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("expected first close 100.5, got %s", series.Bars[0].Close)
	}
	if series.Bars[1].Volume != 90000 {
		t.Errorf("expected volume 90000, got %d", series.Bars[1].Volume)
	}
	if !series.Bars[2].AdjClose.Valid {
		t.Error("adj_close column should populate AdjClose")
	}

	// Range slicing applies after parse.
	day2 := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	narrow, err := src.GetHistoricalData(ctx, "AAPL", day2, day2, models.Interval1Day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if narrow.Len() != 1 {
		t.Errorf("expected 1 bar, got %d", narrow.Len())
	}
}

func TestCSVSource_Errors(t *testing.T) {
	dir := t.TempDir()
	src := NewCSVSource(dir)
	ctx := context.Background()
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	if _, err := src.GetHistoricalData(ctx, "GHOST", from, to, models.Interval1Day); !errors.Is(err, ErrTickerNotFound) {
		t.Errorf("missing file should be ErrTickerNotFound, got %v", err)
	}
	if _, err := src.GetHistoricalData(ctx, "GHOST", from, to, models.Interval5Min); !errors.Is(err, ErrNotSupported) {
		t.Errorf("intraday interval should be ErrNotSupported, got %v", err)
	}

	writeCSV(t, dir, "BAD.csv", "date,open,high,low,close,volume\n2025-03-03,100,99,100,100,0\n")
	if _, err := src.GetHistoricalData(ctx, "BAD", from, to, models.Interval1Day); err == nil {
		t.Error("high below open should fail bar validation")
	}
}

func TestCSVSource_Register(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "weird-name.csv", sampleCSV)
	src := NewCSVSource(dir)
	src.Register("BHP.AX", path)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	series, err := src.GetHistoricalData(context.Background(), "bhp.ax", from, to, models.Interval1Day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if series.Len() != 3 {
		t.Errorf("expected 3 bars via registered path, got %d", series.Len())
	}

	quote, err := src.GetQuote(context.Background(), "BHP.AX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.Last.Equal(decimal.NewFromInt(103)) {
		t.Errorf("expected last close 103, got %s", quote.Last)
	}
}

func TestParseCSV(t *testing.T) {
	// Column order is free and casing is ignored.
	shuffled := "Volume,Close,DATE,low,high,open\n1000,101,2025-03-03,99,102,100\n"
	series, err := ParseCSV(strings.NewReader(shuffled), "X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if series.Len() != 1 || !series.Bars[0].Close.Equal(decimal.NewFromInt(101)) {
		t.Errorf("shuffled columns misparsed: %+v", series.Bars)
	}
	if series.Bars[0].AdjClose.Valid {
		t.Error("absent adj_close should stay null")
	}

	if _, err := ParseCSV(strings.NewReader("open,high,low,close,volume\n"), "X"); err == nil {
		t.Error("missing date column should fail")
	}
	if _, err := ParseCSV(strings.NewReader("date,open,high,low,close,volume\nnot-a-date,1,2,0.5,1,0\n"), "X"); err == nil {
		t.Error("malformed date should fail")
	}
	if _, err := ParseCSV(strings.NewReader("date,open,high,low,close,volume\n2025-03-03,1,2,0.5,abc,0\n"), "X"); err == nil {
		t.Error("malformed close should fail")
	}
}
