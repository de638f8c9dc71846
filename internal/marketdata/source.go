// Package marketdata provides historical OHLCV loading for backtests and
// signal generation. It defines a common Source interface, ships in-memory
// and CSV-file sources, and wraps any source in a caching Loader that
// derives per-day technical indicators.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// Source is the common interface all market data sources implement.
// A source may support a subset of methods; unsupported methods return
// ErrNotSupported.
type Source interface {
	// Name returns the human-readable name of this data source.
	Name() string

	// GetQuote returns the most recent quote the source can produce.
	GetQuote(ctx context.Context, ticker string) (*models.Quote, error)

	// GetHistoricalData returns OHLCV bars for the ticker and date range,
	// ascending by timestamp.
	GetHistoricalData(ctx context.Context, ticker string, from, to time.Time, interval models.Interval) (*models.Series, error)
}

// --- Sentinel errors ---

// ErrNoData is returned when a source resolves the ticker but has no bars
// for the requested range.
var ErrNoData = fmt.Errorf("no data for requested range")

// ErrTickerNotFound is returned when a ticker cannot be resolved.
var ErrTickerNotFound = fmt.Errorf("ticker not found")

// ErrNotSupported is returned when a source does not support a method or
// interval.
var ErrNotSupported = fmt.Errorf("operation not supported by this data source")

// ════════════════════════════════════════════════════════════════════
// Static Source
// ════════════════════════════════════════════════════════════════════

// StaticSource serves pre-registered series from memory. It backs unit
// tests and programmatic backtests where the caller already holds the data.
type StaticSource struct {
	series map[string]*models.Series
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{series: make(map[string]*models.Series)}
}

// Name returns "static".
func (s *StaticSource) Name() string { return "static" }

// Add registers a series under its ticker, replacing any previous one.
func (s *StaticSource) Add(series *models.Series) {
	s.series[utils.CleanSymbol(series.Ticker)] = series
}

// GetHistoricalData returns the registered bars inside [from, to].
func (s *StaticSource) GetHistoricalData(_ context.Context, ticker string, from, to time.Time, interval models.Interval) (*models.Series, error) {
	series, ok := s.series[utils.CleanSymbol(ticker)]
	if !ok {
		return nil, ErrTickerNotFound
	}
	if interval != "" && interval != series.Interval {
		return nil, fmt.Errorf("%w: interval %s (have %s)", ErrNotSupported, interval, series.Interval)
	}
	window := series.Slice(from, to)
	if window.Empty() {
		return nil, ErrNoData
	}
	return &window, nil
}

// GetQuote synthesizes a flat quote from the last registered close.
func (s *StaticSource) GetQuote(_ context.Context, ticker string) (*models.Quote, error) {
	series, ok := s.series[utils.CleanSymbol(ticker)]
	if !ok {
		return nil, ErrTickerNotFound
	}
	last, ok := series.LastClose()
	if !ok {
		return nil, ErrNoData
	}
	return flatQuote(ticker, last, series.Bars[len(series.Bars)-1].Timestamp), nil
}

// flatQuote builds a quote where bid, ask and last all sit on one price.
func flatQuote(ticker string, price decimal.Decimal, at time.Time) *models.Quote {
	return &models.Quote{
		Symbol:    utils.CleanSymbol(ticker),
		Bid:       price,
		Ask:       price,
		Last:      price,
		Timestamp: at,
	}
}
