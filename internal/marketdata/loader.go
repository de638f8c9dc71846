package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Caching Loader
// ════════════════════════════════════════════════════════════════════

// Loader wraps a Source with a bounded TTL cache and derives prices,
// trading calendars and technical indicators from the loaded bars.
type Loader struct {
	source Source
	cache  *seriesCache
}

// LoaderConfig tunes the loader cache.
type LoaderConfig struct {
	TTL      time.Duration // cache entry lifetime (default 15m)
	Capacity int           // max cached series (default 256)
}

// NewLoader creates a loader over the given source. A nil config uses the
// defaults.
func NewLoader(source Source, cfg *LoaderConfig) *Loader {
	if cfg == nil {
		cfg = &LoaderConfig{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 256
	}
	return &Loader{
		source: source,
		cache:  newSeriesCache(ttl, capacity),
	}
}

// Source returns the wrapped source.
func (l *Loader) Source() Source { return l.source }

// FlushCache drops all cached series.
func (l *Loader) FlushCache() { l.cache.flush() }

// LoadOHLCV returns bars for [start, end], serving repeat requests from the
// cache. An empty result reports ErrNoData.
func (l *Loader) LoadOHLCV(ctx context.Context, ticker string, start, end time.Time, interval models.Interval) (*models.Series, error) {
	clean := utils.CleanSymbol(ticker)
	key := cacheKey(clean, start, end, interval)
	if series, ok := l.cache.get(key); ok {
		return series, nil
	}

	series, err := l.source.GetHistoricalData(ctx, clean, start, end, interval)
	if err != nil {
		return nil, err
	}
	if series == nil || series.Empty() {
		return nil, ErrNoData
	}

	l.cache.put(key, series)
	return series, nil
}

// priceLookbackDays bounds how far GetPriceOnDate reaches back for the most
// recent close. Ten calendar days cover long weekends and holiday clusters.
const priceLookbackDays = 10

// GetPriceOnDate returns the closing price on date, falling back to the most
// recent close before it when the market was shut that day.
func (l *Loader) GetPriceOnDate(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, error) {
	series, err := l.LoadOHLCV(ctx, ticker, date.AddDate(0, 0, -priceLookbackDays), date, models.Interval1Day)
	if err != nil {
		return decimal.Decimal{}, err
	}
	bar, ok := series.BarOnOrBefore(date)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s on %s", ErrNoData, ticker, date.Format("2006-01-02"))
	}
	return bar.Close, nil
}

// GetTradingDays returns the dates with bars in [start, end], ascending.
func (l *Loader) GetTradingDays(ctx context.Context, ticker string, start, end time.Time) ([]time.Time, error) {
	series, err := l.LoadOHLCV(ctx, ticker, start, end, models.Interval1Day)
	if err != nil {
		return nil, err
	}
	days := make([]time.Time, series.Len())
	for i, b := range series.Bars {
		days[i] = DayKey(b.Timestamp)
	}
	return days, nil
}

// indicatorLookbackDays is the calendar padding loaded before the requested
// start so the longest warm-up (SMA 200) has enough trading days behind it.
const indicatorLookbackDays = 400

// LoadIndicators computes the indicator set for every trading day in
// [start, end], keyed by DayKey. Bars before start are loaded for warm-up
// only and excluded from the result.
func (l *Loader) LoadIndicators(ctx context.Context, ticker string, start, end time.Time) (map[time.Time]Indicators, error) {
	series, err := l.LoadOHLCV(ctx, ticker, start.AddDate(0, 0, -indicatorLookbackDays), end, models.Interval1Day)
	if err != nil {
		return nil, err
	}

	values := Compute(series)
	out := make(map[time.Time]Indicators)
	for i, b := range series.Bars {
		if b.Timestamp.Before(start) {
			continue
		}
		out[DayKey(b.Timestamp)] = values[i]
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// DayKey normalizes a timestamp to its calendar date in UTC, the key shape
// used by indicator maps and trading-day lists.
func DayKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
