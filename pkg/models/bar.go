package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ════════════════════════════════════════════════════════════════════
// OHLCV Bars
// ════════════════════════════════════════════════════════════════════

// Interval identifies the bar aggregation period.
type Interval string

// Recognized bar intervals.
const (
	Interval1Min  Interval = "1m"
	Interval5Min  Interval = "5m"
	Interval15Min Interval = "15m"
	Interval1Hour Interval = "1h"
	Interval1Day  Interval = "1d"
	Interval1Week Interval = "1wk"
)

// Bar is a single OHLCV candle.
type Bar struct {
	Timestamp time.Time           `json:"timestamp"`
	Open      decimal.Decimal     `json:"open"`
	High      decimal.Decimal     `json:"high"`
	Low       decimal.Decimal     `json:"low"`
	Close     decimal.Decimal     `json:"close"`
	Volume    int64               `json:"volume"`
	AdjClose  decimal.NullDecimal `json:"adj_close,omitempty"`
}

// Validate enforces the bar invariants: all prices positive,
// low ≤ open,close ≤ high, volume non-negative.
func (b Bar) Validate() error {
	for name, p := range map[string]decimal.Decimal{
		"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close,
	} {
		if !p.IsPositive() {
			return fmt.Errorf("bar %s: %s must be positive, got %s", b.Timestamp.Format("2006-01-02"), name, p)
		}
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return fmt.Errorf("bar %s: low %s above open/close", b.Timestamp.Format("2006-01-02"), b.Low)
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return fmt.Errorf("bar %s: high %s below open/close", b.Timestamp.Format("2006-01-02"), b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume %d", b.Timestamp.Format("2006-01-02"), b.Volume)
	}
	return nil
}

// Series is an ordered sequence of bars for one ticker at one interval.
// Bars are ascending by timestamp.
type Series struct {
	Ticker   string   `json:"ticker"`
	Interval Interval `json:"interval"`
	Bars     []Bar    `json:"bars"`
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Empty reports whether the series has no bars.
func (s Series) Empty() bool { return len(s.Bars) == 0 }

// GetBar returns the bar whose timestamp falls on the same calendar day
// as date, in the bar's own location.
func (s Series) GetBar(date time.Time) (Bar, bool) {
	y, m, d := date.Date()
	for _, b := range s.Bars {
		by, bm, bd := b.Timestamp.Date()
		if by == y && bm == m && bd == d {
			return b, true
		}
	}
	return Bar{}, false
}

// BarOnOrBefore returns the most recent bar dated on or before date.
func (s Series) BarOnOrBefore(date time.Time) (Bar, bool) {
	for i := len(s.Bars) - 1; i >= 0; i-- {
		if !dateAfter(s.Bars[i].Timestamp, date) {
			return s.Bars[i], true
		}
	}
	return Bar{}, false
}

// dateAfter reports whether a's calendar date is later than b's.
func dateAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}

// Slice returns the sub-series with start ≤ timestamp ≤ end.
// The backing array is shared; callers must not mutate bars.
func (s Series) Slice(start, end time.Time) Series {
	lo := len(s.Bars)
	for i, b := range s.Bars {
		if !b.Timestamp.Before(start) {
			lo = i
			break
		}
	}
	hi := lo
	for hi < len(s.Bars) && !s.Bars[hi].Timestamp.After(end) {
		hi++
	}
	return Series{Ticker: s.Ticker, Interval: s.Interval, Bars: s.Bars[lo:hi]}
}

// Validate checks every bar and the ascending-timestamp ordering.
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && !s.Bars[i-1].Timestamp.Before(b.Timestamp) {
			return fmt.Errorf("series %s: bars out of order at index %d", s.Ticker, i)
		}
	}
	return nil
}

// LastClose returns the closing price of the final bar.
func (s Series) LastClose() (decimal.Decimal, bool) {
	if len(s.Bars) == 0 {
		return decimal.Zero, false
	}
	return s.Bars[len(s.Bars)-1].Close, true
}
