// Package models defines the shared domain types of the trading engine:
// bars, orders, positions, portfolios, signals, trade records and backtest
// artifacts. All monetary and quantity values are fixed-precision decimals;
// binary floating point never touches a financial path.
package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ════════════════════════════════════════════════════════════════════
// Decimal Precision Policy
// ════════════════════════════════════════════════════════════════════

// Fractional digits carried by each class of value. Serialization keeps
// these scales; storage layers that lack decimals transport strings.
const (
	// PriceScale applies to per-unit prices.
	PriceScale = 4
	// QuantityScale applies to order and position quantities.
	QuantityScale = 4
	// ValueScale applies to monetary totals (notional, P&L, commissions).
	ValueScale = 4
	// FXScale applies to currency conversion rates.
	FXScale = 8
)

// ParseDecimal constructs a Decimal from the string form of an external
// input. Every number that crosses the process boundary comes through here
// (or a pre-formed Decimal), never through a float.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustDecimal is ParseDecimal for compile-time literals; it panics on
// malformed input and must not be fed runtime data.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// RoundQuantity rounds DOWN to QuantityScale. Sizing never over-orders.
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(QuantityScale)
}

// RoundPrice rounds half-even to PriceScale.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(PriceScale)
}

// RoundValue rounds half-even to ValueScale. Used for monetary sums so
// that repeated aggregation does not drift.
func RoundValue(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(ValueScale)
}

// RoundFX rounds half-even to FXScale.
func RoundFX(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(FXScale)
}

// Percent interprets p as a percentage of base: base × p / 100.
func Percent(base, p decimal.Decimal) decimal.Decimal {
	return base.Mul(p).Div(decimal.NewFromInt(100))
}

// NullDecimalFrom wraps d as a valid NullDecimal. Optional monetary fields
// across the models use NullDecimal so that absent and zero stay distinct.
func NullDecimalFrom(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
