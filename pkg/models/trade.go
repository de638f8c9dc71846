package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ════════════════════════════════════════════════════════════════════
// Trade Records (persistent, CGT-annotated)
// ════════════════════════════════════════════════════════════════════

// TradeRecord is one executed order as persisted to the ledger. Distinct
// from BacktestTrade, which pairs entry and exit fills for metrics; the
// two must never be conflated.
//
// Sell records additionally carry capital-gains attributes produced by
// FIFO parcel matching. All CGT amounts are in the ledger base currency.
type TradeRecord struct {
	ID          int64           `json:"id,omitempty"`
	UserID      int64           `json:"user_id,omitempty"`
	PortfolioID int64           `json:"portfolio_id,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Commission  decimal.Decimal `json:"commission"`
	ExecutedAt  time.Time       `json:"executed_at"`

	// SignalConfidence is carried on a 0–100 scale in persistent records.
	SignalConfidence float64 `json:"signal_confidence"`

	Currency      string          `json:"currency"`
	FXRateToAUD   decimal.Decimal `json:"fx_rate_to_aud"`
	TotalValueAUD decimal.Decimal `json:"total_value_aud"`

	AcquisitionDate     time.Time       `json:"acquisition_date,omitempty"`
	CostBasisPerUnit    decimal.Decimal `json:"cost_basis_per_unit"`
	CostBasisTotal      decimal.Decimal `json:"cost_basis_total"`
	HoldingPeriodDays   int             `json:"holding_period_days"`
	CGTDiscountEligible bool            `json:"cgt_discount_eligible"`
	CGTGrossGain        decimal.Decimal `json:"cgt_gross_gain"`
	CGTGrossLoss        decimal.Decimal `json:"cgt_gross_loss"`
	CGTNetGain          decimal.Decimal `json:"cgt_net_gain"`
	TaxYear             string          `json:"tax_year,omitempty"`
}

// Validate enforces the persistent-record invariants.
func (t TradeRecord) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("trade record: empty symbol")
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("trade record %s: unknown side %q", t.Symbol, t.Side)
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("trade record %s: quantity must be positive, got %s", t.Symbol, t.Quantity)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("trade record %s: price must be positive, got %s", t.Symbol, t.Price)
	}
	if !t.TotalValue.IsPositive() {
		return fmt.Errorf("trade record %s: total value must be positive, got %s", t.Symbol, t.TotalValue)
	}
	if t.SignalConfidence < 0 || t.SignalConfidence > 100 {
		return fmt.Errorf("trade record %s: signal confidence %.2f outside [0,100]", t.Symbol, t.SignalConfidence)
	}
	if !t.FXRateToAUD.IsPositive() {
		return fmt.Errorf("trade record %s: fx rate must be positive, got %s", t.Symbol, t.FXRateToAUD)
	}
	return nil
}

// NormalizeCurrency upper-cases an ISO-4217 code. Applying it twice is a
// no-op.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
