package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ════════════════════════════════════════════════════════════════════
// Position
// ════════════════════════════════════════════════════════════════════

// PositionSide is the direction of an open position.
type PositionSide string

// Position sides.
const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionFlat  PositionSide = "flat"
)

// AssetClass buckets tradable instruments for routing and reporting.
type AssetClass string

// Asset classes.
const (
	AssetEquity AssetClass = "equity"
	AssetETF    AssetClass = "etf"
	AssetCrypto AssetClass = "crypto"
	AssetFuture AssetClass = "future"
	AssetForex  AssetClass = "forex"
)

// Position is an open holding in one symbol. Quantity is signed: positive
// long, negative short. Side always matches the sign of Quantity.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	Side          PositionSide    `json:"side"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	AssetClass    AssetClass      `json:"asset_class,omitempty"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// syncSide re-derives Side from the sign of Quantity.
func (p *Position) syncSide() {
	switch {
	case p.Quantity.IsPositive():
		p.Side = PositionLong
	case p.Quantity.IsNegative():
		p.Side = PositionShort
	default:
		p.Side = PositionFlat
	}
}

// MarketValue is |quantity| × current_price.
func (p *Position) MarketValue() decimal.Decimal {
	return RoundValue(p.Quantity.Abs().Mul(p.CurrentPrice))
}

// SignedMarketValue is quantity × current_price; negative for shorts.
// Portfolio equity sums this form.
func (p *Position) SignedMarketValue() decimal.Decimal {
	return RoundValue(p.Quantity.Mul(p.CurrentPrice))
}

// CostBasis is |quantity| × avg_entry_price.
func (p *Position) CostBasis() decimal.Decimal {
	return RoundValue(p.Quantity.Abs().Mul(p.AvgEntryPrice))
}

// UnrealizedPnL is the mark-to-market gain on the open quantity.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	diff := p.CurrentPrice.Sub(p.AvgEntryPrice)
	return RoundValue(p.Quantity.Mul(diff))
}

// MarkPrice updates the mark used for valuation.
func (p *Position) MarkPrice(price decimal.Decimal, at time.Time) {
	p.CurrentPrice = price
	p.UpdatedAt = at
}

// ════════════════════════════════════════════════════════════════════
// Portfolio
// ════════════════════════════════════════════════════════════════════

// Portfolio owns cash and positions. Positions are mutated only through
// ApplyFill. Portfolio itself is not synchronized; owners that share one
// across goroutines (the paper broker, the risk manager) guard it with
// their own lock.
type Portfolio struct {
	Cash                decimal.Decimal      `json:"cash"`
	InitialCapital      decimal.Decimal      `json:"initial_capital"`
	Currency            string               `json:"currency"`
	Positions           map[string]*Position `json:"positions"`
	PendingOrders       map[string]*Order    `json:"pending_orders,omitempty"`
	TotalRealizedPnL    decimal.Decimal      `json:"total_realized_pnl"`
	TotalCommissionPaid decimal.Decimal      `json:"total_commission_paid"`
	DailyPnL            decimal.Decimal      `json:"daily_pnl"`
	PeakEquity          decimal.Decimal      `json:"peak_equity"`
}

// NewPortfolio creates a portfolio holding initialCash.
func NewPortfolio(initialCash decimal.Decimal, currency string) (*Portfolio, error) {
	if initialCash.IsNegative() {
		return nil, fmt.Errorf("portfolio: initial capital must be non-negative, got %s", initialCash)
	}
	return &Portfolio{
		Cash:           initialCash,
		InitialCapital: initialCash,
		Currency:       NormalizeCurrency(currency),
		Positions:      make(map[string]*Position),
		PendingOrders:  make(map[string]*Order),
		PeakEquity:     initialCash,
	}, nil
}

// ApplyFill mutates cash and the touched position atomically with respect
// to the portfolio value. Adds use quantity-weighted average entry price;
// reductions realize P&L net of the fill's commission; a fill crossing
// through zero closes the old position and opens the remainder on the
// other side at the fill price. A buy that would drive cash negative is
// rejected without mutation.
func (pf *Portfolio) ApplyFill(f Fill) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Side == SideBuy {
		newCash := pf.Cash.Sub(f.TotalCost())
		if newCash.IsNegative() {
			return fmt.Errorf("portfolio: fill cost %s exceeds cash %s", f.TotalCost(), pf.Cash)
		}
	}

	pos, ok := pf.Positions[f.Symbol]
	if !ok {
		pos = &Position{Symbol: f.Symbol, OpenedAt: f.Timestamp}
		pf.Positions[f.Symbol] = pos
	}

	signedQty := f.Quantity
	if f.Side == SideSell {
		signedQty = f.Quantity.Neg()
	}

	realized := decimal.Zero
	sameDirection := pos.Quantity.IsZero() || pos.Quantity.Sign() == signedQty.Sign()
	if sameDirection {
		// Opening or adding: weighted-average entry price.
		oldAbs := pos.Quantity.Abs()
		newAbs := oldAbs.Add(f.Quantity)
		if oldAbs.IsZero() {
			pos.AvgEntryPrice = f.Price
			pos.OpenedAt = f.Timestamp
		} else {
			weighted := oldAbs.Mul(pos.AvgEntryPrice).Add(f.Quantity.Mul(f.Price))
			pos.AvgEntryPrice = weighted.DivRound(newAbs, PriceScale)
		}
		pos.Quantity = pos.Quantity.Add(signedQty)
	} else {
		// Reducing, closing, or flipping.
		closeQty := decimal.Min(f.Quantity, pos.Quantity.Abs())
		perUnit := f.Price.Sub(pos.AvgEntryPrice)
		if pos.Quantity.IsNegative() {
			perUnit = pos.AvgEntryPrice.Sub(f.Price)
		}
		realized = RoundValue(closeQty.Mul(perUnit).Sub(f.Commission))
		pos.Quantity = pos.Quantity.Add(signedQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		if !pos.Quantity.IsZero() && pos.Quantity.Sign() == signedQty.Sign() {
			// Flipped through zero: remainder opens at the fill price.
			pos.AvgEntryPrice = f.Price
			pos.OpenedAt = f.Timestamp
		}
	}

	pos.CurrentPrice = f.Price
	pos.UpdatedAt = f.Timestamp
	pos.syncSide()
	if pos.Quantity.IsZero() {
		delete(pf.Positions, f.Symbol)
	}

	if f.Side == SideBuy {
		pf.Cash = pf.Cash.Sub(f.TotalCost())
	} else {
		pf.Cash = pf.Cash.Add(f.TotalCost())
	}
	pf.TotalRealizedPnL = pf.TotalRealizedPnL.Add(realized)
	pf.DailyPnL = pf.DailyPnL.Add(realized)
	pf.TotalCommissionPaid = pf.TotalCommissionPaid.Add(f.Commission)
	return nil
}

// PositionsValue is the signed sum of position market values.
func (pf *Portfolio) PositionsValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range pf.Positions {
		total = total.Add(p.SignedMarketValue())
	}
	return total
}

// Equity is cash plus the signed value of all positions.
func (pf *Portfolio) Equity() decimal.Decimal {
	return pf.Cash.Add(pf.PositionsValue())
}

// UpdatePeakEquity raises the peak if equity exceeds it. Monotone.
func (pf *Portfolio) UpdatePeakEquity(equity decimal.Decimal) {
	if equity.GreaterThan(pf.PeakEquity) {
		pf.PeakEquity = equity
	}
}

// Drawdown is max(0, peak_equity − equity).
func (pf *Portfolio) Drawdown() decimal.Decimal {
	dd := pf.PeakEquity.Sub(pf.Equity())
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// ResetDaily zeroes the daily P&L accumulator at session roll-over.
func (pf *Portfolio) ResetDaily() {
	pf.DailyPnL = decimal.Zero
}

// Position returns the open position for symbol, if any.
func (pf *Portfolio) Position(symbol string) (*Position, bool) {
	p, ok := pf.Positions[symbol]
	return p, ok
}

// OpenPositionCount is the number of non-flat positions.
func (pf *Portfolio) OpenPositionCount() int {
	return len(pf.Positions)
}
