// Package ledger records executed trades and derives their capital-gains
// consequences under Australian CGT rules: FIFO parcel matching, the
// 12-month discount, and July–June tax years. The rules are parameterized
// so other jurisdictions can reuse the matching engine.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Rules
// ════════════════════════════════════════════════════════════════════

// Rules parameterize the jurisdiction. The zero value is not usable; start
// from DefaultRules.
type Rules struct {
	// DiscountDays is the minimum holding period for the CGT discount.
	// 367 days guarantees strictly more than 12 months for any
	// acquisition date.
	DiscountDays int
	// DiscountFactor multiplies an eligible net gain (0.5 in Australia).
	DiscountFactor decimal.Decimal
	// FYStartMonth is the first month of the tax year (July in Australia).
	FYStartMonth time.Month
	// BaseCurrency is the currency CGT amounts are computed in.
	BaseCurrency string
}

// DefaultRules returns the Australian defaults.
func DefaultRules() Rules {
	return Rules{
		DiscountDays:   367,
		DiscountFactor: decimal.RequireFromString("0.5"),
		FYStartMonth:   time.July,
		BaseCurrency:   "AUD",
	}
}

// TaxYear labels the financial year containing t. Under the July rule,
// 2023-07-01 onward belongs to FY2024.
func (r Rules) TaxYear(t time.Time) string {
	year := t.Year()
	if t.Month() >= r.FYStartMonth {
		year++
	}
	return fmt.Sprintf("FY%d", year)
}

// ════════════════════════════════════════════════════════════════════
// Parcels
// ════════════════════════════════════════════════════════════════════

// Parcel is an open acquisition lot awaiting disposal.
type Parcel struct {
	Symbol     string          `json:"symbol"`
	AcquiredAt time.Time       `json:"acquired_at"`
	Quantity   decimal.Decimal `json:"quantity"`
	// UnitCost is the base-currency cost per unit including the
	// acquisition's share of commission.
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// CostTotal is quantity × unit cost.
func (p Parcel) CostTotal() decimal.Decimal {
	return p.Quantity.Mul(p.UnitCost)
}

// ════════════════════════════════════════════════════════════════════
// Ledger
// ════════════════════════════════════════════════════════════════════

// Store persists trade records. The sqlite repository in internal/store
// satisfies it; a nil store keeps the ledger memory-only.
type Store interface {
	SaveTrade(ctx context.Context, rec *models.TradeRecord) (int64, error)
	TradesByTaxYear(ctx context.Context, taxYear string) ([]*models.TradeRecord, error)
}

// Ledger matches sells against FIFO acquisition parcels and annotates the
// resulting trade records with CGT attributes. Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	rules   Rules
	store   Store
	parcels map[string][]*Parcel
	records []*models.TradeRecord
}

// New creates a ledger. A nil rules pointer uses DefaultRules.
func New(rules *Rules) *Ledger {
	r := DefaultRules()
	if rules != nil {
		r = *rules
		if r.DiscountDays <= 0 {
			r.DiscountDays = 367
		}
		if !r.DiscountFactor.IsPositive() {
			r.DiscountFactor = decimal.RequireFromString("0.5")
		}
		if r.FYStartMonth < time.January || r.FYStartMonth > time.December {
			r.FYStartMonth = time.July
		}
		if r.BaseCurrency == "" {
			r.BaseCurrency = "AUD"
		}
	}
	return &Ledger{
		rules:   r,
		parcels: make(map[string][]*Parcel),
	}
}

// WithStore attaches write-through persistence and returns the ledger.
func (l *Ledger) WithStore(s Store) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = s
	return l
}

// Rules returns the active jurisdiction rules.
func (l *Ledger) Rules() Rules { return l.rules }

// TradeInput describes one executed fill to be recorded.
type TradeInput struct {
	OrderID    string
	Symbol     string
	Side       models.OrderSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal // per unit, native currency
	Commission decimal.Decimal // native currency
	// Currency defaults to the ledger base currency; FXRateToAUD defaults
	// to 1 and must be the trade-date rate otherwise.
	Currency         string
	FXRateToAUD      decimal.Decimal
	ExecutedAt       time.Time
	SignalConfidence float64
}

// normalize fills input defaults and validates the invariants shared by
// buys and sells.
func (in *TradeInput) normalize(base string) error {
	if in.Currency == "" {
		in.Currency = base
	}
	in.Currency = models.NormalizeCurrency(in.Currency)
	if in.FXRateToAUD.IsZero() && in.Currency == base {
		in.FXRateToAUD = decimal.NewFromInt(1)
	}
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("record %s: quantity must be positive, got %s", in.Symbol, in.Quantity)
	}
	if !in.Price.IsPositive() {
		return fmt.Errorf("record %s: price must be positive, got %s", in.Symbol, in.Price)
	}
	if in.Commission.IsNegative() {
		return fmt.Errorf("record %s: negative commission %s", in.Symbol, in.Commission)
	}
	if !in.FXRateToAUD.IsPositive() {
		return fmt.Errorf("record %s: missing fx rate for %s trade", in.Symbol, in.Currency)
	}
	if in.ExecutedAt.IsZero() {
		return fmt.Errorf("record %s: missing execution time", in.Symbol)
	}
	return nil
}

// Record books one executed fill, dispatching on side. Sell records come
// back annotated with their CGT attributes.
func (l *Ledger) Record(ctx context.Context, in TradeInput) (*models.TradeRecord, error) {
	if err := in.normalize(l.rules.BaseCurrency); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var rec *models.TradeRecord
	var err error
	switch in.Side {
	case models.SideBuy:
		rec = l.recordBuyLocked(in)
	case models.SideSell:
		rec, err = l.recordSellLocked(in)
	default:
		return nil, fmt.Errorf("record %s: unknown side %q", in.Symbol, in.Side)
	}
	if err != nil {
		return nil, err
	}

	l.records = append(l.records, rec)
	if l.store != nil {
		id, err := l.store.SaveTrade(ctx, rec)
		if err != nil {
			return rec, fmt.Errorf("persist trade %s: %w", in.Symbol, err)
		}
		rec.ID = id
	}
	return rec, nil
}

// RecordFill books an executed fill denominated in the base currency.
func (l *Ledger) RecordFill(ctx context.Context, f models.Fill, confidence float64) (*models.TradeRecord, error) {
	return l.Record(ctx, TradeInput{
		OrderID:          f.OrderID,
		Symbol:           f.Symbol,
		Side:             f.Side,
		Quantity:         f.Quantity,
		Price:            f.Price,
		Commission:       f.Commission,
		ExecutedAt:       f.Timestamp,
		SignalConfidence: confidence,
	})
}

// recordBuyLocked opens a new parcel and books the acquisition row.
func (l *Ledger) recordBuyLocked(in TradeInput) *models.TradeRecord {
	rec := l.baseRecord(in)

	// Commission forms part of the cost base.
	costBase := in.Quantity.Mul(in.Price).Add(in.Commission).Mul(in.FXRateToAUD)
	unitCost := costBase.Div(in.Quantity)

	// Parcels stay ordered by acquisition date even when fills arrive
	// out of order, so FIFO matching is deterministic.
	queue := append(l.parcels[in.Symbol], &Parcel{
		Symbol:     in.Symbol,
		AcquiredAt: in.ExecutedAt,
		Quantity:   in.Quantity,
		UnitCost:   unitCost,
	})
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].AcquiredAt.Before(queue[j].AcquiredAt)
	})
	l.parcels[in.Symbol] = queue

	rec.AcquisitionDate = in.ExecutedAt
	rec.CostBasisPerUnit = models.RoundPrice(unitCost)
	rec.CostBasisTotal = models.RoundValue(costBase)
	return rec
}

// recordSellLocked consumes parcels FIFO and computes the CGT outcome.
func (l *Ledger) recordSellLocked(in TradeInput) (*models.TradeRecord, error) {
	open := l.parcels[in.Symbol]
	available := decimal.Zero
	for _, p := range open {
		available = available.Add(p.Quantity)
	}
	if in.Quantity.GreaterThan(available) {
		return nil, fmt.Errorf("sell %s %s: only %s held in open parcels",
			in.Symbol, in.Quantity, available)
	}

	rec := l.baseRecord(in)

	remaining := in.Quantity
	costTotal := decimal.Zero
	earliest := open[0].AcquiredAt
	consumed := 0
	for _, p := range open {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(p.Quantity, remaining)
		costTotal = costTotal.Add(take.Mul(p.UnitCost))
		p.Quantity = p.Quantity.Sub(take)
		remaining = remaining.Sub(take)
		if p.Quantity.IsZero() {
			consumed++
		}
	}
	l.parcels[in.Symbol] = open[consumed:]
	if len(l.parcels[in.Symbol]) == 0 {
		delete(l.parcels, in.Symbol)
	}

	// Selling costs reduce the proceeds.
	proceeds := in.Quantity.Mul(in.Price).Sub(in.Commission).Mul(in.FXRateToAUD)

	holdingDays := daysBetween(earliest, in.ExecutedAt)
	eligible := holdingDays >= l.rules.DiscountDays

	diff := proceeds.Sub(costTotal)
	grossGain, grossLoss := decimal.Zero, decimal.Zero
	if diff.IsPositive() {
		grossGain = diff
	} else {
		grossLoss = diff.Neg()
	}
	net := diff
	if eligible && diff.IsPositive() {
		net = grossGain.Mul(l.rules.DiscountFactor)
	}

	rec.AcquisitionDate = earliest
	rec.CostBasisPerUnit = models.RoundPrice(costTotal.Div(in.Quantity))
	rec.CostBasisTotal = models.RoundValue(costTotal)
	rec.HoldingPeriodDays = holdingDays
	rec.CGTDiscountEligible = eligible
	rec.CGTGrossGain = models.RoundValue(grossGain)
	rec.CGTGrossLoss = models.RoundValue(grossLoss)
	rec.CGTNetGain = models.RoundValue(net)
	return rec, nil
}

// baseRecord fills the fields common to buys and sells.
func (l *Ledger) baseRecord(in TradeInput) *models.TradeRecord {
	total := models.RoundValue(in.Quantity.Mul(in.Price))
	return &models.TradeRecord{
		OrderID:          in.OrderID,
		Symbol:           in.Symbol,
		Side:             in.Side,
		Quantity:         in.Quantity,
		Price:            in.Price,
		TotalValue:       total,
		Commission:       in.Commission,
		ExecutedAt:       in.ExecutedAt,
		SignalConfidence: in.SignalConfidence,
		Currency:         in.Currency,
		FXRateToAUD:      in.FXRateToAUD,
		TotalValueAUD:    models.RoundValue(total.Mul(in.FXRateToAUD)),
		TaxYear:          l.rules.TaxYear(in.ExecutedAt),
	}
}

// daysBetween counts whole calendar days from a to b, ignoring clock time.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	start := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	end := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start) / (24 * time.Hour))
}

// OpenParcels returns copies of the symbol's open parcels, FIFO order.
func (l *Ledger) OpenParcels(symbol string) []Parcel {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Parcel, 0, len(l.parcels[symbol]))
	for _, p := range l.parcels[symbol] {
		out = append(out, *p)
	}
	return out
}

// OpenQuantity returns the total still-held quantity for a symbol.
func (l *Ledger) OpenQuantity(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, p := range l.parcels[symbol] {
		total = total.Add(p.Quantity)
	}
	return total
}

// Records returns the booked records in execution order.
func (l *Ledger) Records() []*models.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*models.TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// ════════════════════════════════════════════════════════════════════
// Tax-Year Reporting
// ════════════════════════════════════════════════════════════════════

// Report aggregates the CGT outcome of one tax year.
type Report struct {
	TaxYear         string          `json:"tax_year"`
	Sells           int             `json:"sells"`
	DiscountedSells int             `json:"discounted_sells"`
	GrossGain       decimal.Decimal `json:"gross_gain"`
	GrossLoss       decimal.Decimal `json:"gross_loss"`
	NetGain         decimal.Decimal `json:"net_gain"`
}

// Report totals the sell records booked to the given tax year. With a store
// attached the records are read back from it, so reports survive restarts.
func (l *Ledger) Report(ctx context.Context, taxYear string) (*Report, error) {
	var records []*models.TradeRecord
	l.mu.Lock()
	store := l.store
	if store == nil {
		records = make([]*models.TradeRecord, len(l.records))
		copy(records, l.records)
	}
	l.mu.Unlock()

	if store != nil {
		var err error
		records, err = store.TradesByTaxYear(ctx, taxYear)
		if err != nil {
			return nil, fmt.Errorf("load trades for %s: %w", taxYear, err)
		}
	}

	report := &Report{
		TaxYear:   taxYear,
		GrossGain: decimal.Zero,
		GrossLoss: decimal.Zero,
		NetGain:   decimal.Zero,
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ExecutedAt.Before(records[j].ExecutedAt)
	})
	for _, rec := range records {
		if rec.Side != models.SideSell || rec.TaxYear != taxYear {
			continue
		}
		report.Sells++
		if rec.CGTDiscountEligible {
			report.DiscountedSells++
		}
		report.GrossGain = report.GrossGain.Add(rec.CGTGrossGain)
		report.GrossLoss = report.GrossLoss.Add(rec.CGTGrossLoss)
		report.NetGain = report.NetGain.Add(rec.CGTNetGain)
	}
	return report, nil
}
