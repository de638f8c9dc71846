// Package convert turns trading signals into broker-ready order requests.
// A Converter applies one position-sizing policy and one bracket policy
// (stop-loss / take-profit); it holds no mutable state and is safe for
// concurrent use.
package convert

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/internal/config"
	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Policy Enumerations
// ════════════════════════════════════════════════════════════════════

// SizingMethod selects how order quantity is derived from a signal.
type SizingMethod string

// Sizing methods.
const (
	SizeFixedDollar        SizingMethod = "fixed_dollar"
	SizeFixedQuantity      SizingMethod = "fixed_quantity"
	SizePercentOfPortfolio SizingMethod = "percent_of_portfolio"
	SizeKelly              SizingMethod = "kelly"
	SizeVolatility         SizingMethod = "volatility"
)

// StopLossType selects how the protective stop level is derived.
type StopLossType string

// Stop-loss variants.
const (
	StopNone            StopLossType = "none"
	StopFixedPrice      StopLossType = "fixed_price"
	StopPercent         StopLossType = "percent"
	StopATRMultiple     StopLossType = "atr_multiple"
	StopTrailingPercent StopLossType = "trailing_percent"
	StopTrailingAmount  StopLossType = "trailing_amount"
)

// TakeProfitType selects how the profit target is derived.
type TakeProfitType string

// Take-profit variants.
const (
	ProfitNone       TakeProfitType = "none"
	ProfitFixedPrice TakeProfitType = "fixed_price"
	ProfitPercent    TakeProfitType = "percent"
	ProfitRiskReward TakeProfitType = "risk_reward_ratio"
)

// ════════════════════════════════════════════════════════════════════
// Configuration
// ════════════════════════════════════════════════════════════════════

// Sizing parameterizes the quantity calculation. Only the fields of the
// selected method are consulted.
type Sizing struct {
	Method SizingMethod

	// FixedDollar is the notional per entry for fixed_dollar.
	FixedDollar decimal.Decimal
	// FixedQuantity is the quantity per entry for fixed_quantity.
	FixedQuantity decimal.Decimal
	// PercentOfPortfolio is the equity share per entry, in percent.
	PercentOfPortfolio decimal.Decimal
	// KellyWinProb and KellyWinLossRatio feed the Kelly fraction
	// win_prob − (1 − win_prob) / ratio, clamped to [0, KellyCapPercent].
	KellyWinProb      float64
	KellyWinLossRatio float64
	KellyCapPercent   decimal.Decimal
	// RiskPerTrade and ATRMultiplier size volatility entries as
	// risk_per_trade / (ATR × multiplier).
	RiskPerTrade  decimal.Decimal
	ATRMultiplier decimal.Decimal
}

// StopLoss parameterizes the protective stop. Value is a price for
// fixed_price, a percent for percent and trailing_percent, an ATR multiple
// for atr_multiple, and a currency amount for trailing_amount.
type StopLoss struct {
	Type  StopLossType
	Value decimal.Decimal
}

// TakeProfit parameterizes the profit target. Value is a price for
// fixed_price, a percent for percent and the reward/risk multiple for
// risk_reward_ratio.
type TakeProfit struct {
	Type  TakeProfitType
	Value decimal.Decimal
}

// Config is one complete conversion policy.
type Config struct {
	Sizing             Sizing
	StopLoss           StopLoss
	TakeProfit         TakeProfit
	DefaultTimeInForce models.TimeInForce
	// PricePrecision is the scale of derived stop and target prices.
	PricePrecision int32
	// QuantityPrecision is the scale quantities are floored to; zero
	// means whole units.
	QuantityPrecision int32
}

// DefaultConfig sizes entries at 10% of equity with no bracket legs.
func DefaultConfig() Config {
	return Config{
		Sizing: Sizing{
			Method:             SizePercentOfPortfolio,
			PercentOfPortfolio: decimal.NewFromInt(10),
			KellyCapPercent:    decimal.NewFromInt(25),
			ATRMultiplier:      decimal.NewFromInt(2),
		},
		StopLoss:           StopLoss{Type: StopNone},
		TakeProfit:         TakeProfit{Type: ProfitNone},
		DefaultTimeInForce: models.TIFDay,
		PricePrecision:     models.PriceScale,
	}
}

// FromConfig parses the converter configuration block into a policy,
// validating enums and decimal-valued options.
func FromConfig(cc config.ConverterConfig) (Config, error) {
	out := DefaultConfig()

	if cc.SizingMethod != "" {
		switch m := SizingMethod(cc.SizingMethod); m {
		case SizeFixedDollar, SizeFixedQuantity, SizePercentOfPortfolio, SizeKelly, SizeVolatility:
			out.Sizing.Method = m
		default:
			return Config{}, fmt.Errorf("converter config: unknown sizing method %q", cc.SizingMethod)
		}
	}
	if err := parseInto(&out.Sizing.FixedDollar, "fixed_dollar", cc.FixedDollar); err != nil {
		return Config{}, err
	}
	if err := parseInto(&out.Sizing.FixedQuantity, "fixed_quantity", cc.FixedQuantity); err != nil {
		return Config{}, err
	}
	if err := parseInto(&out.Sizing.PercentOfPortfolio, "percent_of_portfolio", cc.PercentOfPortfolio); err != nil {
		return Config{}, err
	}
	if err := parseInto(&out.Sizing.KellyCapPercent, "kelly_cap_pct", cc.KellyCapPct); err != nil {
		return Config{}, err
	}
	if err := parseInto(&out.Sizing.RiskPerTrade, "risk_per_trade", cc.RiskPerTrade); err != nil {
		return Config{}, err
	}
	if err := parseInto(&out.Sizing.ATRMultiplier, "atr_multiplier", cc.ATRMultiplier); err != nil {
		return Config{}, err
	}
	if cc.KellyWinProb < 0 || cc.KellyWinProb > 1 {
		return Config{}, fmt.Errorf("converter config: kelly_win_prob %.4f outside [0,1]", cc.KellyWinProb)
	}
	out.Sizing.KellyWinProb = cc.KellyWinProb
	out.Sizing.KellyWinLossRatio = cc.KellyWinLossRatio

	if cc.StopLossType != "" {
		switch t := StopLossType(cc.StopLossType); t {
		case StopNone, StopFixedPrice, StopPercent, StopATRMultiple, StopTrailingPercent, StopTrailingAmount:
			out.StopLoss.Type = t
		default:
			return Config{}, fmt.Errorf("converter config: unknown stop-loss type %q", cc.StopLossType)
		}
	}
	if err := parseInto(&out.StopLoss.Value, "stop_loss_value", cc.StopLossValue); err != nil {
		return Config{}, err
	}

	if cc.TakeProfitType != "" {
		switch t := TakeProfitType(cc.TakeProfitType); t {
		case ProfitNone, ProfitFixedPrice, ProfitPercent, ProfitRiskReward:
			out.TakeProfit.Type = t
		default:
			return Config{}, fmt.Errorf("converter config: unknown take-profit type %q", cc.TakeProfitType)
		}
	}
	if err := parseInto(&out.TakeProfit.Value, "take_profit_value", cc.TakeProfitValue); err != nil {
		return Config{}, err
	}

	if cc.DefaultTimeInForce != "" {
		out.DefaultTimeInForce = models.TimeInForce(cc.DefaultTimeInForce)
	}
	if cc.PricePrecision < 0 || cc.QuantityPrecision < 0 {
		return Config{}, fmt.Errorf("converter config: precisions must be non-negative")
	}
	out.PricePrecision = int32(cc.PricePrecision)
	out.QuantityPrecision = int32(cc.QuantityPrecision)
	return out, nil
}

// parseInto parses a non-empty decimal option in place.
func parseInto(dst *decimal.Decimal, name, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := models.ParseDecimal(raw)
	if err != nil {
		return fmt.Errorf("converter config: %s: %w", name, err)
	}
	*dst = d
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Conversion
// ════════════════════════════════════════════════════════════════════

// Context is the portfolio and market state a conversion reads. The caller
// supplies a consistent snapshot; the converter never fetches anything.
type Context struct {
	// Equity scales percent-of-portfolio and Kelly sizing.
	Equity decimal.Decimal
	// PositionQty is the signed open quantity in the signal's symbol.
	// Close signals flatten exactly this amount.
	PositionQty decimal.Decimal
	// ATR feeds volatility sizing and ATR-multiple stops when valid.
	ATR decimal.NullDecimal
}

// Bracket carries the protective child orders of an entry. The legs share
// the entry's client-order-id root with "-sl" and "-tp" suffixes.
type Bracket struct {
	StopLoss   *models.OrderRequest `json:"stop_loss,omitempty"`
	TakeProfit *models.OrderRequest `json:"take_profit,omitempty"`
}

// Result is the outcome of one conversion. A successful result carries the
// entry order and any bracket legs; Errors lists why Success is false.
type Result struct {
	Success bool                 `json:"success"`
	Order   *models.OrderRequest `json:"order,omitempty"`
	Bracket Bracket              `json:"bracket"`
	Errors  []string             `json:"errors,omitempty"`
}

func fail(errs ...string) Result {
	return Result{Errors: errs}
}

// Converter applies one conversion policy.
type Converter struct {
	cfg Config
}

// New creates a converter. Zero-valued policy fields fall back to the
// defaults.
func New(cfg Config) *Converter {
	if cfg.Sizing.Method == "" {
		cfg.Sizing = DefaultConfig().Sizing
	}
	if cfg.StopLoss.Type == "" {
		cfg.StopLoss.Type = StopNone
	}
	if cfg.TakeProfit.Type == "" {
		cfg.TakeProfit.Type = ProfitNone
	}
	if cfg.DefaultTimeInForce == "" {
		cfg.DefaultTimeInForce = models.TIFDay
	}
	if cfg.PricePrecision <= 0 {
		cfg.PricePrecision = models.PriceScale
	}
	if cfg.QuantityPrecision < 0 {
		cfg.QuantityPrecision = 0
	}
	return &Converter{cfg: cfg}
}

// Convert builds the entry order and bracket legs for a signal at the
// given execution price estimate. Failures are reported in the result,
// never panicked: an unactionable signal, a sizing that floors to zero, or
// a bracket level that cannot be derived all yield Success == false.
func (c *Converter) Convert(sig models.TradingSignal, price decimal.Decimal, cctx Context) Result {
	if err := sig.Validate(); err != nil {
		return fail(err.Error())
	}
	if !sig.IsActionable() {
		return fail(fmt.Sprintf("signal %s: hold is not actionable", sig.Symbol))
	}
	if !price.IsPositive() {
		return fail(fmt.Sprintf("signal %s: non-positive price %s", sig.Symbol, price))
	}

	side, qty, isClose, errMsg := c.resolveSideAndQuantity(sig, price, cctx)
	if errMsg != "" {
		return fail(errMsg)
	}

	root := sig.ID
	if root == "" {
		root = uuid.NewString()
	}

	entry := &models.OrderRequest{
		Symbol:        sig.Symbol,
		Side:          side,
		Quantity:      qty,
		Type:          models.OrderTypeMarket,
		TimeInForce:   c.cfg.DefaultTimeInForce,
		ClientOrderID: root,
	}

	res := Result{Success: true, Order: entry}
	if isClose {
		// Flattening orders never carry protective legs.
		return res
	}

	stop, stopDistance, errMsg := c.stopLossLeg(sig, entry, price, cctx)
	if errMsg != "" {
		return fail(errMsg)
	}
	res.Bracket.StopLoss = stop

	target, errMsg := c.takeProfitLeg(sig, entry, price, stopDistance)
	if errMsg != "" {
		return fail(errMsg)
	}
	res.Bracket.TakeProfit = target
	return res
}

// resolveSideAndQuantity maps the signal type to an order side and sizes
// the quantity. Close signals flatten the open position instead of sizing.
func (c *Converter) resolveSideAndQuantity(sig models.TradingSignal, price decimal.Decimal, cctx Context) (models.OrderSide, decimal.Decimal, bool, string) {
	switch sig.Type {
	case models.SignalBuy, models.SignalSell:
		side := models.SideBuy
		if sig.Type == models.SignalSell {
			side = models.SideSell
		}
		qty, errMsg := c.size(price, cctx)
		return side, qty, false, errMsg

	case models.SignalCloseLong:
		if !cctx.PositionQty.IsPositive() {
			return "", decimal.Zero, true, fmt.Sprintf("signal %s: no long position to close", sig.Symbol)
		}
		return models.SideSell, cctx.PositionQty, true, ""

	case models.SignalCloseShort:
		if !cctx.PositionQty.IsNegative() {
			return "", decimal.Zero, true, fmt.Sprintf("signal %s: no short position to close", sig.Symbol)
		}
		return models.SideBuy, cctx.PositionQty.Abs(), true, ""
	}
	return "", decimal.Zero, false, fmt.Sprintf("signal %s: unsupported type %q", sig.Symbol, sig.Type)
}

var hundred = decimal.NewFromInt(100)

// size derives the entry quantity per the sizing method, floored to the
// configured precision. A quantity that floors to zero is an error.
func (c *Converter) size(price decimal.Decimal, cctx Context) (decimal.Decimal, string) {
	s := c.cfg.Sizing
	var qty decimal.Decimal

	switch s.Method {
	case SizeFixedDollar:
		if !s.FixedDollar.IsPositive() {
			return decimal.Zero, "fixed_dollar sizing requires a positive amount"
		}
		qty = s.FixedDollar.Div(price)

	case SizeFixedQuantity:
		qty = s.FixedQuantity

	case SizePercentOfPortfolio:
		if !s.PercentOfPortfolio.IsPositive() {
			return decimal.Zero, "percent_of_portfolio sizing requires a positive percent"
		}
		qty = models.Percent(cctx.Equity, s.PercentOfPortfolio).Div(price)

	case SizeKelly:
		if s.KellyWinLossRatio <= 0 {
			return decimal.Zero, "kelly sizing requires a positive win/loss ratio"
		}
		frac := decimal.NewFromFloat(s.KellyWinProb).
			Sub(decimal.NewFromFloat(1 - s.KellyWinProb).Div(decimal.NewFromFloat(s.KellyWinLossRatio)))
		if frac.IsNegative() {
			frac = decimal.Zero
		}
		if capFrac := s.KellyCapPercent.Div(hundred); capFrac.IsPositive() && frac.GreaterThan(capFrac) {
			frac = capFrac
		}
		qty = cctx.Equity.Mul(frac).Div(price)

	case SizeVolatility:
		if !cctx.ATR.Valid || !cctx.ATR.Decimal.IsPositive() {
			return decimal.Zero, "volatility sizing requires a positive ATR in context"
		}
		if !s.RiskPerTrade.IsPositive() {
			return decimal.Zero, "volatility sizing requires a positive risk_per_trade"
		}
		denom := cctx.ATR.Decimal.Mul(s.ATRMultiplier)
		if !denom.IsPositive() {
			return decimal.Zero, "volatility sizing requires a positive ATR multiplier"
		}
		qty = s.RiskPerTrade.Div(denom)

	default:
		return decimal.Zero, fmt.Sprintf("unknown sizing method %q", s.Method)
	}

	qty = qty.RoundDown(c.cfg.QuantityPrecision)
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Sprintf("sized quantity %s is not positive", qty)
	}
	return qty, ""
}

// ════════════════════════════════════════════════════════════════════
// Bracket Legs
// ════════════════════════════════════════════════════════════════════

// stopLossLeg derives the protective stop child. A signal-level stop price
// overrides the configured variant. The returned distance (entry to stop)
// feeds risk/reward take-profit derivation; it is zero when no distance is
// defined. Long entries get sell stops below the price, short entries buy
// stops above it.
func (c *Converter) stopLossLeg(sig models.TradingSignal, entry *models.OrderRequest, price decimal.Decimal, cctx Context) (*models.OrderRequest, decimal.Decimal, string) {
	long := entry.Side == models.SideBuy

	slType, slValue := c.cfg.StopLoss.Type, c.cfg.StopLoss.Value
	if sig.StopLossPrice.Valid && sig.StopLossPrice.Decimal.IsPositive() {
		slType, slValue = StopFixedPrice, sig.StopLossPrice.Decimal
	}
	if slType == StopNone {
		return nil, decimal.Zero, ""
	}

	leg := &models.OrderRequest{
		Symbol:        entry.Symbol,
		Side:          entry.Side.Opposite(),
		Quantity:      entry.Quantity,
		TimeInForce:   models.TIFGTC,
		ClientOrderID: entry.ClientOrderID + "-sl",
	}

	switch slType {
	case StopTrailingPercent:
		if !slValue.IsPositive() {
			return nil, decimal.Zero, "trailing_percent stop requires a positive percent"
		}
		leg.Type = models.OrderTypeTrailingStop
		leg.TrailPercent = models.NullDecimalFrom(slValue)
		return leg, models.Percent(price, slValue), ""

	case StopTrailingAmount:
		if !slValue.IsPositive() {
			return nil, decimal.Zero, "trailing_amount stop requires a positive amount"
		}
		leg.Type = models.OrderTypeTrailingStop
		leg.TrailAmount = models.NullDecimalFrom(slValue)
		return leg, slValue, ""
	}

	var stopPrice decimal.Decimal
	switch slType {
	case StopFixedPrice:
		if !slValue.IsPositive() {
			return nil, decimal.Zero, "fixed_price stop requires a positive price"
		}
		stopPrice = slValue
		if long && !stopPrice.LessThan(price) {
			return nil, decimal.Zero, fmt.Sprintf("stop %s not below entry %s for a long entry", stopPrice, price)
		}
		if !long && !stopPrice.GreaterThan(price) {
			return nil, decimal.Zero, fmt.Sprintf("stop %s not above entry %s for a short entry", stopPrice, price)
		}

	case StopPercent:
		if !slValue.IsPositive() {
			return nil, decimal.Zero, "percent stop requires a positive percent"
		}
		offset := models.Percent(price, slValue)
		if long {
			stopPrice = price.Sub(offset)
		} else {
			stopPrice = price.Add(offset)
		}

	case StopATRMultiple:
		if !cctx.ATR.Valid || !cctx.ATR.Decimal.IsPositive() {
			return nil, decimal.Zero, "atr_multiple stop requires a positive ATR in context"
		}
		if !slValue.IsPositive() {
			return nil, decimal.Zero, "atr_multiple stop requires a positive multiple"
		}
		offset := cctx.ATR.Decimal.Mul(slValue)
		if long {
			stopPrice = price.Sub(offset)
		} else {
			stopPrice = price.Add(offset)
		}

	default:
		return nil, decimal.Zero, fmt.Sprintf("unknown stop-loss type %q", slType)
	}

	stopPrice = stopPrice.RoundBank(c.cfg.PricePrecision)
	if !stopPrice.IsPositive() {
		return nil, decimal.Zero, fmt.Sprintf("derived stop price %s is not positive", stopPrice)
	}
	leg.Type = models.OrderTypeStop
	leg.StopPrice = models.NullDecimalFrom(stopPrice)
	return leg, price.Sub(stopPrice).Abs(), ""
}

// takeProfitLeg derives the profit-target child as a limit order on the
// opposite side. A signal-level target price overrides the configured
// variant. Risk/reward targets need a stop distance from the stop leg.
func (c *Converter) takeProfitLeg(sig models.TradingSignal, entry *models.OrderRequest, price, stopDistance decimal.Decimal) (*models.OrderRequest, string) {
	long := entry.Side == models.SideBuy

	tpType, tpValue := c.cfg.TakeProfit.Type, c.cfg.TakeProfit.Value
	if sig.TargetPrice.Valid && sig.TargetPrice.Decimal.IsPositive() {
		tpType, tpValue = ProfitFixedPrice, sig.TargetPrice.Decimal
	}
	if tpType == ProfitNone {
		return nil, ""
	}

	var target decimal.Decimal
	switch tpType {
	case ProfitFixedPrice:
		if !tpValue.IsPositive() {
			return nil, "fixed_price take-profit requires a positive price"
		}
		target = tpValue
		if long && !target.GreaterThan(price) {
			return nil, fmt.Sprintf("target %s not above entry %s for a long entry", target, price)
		}
		if !long && !target.LessThan(price) {
			return nil, fmt.Sprintf("target %s not below entry %s for a short entry", target, price)
		}

	case ProfitPercent:
		if !tpValue.IsPositive() {
			return nil, "percent take-profit requires a positive percent"
		}
		offset := models.Percent(price, tpValue)
		if long {
			target = price.Add(offset)
		} else {
			target = price.Sub(offset)
		}

	case ProfitRiskReward:
		if !tpValue.IsPositive() {
			return nil, "risk_reward_ratio take-profit requires a positive ratio"
		}
		if !stopDistance.IsPositive() {
			return nil, "risk_reward_ratio take-profit requires a stop-loss"
		}
		offset := stopDistance.Mul(tpValue)
		if long {
			target = price.Add(offset)
		} else {
			target = price.Sub(offset)
		}

	default:
		return nil, fmt.Sprintf("unknown take-profit type %q", tpType)
	}

	target = target.RoundBank(c.cfg.PricePrecision)
	if !target.IsPositive() {
		return nil, fmt.Sprintf("derived target price %s is not positive", target)
	}
	return &models.OrderRequest{
		Symbol:        entry.Symbol,
		Side:          entry.Side.Opposite(),
		Quantity:      entry.Quantity,
		Type:          models.OrderTypeLimit,
		LimitPrice:    models.NullDecimalFrom(target),
		TimeInForce:   models.TIFGTC,
		ClientOrderID: entry.ClientOrderID + "-tp",
	}, ""
}
