package backtest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Strategy Contract
// ════════════════════════════════════════════════════════════════════

// Context is the read-only view a strategy receives for one ticker on one
// trading day. History holds every bar loaded up to and including Date,
// warm-up bars included, so indicator windows can reach back before the
// first traded day.
type Context struct {
	Ticker   string
	Date     time.Time
	Bar      models.Bar
	History  models.Series
	Cash     decimal.Decimal
	Equity   decimal.Decimal
	Position *models.Position // nil when flat
}

// Long reports whether the strategy currently holds the ticker.
func (c Context) Long() bool {
	return c.Position != nil && c.Position.Quantity.IsPositive()
}

// Closes converts the history's closing prices to float64 for indicator
// math. Money never flows back out of these values.
func (c Context) Closes() []float64 {
	out := make([]float64, c.History.Len())
	for i, b := range c.History.Bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

// Strategy is the decision callback of the backtest engine: consulted once
// per ticker per trading day, it returns what to do. The engine owns
// sizing, commission, slippage and fills; strategies only express intent.
type Strategy interface {
	Name() string
	Decide(ctx Context) models.TradingDecision
}

// DecisionFunc adapts a plain function to the Strategy interface, for
// signal pipelines and tests that do not need a named type.
type DecisionFunc func(ctx Context) models.TradingDecision

// Func wraps fn as a Strategy with the given name.
func Func(name string, fn DecisionFunc) Strategy {
	return &funcStrategy{name: name, fn: fn}
}

type funcStrategy struct {
	name string
	fn   DecisionFunc
}

func (s *funcStrategy) Name() string { return s.name }

func (s *funcStrategy) Decide(ctx Context) models.TradingDecision {
	return s.fn(ctx)
}

// hold is the neutral decision.
func hold(symbol string) models.TradingDecision {
	return models.TradingDecision{Symbol: symbol, Action: models.SignalHold}
}

// ════════════════════════════════════════════════════════════════════
// Built-in Strategies
// ════════════════════════════════════════════════════════════════════

// SMARule trades a single moving average with entry and exit bands: buy
// when the close rises above SMA × BuyBand, sell when it falls below
// SMA × SellBand. The gap between the bands damps whipsaw around the
// average.
type SMARule struct {
	Period   int
	BuyBand  float64
	SellBand float64
}

// NewSMARule creates the rule with the default 2% bands.
func NewSMARule(period int) *SMARule {
	return &SMARule{Period: period, BuyBand: 1.02, SellBand: 0.98}
}

func (s *SMARule) Name() string {
	return fmt.Sprintf("sma_rule_%d", s.Period)
}

func (s *SMARule) Decide(ctx Context) models.TradingDecision {
	closes := ctx.Closes()
	if len(closes) < s.Period {
		return hold(ctx.Ticker)
	}
	sma := talib.Sma(closes, s.Period)
	avg := sma[len(sma)-1]
	if avg <= 0 {
		return hold(ctx.Ticker)
	}
	last := closes[len(closes)-1]

	switch {
	case !ctx.Long() && last > avg*s.BuyBand:
		return models.TradingDecision{
			Symbol:     ctx.Ticker,
			Action:     models.SignalBuy,
			Confidence: 1,
			Rationale:  fmt.Sprintf("close %.4f above SMA%d band %.4f", last, s.Period, avg*s.BuyBand),
		}
	case ctx.Long() && last < avg*s.SellBand:
		return models.TradingDecision{
			Symbol:     ctx.Ticker,
			Action:     models.SignalSell,
			Confidence: 1,
			Rationale:  fmt.Sprintf("close %.4f below SMA%d band %.4f", last, s.Period, avg*s.SellBand),
		}
	}
	return hold(ctx.Ticker)
}

// RSIReversion buys when RSI crosses up out of the oversold zone and exits
// when it crosses above the overbought threshold. Long-only.
type RSIReversion struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// NewRSIReversion creates the rule with the classic 30/70 thresholds.
func NewRSIReversion(period int) *RSIReversion {
	return &RSIReversion{Period: period, Oversold: 30, Overbought: 70}
}

func (s *RSIReversion) Name() string {
	return fmt.Sprintf("rsi_reversion_%d", s.Period)
}

func (s *RSIReversion) Decide(ctx Context) models.TradingDecision {
	closes := ctx.Closes()
	if len(closes) < s.Period+2 {
		return hold(ctx.Ticker)
	}
	rsi := talib.Rsi(closes, s.Period)
	curr, prev := rsi[len(rsi)-1], rsi[len(rsi)-2]

	switch {
	case !ctx.Long() && prev <= s.Oversold && curr > s.Oversold:
		return models.TradingDecision{
			Symbol:     ctx.Ticker,
			Action:     models.SignalBuy,
			Confidence: 1,
			Rationale:  fmt.Sprintf("RSI%d crossed up through %.0f", s.Period, s.Oversold),
		}
	case ctx.Long() && prev <= s.Overbought && curr > s.Overbought:
		return models.TradingDecision{
			Symbol:     ctx.Ticker,
			Action:     models.SignalSell,
			Confidence: 1,
			Rationale:  fmt.Sprintf("RSI%d crossed up through %.0f", s.Period, s.Overbought),
		}
	}
	return hold(ctx.Ticker)
}

// ════════════════════════════════════════════════════════════════════
// Strategy Factory
// ════════════════════════════════════════════════════════════════════

// Built-in strategy names accepted by ForName.
const (
	StrategySMARule      = "sma_rule"
	StrategyRSIReversion = "rsi_reversion"
)

// ForName builds a built-in strategy from its name and parameter map, as
// carried by BacktestConfig. An empty name selects the SMA rule.
func ForName(name string, params map[string]string) (Strategy, error) {
	switch name {
	case "", StrategySMARule:
		s := NewSMARule(intParam(params, "period", 20))
		if v, ok := floatParam(params, "buy_band"); ok {
			s.BuyBand = v
		}
		if v, ok := floatParam(params, "sell_band"); ok {
			s.SellBand = v
		}
		if s.Period <= 0 {
			return nil, fmt.Errorf("backtest: sma_rule period must be positive, got %d", s.Period)
		}
		if s.BuyBand < s.SellBand {
			return nil, fmt.Errorf("backtest: sma_rule buy band %.4f below sell band %.4f", s.BuyBand, s.SellBand)
		}
		return s, nil
	case StrategyRSIReversion:
		s := NewRSIReversion(intParam(params, "period", 14))
		if v, ok := floatParam(params, "oversold"); ok {
			s.Oversold = v
		}
		if v, ok := floatParam(params, "overbought"); ok {
			s.Overbought = v
		}
		if s.Period <= 0 {
			return nil, fmt.Errorf("backtest: rsi_reversion period must be positive, got %d", s.Period)
		}
		if s.Oversold >= s.Overbought {
			return nil, fmt.Errorf("backtest: rsi_reversion oversold %.0f not below overbought %.0f", s.Oversold, s.Overbought)
		}
		return s, nil
	}
	return nil, fmt.Errorf("backtest: unknown strategy %q (built-ins: %s, %s)",
		name, StrategySMARule, StrategyRSIReversion)
}

func intParam(params map[string]string, key string, def int) int {
	if v, ok := params[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatParam(params map[string]string, key string) (float64, bool) {
	if v, ok := params[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
