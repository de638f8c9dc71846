package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ════════════════════════════════════════════════════════════════════
// Trading Signals
// ════════════════════════════════════════════════════════════════════

// SignalType is the action a signal recommends.
type SignalType string

// Signal types.
const (
	SignalBuy        SignalType = "buy"
	SignalSell       SignalType = "sell"
	SignalHold       SignalType = "hold"
	SignalCloseLong  SignalType = "close_long"
	SignalCloseShort SignalType = "close_short"
)

// TradingSignal is the unit of intent entering the executor. Source is a
// free string naming the producer ("sma_rule", "news_sentiment", ...).
type TradingSignal struct {
	ID            string              `json:"id,omitempty"`
	Symbol        string              `json:"symbol"`
	Type          SignalType          `json:"signal_type"`
	Strength      float64             `json:"strength,omitempty"`
	Confidence    float64             `json:"confidence"`
	PriceAtSignal decimal.NullDecimal `json:"price_at_signal,omitempty"`
	TargetPrice   decimal.NullDecimal `json:"target_price,omitempty"`
	StopLossPrice decimal.NullDecimal `json:"stop_loss_price,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	Source        string              `json:"source"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
}

// Validate checks symbol, type and the confidence range [0,1].
func (s TradingSignal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal: empty symbol")
	}
	switch s.Type {
	case SignalBuy, SignalSell, SignalHold, SignalCloseLong, SignalCloseShort:
	default:
		return fmt.Errorf("signal %s: unknown type %q", s.Symbol, s.Type)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %.4f outside [0,1]", s.Symbol, s.Confidence)
	}
	return nil
}

// IsActionable reports whether the signal calls for an order.
func (s TradingSignal) IsActionable() bool {
	return s.Type != SignalHold
}

// ════════════════════════════════════════════════════════════════════
// Trading Decisions
// ════════════════════════════════════════════════════════════════════

// TradingDecision is the richer verdict produced by strategy callbacks and
// decision pipelines. The executor and backtest engine flatten it to a
// TradingSignal before converting to orders.
type TradingDecision struct {
	Symbol              string              `json:"symbol"`
	Action              SignalType          `json:"action"`
	Confidence          float64             `json:"confidence"`
	Rationale           string              `json:"rationale,omitempty"`
	RecommendedQuantity decimal.NullDecimal `json:"recommended_quantity,omitempty"`
	PriceTarget         decimal.NullDecimal `json:"price_target,omitempty"`
	StopLoss            decimal.NullDecimal `json:"stop_loss,omitempty"`
	Source              string              `json:"source,omitempty"`
}

// Flatten converts the decision to the signal shape the executor consumes.
// The rationale travels in metadata.
func (d TradingDecision) Flatten(at time.Time) TradingSignal {
	sig := TradingSignal{
		Symbol:        d.Symbol,
		Type:          d.Action,
		Confidence:    d.Confidence,
		TargetPrice:   d.PriceTarget,
		StopLossPrice: d.StopLoss,
		Timestamp:     at,
		Source:        d.Source,
	}
	if d.Rationale != "" {
		sig.Metadata = map[string]string{"rationale": d.Rationale}
	}
	return sig
}
