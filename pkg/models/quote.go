package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a top-of-book snapshot for one symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	BidSize   int64           `json:"bid_size,omitempty"`
	AskSize   int64           `json:"ask_size,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid is the bid/ask midpoint, falling back to Last when one side is empty.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).DivRound(decimal.NewFromInt(2), PriceScale)
	}
	return q.Last
}

// Asset describes a tradable instrument as reported by a broker.
type Asset struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name,omitempty"`
	Class        AssetClass      `json:"class"`
	Exchange     string          `json:"exchange,omitempty"`
	Currency     string          `json:"currency"`
	Tradable     bool            `json:"tradable"`
	Fractionable bool            `json:"fractionable,omitempty"`
	Multiplier   decimal.Decimal `json:"multiplier,omitempty"`
}

// Account is a broker account snapshot.
type Account struct {
	ID             string          `json:"id,omitempty"`
	Cash           decimal.Decimal `json:"cash"`
	Equity         decimal.Decimal `json:"equity"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	Currency       string          `json:"currency"`
	Broker         string          `json:"broker,omitempty"`
}
