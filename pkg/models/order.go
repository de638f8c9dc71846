package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ════════════════════════════════════════════════════════════════════
// Order Enumerations
// ════════════════════════════════════════════════════════════════════

// OrderSide is the direction of an order.
type OrderSide string

// Order sides.
const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the execution style of an order.
type OrderType string

// Order types.
const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

// Time-in-force values.
const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
	TIFOPG TimeInForce = "opg"
	TIFCLS TimeInForce = "cls"
	TIFGTD TimeInForce = "gtd"
)

// OrderStatus is the lifecycle state of an order. The transition matrix
// lives with the order manager; models only distinguish open vs terminal.
type OrderStatus string

// Order lifecycle states.
const (
	StatusPendingNew      OrderStatus = "pending_new"
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusPendingCancel   OrderStatus = "pending_cancel"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
	StatusReplaced        OrderStatus = "replaced"
)

// IsTerminal reports whether no further transitions can occur.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusReplaced:
		return true
	}
	return false
}

// IsOpen reports whether the order is still working at the broker.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case StatusPendingNew, StatusNew, StatusPartiallyFilled, StatusPendingCancel:
		return true
	}
	return false
}

// ════════════════════════════════════════════════════════════════════
// Order Request
// ════════════════════════════════════════════════════════════════════

// OrderRequest is immutable client intent. Brokers never mutate a request;
// broker-sourced state lives on Order.
type OrderRequest struct {
	Symbol          string              `json:"symbol"`
	Side            OrderSide           `json:"side"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Type            OrderType           `json:"type"`
	LimitPrice      decimal.NullDecimal `json:"limit_price,omitempty"`
	StopPrice       decimal.NullDecimal `json:"stop_price,omitempty"`
	TrailAmount     decimal.NullDecimal `json:"trail_amount,omitempty"`
	TrailPercent    decimal.NullDecimal `json:"trail_percent,omitempty"`
	TimeInForce     TimeInForce         `json:"time_in_force"`
	ClientOrderID   string              `json:"client_order_id,omitempty"`
	ExtendedHours   bool                `json:"extended_hours,omitempty"`
	TakeProfitPrice decimal.NullDecimal `json:"take_profit_price,omitempty"`
	StopLossPrice   decimal.NullDecimal `json:"stop_loss_price,omitempty"`
}

// Validate applies construction-time checks: positive quantity, a known
// side/type/TIF, and the price fields each order type requires.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("order request: empty symbol")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("order request %s: unknown side %q", r.Symbol, r.Side)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("order request %s: quantity must be positive, got %s", r.Symbol, r.Quantity)
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if err := requirePositive("limit_price", r.LimitPrice); err != nil {
			return fmt.Errorf("order request %s: %w", r.Symbol, err)
		}
	case OrderTypeStop:
		if err := requirePositive("stop_price", r.StopPrice); err != nil {
			return fmt.Errorf("order request %s: %w", r.Symbol, err)
		}
	case OrderTypeStopLimit:
		if err := requirePositive("limit_price", r.LimitPrice); err != nil {
			return fmt.Errorf("order request %s: %w", r.Symbol, err)
		}
		if err := requirePositive("stop_price", r.StopPrice); err != nil {
			return fmt.Errorf("order request %s: %w", r.Symbol, err)
		}
	case OrderTypeTrailingStop:
		hasAmount := r.TrailAmount.Valid && r.TrailAmount.Decimal.IsPositive()
		hasPercent := r.TrailPercent.Valid && r.TrailPercent.Decimal.IsPositive()
		if !hasAmount && !hasPercent {
			return fmt.Errorf("order request %s: trailing_stop requires trail_amount or trail_percent", r.Symbol)
		}
	default:
		return fmt.Errorf("order request %s: unknown order type %q", r.Symbol, r.Type)
	}
	switch r.TimeInForce {
	case "", TIFDay, TIFGTC, TIFIOC, TIFFOK, TIFOPG, TIFCLS, TIFGTD:
	default:
		return fmt.Errorf("order request %s: unknown time in force %q", r.Symbol, r.TimeInForce)
	}
	return nil
}

func requirePositive(field string, v decimal.NullDecimal) error {
	if !v.Valid {
		return fmt.Errorf("%s is required", field)
	}
	if !v.Decimal.IsPositive() {
		return fmt.Errorf("%s must be positive, got %s", field, v.Decimal)
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Order
// ════════════════════════════════════════════════════════════════════

// Order is broker-sourced order state layered over the originating request.
type Order struct {
	OrderRequest

	ID             string              `json:"id"`
	BrokerOrderID  string              `json:"broker_order_id,omitempty"`
	Broker         string              `json:"broker,omitempty"`
	Status         OrderStatus         `json:"status"`
	FilledQuantity decimal.Decimal     `json:"filled_quantity"`
	AvgFillPrice   decimal.NullDecimal `json:"avg_fill_price,omitempty"`
	RejectReason   string              `json:"reject_reason,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	FilledAt    time.Time `json:"filled_at,omitempty"`
	CancelledAt time.Time `json:"cancelled_at,omitempty"`

	// Legs are bracket children (stop-loss / take-profit) spawned from
	// this order's request.
	Legs []*Order `json:"legs,omitempty"`
}

// RemainingQuantity is the unfilled remainder.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsTerminal reports whether the order reached a terminal status.
func (o *Order) IsTerminal() bool { return o.Status.IsTerminal() }

// ════════════════════════════════════════════════════════════════════
// Fill
// ════════════════════════════════════════════════════════════════════

// Fill is a single execution against an order.
type Fill struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Validate enforces positive quantity and price and non-negative commission.
func (f Fill) Validate() error {
	if !f.Quantity.IsPositive() {
		return fmt.Errorf("fill %s: quantity must be positive, got %s", f.Symbol, f.Quantity)
	}
	if !f.Price.IsPositive() {
		return fmt.Errorf("fill %s: price must be positive, got %s", f.Symbol, f.Price)
	}
	if f.Commission.IsNegative() {
		return fmt.Errorf("fill %s: negative commission %s", f.Symbol, f.Commission)
	}
	return nil
}

// TotalValue is price × quantity.
func (f Fill) TotalValue() decimal.Decimal {
	return RoundValue(f.Price.Mul(f.Quantity))
}

// TotalCost is the cash impact of the fill: value plus commission for buys,
// value minus commission for sells.
func (f Fill) TotalCost() decimal.Decimal {
	v := f.TotalValue()
	if f.Side == SideBuy {
		return RoundValue(v.Add(f.Commission))
	}
	return RoundValue(v.Sub(f.Commission))
}
