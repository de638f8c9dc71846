// Package broker provides a unified interface for broker integrations.
// It supports paper trading (default), Alpaca Markets, and Interactive
// Brokers. All operations take a context and may block on vendor I/O.
package broker

import (
	"context"
	"fmt"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Broker Interface
// ════════════════════════════════════════════════════════════════════

// Broker defines the common interface that all broker implementations must
// satisfy. Failures are classified via the Error type in this package.
type Broker interface {
	// Name returns the broker provider name ("paper", "alpaca", "ibkr").
	Name() string

	// --- Connection ---

	// Connect establishes or verifies the vendor session.
	Connect(ctx context.Context) error

	// Disconnect tears down the vendor session.
	Disconnect(ctx context.Context) error

	// IsMarketOpen reports whether the primary market is currently open.
	IsMarketOpen(ctx context.Context) (bool, error)

	// --- Account ---

	// GetAccount returns cash, equity and buying power.
	GetAccount(ctx context.Context) (*models.Account, error)

	// --- Orders ---

	// SubmitOrder submits a new order and returns the broker's view of it.
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID string) error

	// ReplaceOrder replaces an open order's mutable fields (quantity,
	// limit/stop prices, time in force). Brokers without a native replace
	// implement it as cancel plus re-submit.
	ReplaceOrder(ctx context.Context, orderID string, req models.OrderRequest) (*models.Order, error)

	// GetOrder returns a single order by broker order ID.
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)

	// GetOrders returns orders matching the filter.
	GetOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error)

	// --- Positions ---

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]*models.Position, error)

	// GetPosition returns the open position for a symbol, or
	// ErrPositionNotFound.
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)

	// ClosePosition submits a market order that flattens the symbol's
	// position and returns that order.
	ClosePosition(ctx context.Context, symbol string) (*models.Order, error)

	// CloseAllPositions flattens every open position.
	CloseAllPositions(ctx context.Context) ([]*models.Order, error)

	// --- Market data ---

	// GetQuote returns the latest quote for a symbol.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// GetQuotes returns the latest quotes for several symbols.
	GetQuotes(ctx context.Context, symbols []string) (map[string]*models.Quote, error)

	// GetAsset returns tradability metadata for a symbol.
	GetAsset(ctx context.Context, symbol string) (*models.Asset, error)
}

// OrderFilter narrows GetOrders results. Zero values mean "no constraint".
type OrderFilter struct {
	// Status filters to one order status. Empty matches all.
	Status models.OrderStatus
	// OpenOnly restricts to the open set regardless of Status.
	OpenOnly bool
	// Limit caps the number of returned orders. Zero means broker default.
	Limit int
	// Symbols restricts to the given symbols. Empty matches all.
	Symbols []string
}

// matches reports whether an order passes the filter (used by brokers that
// filter client-side).
func (f OrderFilter) matches(o *models.Order) bool {
	if f.OpenOnly && o.Status.IsTerminal() {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if len(f.Symbols) > 0 {
		found := false
		for _, s := range f.Symbols {
			if s == o.Symbol {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ════════════════════════════════════════════════════════════════════
// Default Implementations over the Primitives
// ════════════════════════════════════════════════════════════════════

// CancelAllOrders cancels every open order on b and returns the IDs of the
// orders that were cancelled. Cancellation failures are collected, not fatal;
// the first failure is returned after the sweep completes.
func CancelAllOrders(ctx context.Context, b Broker) ([]string, error) {
	orders, err := b.GetOrders(ctx, OrderFilter{OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}

	var cancelled []string
	var firstErr error
	for _, o := range orders {
		if err := b.CancelOrder(ctx, o.ID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("cancel order %s: %w", o.ID, err)
			}
			continue
		}
		cancelled = append(cancelled, o.ID)
	}
	return cancelled, firstErr
}

// closeAllPositions implements CloseAllPositions over GetPositions and
// ClosePosition for brokers without a native bulk endpoint.
func closeAllPositions(ctx context.Context, b Broker) ([]*models.Order, error) {
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	orders := make([]*models.Order, 0, len(positions))
	var firstErr error
	for _, p := range positions {
		order, err := b.ClosePosition(ctx, p.Symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("close %s: %w", p.Symbol, err)
			}
			continue
		}
		orders = append(orders, order)
	}
	return orders, firstErr
}

// closeRequest builds the market order that flattens a position.
func closeRequest(p *models.Position) models.OrderRequest {
	side := models.SideSell
	if p.Quantity.IsNegative() {
		side = models.SideBuy
	}
	return models.OrderRequest{
		Symbol:      p.Symbol,
		Side:        side,
		Quantity:    p.Quantity.Abs(),
		Type:        models.OrderTypeMarket,
		TimeInForce: models.TIFDay,
	}
}
