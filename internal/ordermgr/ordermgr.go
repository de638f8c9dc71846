// Package ordermgr tracks order lifecycles across brokers. It validates
// requests before submission, mirrors broker-reported status changes
// through a transition matrix, and fans lifecycle events out to
// subscribed callbacks without blocking the trading path.
package ordermgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seaquant/tradeflow/internal/broker"
	"github.com/seaquant/tradeflow/pkg/models"
)

const (
	defaultMaxOrders   = 10000
	defaultHistorySize = 10000
)

// Config tunes the manager. The zero value is usable.
type Config struct {
	// MaxOrders bounds how many orders stay tracked. Oldest are evicted
	// first, terminal orders before open ones. Defaults to 10000.
	MaxOrders int
	// HistorySize bounds the lifecycle event ring. Defaults to 10000.
	HistorySize int
	// SkipValidation submits requests without pre-trade validation.
	SkipValidation bool
}

// Manager supervises orders for any broker implementation. All state is
// guarded by one mutex; callbacks are delivered by per-order dispatchers
// so a slow or panicking listener never holds the lock.
type Manager struct {
	mu sync.Mutex

	cfg Config

	orders   map[string]*models.Order
	sequence []string // insertion order, oldest first

	history []HistoryEntry
	next    int
	filled  bool

	subs    []*subscription
	nextSub int

	dispatchers map[string]*orderDispatcher

	log zerolog.Logger
}

// New creates a manager. A nil config uses defaults.
func New(cfg *Config, log zerolog.Logger) *Manager {
	c := Config{MaxOrders: defaultMaxOrders, HistorySize: defaultHistorySize}
	if cfg != nil {
		c = *cfg
		if c.MaxOrders <= 0 {
			c.MaxOrders = defaultMaxOrders
		}
		if c.HistorySize <= 0 {
			c.HistorySize = defaultHistorySize
		}
	}
	return &Manager{
		cfg:         c,
		orders:      make(map[string]*models.Order),
		history:     make([]HistoryEntry, c.HistorySize),
		dispatchers: make(map[string]*orderDispatcher),
		log:         log.With().Str("component", "ordermgr").Logger(),
	}
}

// ════════════════════════════════════════════════════════════════════
// Subscriptions
// ════════════════════════════════════════════════════════════════════

// Subscribe registers a callback for the given events, or for every
// event when none are named. The returned id feeds Unsubscribe.
func (m *Manager) Subscribe(cb Callback, events ...Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	sub := &subscription{id: m.nextSub, fn: cb}
	if len(events) > 0 {
		sub.events = make(map[Event]bool, len(events))
		for _, ev := range events {
			sub.events[ev] = true
		}
	}
	m.subs = append(m.subs, sub)
	return sub.id
}

// Unsubscribe removes a callback registration. Events already queued
// for delivery still arrive.
func (m *Manager) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subs {
		if sub.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Operations
// ════════════════════════════════════════════════════════════════════

// ValidateOrder runs broker-aware pre-trade validation without
// submitting anything.
func (m *Manager) ValidateOrder(ctx context.Context, b broker.Broker, req models.OrderRequest) *broker.ValidationResult {
	return broker.ValidateOrder(ctx, b, req)
}

// SubmitOrder validates a request, submits it, and tracks the resulting
// order. Brokers that fill synchronously surface their terminal event
// here as well, so a filled callback fires even when the fill happens
// inside the submit call.
func (m *Manager) SubmitOrder(ctx context.Context, b broker.Broker, req models.OrderRequest) (*models.Order, error) {
	if !m.cfg.SkipValidation {
		res := broker.ValidateOrder(ctx, b, req)
		for _, w := range res.Warnings {
			m.log.Warn().Str("symbol", req.Symbol).Msg(w)
		}
		if !res.IsValid() {
			return nil, broker.Errorf(broker.KindOrderInvalid, "order validation failed: %s", res.ErrorString())
		}
	}

	order, err := b.SubmitOrder(ctx, req)
	if err != nil {
		// Brokers hand back the rejected order record with the error.
		// Track it so the rejection shows up in history and callbacks.
		if order != nil && order.ID != "" {
			m.mu.Lock()
			m.trackLocked(order)
			m.recordLocked(order, EventRejected, order.RejectReason)
			m.mu.Unlock()
		}
		return nil, fmt.Errorf("submit %s %s: %w", req.Side, req.Symbol, err)
	}

	m.mu.Lock()
	m.trackLocked(order)
	m.recordLocked(order, EventCreated, "")
	m.recordLocked(order, EventSubmitted, "")
	if ev := eventForStatus(order.Status); ev != EventCreated {
		m.recordLocked(order, ev, "")
	}
	m.mu.Unlock()

	m.log.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("status", string(order.Status)).
		Msg("order submitted")
	return cloneOrder(order), nil
}

// CancelOrder cancels at the broker, then mirrors the authoritative
// state. Some brokers cancel instantly, others leave the order in
// pending_cancel until the venue confirms.
func (m *Manager) CancelOrder(ctx context.Context, b broker.Broker, orderID string) error {
	if err := b.CancelOrder(ctx, orderID); err != nil {
		m.recordFailure(orderID, "cancel: "+err.Error())
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	if updated, err := b.GetOrder(ctx, orderID); err == nil {
		m.UpdateOrderStatus(updated)
		return nil
	}

	// Cancel was acknowledged but the refresh failed. Mark the local
	// copy so open-order views stop offering it.
	m.mu.Lock()
	if tracked, ok := m.orders[orderID]; ok && !tracked.Status.IsTerminal() {
		tracked.Status = models.StatusPendingCancel
		tracked.UpdatedAt = time.Now().UTC()
		m.recordLocked(tracked, EventPendingCancel, "cancel acknowledged, state refresh failed")
	}
	m.mu.Unlock()
	return nil
}

// ReplaceOrder swaps an open order for a new one. The old order is
// marked replaced and the replacement is tracked like a fresh submit.
func (m *Manager) ReplaceOrder(ctx context.Context, b broker.Broker, orderID string, req models.OrderRequest) (*models.Order, error) {
	if !m.cfg.SkipValidation {
		if res := broker.ValidateRequest(req); !res.IsValid() {
			return nil, broker.Errorf(broker.KindOrderInvalid, "replacement validation failed: %s", res.ErrorString())
		}
	}

	newOrder, err := b.ReplaceOrder(ctx, orderID, req)
	if err != nil {
		m.recordFailure(orderID, "replace: "+err.Error())
		return nil, fmt.Errorf("replace order %s: %w", orderID, err)
	}

	m.mu.Lock()
	if old, ok := m.orders[orderID]; ok && !old.Status.IsTerminal() {
		old.Status = models.StatusReplaced
		old.UpdatedAt = time.Now().UTC()
		m.recordLocked(old, EventReplaced, "replaced by "+newOrder.ID)
	}
	m.trackLocked(newOrder)
	m.recordLocked(newOrder, EventSubmitted, "replacement for "+orderID)
	m.mu.Unlock()

	return cloneOrder(newOrder), nil
}

// UpdateOrderStatus mirrors a broker-reported order. The broker is
// authoritative: a transition outside the matrix is logged and applied
// anyway. Orders the manager has never seen are adopted so restarts and
// fills from other sessions still reach callbacks.
func (m *Manager) UpdateOrderStatus(order *models.Order) {
	if order == nil || order.ID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tracked, ok := m.orders[order.ID]
	if !ok {
		m.trackLocked(order)
		m.recordLocked(order, eventForStatus(order.Status), "adopted from broker")
		return
	}

	from, to := tracked.Status, order.Status
	m.orders[order.ID] = cloneOrder(order)

	// Repeated partial fills re-announce; any other unchanged status is
	// a no-op refresh.
	if from == to && to != models.StatusPartiallyFilled {
		return
	}
	if !CanTransition(from, to) {
		m.log.Warn().
			Str("order_id", order.ID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("order status transition outside the matrix")
	}
	m.recordLocked(m.orders[order.ID], eventForStatus(to), "")
}

// ════════════════════════════════════════════════════════════════════
// Accessors
// ════════════════════════════════════════════════════════════════════

// GetOrder returns a copy of a tracked order.
func (m *Manager) GetOrder(orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, broker.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Orders returns copies of every tracked order, oldest first.
func (m *Manager) Orders() []*models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Order, 0, len(m.sequence))
	for _, id := range m.sequence {
		if order, ok := m.orders[id]; ok {
			out = append(out, cloneOrder(order))
		}
	}
	return out
}

// OpenOrders returns copies of tracked orders that can still fill.
func (m *Manager) OpenOrders() []*models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Order
	for _, id := range m.sequence {
		if order, ok := m.orders[id]; ok && order.Status.IsOpen() {
			out = append(out, cloneOrder(order))
		}
	}
	return out
}

// History returns recorded lifecycle events, oldest first.
func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked()
}

// OrderHistory returns the recorded events for one order, oldest first.
func (m *Manager) OrderHistory(orderID string) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []HistoryEntry
	for _, entry := range m.historyLocked() {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out
}

// ════════════════════════════════════════════════════════════════════
// Internals
// ════════════════════════════════════════════════════════════════════

// trackLocked stores a copy of the order, evicting when the ring is
// full. Terminal orders go first; open ones only when nothing terminal
// remains.
func (m *Manager) trackLocked(order *models.Order) {
	if _, ok := m.orders[order.ID]; !ok {
		for len(m.orders) >= m.cfg.MaxOrders && len(m.sequence) > 0 {
			m.evictLocked()
		}
		m.sequence = append(m.sequence, order.ID)
	}
	m.orders[order.ID] = cloneOrder(order)
}

func (m *Manager) evictLocked() {
	victim := -1
	for i, id := range m.sequence {
		if order, ok := m.orders[id]; ok && order.Status.IsTerminal() {
			victim = i
			break
		}
	}
	if victim == -1 {
		victim = 0
	}
	id := m.sequence[victim]
	m.sequence = append(m.sequence[:victim], m.sequence[victim+1:]...)
	delete(m.orders, id)
	delete(m.dispatchers, id)
	m.log.Debug().Str("order_id", id).Msg("evicted tracked order")
}

// recordLocked appends a history entry and hands the event to the
// order's dispatcher. Callbacks run on the dispatcher goroutine, never
// under the manager lock.
func (m *Manager) recordLocked(order *models.Order, event Event, detail string) {
	m.appendHistoryLocked(HistoryEntry{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Event:     event,
		Status:    order.Status,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})

	var cbs []Callback
	for _, sub := range m.subs {
		if sub.wants(event) {
			cbs = append(cbs, sub.fn)
		}
	}
	if len(cbs) == 0 {
		return
	}

	d := m.dispatchers[order.ID]
	if d == nil {
		d = &orderDispatcher{}
		m.dispatchers[order.ID] = d
	}
	d.enqueue(dispatchItem{order: cloneOrder(order), event: event, callbacks: cbs}, m.log)
}

// recordFailure notes a failed operation against an order that may or
// may not be tracked.
func (m *Manager) recordFailure(orderID, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tracked, ok := m.orders[orderID]; ok {
		m.recordLocked(tracked, EventError, detail)
		return
	}
	m.appendHistoryLocked(HistoryEntry{
		OrderID:   orderID,
		Event:     EventError,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Manager) appendHistoryLocked(entry HistoryEntry) {
	m.history[m.next] = entry
	m.next++
	if m.next == len(m.history) {
		m.next = 0
		m.filled = true
	}
}

func (m *Manager) historyLocked() []HistoryEntry {
	if !m.filled {
		out := make([]HistoryEntry, m.next)
		copy(out, m.history[:m.next])
		return out
	}
	out := make([]HistoryEntry, 0, len(m.history))
	out = append(out, m.history[m.next:]...)
	out = append(out, m.history[:m.next]...)
	return out
}

func cloneOrder(o *models.Order) *models.Order {
	clone := *o
	if len(o.Legs) > 0 {
		clone.Legs = make([]*models.Order, len(o.Legs))
		for i, leg := range o.Legs {
			clone.Legs[i] = cloneOrder(leg)
		}
	}
	return &clone
}
