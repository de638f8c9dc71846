// Package router selects a broker per order by the symbol's asset class.
// Registrations carry a priority; the highest-priority broker supporting
// the class wins, with an optional fallback for unmatched classes.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seaquant/tradeflow/internal/broker"
	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Registrations
// ════════════════════════════════════════════════════════════════════

// Registration binds a named broker to the asset classes it serves.
type Registration struct {
	Name     string
	Broker   broker.Broker
	Classes  []models.AssetClass
	Priority int
}

func (r Registration) supports(class models.AssetClass) bool {
	for _, c := range r.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// RouteRecord is one routing decision.
type RouteRecord struct {
	Symbol     string            `json:"symbol"`
	AssetClass models.AssetClass `json:"asset_class"`
	Broker     string            `json:"broker"`
	Fallback   bool              `json:"fallback,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Config tunes the router. The zero value is usable.
type Config struct {
	// Fallback names the broker used when no registration supports a
	// symbol's class. Empty means unrouteable classes fail.
	Fallback string
	// HistorySize bounds the routing history ring. Defaults to 1000.
	HistorySize int
}

// Router is safe for concurrent use: routing reads take the read lock,
// registration changes the write lock. The history ring has its own
// mutex so recording a decision does not block concurrent routing.
type Router struct {
	mu       sync.RWMutex
	regs     []*Registration
	fallback string

	histMu  sync.Mutex
	history []RouteRecord
	next    int
	filled  bool

	log zerolog.Logger
}

// New creates a router. A nil config uses defaults.
func New(cfg *Config, log zerolog.Logger) *Router {
	c := Config{HistorySize: 1000}
	if cfg != nil {
		c = *cfg
		if c.HistorySize <= 0 {
			c.HistorySize = 1000
		}
	}
	return &Router{
		fallback: c.Fallback,
		history:  make([]RouteRecord, c.HistorySize),
		log:      log.With().Str("component", "router").Logger(),
	}
}

// Register adds a broker under a unique name. Registrations are kept
// sorted by descending priority; ties keep registration order.
func (r *Router) Register(reg Registration) error {
	if reg.Name == "" || reg.Broker == nil {
		return broker.Errorf(broker.KindRoutingNoBroker, "registration needs a name and a broker")
	}
	if len(reg.Classes) == 0 {
		return broker.Errorf(broker.KindRoutingNoBroker, "broker %q registered with no asset classes", reg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.regs {
		if existing.Name == reg.Name {
			return broker.Errorf(broker.KindRoutingDuplicate, "broker %q already registered", reg.Name)
		}
	}
	copied := reg
	r.regs = append(r.regs, &copied)
	sort.SliceStable(r.regs, func(i, j int) bool {
		return r.regs[i].Priority > r.regs[j].Priority
	})

	r.log.Info().Str("broker", reg.Name).Int("priority", reg.Priority).
		Interface("classes", reg.Classes).Msg("broker registered")
	return nil
}

// Unregister removes a broker by name.
func (r *Router) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regs {
		if reg.Name == name {
			r.regs = append(r.regs[:i], r.regs[i+1:]...)
			if r.fallback == name {
				r.fallback = ""
			}
			return nil
		}
	}
	return broker.Errorf(broker.KindRoutingNoBroker, "broker %q not registered", name)
}

// SetFallback names the broker used for unmatched classes. It must
// already be registered.
func (r *Router) SetFallback(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != "" && r.lookupLocked(name) == nil {
		return broker.Errorf(broker.KindRoutingNoBroker, "fallback broker %q not registered", name)
	}
	r.fallback = name
	return nil
}

// Broker returns a registered broker by name.
func (r *Router) Broker(name string) (broker.Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg := r.lookupLocked(name); reg != nil {
		return reg.Broker, nil
	}
	return nil, broker.Errorf(broker.KindRoutingNoBroker, "broker %q not registered", name)
}

// Brokers returns the registration names in priority order.
func (r *Router) Brokers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.regs))
	for i, reg := range r.regs {
		out[i] = reg.Name
	}
	return out
}

func (r *Router) lookupLocked(name string) *Registration {
	for _, reg := range r.regs {
		if reg.Name == name {
			return reg
		}
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Routing
// ════════════════════════════════════════════════════════════════════

// Route picks the broker for a symbol and records the decision.
func (r *Router) Route(symbol string) (broker.Broker, error) {
	class := utils.AssetClassOf(symbol)

	r.mu.RLock()
	var chosen *Registration
	for _, reg := range r.regs {
		if reg.supports(class) {
			chosen = reg
			break
		}
	}
	usedFallback := false
	if chosen == nil && r.fallback != "" {
		chosen = r.lookupLocked(r.fallback)
		usedFallback = chosen != nil
	}
	r.mu.RUnlock()

	if chosen == nil {
		return nil, broker.Errorf(broker.KindRoutingNoBroker,
			"no broker for %s (class %s)", symbol, class)
	}

	r.record(RouteRecord{
		Symbol:     symbol,
		AssetClass: class,
		Broker:     chosen.Name,
		Fallback:   usedFallback,
		Timestamp:  time.Now().UTC(),
	})
	r.log.Debug().Str("symbol", symbol).Str("class", string(class)).
		Str("broker", chosen.Name).Bool("fallback", usedFallback).Msg("routed")
	return chosen.Broker, nil
}

// SubmitOrder routes the request's symbol and submits through the chosen
// broker.
func (r *Router) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	b, err := r.Route(req.Symbol)
	if err != nil {
		return nil, err
	}
	return b.SubmitOrder(ctx, req)
}

func (r *Router) record(rec RouteRecord) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	r.history[r.next] = rec
	r.next++
	if r.next == len(r.history) {
		r.next = 0
		r.filled = true
	}
}

// History returns the retained routing decisions, oldest first.
func (r *Router) History() []RouteRecord {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	if !r.filled {
		out := make([]RouteRecord, r.next)
		copy(out, r.history[:r.next])
		return out
	}
	out := make([]RouteRecord, 0, len(r.history))
	out = append(out, r.history[r.next:]...)
	out = append(out, r.history[:r.next]...)
	return out
}

// ════════════════════════════════════════════════════════════════════
// Aggregation
// ════════════════════════════════════════════════════════════════════

// AllPositions fetches every registered broker's positions concurrently,
// keyed by registration name.
func (r *Router) AllPositions(ctx context.Context) (map[string][]*models.Position, error) {
	r.mu.RLock()
	regs := make([]*Registration, len(r.regs))
	copy(regs, r.regs)
	r.mu.RUnlock()

	var mu sync.Mutex
	out := make(map[string][]*models.Position, len(regs))

	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range regs {
		reg := reg
		g.Go(func() error {
			positions, err := reg.Broker.GetPositions(gctx)
			if err != nil {
				return broker.WrapError(broker.KindOf(err), "positions from "+reg.Name, err)
			}
			mu.Lock()
			out[reg.Name] = positions
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AllAccounts fetches every registered broker's account concurrently,
// keyed by registration name.
func (r *Router) AllAccounts(ctx context.Context) (map[string]*models.Account, error) {
	r.mu.RLock()
	regs := make([]*Registration, len(r.regs))
	copy(regs, r.regs)
	r.mu.RUnlock()

	var mu sync.Mutex
	out := make(map[string]*models.Account, len(regs))

	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range regs {
		reg := reg
		g.Go(func() error {
			account, err := reg.Broker.GetAccount(gctx)
			if err != nil {
				return broker.WrapError(broker.KindOf(err), "account from "+reg.Name, err)
			}
			mu.Lock()
			out[reg.Name] = account
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
