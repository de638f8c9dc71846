package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Paper Trading Simulator
// ════════════════════════════════════════════════════════════════════

// PriceFunc supplies the simulated market price for a symbol. The second
// return value reports whether a price is known.
type PriceFunc func(symbol string) (decimal.Decimal, bool)

// Paper is an in-memory simulator that implements the Broker interface.
// It fills orders against injected prices with configurable slippage and
// fill probability, and tracks cash and positions through a Portfolio.
// This is the default broker mode. It performs no external I/O.
type Paper struct {
	mu sync.RWMutex

	portfolio *models.Portfolio
	orders    map[string]*models.Order
	orderIDs  []string // insertion order
	orderSeq  int

	prices  map[string]decimal.Decimal
	priceFn PriceFunc

	slippagePct decimal.Decimal
	fillProb    float64
	commission  decimal.Decimal

	rng       *rand.Rand
	connected bool
}

// PaperConfig holds configuration for the paper broker.
type PaperConfig struct {
	InitialCash     decimal.Decimal            // starting cash (default 100,000)
	Currency        string                     // account currency (default AUD)
	SlippagePercent decimal.Decimal            // fill slippage in percent; buys pay more, sells receive less
	FillProbability float64                    // Bernoulli fill chance in [0,1]; zero never fills
	Commission      decimal.Decimal            // flat commission charged per fill
	Seed            int64                      // seed for the fill draw; zero seeds from the clock
	Prices          map[string]decimal.Decimal // initial simulated prices
}

// NewPaper creates a paper trading simulator. A nil config uses the defaults
// with fill probability 1.
func NewPaper(cfg *PaperConfig) *Paper {
	if cfg == nil {
		cfg = &PaperConfig{FillProbability: 1}
	}

	cash := cfg.InitialCash
	if !cash.IsPositive() {
		cash = decimal.NewFromInt(100_000)
	}

	currency := cfg.Currency
	if currency == "" {
		currency = "AUD"
	}

	slippage := cfg.SlippagePercent
	if slippage.IsNegative() {
		slippage = decimal.Zero
	}

	fillProb := cfg.FillProbability
	if fillProb < 0 {
		fillProb = 0
	}
	if fillProb > 1 {
		fillProb = 1
	}

	commission := cfg.Commission
	if commission.IsNegative() {
		commission = decimal.Zero
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	portfolio, _ := models.NewPortfolio(cash, currency)

	prices := make(map[string]decimal.Decimal, len(cfg.Prices))
	for symbol, price := range cfg.Prices {
		prices[symbol] = price
	}

	return &Paper{
		portfolio:   portfolio,
		orders:      make(map[string]*models.Order),
		prices:      prices,
		slippagePct: slippage,
		fillProb:    fillProb,
		commission:  commission,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Name returns "paper".
func (pb *Paper) Name() string { return "paper" }

// Connect marks the simulator connected. It never fails.
func (pb *Paper) Connect(_ context.Context) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.connected = true
	return nil
}

// Disconnect marks the simulator disconnected.
func (pb *Paper) Disconnect(_ context.Context) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.connected = false
	return nil
}

// IsMarketOpen always reports true; the simulated market never closes.
func (pb *Paper) IsMarketOpen(_ context.Context) (bool, error) {
	return true, nil
}

// ════════════════════════════════════════════════════════════════════
// Account
// ════════════════════════════════════════════════════════════════════

// GetAccount returns the simulated account. Buying power equals cash; the
// simulator extends no margin.
func (pb *Paper) GetAccount(_ context.Context) (*models.Account, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	return &models.Account{
		ID:             "paper",
		Cash:           pb.portfolio.Cash,
		Equity:         pb.portfolio.Equity(),
		BuyingPower:    pb.portfolio.Cash,
		PositionsValue: pb.portfolio.PositionsValue(),
		Currency:       pb.portfolio.Currency,
		Broker:         pb.Name(),
	}, nil
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

// SubmitOrder simulates submitting an order. Market orders and marketable
// limit orders fill immediately (subject to the fill probability) at the
// simulated price adjusted for slippage; everything else rests as new.
// Failures return the rejected order alongside the classified error.
func (pb *Paper) SubmitOrder(_ context.Context, req models.OrderRequest) (*models.Order, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.submitLocked(req)
}

// submitLocked runs the submit path with pb.mu held.
func (pb *Paper) submitLocked(req models.OrderRequest) (*models.Order, error) {
	now := time.Now()

	pb.orderSeq++
	order := &models.Order{
		OrderRequest: req,
		ID:           fmt.Sprintf("PAPER-%d-%d", now.UnixMilli(), pb.orderSeq),
		Broker:       pb.Name(),
		Status:       models.StatusNew,
		CreatedAt:    now,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}
	order.BrokerOrderID = order.ID
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}

	if err := req.Validate(); err != nil {
		return pb.rejectLocked(order, err.Error(), WrapError(KindOrderInvalid, "invalid order request", err))
	}

	basePrice, ok := pb.priceLocked(req.Symbol)
	if !ok {
		return pb.rejectLocked(order, fmt.Sprintf("no simulated price for %s", req.Symbol),
			WrapError(KindOrderRejected, fmt.Sprintf("submit %s", req.Symbol), ErrNoPrice))
	}

	fillPrice := pb.fillPrice(basePrice, req.Side)

	if !pb.fillableLocked(req, fillPrice) {
		pb.storeLocked(order)
		out := *order
		return &out, nil
	}

	fill := models.Fill{
		OrderID:    order.ID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      fillPrice,
		Commission: pb.commission,
		Timestamp:  now,
	}
	if err := pb.portfolio.ApplyFill(fill); err != nil {
		return pb.rejectLocked(order, err.Error(),
			WrapError(KindInsufficientFunds, fmt.Sprintf("submit %s", req.Symbol), err))
	}

	order.Status = models.StatusFilled
	order.FilledQuantity = req.Quantity
	order.AvgFillPrice = decimal.NewNullDecimal(fillPrice)
	order.FilledAt = now
	order.UpdatedAt = now
	pb.storeLocked(order)

	out := *order
	return &out, nil
}

// rejectLocked records a rejected order and returns it with the error.
func (pb *Paper) rejectLocked(order *models.Order, reason string, err error) (*models.Order, error) {
	order.Status = models.StatusRejected
	order.RejectReason = reason
	order.UpdatedAt = time.Now()
	pb.storeLocked(order)
	out := *order
	return &out, err
}

// storeLocked indexes an order by ID preserving insertion order.
func (pb *Paper) storeLocked(order *models.Order) {
	if _, exists := pb.orders[order.ID]; !exists {
		pb.orderIDs = append(pb.orderIDs, order.ID)
	}
	pb.orders[order.ID] = order
}

// fillableLocked decides whether the order can fill on this call: market
// orders always can, limit orders only when the slipped price crosses the
// limit, and stop variants rest until triggered. A passing order is then
// subject to the Bernoulli fill draw.
func (pb *Paper) fillableLocked(req models.OrderRequest, fillPrice decimal.Decimal) bool {
	switch req.Type {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		limit := req.LimitPrice.Decimal
		if req.Side == models.SideBuy && fillPrice.GreaterThan(limit) {
			return false
		}
		if req.Side == models.SideSell && fillPrice.LessThan(limit) {
			return false
		}
	default:
		// Stop, stop-limit and trailing stops rest as new; the simulator
		// does not model trigger sweeps on submit.
		return false
	}
	return pb.rng.Float64() < pb.fillProb
}

// fillPrice applies directional slippage: buys pay more, sells receive less.
func (pb *Paper) fillPrice(basePrice decimal.Decimal, side models.OrderSide) decimal.Decimal {
	if pb.slippagePct.IsZero() {
		return models.RoundPrice(basePrice)
	}
	adj := pb.slippagePct.Div(hundred)
	if side == models.SideBuy {
		return models.RoundPrice(basePrice.Mul(decimal.NewFromInt(1).Add(adj)))
	}
	return models.RoundPrice(basePrice.Mul(decimal.NewFromInt(1).Sub(adj)))
}

// CancelOrder cancels an open order.
func (pb *Paper) CancelOrder(_ context.Context, orderID string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	order, ok := pb.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if !order.Status.IsOpen() {
		return fmt.Errorf("%w: order is %s", ErrOrderNotOpen, order.Status)
	}

	now := time.Now()
	order.Status = models.StatusCancelled
	order.CancelledAt = now
	order.UpdatedAt = now
	return nil
}

// ReplaceOrder marks the old order replaced and submits a fresh order.
// Zero-valued fields on req inherit from the original order.
func (pb *Paper) ReplaceOrder(_ context.Context, orderID string, req models.OrderRequest) (*models.Order, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	order, ok := pb.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !order.Status.IsOpen() {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotOpen, order.Status)
	}

	merged := mergeReplace(order.OrderRequest, req)

	order.Status = models.StatusReplaced
	order.UpdatedAt = time.Now()

	return pb.submitLocked(merged)
}

// mergeReplace overlays the non-zero fields of req onto the original request.
func mergeReplace(orig, req models.OrderRequest) models.OrderRequest {
	merged := orig
	if req.Symbol != "" {
		merged.Symbol = req.Symbol
	}
	if req.Side != "" {
		merged.Side = req.Side
	}
	if req.Type != "" {
		merged.Type = req.Type
	}
	if req.Quantity.IsPositive() {
		merged.Quantity = req.Quantity
	}
	if req.LimitPrice.Valid {
		merged.LimitPrice = req.LimitPrice
	}
	if req.StopPrice.Valid {
		merged.StopPrice = req.StopPrice
	}
	if req.TrailAmount.Valid {
		merged.TrailAmount = req.TrailAmount
	}
	if req.TrailPercent.Valid {
		merged.TrailPercent = req.TrailPercent
	}
	if req.TimeInForce != "" {
		merged.TimeInForce = req.TimeInForce
	}
	if req.ClientOrderID != "" {
		merged.ClientOrderID = req.ClientOrderID
	}
	return merged
}

// GetOrder returns a single order by ID.
func (pb *Paper) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	order, ok := pb.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := *order
	return &out, nil
}

// GetOrders returns orders matching the filter in submission order. A
// positive filter limit keeps the most recent orders.
func (pb *Paper) GetOrders(_ context.Context, filter OrderFilter) ([]*models.Order, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	matched := make([]*models.Order, 0, len(pb.orderIDs))
	for _, id := range pb.orderIDs {
		order := pb.orders[id]
		if !filter.matches(order) {
			continue
		}
		out := *order
		matched = append(matched, &out)
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched, nil
}

// ════════════════════════════════════════════════════════════════════
// Positions
// ════════════════════════════════════════════════════════════════════

// GetPositions returns all open positions sorted by symbol.
func (pb *Paper) GetPositions(_ context.Context) ([]*models.Position, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	positions := make([]*models.Position, 0, pb.portfolio.OpenPositionCount())
	for _, p := range pb.portfolio.Positions {
		out := *p
		positions = append(positions, &out)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetPosition returns the open position for a symbol.
func (pb *Paper) GetPosition(_ context.Context, symbol string) (*models.Position, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	p, ok := pb.portfolio.Position(symbol)
	if !ok {
		return nil, ErrPositionNotFound
	}
	out := *p
	return &out, nil
}

// ClosePosition flattens the symbol's position with a market order.
func (pb *Paper) ClosePosition(_ context.Context, symbol string) (*models.Order, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	p, ok := pb.portfolio.Position(symbol)
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pb.submitLocked(closeRequest(p))
}

// CloseAllPositions flattens every open position.
func (pb *Paper) CloseAllPositions(ctx context.Context) ([]*models.Order, error) {
	return closeAllPositions(ctx, pb)
}

// ════════════════════════════════════════════════════════════════════
// Market Data
// ════════════════════════════════════════════════════════════════════

// Synthetic quote spread around the simulated price (±0.05%).
var (
	synthBidFactor = decimal.RequireFromString("0.9995")
	synthAskFactor = decimal.RequireFromString("1.0005")
	hundred        = decimal.NewFromInt(100)
)

// GetQuote derives a synthetic quote around the simulated price.
func (pb *Paper) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.quoteLocked(symbol)
}

func (pb *Paper) quoteLocked(symbol string) (*models.Quote, error) {
	price, ok := pb.priceLocked(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return &models.Quote{
		Symbol:    symbol,
		Bid:       models.RoundPrice(price.Mul(synthBidFactor)),
		Ask:       models.RoundPrice(price.Mul(synthAskFactor)),
		Last:      price,
		BidSize:   100,
		AskSize:   100,
		Timestamp: time.Now(),
	}, nil
}

// GetQuotes returns quotes for the symbols that have a simulated price;
// symbols without one are omitted.
func (pb *Paper) GetQuotes(_ context.Context, symbols []string) (map[string]*models.Quote, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	quotes := make(map[string]*models.Quote, len(symbols))
	for _, symbol := range symbols {
		q, err := pb.quoteLocked(symbol)
		if err != nil {
			continue
		}
		quotes[symbol] = q
	}
	return quotes, nil
}

// GetAsset reports every symbol as tradable and fractionable. ASX symbols
// map to the ASX exchange; everything else trades on the simulated venue.
func (pb *Paper) GetAsset(_ context.Context, symbol string) (*models.Asset, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	exchange := "SIM"
	if utils.IsASX(symbol) {
		exchange = "ASX"
	}
	return &models.Asset{
		Symbol:       symbol,
		Name:         symbol,
		Class:        utils.AssetClassOf(symbol),
		Exchange:     exchange,
		Currency:     pb.portfolio.Currency,
		Tradable:     true,
		Fractionable: true,
		Multiplier:   decimal.NewFromInt(1),
	}, nil
}

// priceLocked resolves the simulated price for a symbol: the injected price
// function first, then prices set via SetPrice.
func (pb *Paper) priceLocked(symbol string) (decimal.Decimal, bool) {
	if pb.priceFn != nil {
		if price, ok := pb.priceFn(symbol); ok && price.IsPositive() {
			return price, true
		}
	}
	price, ok := pb.prices[symbol]
	if !ok || !price.IsPositive() {
		return decimal.Decimal{}, false
	}
	return price, true
}

// ════════════════════════════════════════════════════════════════════
// Paper-specific Methods
// ════════════════════════════════════════════════════════════════════

// SetPrice updates the simulated price for a symbol and re-marks any open
// position in it.
func (pb *Paper) SetPrice(symbol string, price decimal.Decimal) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.prices[symbol] = price
	if p, ok := pb.portfolio.Position(symbol); ok {
		p.MarkPrice(price, time.Now())
	}
}

// SetPriceFunc installs a dynamic price provider consulted before prices
// set via SetPrice. The backtest engine uses this to drive fills from bars.
func (pb *Paper) SetPriceFunc(fn PriceFunc) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.priceFn = fn
}

// Portfolio returns a snapshot copy of the simulated portfolio.
func (pb *Paper) Portfolio() models.Portfolio {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	snapshot := *pb.portfolio
	snapshot.Positions = make(map[string]*models.Position, len(pb.portfolio.Positions))
	for symbol, p := range pb.portfolio.Positions {
		out := *p
		snapshot.Positions[symbol] = &out
	}
	snapshot.PendingOrders = nil
	return snapshot
}

// Reset restores cash to the initial amount and clears orders and positions.
// Prices persist across resets.
func (pb *Paper) Reset() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	portfolio, _ := models.NewPortfolio(pb.portfolio.InitialCapital, pb.portfolio.Currency)
	pb.portfolio = portfolio
	pb.orders = make(map[string]*models.Order)
	pb.orderIDs = nil
	pb.orderSeq = 0
}
