package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Alpaca Markets REST API Broker
// ════════════════════════════════════════════════════════════════════

// Alpaca trading and data API endpoints.
const (
	alpacaLiveURL  = "https://api.alpaca.markets"
	alpacaPaperURL = "https://paper-api.alpaca.markets"
	alpacaDataURL  = "https://data.alpaca.markets"
)

// Alpaca implements the Broker interface over the Alpaca Markets REST API.
// It supports US equities, ETFs and crypto. Requests are paced client-side
// to stay under the vendor's rate limit.
type Alpaca struct {
	mu sync.RWMutex

	baseURL    string
	dataURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter

	accountID string
	connected bool
}

// AlpacaConfig holds Alpaca connection settings.
type AlpacaConfig struct {
	APIKey        string
	APISecret     string
	Paper         bool          // trade against the paper endpoint
	BaseURL       string        // override the trading API URL
	DataURL       string        // override the market data URL
	Timeout       time.Duration // HTTP timeout (default 30s)
	RatePerMinute int           // request budget (default 200/min)
}

// NewAlpaca creates an Alpaca broker instance.
func NewAlpaca(cfg *AlpacaConfig) *Alpaca {
	if cfg == nil {
		cfg = &AlpacaConfig{}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Paper {
			baseURL = alpacaPaperURL
		} else {
			baseURL = alpacaLiveURL
		}
	}
	dataURL := cfg.DataURL
	if dataURL == "" {
		dataURL = alpacaDataURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 200
	}

	return &Alpaca{
		baseURL:    baseURL,
		dataURL:    dataURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 10),
	}
}

// Name returns "alpaca".
func (a *Alpaca) Name() string { return "alpaca" }

// ════════════════════════════════════════════════════════════════════
// Connection
// ════════════════════════════════════════════════════════════════════

// Connect verifies the API credentials by fetching the account.
func (a *Alpaca) Connect(ctx context.Context) error {
	if a.apiKey == "" || a.apiSecret == "" {
		return NewError(KindAuthentication, "alpaca: missing API key or secret")
	}

	body, err := a.doGet(ctx, a.baseURL, "/v2/account")
	if err != nil {
		return a.classify("connect", err)
	}

	var account struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return fmt.Errorf("parse account: %w", err)
	}

	a.mu.Lock()
	a.accountID = account.ID
	a.connected = true
	a.mu.Unlock()
	return nil
}

// Disconnect marks the session closed. The REST API is stateless, so no
// teardown call is needed.
func (a *Alpaca) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// IsConnected reports whether Connect succeeded.
func (a *Alpaca) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// IsMarketOpen reports whether the US equity market is open.
func (a *Alpaca) IsMarketOpen(ctx context.Context) (bool, error) {
	if !a.IsConnected() {
		return false, ErrNotConnected
	}

	body, err := a.doGet(ctx, a.baseURL, "/v2/clock")
	if err != nil {
		return false, a.classify("get clock", err)
	}

	var clock struct {
		IsOpen bool `json:"is_open"`
	}
	if err := json.Unmarshal(body, &clock); err != nil {
		return false, fmt.Errorf("parse clock: %w", err)
	}
	return clock.IsOpen, nil
}

// ════════════════════════════════════════════════════════════════════
// Account
// ════════════════════════════════════════════════════════════════════

// GetAccount returns the Alpaca account snapshot.
func (a *Alpaca) GetAccount(ctx context.Context) (*models.Account, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := a.doGet(ctx, a.baseURL, "/v2/account")
	if err != nil {
		return nil, a.classify("get account", err)
	}

	var acct struct {
		ID               string `json:"id"`
		Cash             string `json:"cash"`
		Equity           string `json:"equity"`
		BuyingPower      string `json:"buying_power"`
		LongMarketValue  string `json:"long_market_value"`
		ShortMarketValue string `json:"short_market_value"`
		Currency         string `json:"currency"`
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}

	return &models.Account{
		ID:             acct.ID,
		Cash:           dec(acct.Cash),
		Equity:         dec(acct.Equity),
		BuyingPower:    dec(acct.BuyingPower),
		PositionsValue: dec(acct.LongMarketValue).Add(dec(acct.ShortMarketValue)),
		Currency:       acct.Currency,
		Broker:         a.Name(),
	}, nil
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

// alpacaOrder is the vendor's order representation. Numeric fields arrive
// as JSON strings.
type alpacaOrder struct {
	ID            string     `json:"id"`
	ClientOrderID string     `json:"client_order_id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Type          string     `json:"type"`
	TimeInForce   string     `json:"time_in_force"`
	Qty           string     `json:"qty"`
	FilledQty     string     `json:"filled_qty"`
	LimitPrice    string     `json:"limit_price"`
	StopPrice     string     `json:"stop_price"`
	TrailPrice    string     `json:"trail_price"`
	TrailPercent  string     `json:"trail_percent"`
	FilledAvgPx   string     `json:"filled_avg_price"`
	Status        string     `json:"status"`
	ExtendedHours bool       `json:"extended_hours"`
	CreatedAt     time.Time  `json:"created_at"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	FilledAt      *time.Time `json:"filled_at"`
	CanceledAt    *time.Time `json:"canceled_at"`
}

// toOrder converts the vendor order to the internal model.
func (ao *alpacaOrder) toOrder(broker string) *models.Order {
	order := &models.Order{
		OrderRequest: models.OrderRequest{
			Symbol:        ao.Symbol,
			Side:          models.OrderSide(ao.Side),
			Quantity:      dec(ao.Qty),
			Type:          models.OrderType(ao.Type),
			TimeInForce:   models.TimeInForce(ao.TimeInForce),
			ClientOrderID: ao.ClientOrderID,
			ExtendedHours: ao.ExtendedHours,
		},
		ID:             ao.ID,
		BrokerOrderID:  ao.ID,
		Broker:         broker,
		Status:         mapAlpacaStatus(ao.Status),
		FilledQuantity: dec(ao.FilledQty),
		CreatedAt:      ao.CreatedAt,
		UpdatedAt:      ao.CreatedAt,
	}
	if ao.LimitPrice != "" {
		order.LimitPrice = decimal.NewNullDecimal(dec(ao.LimitPrice))
	}
	if ao.StopPrice != "" {
		order.StopPrice = decimal.NewNullDecimal(dec(ao.StopPrice))
	}
	if ao.TrailPrice != "" {
		order.TrailAmount = decimal.NewNullDecimal(dec(ao.TrailPrice))
	}
	if ao.TrailPercent != "" {
		order.TrailPercent = decimal.NewNullDecimal(dec(ao.TrailPercent))
	}
	if ao.FilledAvgPx != "" {
		order.AvgFillPrice = decimal.NewNullDecimal(dec(ao.FilledAvgPx))
	}
	if ao.SubmittedAt != nil {
		order.SubmittedAt = *ao.SubmittedAt
		order.UpdatedAt = *ao.SubmittedAt
	}
	if ao.FilledAt != nil {
		order.FilledAt = *ao.FilledAt
		order.UpdatedAt = *ao.FilledAt
	}
	if ao.CanceledAt != nil {
		order.CancelledAt = *ao.CanceledAt
		order.UpdatedAt = *ao.CanceledAt
	}
	return order
}

// SubmitOrder places an order with Alpaca. Internal enums are already the
// vendor's lowercase wire values and pass through unchanged.
func (a *Alpaca) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}
	if err := req.Validate(); err != nil {
		return nil, WrapError(KindOrderInvalid, "invalid order request", err)
	}

	payload := map[string]any{
		"symbol":        req.Symbol,
		"side":          string(req.Side),
		"type":          string(req.Type),
		"qty":           req.Quantity.String(),
		"time_in_force": string(defaultTIF(req.TimeInForce)),
	}
	if req.LimitPrice.Valid {
		payload["limit_price"] = req.LimitPrice.Decimal.String()
	}
	if req.StopPrice.Valid {
		payload["stop_price"] = req.StopPrice.Decimal.String()
	}
	if req.TrailAmount.Valid {
		payload["trail_price"] = req.TrailAmount.Decimal.String()
	}
	if req.TrailPercent.Valid {
		payload["trail_percent"] = req.TrailPercent.Decimal.String()
	}
	if req.ClientOrderID != "" {
		payload["client_order_id"] = req.ClientOrderID
	}
	if req.ExtendedHours {
		payload["extended_hours"] = true
	}

	body, err := a.doPost(ctx, "/v2/orders", payload)
	if err != nil {
		return nil, a.classify(fmt.Sprintf("submit %s", req.Symbol), err)
	}

	var ao alpacaOrder
	if err := json.Unmarshal(body, &ao); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return ao.toOrder(a.Name()), nil
}

// CancelOrder cancels an open order.
func (a *Alpaca) CancelOrder(ctx context.Context, orderID string) error {
	if !a.IsConnected() {
		return ErrNotConnected
	}

	if _, err := a.doDelete(ctx, "/v2/orders/"+orderID); err != nil {
		switch httpStatus(err) {
		case http.StatusNotFound:
			return ErrOrderNotFound
		case http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %v", ErrOrderNotOpen, err)
		}
		return a.classify("cancel order", err)
	}
	return nil
}

// ReplaceOrder replaces the mutable fields of an open order. Alpaca issues
// a new order ID; the old order moves to replaced.
func (a *Alpaca) ReplaceOrder(ctx context.Context, orderID string, req models.OrderRequest) (*models.Order, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	payload := map[string]any{}
	if req.Quantity.IsPositive() {
		payload["qty"] = req.Quantity.String()
	}
	if req.LimitPrice.Valid {
		payload["limit_price"] = req.LimitPrice.Decimal.String()
	}
	if req.StopPrice.Valid {
		payload["stop_price"] = req.StopPrice.Decimal.String()
	}
	if req.TrailAmount.Valid {
		payload["trail"] = req.TrailAmount.Decimal.String()
	}
	if req.TimeInForce != "" {
		payload["time_in_force"] = string(req.TimeInForce)
	}
	if req.ClientOrderID != "" {
		payload["client_order_id"] = req.ClientOrderID
	}

	body, err := a.doPatch(ctx, "/v2/orders/"+orderID, payload)
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return nil, ErrOrderNotFound
		}
		return nil, a.classify("replace order", err)
	}

	var ao alpacaOrder
	if err := json.Unmarshal(body, &ao); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return ao.toOrder(a.Name()), nil
}

// GetOrder returns a single order by ID.
func (a *Alpaca) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := a.doGet(ctx, a.baseURL, "/v2/orders/"+orderID)
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return nil, ErrOrderNotFound
		}
		return nil, a.classify("get order", err)
	}

	var ao alpacaOrder
	if err := json.Unmarshal(body, &ao); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return ao.toOrder(a.Name()), nil
}

// GetOrders returns orders matching the filter.
func (a *Alpaca) GetOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	q := url.Values{}
	if filter.OpenOnly {
		q.Set("status", "open")
	} else {
		q.Set("status", "all")
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if len(filter.Symbols) > 0 {
		q.Set("symbols", strings.Join(filter.Symbols, ","))
	}

	body, err := a.doGet(ctx, a.baseURL, "/v2/orders?"+q.Encode())
	if err != nil {
		return nil, a.classify("get orders", err)
	}

	var aos []alpacaOrder
	if err := json.Unmarshal(body, &aos); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}

	orders := make([]*models.Order, 0, len(aos))
	for i := range aos {
		order := aos[i].toOrder(a.Name())
		if filter.matches(order) {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// ════════════════════════════════════════════════════════════════════
// Positions
// ════════════════════════════════════════════════════════════════════

// alpacaPosition is the vendor's position representation.
type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	AssetClass    string `json:"asset_class"`
}

// toPosition converts the vendor position to the internal model. Alpaca
// reports short quantities as negative already.
func (ap *alpacaPosition) toPosition() *models.Position {
	p := &models.Position{
		Symbol:        ap.Symbol,
		Quantity:      dec(ap.Qty),
		AvgEntryPrice: dec(ap.AvgEntryPrice),
		CurrentPrice:  dec(ap.CurrentPrice),
		AssetClass:    mapAlpacaAssetClass(ap.AssetClass, ap.Symbol),
		UpdatedAt:     time.Now(),
	}
	if ap.Side == "short" {
		p.Side = models.PositionShort
	} else {
		p.Side = models.PositionLong
	}
	return p
}

// GetPositions returns all open positions.
func (a *Alpaca) GetPositions(ctx context.Context) ([]*models.Position, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := a.doGet(ctx, a.baseURL, "/v2/positions")
	if err != nil {
		return nil, a.classify("get positions", err)
	}

	var aps []alpacaPosition
	if err := json.Unmarshal(body, &aps); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	positions := make([]*models.Position, 0, len(aps))
	for i := range aps {
		positions = append(positions, aps[i].toPosition())
	}
	return positions, nil
}

// GetPosition returns the open position for a symbol.
func (a *Alpaca) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := a.doGet(ctx, a.baseURL, "/v2/positions/"+symbol)
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return nil, ErrPositionNotFound
		}
		return nil, a.classify("get position", err)
	}

	var ap alpacaPosition
	if err := json.Unmarshal(body, &ap); err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	return ap.toPosition(), nil
}

// ClosePosition liquidates the symbol's position with a market order.
func (a *Alpaca) ClosePosition(ctx context.Context, symbol string) (*models.Order, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := a.doDelete(ctx, "/v2/positions/"+symbol)
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return nil, ErrPositionNotFound
		}
		return nil, a.classify("close position", err)
	}

	var ao alpacaOrder
	if err := json.Unmarshal(body, &ao); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return ao.toOrder(a.Name()), nil
}

// CloseAllPositions liquidates every open position and cancels open orders
// against them.
func (a *Alpaca) CloseAllPositions(ctx context.Context) ([]*models.Order, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := a.doDelete(ctx, "/v2/positions?cancel_orders=true")
	if err != nil {
		return nil, a.classify("close all positions", err)
	}

	var results []struct {
		Symbol string          `json:"symbol"`
		Status int             `json:"status"`
		Body   json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parse close results: %w", err)
	}

	orders := make([]*models.Order, 0, len(results))
	var firstErr error
	for _, r := range results {
		if r.Status < 200 || r.Status >= 300 {
			if firstErr == nil {
				firstErr = Errorf(KindPosition, "close %s failed (HTTP %d)", r.Symbol, r.Status)
			}
			continue
		}
		var ao alpacaOrder
		if err := json.Unmarshal(r.Body, &ao); err != nil {
			continue
		}
		orders = append(orders, ao.toOrder(a.Name()))
	}
	return orders, firstErr
}

// ════════════════════════════════════════════════════════════════════
// Market Data
// ════════════════════════════════════════════════════════════════════

// GetQuote returns the latest quote. Crypto pairs are served from the
// crypto data endpoint; everything else from the stocks endpoint.
func (a *Alpaca) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}
	if utils.IsCryptoPair(symbol) {
		return a.cryptoQuote(ctx, symbol)
	}
	return a.stockQuote(ctx, symbol)
}

func (a *Alpaca) stockQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	body, err := a.doGet(ctx, a.dataURL, "/v2/stocks/"+symbol+"/quotes/latest")
	if err != nil {
		return nil, a.classify("get quote", err)
	}

	var resp struct {
		Quote struct {
			AskPrice float64   `json:"ap"`
			AskSize  int64     `json:"as"`
			BidPrice float64   `json:"bp"`
			BidSize  int64     `json:"bs"`
			Time     time.Time `json:"t"`
		} `json:"quote"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse quote: %w", err)
	}

	q := resp.Quote
	bid := decimal.NewFromFloat(q.BidPrice)
	ask := decimal.NewFromFloat(q.AskPrice)
	return &models.Quote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      models.Quote{Bid: bid, Ask: ask}.Mid(),
		BidSize:   q.BidSize,
		AskSize:   q.AskSize,
		Timestamp: q.Time,
	}, nil
}

func (a *Alpaca) cryptoQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	pair := strings.Replace(symbol, "-", "/", 1)
	body, err := a.doGet(ctx, a.dataURL, "/v1beta3/crypto/us/latest/quotes?symbols="+url.QueryEscape(pair))
	if err != nil {
		return nil, a.classify("get crypto quote", err)
	}

	var resp struct {
		Quotes map[string]struct {
			AskPrice float64   `json:"ap"`
			BidPrice float64   `json:"bp"`
			Time     time.Time `json:"t"`
		} `json:"quotes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse crypto quote: %w", err)
	}
	q, ok := resp.Quotes[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}

	bid := decimal.NewFromFloat(q.BidPrice)
	ask := decimal.NewFromFloat(q.AskPrice)
	return &models.Quote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      models.Quote{Bid: bid, Ask: ask}.Mid(),
		Timestamp: q.Time,
	}, nil
}

// GetQuotes returns quotes for the symbols that have one; symbols that fail
// are omitted.
func (a *Alpaca) GetQuotes(ctx context.Context, symbols []string) (map[string]*models.Quote, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	quotes := make(map[string]*models.Quote, len(symbols))
	for _, symbol := range symbols {
		q, err := a.GetQuote(ctx, symbol)
		if err != nil {
			if IsKind(err, KindRateLimit) || IsKind(err, KindAuthentication) {
				return quotes, err
			}
			continue
		}
		quotes[symbol] = q
	}
	return quotes, nil
}

// GetAsset returns tradability metadata for a symbol.
func (a *Alpaca) GetAsset(ctx context.Context, symbol string) (*models.Asset, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := a.doGet(ctx, a.baseURL, "/v2/assets/"+symbol)
	if err != nil {
		return nil, a.classify("get asset", err)
	}

	var asset struct {
		Symbol       string `json:"symbol"`
		Name         string `json:"name"`
		Class        string `json:"class"`
		Exchange     string `json:"exchange"`
		Tradable     bool   `json:"tradable"`
		Fractionable bool   `json:"fractionable"`
	}
	if err := json.Unmarshal(body, &asset); err != nil {
		return nil, fmt.Errorf("parse asset: %w", err)
	}

	return &models.Asset{
		Symbol:       asset.Symbol,
		Name:         asset.Name,
		Class:        mapAlpacaAssetClass(asset.Class, asset.Symbol),
		Exchange:     asset.Exchange,
		Currency:     "USD",
		Tradable:     asset.Tradable,
		Fractionable: asset.Fractionable,
		Multiplier:   decimal.NewFromInt(1),
	}, nil
}

// ════════════════════════════════════════════════════════════════════
// HTTP Helpers
// ════════════════════════════════════════════════════════════════════

// httpError carries a non-2xx vendor response for classification.
type httpError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *httpError) Error() string {
	return fmt.Sprintf("api error (HTTP %d): %s", e.status, e.body)
}

// httpStatus extracts the HTTP status from an error chain, or 0.
func httpStatus(err error) int {
	var he *httpError
	if errors.As(err, &he) {
		return he.status
	}
	return 0
}

func (a *Alpaca) doGet(ctx context.Context, base, path string) ([]byte, error) {
	return a.doRequest(ctx, http.MethodGet, base, path, nil)
}

func (a *Alpaca) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return a.doRequest(ctx, http.MethodPost, a.baseURL, path, body)
}

func (a *Alpaca) doPatch(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return a.doRequest(ctx, http.MethodPatch, a.baseURL, path, body)
}

func (a *Alpaca) doDelete(ctx context.Context, path string) ([]byte, error) {
	return a.doRequest(ctx, http.MethodDelete, a.baseURL, path, nil)
}

func (a *Alpaca) doRequest(ctx context.Context, method, base, path string, body []byte) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, WrapError(KindConnection, "alpaca request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(KindConnection, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		he := &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				he.retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, he
	}
	return respBody, nil
}

// classify maps vendor failures to the typed error taxonomy. Rate limits
// carry the vendor's Retry-After; 403s mentioning buying power are funding
// failures rather than credential ones.
func (a *Alpaca) classify(op string, err error) error {
	var he *httpError
	if !errors.As(err, &he) {
		if IsKind(err, KindConnection) {
			return err
		}
		return WrapError(KindConnection, op, err)
	}

	switch he.status {
	case http.StatusUnauthorized:
		return WrapError(KindAuthentication, op, err)
	case http.StatusForbidden:
		lower := strings.ToLower(he.body)
		if strings.Contains(lower, "insufficient") || strings.Contains(lower, "buying power") {
			return WrapError(KindInsufficientFunds, op, err)
		}
		return WrapError(KindAuthentication, op, err)
	case http.StatusTooManyRequests:
		e := WrapError(KindRateLimit, op, err)
		if he.retryAfter > 0 {
			e.WithRetryAfter(he.retryAfter)
		}
		return e
	case http.StatusUnprocessableEntity:
		return WrapError(KindOrderInvalid, op, err)
	case http.StatusBadRequest:
		return WrapError(KindOrderInvalid, op, err)
	}
	if he.status >= 500 {
		return WrapError(KindConnection, op, err)
	}
	return WrapError(KindUnknown, op, err)
}

// ════════════════════════════════════════════════════════════════════
// Internal Utilities
// ════════════════════════════════════════════════════════════════════

// mapAlpacaStatus maps vendor order statuses to the internal lifecycle.
func mapAlpacaStatus(status string) models.OrderStatus {
	switch strings.ToLower(status) {
	case "new", "accepted", "accepted_for_bidding", "suspended", "calculated":
		return models.StatusNew
	case "pending_new":
		return models.StatusPendingNew
	case "partially_filled":
		return models.StatusPartiallyFilled
	case "filled", "stopped":
		return models.StatusFilled
	case "pending_cancel", "pending_replace":
		return models.StatusPendingCancel
	case "canceled", "cancelled":
		return models.StatusCancelled
	case "rejected":
		return models.StatusRejected
	case "expired", "done_for_day":
		return models.StatusExpired
	case "replaced":
		return models.StatusReplaced
	default:
		return models.StatusNew
	}
}

// mapAlpacaAssetClass maps the vendor's asset class, splitting out ETFs by
// symbol table since the vendor reports them as plain equities.
func mapAlpacaAssetClass(class, symbol string) models.AssetClass {
	if strings.EqualFold(class, "crypto") {
		return models.AssetCrypto
	}
	if utils.IsETF(symbol) {
		return models.AssetETF
	}
	return models.AssetEquity
}

// defaultTIF fills the vendor-required time in force when the request left
// it empty.
func defaultTIF(tif models.TimeInForce) models.TimeInForce {
	if tif == "" {
		return models.TIFDay
	}
	return tif
}

// dec parses a vendor numeric string. Empty or malformed values become zero;
// the vendor only omits numerics that do not apply to the record.
func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Decimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}
	}
	return d
}
