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

	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Interactive Brokers Client Portal REST API Broker
// ════════════════════════════════════════════════════════════════════

// IBKR implements the Broker interface over Interactive Brokers' Client
// Portal REST API. The Gateway or TWS must be running locally and
// authenticated. Contracts are qualified to a conid before use; submit
// confirmations from the gateway are answered automatically.
type IBKR struct {
	mu sync.RWMutex

	baseURL    string
	httpClient *http.Client

	accountID string
	clientID  int
	connected bool

	// conid qualification cache, keyed by internal symbol.
	conids map[string]int
}

// IBKRConfig holds IBKR gateway connection settings.
type IBKRConfig struct {
	Host      string        // gateway host (default 127.0.0.1)
	Port      int           // gateway port (default 7497 paper, 7496 live)
	ClientID  int           // session client ID
	AccountID string        // account; discovered on Connect when empty
	Live      bool          // select the live default port
	Timeout   time.Duration // HTTP timeout (default 30s)
}

// NewIBKR creates an IBKR broker instance.
func NewIBKR(cfg *IBKRConfig) *IBKR {
	if cfg == nil {
		cfg = &IBKRConfig{}
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		if cfg.Live {
			port = 7496
		} else {
			port = 7497
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &IBKR{
		baseURL:    fmt.Sprintf("https://%s:%d/v1/api", host, port),
		accountID:  cfg.AccountID,
		clientID:   cfg.ClientID,
		httpClient: &http.Client{Timeout: timeout},
		conids:     make(map[string]int),
	}
}

// Name returns "ibkr".
func (ib *IBKR) Name() string { return "ibkr" }

// ════════════════════════════════════════════════════════════════════
// Connection
// ════════════════════════════════════════════════════════════════════

// Connect verifies the gateway session and discovers the account ID.
func (ib *IBKR) Connect(ctx context.Context) error {
	body, err := ib.doGet(ctx, "/iserver/auth/status")
	if err != nil {
		return ib.classify("auth check", err)
	}

	var status struct {
		Authenticated bool `json:"authenticated"`
		Connected     bool `json:"connected"`
		Competing     bool `json:"competing"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("parse auth status: %w", err)
	}
	if !status.Authenticated {
		return WrapError(KindAuthentication,
			"gateway not authenticated, login via Client Portal first", ErrNotConnected)
	}
	if status.Competing {
		return NewError(KindConnection, "another session is competing for this gateway")
	}

	ib.mu.Lock()
	defer ib.mu.Unlock()

	if ib.accountID == "" {
		acctBody, err := ib.doGet(ctx, "/portfolio/accounts")
		if err != nil {
			return ib.classify("get accounts", err)
		}
		var accounts []struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(acctBody, &accounts); err != nil {
			return fmt.Errorf("parse accounts: %w", err)
		}
		if len(accounts) == 0 {
			return NewError(KindAuthentication, "no accounts visible on this gateway")
		}
		ib.accountID = accounts[0].ID
	}

	ib.connected = true
	return nil
}

// Disconnect drops the local session flag. The gateway session itself stays
// authenticated for other clients.
func (ib *IBKR) Disconnect(_ context.Context) error {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.connected = false
	return nil
}

// IsConnected reports whether Connect succeeded.
func (ib *IBKR) IsConnected() bool {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	return ib.connected
}

// IsMarketOpen approximates the primary session clock: NYSE regular hours
// on weekdays. The gateway exposes no account-level clock endpoint.
// TODO: read /trsrv/secdef/schedule to honor exchange holidays.
func (ib *IBKR) IsMarketOpen(_ context.Context) (bool, error) {
	if !ib.IsConnected() {
		return false, ErrNotConnected
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	now := time.Now().In(loc)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false, nil
	}
	sessionOpen := time.Date(now.Year(), now.Month(), now.Day(), 9, 30, 0, 0, loc)
	sessionClose := time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, loc)
	return !now.Before(sessionOpen) && now.Before(sessionClose), nil
}

// ════════════════════════════════════════════════════════════════════
// Account
// ════════════════════════════════════════════════════════════════════

// GetAccount returns the account summary.
func (ib *IBKR) GetAccount(ctx context.Context) (*models.Account, error) {
	if !ib.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := ib.doGet(ctx, fmt.Sprintf("/portfolio/%s/summary", ib.account()))
	if err != nil {
		return nil, ib.classify("get account", err)
	}

	var summary map[string]struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("parse account summary: %w", err)
	}

	currency := summary["netliquidation"].Currency
	if currency == "" {
		currency = "USD"
	}
	return &models.Account{
		ID:             ib.account(),
		Cash:           decimal.NewFromFloat(summary["totalcashvalue"].Amount),
		Equity:         decimal.NewFromFloat(summary["netliquidation"].Amount),
		BuyingPower:    decimal.NewFromFloat(summary["buyingpower"].Amount),
		PositionsValue: decimal.NewFromFloat(summary["grosspositionvalue"].Amount),
		Currency:       currency,
		Broker:         ib.Name(),
	}, nil
}

func (ib *IBKR) account() string {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	return ib.accountID
}

// ════════════════════════════════════════════════════════════════════
// Contract Qualification
// ════════════════════════════════════════════════════════════════════

// contractSpec describes where and how a contract trades.
type contractSpec struct {
	SecType    string
	Exchange   string
	Currency   string
	Multiplier int64
}

// futuresSpecs maps futures roots to their contract specs: US index,
// commodity, agricultural, rates and FX futures.
var futuresSpecs = map[string]contractSpec{
	"ES":  {"FUT", "CME", "USD", 50},
	"NQ":  {"FUT", "CME", "USD", 20},
	"YM":  {"FUT", "CBOT", "USD", 5},
	"RTY": {"FUT", "CME", "USD", 50},
	"CL":  {"FUT", "NYMEX", "USD", 1000},
	"NG":  {"FUT", "NYMEX", "USD", 10000},
	"GC":  {"FUT", "COMEX", "USD", 100},
	"SI":  {"FUT", "COMEX", "USD", 5000},
	"HG":  {"FUT", "COMEX", "USD", 25000},
	"ZC":  {"FUT", "CBOT", "USD", 5000},
	"ZS":  {"FUT", "CBOT", "USD", 5000},
	"ZW":  {"FUT", "CBOT", "USD", 5000},
	"ZB":  {"FUT", "CBOT", "USD", 1000},
	"ZN":  {"FUT", "CBOT", "USD", 1000},
	"ZF":  {"FUT", "CBOT", "USD", 1000},
	"ZT":  {"FUT", "CBOT", "USD", 1000},
	"6E":  {"FUT", "CME", "USD", 125000},
	"6J":  {"FUT", "CME", "USD", 12500000},
	"6B":  {"FUT", "CME", "USD", 62500},
	"6A":  {"FUT", "CME", "USD", 100000},
}

// contractSpecFor resolves the spec for an internal symbol: the futures
// table by root, `.AX` suffixes as ASX equities in AUD, everything else as
// SMART-routed US equities.
func contractSpecFor(symbol string) contractSpec {
	if utils.IsFuturesSymbol(symbol) {
		if spec, ok := futuresSpecs[utils.FuturesRoot(symbol)]; ok {
			return spec
		}
		return contractSpec{"FUT", "CME", "USD", 1}
	}
	if utils.IsASX(symbol) {
		return contractSpec{"STK", "ASX", "AUD", 1}
	}
	return contractSpec{"STK", "SMART", "USD", 1}
}

// qualifyConid resolves and caches the gateway contract ID for a symbol.
// Qualification is a blocking round-trip on first use.
func (ib *IBKR) qualifyConid(ctx context.Context, symbol string) (int, error) {
	ib.mu.RLock()
	conid, ok := ib.conids[symbol]
	ib.mu.RUnlock()
	if ok {
		return conid, nil
	}

	spec := contractSpecFor(symbol)
	base := utils.BaseSymbol(symbol)

	q := url.Values{}
	q.Set("symbol", base)
	q.Set("secType", spec.SecType)
	body, err := ib.doGet(ctx, "/iserver/secdef/search?"+q.Encode())
	if err != nil {
		return 0, ib.classify(fmt.Sprintf("qualify %s", symbol), err)
	}

	var results []struct {
		Conid       json.Number     `json:"conid"`
		Symbol      string          `json:"symbol"`
		Description string          `json:"description"`
		Sections    []secdefSection `json:"sections"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return 0, fmt.Errorf("parse secdef search: %w", err)
	}

	for _, r := range results {
		id, err := strconv.Atoi(r.Conid.String())
		if err != nil || id <= 0 {
			continue
		}
		if !strings.EqualFold(r.Symbol, base) {
			continue
		}
		// Prefer a listing on the expected exchange; SMART accepts any.
		if spec.Exchange != "SMART" && !matchesExchange(r.Description, r.Sections, spec.Exchange) {
			continue
		}
		ib.mu.Lock()
		ib.conids[symbol] = id
		ib.mu.Unlock()
		return id, nil
	}

	return 0, Errorf(KindOrderInvalid, "no %s contract found for %s", spec.SecType, symbol)
}

// secdefSection is one listing venue in a secdef search result.
type secdefSection struct {
	SecType  string `json:"secType"`
	Exchange string `json:"exchange"`
}

func matchesExchange(description string, sections []secdefSection, exchange string) bool {
	if strings.Contains(strings.ToUpper(description), exchange) {
		return true
	}
	for _, s := range sections {
		if strings.Contains(strings.ToUpper(s.Exchange), exchange) {
			return true
		}
	}
	return false
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

// ibkrOrderTypes maps internal order types to gateway order types.
var ibkrOrderTypes = map[models.OrderType]string{
	models.OrderTypeMarket:       "MKT",
	models.OrderTypeLimit:        "LMT",
	models.OrderTypeStop:         "STP",
	models.OrderTypeStopLimit:    "STOP_LIMIT",
	models.OrderTypeTrailingStop: "TRAIL",
}

// ibkrTIFs maps internal time-in-force values to the gateway's. FOK and the
// auction TIFs have no gateway equivalent.
var ibkrTIFs = map[models.TimeInForce]string{
	models.TIFDay: "DAY",
	models.TIFGTC: "GTC",
	models.TIFIOC: "IOC",
	models.TIFGTD: "GTD",
	"":            "DAY",
}

// SubmitOrder places an order through the gateway. The first submit for a
// symbol qualifies its contract, and gateway confirmation prompts (price
// caps, size warnings) are acknowledged automatically.
func (ib *IBKR) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if !ib.IsConnected() {
		return nil, ErrNotConnected
	}
	if err := req.Validate(); err != nil {
		return nil, WrapError(KindOrderInvalid, "invalid order request", err)
	}

	orderType, ok := ibkrOrderTypes[req.Type]
	if !ok {
		return nil, Errorf(KindOrderInvalid, "order type %s not supported by ibkr", req.Type)
	}
	tif, ok := ibkrTIFs[req.TimeInForce]
	if !ok {
		return nil, Errorf(KindOrderInvalid, "time in force %s not supported by ibkr", req.TimeInForce)
	}

	conid, err := ib.qualifyConid(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	quantity, _ := req.Quantity.Float64()
	payload := map[string]any{
		"acctId":    ib.account(),
		"conid":     conid,
		"orderType": orderType,
		"side":      strings.ToUpper(string(req.Side)),
		"quantity":  quantity,
		"tif":       tif,
	}
	switch req.Type {
	case models.OrderTypeLimit:
		payload["price"], _ = req.LimitPrice.Decimal.Float64()
	case models.OrderTypeStop:
		payload["price"], _ = req.StopPrice.Decimal.Float64()
	case models.OrderTypeStopLimit:
		payload["price"], _ = req.LimitPrice.Decimal.Float64()
		payload["auxPrice"], _ = req.StopPrice.Decimal.Float64()
	case models.OrderTypeTrailingStop:
		if req.TrailAmount.Valid {
			payload["trailingAmt"], _ = req.TrailAmount.Decimal.Float64()
			payload["trailingType"] = "amt"
		} else {
			payload["trailingAmt"], _ = req.TrailPercent.Decimal.Float64()
			payload["trailingType"] = "%"
		}
	}
	if req.ClientOrderID != "" {
		payload["cOID"] = req.ClientOrderID
	}
	if req.ExtendedHours {
		payload["outsideRTH"] = true
	}

	wrapped, err := json.Marshal(map[string]any{"orders": []map[string]any{payload}})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	body, err := ib.doPost(ctx, fmt.Sprintf("/iserver/account/%s/orders", ib.account()), wrapped)
	if err != nil {
		return nil, ib.classify(fmt.Sprintf("submit %s", req.Symbol), err)
	}

	orderID, status, err := ib.resolveSubmit(ctx, body)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &models.Order{
		OrderRequest:  req,
		ID:            orderID,
		BrokerOrderID: orderID,
		Broker:        ib.Name(),
		Status:        mapIBKRStatus(status),
		CreatedAt:     now,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	return order, nil
}

// resolveSubmit parses a submit response, answering confirmation prompts
// until the gateway returns an order ID. The gateway chains at most a few
// prompts; the loop is bounded defensively.
func (ib *IBKR) resolveSubmit(ctx context.Context, body []byte) (orderID, status string, err error) {
	for i := 0; i < 4; i++ {
		var results []struct {
			OrderID     string   `json:"order_id"`
			OrderStatus string   `json:"order_status"`
			ID          string   `json:"id"`
			Message     []string `json:"message"`
		}
		if err := json.Unmarshal(body, &results); err != nil {
			return "", "", fmt.Errorf("parse submit response: %w", err)
		}
		if len(results) == 0 {
			return "", "", NewError(KindOrderRejected, "gateway returned an empty submit response")
		}

		r := results[0]
		if r.OrderID != "" {
			return r.OrderID, r.OrderStatus, nil
		}
		if r.ID == "" {
			return "", "", Errorf(KindOrderRejected, "order rejected: %s", strings.Join(r.Message, "; "))
		}

		// Confirmation prompt; acknowledge and read the next response.
		reply, err := json.Marshal(map[string]bool{"confirmed": true})
		if err != nil {
			return "", "", fmt.Errorf("encode reply: %w", err)
		}
		body, err = ib.doPost(ctx, "/iserver/reply/"+r.ID, reply)
		if err != nil {
			return "", "", ib.classify("confirm order", err)
		}
	}
	return "", "", NewError(KindOrderRejected, "gateway kept prompting for confirmation")
}

// CancelOrder cancels an open order.
func (ib *IBKR) CancelOrder(ctx context.Context, orderID string) error {
	if !ib.IsConnected() {
		return ErrNotConnected
	}

	if _, err := ib.doDelete(ctx, fmt.Sprintf("/iserver/account/%s/order/%s", ib.account(), orderID)); err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return ErrOrderNotFound
		}
		return ib.classify("cancel order", err)
	}
	return nil
}

// ReplaceOrder modifies an open order in place. The gateway keeps the order
// ID; the updated order is fetched back after the modify is accepted.
func (ib *IBKR) ReplaceOrder(ctx context.Context, orderID string, req models.OrderRequest) (*models.Order, error) {
	if !ib.IsConnected() {
		return nil, ErrNotConnected
	}

	payload := map[string]any{}
	if req.Quantity.IsPositive() {
		payload["quantity"], _ = req.Quantity.Float64()
	}
	if req.LimitPrice.Valid {
		payload["price"], _ = req.LimitPrice.Decimal.Float64()
	}
	if req.StopPrice.Valid {
		payload["auxPrice"], _ = req.StopPrice.Decimal.Float64()
	}
	if tif, ok := ibkrTIFs[req.TimeInForce]; ok && req.TimeInForce != "" {
		payload["tif"] = tif
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode modify: %w", err)
	}
	body, err := ib.doPost(ctx, fmt.Sprintf("/iserver/account/%s/order/%s", ib.account(), orderID), encoded)
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return nil, ErrOrderNotFound
		}
		return nil, ib.classify("replace order", err)
	}
	if _, _, err := ib.resolveSubmit(ctx, body); err != nil {
		return nil, err
	}

	order, err := ib.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder returns a single order. The gateway has no single-order lookup;
// the live orders list is filtered instead.
func (ib *IBKR) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	orders, err := ib.GetOrders(ctx, OrderFilter{})
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

// GetOrders returns orders matching the filter.
func (ib *IBKR) GetOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	if !ib.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := ib.doGet(ctx, "/iserver/account/orders")
	if err != nil {
		return nil, ib.classify("get orders", err)
	}

	var resp struct {
		Orders []struct {
			OrderID     json.Number `json:"orderId"`
			Ticker      string      `json:"ticker"`
			Side        string      `json:"side"`
			OrderType   string      `json:"orderType"`
			TotalSize   float64     `json:"totalSize"`
			FilledQty   float64     `json:"filledQuantity"`
			Price       float64     `json:"price"`
			AuxPrice    float64     `json:"auxPrice"`
			AvgPrice    float64     `json:"avgPrice"`
			OrderRef    string      `json:"order_ref"`
			TIF         string      `json:"timeInForce"`
			Status      string      `json:"status"`
			LastExecute int64       `json:"lastExecutionTime_r"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}

	orders := make([]*models.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		order := &models.Order{
			OrderRequest: models.OrderRequest{
				Symbol:        o.Ticker,
				Side:          models.OrderSide(strings.ToLower(o.Side)),
				Quantity:      decimal.NewFromFloat(o.TotalSize),
				Type:          mapIBKRType(o.OrderType),
				TimeInForce:   models.TimeInForce(strings.ToLower(o.TIF)),
				ClientOrderID: o.OrderRef,
			},
			ID:             o.OrderID.String(),
			BrokerOrderID:  o.OrderID.String(),
			Broker:         ib.Name(),
			Status:         mapIBKRStatus(o.Status),
			FilledQuantity: decimal.NewFromFloat(o.FilledQty),
		}
		switch order.Type {
		case models.OrderTypeLimit:
			order.LimitPrice = decimal.NewNullDecimal(decimal.NewFromFloat(o.Price))
		case models.OrderTypeStop:
			order.StopPrice = decimal.NewNullDecimal(decimal.NewFromFloat(o.Price))
		case models.OrderTypeStopLimit:
			order.LimitPrice = decimal.NewNullDecimal(decimal.NewFromFloat(o.Price))
			order.StopPrice = decimal.NewNullDecimal(decimal.NewFromFloat(o.AuxPrice))
		}
		if o.AvgPrice > 0 {
			order.AvgFillPrice = decimal.NewNullDecimal(decimal.NewFromFloat(o.AvgPrice))
		}
		if o.LastExecute > 0 {
			order.UpdatedAt = time.UnixMilli(o.LastExecute)
		}
		if filter.matches(order) {
			orders = append(orders, order)
		}
	}
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[len(orders)-filter.Limit:]
	}
	return orders, nil
}

// ════════════════════════════════════════════════════════════════════
// Positions
// ════════════════════════════════════════════════════════════════════

// GetPositions returns open positions.
func (ib *IBKR) GetPositions(ctx context.Context) ([]*models.Position, error) {
	if !ib.IsConnected() {
		return nil, ErrNotConnected
	}

	body, err := ib.doGet(ctx, fmt.Sprintf("/portfolio/%s/positions/0", ib.account()))
	if err != nil {
		return nil, ib.classify("get positions", err)
	}

	var ibPositions []struct {
		Conid        json.Number `json:"conid"`
		ContractDesc string      `json:"contractDesc"`
		Position     float64     `json:"position"`
		AvgCost      float64     `json:"avgCost"`
		MktPrice     float64     `json:"mktPrice"`
		Currency     string      `json:"currency"`
		AssetClass   string      `json:"assetClass"`
	}
	if err := json.Unmarshal(body, &ibPositions); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	positions := make([]*models.Position, 0, len(ibPositions))
	for _, p := range ibPositions {
		if p.Position == 0 {
			continue
		}
		symbol := strings.TrimSpace(p.ContractDesc)
		position := &models.Position{
			Symbol:        symbol,
			Quantity:      decimal.NewFromFloat(p.Position),
			AvgEntryPrice: decimal.NewFromFloat(p.AvgCost),
			CurrentPrice:  decimal.NewFromFloat(p.MktPrice),
			AssetClass:    mapIBKRAssetClass(p.AssetClass, symbol),
			UpdatedAt:     time.Now(),
		}
		if p.Position > 0 {
			position.Side = models.PositionLong
		} else {
			position.Side = models.PositionShort
		}
		positions = append(positions, position)
	}
	return positions, nil
}

// GetPosition returns the open position for a symbol.
func (ib *IBKR) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	positions, err := ib.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol || utils.BaseSymbol(p.Symbol) == utils.BaseSymbol(symbol) {
			return p, nil
		}
	}
	return nil, ErrPositionNotFound
}

// ClosePosition flattens the symbol's position with a market order.
func (ib *IBKR) ClosePosition(ctx context.Context, symbol string) (*models.Order, error) {
	p, err := ib.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return ib.SubmitOrder(ctx, closeRequest(p))
}

// CloseAllPositions flattens every open position.
func (ib *IBKR) CloseAllPositions(ctx context.Context) ([]*models.Order, error) {
	return closeAllPositions(ctx, ib)
}

// ════════════════════════════════════════════════════════════════════
// Market Data
// ════════════════════════════════════════════════════════════════════

// Snapshot field IDs: 31 last, 84 bid, 85 ask size, 86 ask, 88 bid size.
const ibkrQuoteFields = "31,84,85,86,88"

// GetQuote returns a market data snapshot for the symbol.
func (ib *IBKR) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !ib.IsConnected() {
		return nil, ErrNotConnected
	}

	conid, err := ib.qualifyConid(ctx, symbol)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/iserver/marketdata/snapshot?conids=%d&fields=%s", conid, ibkrQuoteFields)
	body, err := ib.doGet(ctx, path)
	if err != nil {
		return nil, ib.classify("get quote", err)
	}

	var snapshots []map[string]json.RawMessage
	if err := json.Unmarshal(body, &snapshots); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}

	snap := snapshots[0]
	quote := &models.Quote{
		Symbol:    symbol,
		Last:      snapshotDecimal(snap["31"]),
		Bid:       snapshotDecimal(snap["84"]),
		Ask:       snapshotDecimal(snap["86"]),
		AskSize:   snapshotInt(snap["85"]),
		BidSize:   snapshotInt(snap["88"]),
		Timestamp: time.Now(),
	}
	if quote.Last.IsZero() && quote.Bid.IsZero() && quote.Ask.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return quote, nil
}

// GetQuotes returns quotes for the symbols that have one; symbols that fail
// are omitted.
func (ib *IBKR) GetQuotes(ctx context.Context, symbols []string) (map[string]*models.Quote, error) {
	if !ib.IsConnected() {
		return nil, ErrNotConnected
	}

	quotes := make(map[string]*models.Quote, len(symbols))
	for _, symbol := range symbols {
		q, err := ib.GetQuote(ctx, symbol)
		if err != nil {
			if IsKind(err, KindAuthentication) || IsKind(err, KindConnection) {
				return quotes, err
			}
			continue
		}
		quotes[symbol] = q
	}
	return quotes, nil
}

// GetAsset returns contract metadata for a symbol. Tradability reflects
// whether the contract qualifies on the gateway.
func (ib *IBKR) GetAsset(ctx context.Context, symbol string) (*models.Asset, error) {
	if !ib.IsConnected() {
		return nil, ErrNotConnected
	}

	spec := contractSpecFor(symbol)
	asset := &models.Asset{
		Symbol:     symbol,
		Name:       symbol,
		Class:      utils.AssetClassOf(symbol),
		Exchange:   spec.Exchange,
		Currency:   spec.Currency,
		Multiplier: decimal.NewFromInt(spec.Multiplier),
	}
	if _, err := ib.qualifyConid(ctx, symbol); err != nil {
		if IsKind(err, KindConnection) || IsKind(err, KindAuthentication) {
			return nil, err
		}
		asset.Tradable = false
		return asset, nil
	}
	asset.Tradable = true
	return asset, nil
}

// snapshotDecimal parses a snapshot field that may arrive as a JSON string
// or number.
func snapshotDecimal(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 {
		return decimal.Decimal{}
	}
	s := strings.Trim(string(raw), `"`)
	// Halted quotes are prefixed ("C189.50"); strip any leading marker.
	s = strings.TrimLeft(s, "CHcp")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}
	}
	return d
}

// snapshotInt parses an integer snapshot field.
func snapshotInt(raw json.RawMessage) int64 {
	d := snapshotDecimal(raw)
	return d.IntPart()
}

// ════════════════════════════════════════════════════════════════════
// HTTP Helpers
// ════════════════════════════════════════════════════════════════════

func (ib *IBKR) doGet(ctx context.Context, path string) ([]byte, error) {
	return ib.doRequest(ctx, http.MethodGet, path, nil)
}

func (ib *IBKR) doPost(ctx context.Context, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	return ib.doRequest(ctx, http.MethodPost, path, reader)
}

func (ib *IBKR) doDelete(ctx context.Context, path string) ([]byte, error) {
	return ib.doRequest(ctx, http.MethodDelete, path, nil)
}

func (ib *IBKR) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, ib.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ib.httpClient.Do(req)
	if err != nil {
		return nil, WrapError(KindConnection, "gateway request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(KindConnection, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// classify maps gateway failures to the typed error taxonomy.
func (ib *IBKR) classify(op string, err error) error {
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
	case http.StatusTooManyRequests:
		return WrapError(KindRateLimit, op, err)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
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

// mapIBKRStatus maps gateway order statuses to the internal lifecycle.
func mapIBKRStatus(status string) models.OrderStatus {
	switch strings.ToUpper(strings.ReplaceAll(status, " ", "")) {
	case "FILLED":
		return models.StatusFilled
	case "CANCELLED", "CANCELED":
		return models.StatusCancelled
	case "INACTIVE":
		return models.StatusRejected
	case "SUBMITTED", "PRESUBMITTED":
		return models.StatusNew
	case "PENDINGSUBMIT":
		return models.StatusPendingNew
	case "PENDINGCANCEL":
		return models.StatusPendingCancel
	default:
		return models.StatusPendingNew
	}
}

// mapIBKRType maps gateway order type names back to internal types.
func mapIBKRType(orderType string) models.OrderType {
	switch strings.ToUpper(strings.ReplaceAll(orderType, " ", "_")) {
	case "MARKET", "MKT":
		return models.OrderTypeMarket
	case "LIMIT", "LMT":
		return models.OrderTypeLimit
	case "STOP", "STP":
		return models.OrderTypeStop
	case "STOP_LIMIT", "STP_LMT":
		return models.OrderTypeStopLimit
	case "TRAIL", "TRAILING_STOP":
		return models.OrderTypeTrailingStop
	default:
		return models.OrderTypeMarket
	}
}

// mapIBKRAssetClass maps gateway asset classes to internal ones, falling
// back to the symbol classifier.
func mapIBKRAssetClass(assetClass, symbol string) models.AssetClass {
	switch strings.ToUpper(assetClass) {
	case "FUT":
		return models.AssetFuture
	case "CASH":
		return models.AssetForex
	case "CRYPTO":
		return models.AssetCrypto
	case "STK":
		if utils.IsETF(symbol) {
			return models.AssetETF
		}
		return models.AssetEquity
	default:
		return utils.AssetClassOf(symbol)
	}
}
