// Package api exposes the engine's operational HTTP surface: status,
// orders, positions, risk state, backtest submission and a WebSocket
// event stream. It is a thin layer over the engine components; all
// trading rules live below it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/internal/backtest"
	"github.com/seaquant/tradeflow/internal/broker"
	"github.com/seaquant/tradeflow/internal/config"
	"github.com/seaquant/tradeflow/internal/marketdata"
	"github.com/seaquant/tradeflow/internal/ordermgr"
	"github.com/seaquant/tradeflow/internal/risk"
	"github.com/seaquant/tradeflow/internal/router"
	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// Options wires the engine components into the API server. Orders and
// Broker are required; the rest degrade gracefully when absent.
type Options struct {
	Config *config.Config
	Orders *ordermgr.Manager
	// Broker is the default broker for account, quotes and submission.
	Broker broker.Broker
	// Brokers optionally fans positions/accounts across every registered
	// broker and routes submissions by asset class.
	Brokers *router.Router
	Risk    *risk.Manager
	// Loader feeds the backtest endpoint. Nil disables it.
	Loader  *marketdata.Loader
	Logger  zerolog.Logger
	Version string
}

// Server is the engine's HTTP API server.
type Server struct {
	mux     chi.Router
	cfg     *config.Config
	orders  *ordermgr.Manager
	broker  broker.Broker
	brokers *router.Router
	risk    *risk.Manager
	engine  *backtest.Engine
	hub     *Hub
	log     zerolog.Logger
	version string
	started time.Time
}

// New builds a server over the given components and registers all routes.
func New(opts Options) (*Server, error) {
	if opts.Orders == nil {
		return nil, fmt.Errorf("api: order manager required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("api: broker required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	riskMgr := opts.Risk
	if riskMgr == nil {
		riskMgr = risk.New(nil, opts.Logger)
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	log := opts.Logger.With().Str("component", "api").Logger()
	srv := &Server{
		cfg:     cfg,
		orders:  opts.Orders,
		broker:  opts.Broker,
		brokers: opts.Brokers,
		risk:    riskMgr,
		hub:     NewHub(log),
		log:     log,
		version: version,
		started: time.Now().UTC(),
	}
	if opts.Loader != nil {
		srv.engine = backtest.New(opts.Loader, opts.Logger)
	}

	// Every order lifecycle event goes out on the stream.
	opts.Orders.Subscribe(func(order *models.Order, event ordermgr.Event) {
		srv.hub.Broadcast(Event{Type: "order_" + string(event), Data: order})
	})

	srv.mux = srv.buildRouter()
	return srv, nil
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.mux
}

// Hub returns the event hub so the runtime can publish engine events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves until ctx is cancelled, then drains connections
// for up to fifteen seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("api server listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(150 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.cfg.API.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Get("/orders", s.handleGetOrders)
		r.Post("/orders", s.handlePlaceOrder)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Delete("/orders/{id}", s.handleCancelOrder)
		r.Get("/orders/{id}/events", s.handleOrderEvents)
		r.Get("/events", s.handleEvents)

		r.Get("/positions", s.handleGetPositions)
		r.Get("/accounts", s.handleGetAccounts)
		r.Get("/risk", s.handleRiskState)
		r.Get("/config", s.handleGetConfig)

		r.Post("/backtest", s.handleBacktest)

		r.Get("/ws", s.handleStream)
	})

	return r
}

// requestLogger logs one line per request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// ════════════════════════════════════════════════════════════════════
// Request / Response types
// ════════════════════════════════════════════════════════════════════

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PlaceOrderRequest is the body for POST /api/v1/orders. Monetary fields
// are decimal strings.
type PlaceOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type,omitempty"` // default market
	Quantity      string `json:"quantity"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"` // default day
	ClientOrderID string `json:"client_order_id,omitempty"`
	ExtendedHours bool   `json:"extended_hours,omitempty"`
}

// PlaceOrderResponse reports the pre-trade check and, when it passed,
// the submitted order. A risk rejection is a normal response, not an
// HTTP error.
type PlaceOrderResponse struct {
	Accepted bool              `json:"accepted"`
	Order    *models.Order     `json:"order,omitempty"`
	Risk     *risk.CheckResult `json:"risk,omitempty"`
}

// BacktestRequest is the body for POST /api/v1/backtest. Empty fields
// fall back to the engine's configured backtest defaults.
type BacktestRequest struct {
	Name               string            `json:"name,omitempty"`
	Tickers            []string          `json:"tickers"`
	Benchmark          string            `json:"benchmark,omitempty"`
	Start              string            `json:"start"`         // YYYY-MM-DD
	End                string            `json:"end,omitempty"` // default today
	Strategy           string            `json:"strategy,omitempty"`
	Params             map[string]string `json:"params,omitempty"`
	InitialCash        string            `json:"initial_cash,omitempty"`
	WarmupPeriod       int               `json:"warmup_period,omitempty"`
	RiskFreeRate       float64           `json:"risk_free_rate,omitempty"`
	CommissionPerTrade string            `json:"commission_per_trade,omitempty"`
	CommissionPerShare string            `json:"commission_per_share,omitempty"`
	CommissionPercent  string            `json:"commission_percent,omitempty"`
	SlippagePercent    string            `json:"slippage_percent,omitempty"`
	MaxPositionPct     string            `json:"max_position_pct,omitempty"`
	Fractional         bool              `json:"fractional,omitempty"`
}

// RiskState is the risk manager snapshot returned by GET /api/v1/risk.
type RiskState struct {
	CoolingOff        bool            `json:"cooling_off"`
	CoolingOffUntil   *time.Time      `json:"cooling_off_until,omitempty"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	DailyPnL          decimal.Decimal `json:"daily_pnl"`
	PeakEquity        decimal.Decimal `json:"peak_equity"`
	Date              string          `json:"date"`
}

// StatusResponse summarizes the running engine.
type StatusResponse struct {
	Version       string          `json:"version"`
	Broker        string          `json:"broker"`
	Brokers       []string        `json:"brokers,omitempty"`
	Account       *models.Account `json:"account,omitempty"`
	OpenOrders    int             `json:"open_orders"`
	TrackedOrders int             `json:"tracked_orders"`
	Positions     int             `json:"positions"`
	CoolingOff    bool            `json:"cooling_off"`
	StreamClients int             `json:"stream_clients"`
	UptimeSeconds int64           `json:"uptime_seconds"`
}

// ════════════════════════════════════════════════════════════════════
// Health and status
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":  "ok",
			"version": s.version,
			"sessions": map[string]string{
				"asx":  utils.ASX.Status(now),
				"nyse": utils.NYSE.Status(now),
			},
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	resp := StatusResponse{
		Version:       s.version,
		Broker:        s.broker.Name(),
		OpenOrders:    len(s.orders.OpenOrders()),
		TrackedOrders: len(s.orders.Orders()),
		CoolingOff:    s.risk.InCoolingOff(),
		StreamClients: s.hub.ClientCount(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.brokers != nil {
		resp.Brokers = s.brokers.Brokers()
	}

	// Account and positions are best effort; a broker outage must not
	// take the status endpoint down with it.
	if account, err := s.broker.GetAccount(ctx); err == nil {
		resp.Account = account
	} else {
		s.log.Warn().Err(err).Msg("status: account fetch failed")
	}
	if positions, err := s.broker.GetPositions(ctx); err == nil {
		resp.Positions = len(positions)
	} else {
		s.log.Warn().Err(err).Msg("status: positions fetch failed")
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.orders.Orders()

	if status := r.URL.Query().Get("status"); status != "" {
		want := models.OrderStatus(strings.ToLower(status))
		filtered := orders[:0]
		for _, o := range orders {
			if o.Status == want {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		want := models.NormalizeTicker(symbol)
		filtered := orders[:0]
		for _, o := range orders {
			if o.Symbol == want {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if n := queryInt(r, "limit", 0); n > 0 && len(orders) > n {
		orders = orders[len(orders)-n:]
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrder(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: order})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	orderReq, err := req.toOrderRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	target := s.brokerFor(orderReq.Symbol)

	price, err := s.referencePrice(ctx, target, orderReq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pf, err := s.portfolioSnapshot(ctx, target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	check := s.risk.Check(orderReq, price, pf)
	if !check.Passed {
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Data:    PlaceOrderResponse{Accepted: false, Risk: check},
		})
		return
	}

	order, err := s.orders.SubmitOrder(ctx, target, orderReq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    PlaceOrderResponse{Accepted: true, Order: order, Risk: check},
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	target := s.broker
	if order, err := s.orders.GetOrder(id); err == nil && order.Broker != "" && s.brokers != nil {
		if b, err := s.brokers.Broker(order.Broker); err == nil {
			target = b
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.orders.CancelOrder(ctx, target, id); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, broker.ErrOrderNotFound):
			status = http.StatusNotFound
		case errors.Is(err, broker.ErrOrderNotOpen):
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.orders.GetOrder(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.orders.OrderHistory(id)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.orders.History()
	if n := queryInt(r, "limit", 0); n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: events})
}

// ════════════════════════════════════════════════════════════════════
// Positions, accounts, risk
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	byBroker := map[string][]*models.Position{}
	if s.brokers != nil {
		all, err := s.brokers.AllPositions(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byBroker = all
	} else {
		positions, err := s.broker.GetPositions(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byBroker[s.broker.Name()] = positions
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: byBroker})
}

func (s *Server) handleGetAccounts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	byBroker := map[string]*models.Account{}
	if s.brokers != nil {
		all, err := s.brokers.AllAccounts(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byBroker = all
	} else {
		account, err := s.broker.GetAccount(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byBroker[s.broker.Name()] = account
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: byBroker})
}

func (s *Server) handleRiskState(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	state := RiskState{
		CoolingOff:        s.risk.InCoolingOff(),
		ConsecutiveLosses: s.risk.ConsecutiveLosses(),
		DailyPnL:          s.risk.DailyPnL(now),
		PeakEquity:        s.risk.PeakEquity(),
		Date:              now.Format("2006-01-02"),
	}
	if until := s.risk.CoolingOffUntil(); !until.IsZero() {
		state.CoolingOffUntil = &until
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: state})
}

// ════════════════════════════════════════════════════════════════════
// Backtest
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "backtest engine not configured")
		return
	}

	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := s.backtestConfig(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	strategy, err := backtest.ForName(req.Strategy, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result := s.engine.Run(ctx, cfg, strategy)

	s.hub.Broadcast(Event{Type: "backtest_complete", Data: map[string]interface{}{
		"name":   result.Config.Name,
		"status": result.Status,
	}})
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

// backtestConfig merges the request over the configured defaults.
func (s *Server) backtestConfig(req BacktestRequest) (models.BacktestConfig, error) {
	if len(req.Tickers) == 0 {
		return models.BacktestConfig{}, fmt.Errorf("tickers are required")
	}
	if req.Start == "" {
		return models.BacktestConfig{}, fmt.Errorf("start date is required")
	}
	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		return models.BacktestConfig{}, fmt.Errorf("invalid start date; use YYYY-MM-DD")
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if req.End != "" {
		end, err = time.Parse("2006-01-02", req.End)
		if err != nil {
			return models.BacktestConfig{}, fmt.Errorf("invalid end date; use YYYY-MM-DD")
		}
	}

	pc := models.DefaultPortfolioConfig()
	defaults := s.cfg.Backtest
	overrides := []struct {
		dst   *decimal.Decimal
		field string
		req   string
		def   string
	}{
		{&pc.InitialCash, "initial_cash", req.InitialCash, defaults.InitialCash},
		{&pc.CommissionPerTrade, "commission_per_trade", req.CommissionPerTrade, defaults.CommissionPerTrade},
		{&pc.CommissionPerShare, "commission_per_share", req.CommissionPerShare, defaults.CommissionPerShare},
		{&pc.CommissionPercent, "commission_percent", req.CommissionPercent, defaults.CommissionPercent},
		{&pc.MinCommission, "min_commission", "", defaults.MinCommission},
		{&pc.SlippagePercent, "slippage_percent", req.SlippagePercent, defaults.SlippagePercent},
		{&pc.MaxPositionSizePercent, "max_position_pct", req.MaxPositionPct, defaults.MaxPositionSizePct},
	}
	for _, o := range overrides {
		val := o.req
		if val == "" {
			val = o.def
		}
		if val == "" {
			continue
		}
		d, err := models.ParseDecimal(val)
		if err != nil {
			return models.BacktestConfig{}, fmt.Errorf("invalid %s: %v", o.field, err)
		}
		*o.dst = d
	}
	if defaults.MaxCommission != "" {
		d, err := models.ParseDecimal(defaults.MaxCommission)
		if err != nil {
			return models.BacktestConfig{}, fmt.Errorf("invalid max_commission: %v", err)
		}
		pc.MaxCommission = decimal.NewNullDecimal(d)
	}
	pc.AllowFractionalShares = req.Fractional

	warmup := req.WarmupPeriod
	if warmup == 0 {
		warmup = defaults.WarmupPeriod
	}
	riskFree := req.RiskFreeRate
	if riskFree == 0 {
		riskFree = defaults.RiskFreeRate
	}

	return models.BacktestConfig{
		Name:            req.Name,
		Tickers:         req.Tickers,
		StartDate:       start,
		EndDate:         end,
		Portfolio:       pc,
		WarmupPeriod:    warmup,
		BenchmarkTicker: req.Benchmark,
		RiskFreeRate:    riskFree,
		StrategyName:    req.Strategy,
		StrategyParams:  req.Params,
	}, nil
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

// toOrderRequest parses the wire shape into a validated OrderRequest.
func (p PlaceOrderRequest) toOrderRequest() (models.OrderRequest, error) {
	var req models.OrderRequest
	if p.Symbol == "" {
		return req, fmt.Errorf("symbol is required")
	}
	qty, err := models.ParseDecimal(p.Quantity)
	if err != nil {
		return req, fmt.Errorf("invalid quantity: %v", err)
	}

	req = models.OrderRequest{
		Symbol:        models.NormalizeTicker(p.Symbol),
		Side:          models.OrderSide(strings.ToLower(p.Side)),
		Quantity:      qty,
		Type:          models.OrderTypeMarket,
		TimeInForce:   models.TIFDay,
		ClientOrderID: p.ClientOrderID,
		ExtendedHours: p.ExtendedHours,
	}
	if p.Type != "" {
		req.Type = models.OrderType(strings.ToLower(p.Type))
	}
	if p.TimeInForce != "" {
		req.TimeInForce = models.TimeInForce(strings.ToLower(p.TimeInForce))
	}
	if p.LimitPrice != "" {
		d, err := models.ParseDecimal(p.LimitPrice)
		if err != nil {
			return req, fmt.Errorf("invalid limit_price: %v", err)
		}
		req.LimitPrice = decimal.NewNullDecimal(d)
	}
	if p.StopPrice != "" {
		d, err := models.ParseDecimal(p.StopPrice)
		if err != nil {
			return req, fmt.Errorf("invalid stop_price: %v", err)
		}
		req.StopPrice = decimal.NewNullDecimal(d)
	}
	return req, req.Validate()
}

// brokerFor routes the symbol when a router is wired, falling back to
// the default broker.
func (s *Server) brokerFor(symbol string) broker.Broker {
	if s.brokers != nil {
		if b, err := s.brokers.Route(symbol); err == nil {
			return b
		}
	}
	return s.broker
}

// referencePrice values the order for risk checks: the limit price when
// present, else the live quote midpoint.
func (s *Server) referencePrice(ctx context.Context, b broker.Broker, req models.OrderRequest) (decimal.Decimal, error) {
	if req.LimitPrice.Valid && req.LimitPrice.Decimal.IsPositive() {
		return req.LimitPrice.Decimal, nil
	}
	quote, err := b.GetQuote(ctx, req.Symbol)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("price %s: %w", req.Symbol, err)
	}
	mid := quote.Mid()
	if !mid.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("price %s: quote has no usable price", req.Symbol)
	}
	return mid, nil
}

// portfolioSnapshot assembles the view risk checks run against.
func (s *Server) portfolioSnapshot(ctx context.Context, b broker.Broker) (*models.Portfolio, error) {
	account, err := b.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("account snapshot: %w", err)
	}
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position snapshot: %w", err)
	}
	pf := &models.Portfolio{
		Cash:      account.Cash,
		Currency:  account.Currency,
		Positions: make(map[string]*models.Position, len(positions)),
	}
	for _, p := range positions {
		pf.Positions[p.Symbol] = p
	}
	return pf, nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}
