// Package backtest replays strategies over historical daily bars. The
// engine owns the simulated portfolio: it sizes entries, applies the
// commission model and slippage, marks the book to market each day and
// hands the finished equity curve to the metrics calculator. Failures are
// captured in the result's status and error message, never raised.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/seaquant/tradeflow/internal/marketdata"
	"github.com/seaquant/tradeflow/internal/metrics"
	"github.com/seaquant/tradeflow/pkg/models"
)

// preloadBufferDays pads the history window loaded before the start date so
// indicator warm-up has bars to work with across weekends and holidays.
const preloadBufferDays = 30

var hundred = decimal.NewFromInt(100)

// Engine runs backtests against a market-data loader. Safe for reuse;
// each Run carries its own state.
type Engine struct {
	loader *marketdata.Loader
	log    zerolog.Logger
}

// New creates an engine reading bars through loader.
func New(loader *marketdata.Loader, log zerolog.Logger) *Engine {
	return &Engine{
		loader: loader,
		log:    log.With().Str("component", "backtest").Logger(),
	}
}

// run is the mutable state of one backtest execution.
type run struct {
	cfg    models.BacktestConfig
	series map[string]*models.Series
	pf     *models.Portfolio
	lots   map[string]*openLot

	trades  []models.BacktestTrade
	curve   []models.EquityCurvePoint
	returns []float64

	benchSeries  *models.Series
	benchBase    decimal.Decimal
	benchPrev    float64
	benchReturns []float64

	prevEquity decimal.Decimal
}

// openLot remembers the entry leg of an open position for trade pairing.
type openLot struct {
	entryDate  time.Time
	entryPrice decimal.Decimal
	commission decimal.Decimal
}

// Run executes one backtest. The returned result is always non-nil; any
// error, including a panicking strategy, lands in Status and ErrorMessage.
func (e *Engine) Run(ctx context.Context, cfg models.BacktestConfig, strategy Strategy) (res *models.BacktestResult) {
	res = &models.BacktestResult{
		ID:        uuid.NewString(),
		Config:    cfg,
		StartedAt: time.Now().UTC(),
		Status:    models.BacktestRunning,
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.fail(res, fmt.Errorf("backtest: panic: %v", rec))
		}
	}()

	cfg.Normalize()
	res.Config = cfg
	if err := cfg.Validate(); err != nil {
		return e.fail(res, err)
	}
	if strategy == nil {
		return e.fail(res, errors.New("backtest: strategy required"))
	}

	e.log.Info().
		Str("backtest_id", res.ID).
		Strs("tickers", cfg.Tickers).
		Str("strategy", strategy.Name()).
		Time("start", cfg.StartDate).
		Time("end", cfg.EndDate).
		Msg("backtest started")

	series, err := e.preload(ctx, cfg)
	if err != nil {
		return e.fail(res, err)
	}
	days, err := tradingDays(series[cfg.Tickers[0]], cfg)
	if err != nil {
		return e.fail(res, err)
	}
	pf, err := models.NewPortfolio(cfg.Portfolio.InitialCash, cfg.Portfolio.Currency)
	if err != nil {
		return e.fail(res, err)
	}

	r := &run{
		cfg:        cfg,
		series:     series,
		pf:         pf,
		lots:       make(map[string]*openLot),
		prevEquity: cfg.Portfolio.InitialCash,
	}
	if cfg.BenchmarkTicker != "" {
		r.benchSeries = series[cfg.BenchmarkTicker]
	}

	for i, day := range days {
		if err := ctx.Err(); err != nil {
			return e.fail(res, err)
		}
		e.tradeDay(r, strategy, day, i == len(days)-1)
	}

	m, err := buildMetrics(cfg.Portfolio.InitialCash, cfg.RiskFreeRate, r.curve, r.returns, r.trades, r.benchReturns)
	if err != nil {
		return e.fail(res, err)
	}

	res.Metrics = m
	res.TradeLog = r.trades
	res.EquityCurve = r.curve
	res.DailyReturns = r.returns
	res.Status = models.BacktestCompleted
	res.CompletedAt = time.Now().UTC()
	metrics.BacktestRuns.WithLabelValues(string(models.BacktestCompleted)).Inc()

	e.log.Info().
		Str("backtest_id", res.ID).
		Int("trading_days", m.TradingDays).
		Int("trades", m.TotalTrades).
		Str("end_equity", m.EndEquity.String()).
		Msg("backtest completed")
	return res
}

// fail marks the result failed and records why.
func (e *Engine) fail(res *models.BacktestResult, err error) *models.BacktestResult {
	res.Status = models.BacktestFailed
	res.ErrorMessage = err.Error()
	res.CompletedAt = time.Now().UTC()
	metrics.BacktestRuns.WithLabelValues(string(models.BacktestFailed)).Inc()
	e.log.Error().Err(err).Str("backtest_id", res.ID).Msg("backtest failed")
	return res
}

// preload fetches every ticker's bars, benchmark included, concurrently.
// The window reaches back before the start date so warm-up and indicator
// history is available on the first traded day.
func (e *Engine) preload(ctx context.Context, cfg models.BacktestConfig) (map[string]*models.Series, error) {
	// The warm-up period counts trading days; doubled plus a fixed pad it
	// covers the same span in calendar days.
	lookback := cfg.WarmupPeriod*2 + preloadBufferDays
	preStart := cfg.StartDate.AddDate(0, 0, -lookback)

	seen := make(map[string]bool, len(cfg.Tickers)+1)
	tickers := make([]string, 0, len(cfg.Tickers)+1)
	for _, t := range cfg.Tickers {
		if !seen[t] {
			seen[t] = true
			tickers = append(tickers, t)
		}
	}
	if b := cfg.BenchmarkTicker; b != "" && !seen[b] {
		tickers = append(tickers, b)
	}

	var mu sync.Mutex
	series := make(map[string]*models.Series, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			s, err := e.loader.LoadOHLCV(gctx, ticker, preStart, cfg.EndDate, cfg.Interval)
			if err != nil {
				return fmt.Errorf("load %s: %w", ticker, err)
			}
			mu.Lock()
			series[ticker] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

// tradingDays derives the traded-day sequence from the primary ticker's
// bars within the configured range, with the warm-up prefix consumed.
func tradingDays(primary *models.Series, cfg models.BacktestConfig) ([]time.Time, error) {
	if primary == nil || primary.Empty() {
		return nil, fmt.Errorf("backtest: no data for primary ticker %s", cfg.Tickers[0])
	}
	startKey := marketdata.DayKey(cfg.StartDate)
	endKey := marketdata.DayKey(cfg.EndDate)
	var days []time.Time
	for _, b := range primary.Bars {
		d := marketdata.DayKey(b.Timestamp)
		if d.Before(startKey) || d.After(endKey) {
			continue
		}
		days = append(days, d)
	}
	if len(days) <= cfg.WarmupPeriod {
		return nil, fmt.Errorf("backtest: %d trading days in range, warmup consumes %d", len(days), cfg.WarmupPeriod)
	}
	return days[cfg.WarmupPeriod:], nil
}

// tradeDay consults the strategy for every ticker, applies decisions, and
// marks the book to market. On the final day all open positions are closed
// before the mark so the last curve point reflects a flat book.
func (e *Engine) tradeDay(r *run, strategy Strategy, day time.Time, last bool) {
	for _, ticker := range r.cfg.Tickers {
		s, ok := r.series[ticker]
		if !ok {
			continue
		}
		bar, ok := s.GetBar(day)
		if !ok {
			continue
		}
		// Position is copied so strategies cannot mutate the book.
		var posCopy *models.Position
		if pos, held := r.pf.Position(ticker); held {
			c := *pos
			posCopy = &c
		}
		decision := strategy.Decide(Context{
			Ticker:   ticker,
			Date:     day,
			Bar:      bar,
			History:  s.Slice(time.Time{}, endOfDay(day)),
			Cash:     r.pf.Cash,
			Equity:   r.pf.Equity(),
			Position: posCopy,
		})
		switch decision.Action {
		case models.SignalBuy:
			e.openLong(r, ticker, bar, day, decision)
		case models.SignalSell, models.SignalCloseLong:
			e.closeLong(r, ticker, bar.Close, day)
		}
	}
	if last {
		e.closeAll(r, day)
	}
	e.markToMarket(r, day)
}

// openLong buys when flat, sized by the decision's recommended quantity or
// the max-position-size slice of cash, clamped to what cash affords after
// commission.
func (e *Engine) openLong(r *run, ticker string, bar models.Bar, day time.Time, d models.TradingDecision) {
	if pos, ok := r.pf.Position(ticker); ok && !pos.Quantity.IsZero() {
		return // already holding; pyramiding is not modeled
	}
	pc := r.cfg.Portfolio
	price := execPrice(pc, bar.Close, models.SideBuy)
	if !price.IsPositive() {
		return
	}
	qty := buyQuantity(pc, d, r.pf.Cash, price)
	if !qty.IsPositive() {
		return
	}
	comm := commissionFor(pc, qty, price)
	if price.Mul(qty).Add(comm).GreaterThan(r.pf.Cash) {
		qty = roundShares(pc, r.pf.Cash.Sub(comm).Div(price))
		if !qty.IsPositive() {
			return
		}
		comm = commissionFor(pc, qty, price)
	}
	fill := models.Fill{
		OrderID:    uuid.NewString(),
		Symbol:     ticker,
		Side:       models.SideBuy,
		Quantity:   qty,
		Price:      price,
		Commission: comm,
		Timestamp:  day,
	}
	if err := r.pf.ApplyFill(fill); err != nil {
		e.log.Debug().Err(err).Str("ticker", ticker).Msg("buy skipped")
		return
	}
	r.lots[ticker] = &openLot{entryDate: day, entryPrice: price, commission: comm}
	e.log.Debug().
		Str("ticker", ticker).
		Str("qty", qty.String()).
		Str("price", price.String()).
		Time("day", day).
		Msg("opened long")
}

// closeLong sells the full position at the day's close adjusted for
// slippage and records the paired trade.
func (e *Engine) closeLong(r *run, ticker string, closePrice decimal.Decimal, day time.Time) {
	pos, ok := r.pf.Position(ticker)
	if !ok || !pos.Quantity.IsPositive() {
		return
	}
	pc := r.cfg.Portfolio
	price := execPrice(pc, closePrice, models.SideSell)
	if !price.IsPositive() {
		return
	}
	qty := pos.Quantity
	comm := commissionFor(pc, qty, price)

	entryPrice, entryDate := pos.AvgEntryPrice, pos.OpenedAt
	entryComm := decimal.Zero
	if lot, held := r.lots[ticker]; held {
		entryPrice, entryDate, entryComm = lot.entryPrice, lot.entryDate, lot.commission
	}

	fill := models.Fill{
		OrderID:    uuid.NewString(),
		Symbol:     ticker,
		Side:       models.SideSell,
		Quantity:   qty,
		Price:      price,
		Commission: comm,
		Timestamp:  day,
	}
	if err := r.pf.ApplyFill(fill); err != nil {
		e.log.Debug().Err(err).Str("ticker", ticker).Msg("sell skipped")
		return
	}
	delete(r.lots, ticker)

	pnl := models.RoundValue(price.Sub(entryPrice).Mul(qty).Sub(entryComm).Sub(comm))
	pnlPct := 0.0
	if basis := entryPrice.Mul(qty); basis.IsPositive() {
		pnlPct, _ = pnl.Div(basis).Mul(hundred).Float64()
	}
	r.trades = append(r.trades, models.BacktestTrade{
		Symbol:      ticker,
		Quantity:    qty,
		EntryDate:   entryDate,
		EntryPrice:  entryPrice,
		ExitDate:    day,
		ExitPrice:   price,
		PnL:         pnl,
		PnLPercent:  pnlPct,
		HoldingDays: int(day.Sub(entryDate).Hours() / 24),
	})
	e.log.Debug().
		Str("ticker", ticker).
		Str("qty", qty.String()).
		Str("pnl", pnl.String()).
		Time("day", day).
		Msg("closed long")
}

// closeAll flattens every open position at the latest available close.
func (e *Engine) closeAll(r *run, day time.Time) {
	symbols := make([]string, 0, len(r.pf.Positions))
	for sym := range r.pf.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		s, ok := r.series[sym]
		if !ok {
			continue
		}
		bar, ok := s.BarOnOrBefore(day)
		if !ok {
			continue
		}
		e.closeLong(r, sym, bar.Close, day)
	}
}

// markToMarket revalues open positions at the day's closes, appends the
// equity curve point and accrues the daily return.
func (e *Engine) markToMarket(r *run, day time.Time) {
	for sym, pos := range r.pf.Positions {
		if s, ok := r.series[sym]; ok {
			if bar, found := s.BarOnOrBefore(day); found {
				pos.MarkPrice(bar.Close, day)
			}
		}
	}
	equity := r.pf.Equity()
	r.pf.UpdatePeakEquity(equity)
	dd := r.pf.Drawdown()
	ddPct := 0.0
	if r.pf.PeakEquity.IsPositive() {
		ddPct, _ = dd.Div(r.pf.PeakEquity).Mul(hundred).Float64()
	}

	point := models.EquityCurvePoint{
		Timestamp:       day,
		Equity:          models.RoundValue(equity),
		Cash:            models.RoundValue(r.pf.Cash),
		PositionsValue:  models.RoundValue(r.pf.PositionsValue()),
		Drawdown:        models.RoundValue(dd),
		DrawdownPercent: ddPct,
	}
	if r.benchSeries != nil {
		if bar, ok := r.benchSeries.BarOnOrBefore(day); ok {
			closeF, _ := bar.Close.Float64()
			if r.benchBase.IsZero() {
				r.benchBase = bar.Close
				r.benchPrev = closeF
			}
			scaled := r.cfg.Portfolio.InitialCash.Mul(bar.Close).DivRound(r.benchBase, models.ValueScale)
			point.BenchmarkValue = models.NullDecimalFrom(scaled)
			ret := 0.0
			if r.benchPrev != 0 {
				ret = closeF/r.benchPrev - 1
			}
			r.benchReturns = append(r.benchReturns, ret)
			r.benchPrev = closeF
		} else {
			r.benchReturns = append(r.benchReturns, 0)
		}
	}
	r.curve = append(r.curve, point)

	ret := 0.0
	if r.prevEquity.IsPositive() {
		ret, _ = equity.Sub(r.prevEquity).Div(r.prevEquity).Float64()
	}
	r.returns = append(r.returns, ret)
	r.prevEquity = equity
}

// ════════════════════════════════════════════════════════════════════
// Pricing Helpers
// ════════════════════════════════════════════════════════════════════

// execPrice applies direction-aware slippage to a closing price: buys pay
// up, sells receive less.
func execPrice(pc models.PortfolioConfig, close decimal.Decimal, side models.OrderSide) decimal.Decimal {
	if pc.SlippagePercent.IsZero() {
		return close
	}
	slip := models.Percent(close, pc.SlippagePercent)
	if side == models.SideBuy {
		return models.RoundPrice(close.Add(slip))
	}
	return models.RoundPrice(close.Sub(slip))
}

// commissionFor applies the commission model to one fill: fixed per trade,
// per share, percent of notional, then the min/max clamps.
func commissionFor(pc models.PortfolioConfig, qty, price decimal.Decimal) decimal.Decimal {
	c := pc.CommissionPerTrade
	c = c.Add(pc.CommissionPerShare.Mul(qty))
	c = c.Add(models.Percent(qty.Mul(price), pc.CommissionPercent))
	if c.LessThan(pc.MinCommission) {
		c = pc.MinCommission
	}
	if pc.MaxCommission.Valid && c.GreaterThan(pc.MaxCommission.Decimal) {
		c = pc.MaxCommission.Decimal
	}
	return models.RoundValue(c)
}

// buyQuantity sizes an entry: the decision's recommended quantity when
// given, otherwise the max-position-size share of cash at the execution
// price. Whole shares unless fractionals are allowed.
func buyQuantity(pc models.PortfolioConfig, d models.TradingDecision, cash, price decimal.Decimal) decimal.Decimal {
	if d.RecommendedQuantity.Valid && d.RecommendedQuantity.Decimal.IsPositive() {
		return roundShares(pc, d.RecommendedQuantity.Decimal)
	}
	budget := models.Percent(cash, pc.MaxPositionSizePercent)
	return roundShares(pc, budget.Div(price))
}

// roundShares floors a raw quantity to the portfolio's share granularity.
func roundShares(pc models.PortfolioConfig, qty decimal.Decimal) decimal.Decimal {
	if pc.AllowFractionalShares {
		return models.RoundQuantity(qty)
	}
	return qty.RoundDown(0)
}

// endOfDay is the last instant of day's calendar date.
func endOfDay(day time.Time) time.Time {
	return day.Add(24*time.Hour - time.Nanosecond)
}
