// Package executor turns trading signals into completed orders. Each signal
// runs through one pipeline: resolve a reference price, convert the signal
// into an order request, gate it through pre-trade risk checks, submit it
// with bounded retries, then wait for the terminal status and place any
// protective bracket legs once the entry fills. Signals for the same symbol
// execute strictly one at a time; different symbols may overlap.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/seaquant/tradeflow/internal/broker"
	"github.com/seaquant/tradeflow/internal/convert"
	"github.com/seaquant/tradeflow/internal/metrics"
	"github.com/seaquant/tradeflow/internal/ordermgr"
	"github.com/seaquant/tradeflow/internal/risk"
	"github.com/seaquant/tradeflow/pkg/models"
)

// fillPollInterval is how often the broker is polled for order status while
// waiting for a fill, as a backstop for fills the manager never hears about.
const fillPollInterval = 500 * time.Millisecond

// ════════════════════════════════════════════════════════════════════
// Results
// ════════════════════════════════════════════════════════════════════

// Outcome summarizes how a signal execution ended.
type Outcome string

// Execution outcomes.
const (
	// OutcomeFilled means the entry order filled completely.
	OutcomeFilled Outcome = "filled"
	// OutcomeRiskRejected means a pre-trade risk rule blocked the order.
	OutcomeRiskRejected Outcome = "risk_rejected"
	// OutcomeRejected means the broker rejected the order.
	OutcomeRejected Outcome = "rejected"
	// OutcomeCancelled means the order was cancelled or expired before
	// filling, including cancellation on context shutdown.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeTimeout means the fill wait deadline passed; a best-effort
	// cancel was issued.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeSkipped means the signal required no order (hold, or a close
	// with nothing to flatten).
	OutcomeSkipped Outcome = "skipped"
	// OutcomeError means the pipeline failed before reaching a terminal
	// order status.
	OutcomeError Outcome = "error"
)

// ExecutionResult is the finalized record of one signal execution.
type ExecutionResult struct {
	SignalID   string            `json:"signal_id"`
	Symbol     string            `json:"symbol"`
	SignalType models.SignalType `json:"signal_type"`
	Outcome    Outcome           `json:"outcome"`
	Order      *models.Order     `json:"order,omitempty"`
	Bracket    []*models.Order   `json:"bracket,omitempty"`
	Violations []risk.Violation  `json:"violations,omitempty"`
	Error      string            `json:"error,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// ════════════════════════════════════════════════════════════════════
// Executor
// ════════════════════════════════════════════════════════════════════

// Options wires the executor's collaborators.
type Options struct {
	Broker    broker.Broker
	Orders    *ordermgr.Manager
	Risk      *risk.Manager
	Converter *convert.Converter
	Config    Config
	// OnResult, when set, receives every finalized result. Called from the
	// executing goroutine.
	OnResult func(*ExecutionResult)
	Logger   zerolog.Logger
}

// Executor drives the signal execution pipeline.
type Executor struct {
	broker    broker.Broker
	orders    *ordermgr.Manager
	risk      *risk.Manager
	converter *convert.Converter
	cfg       Config
	onResult  func(*ExecutionResult)
	log       zerolog.Logger

	ring  *eventRing
	locks keyedLocks
}

// New builds an executor. Broker and Orders are required; a nil Risk manager
// or Converter falls back to defaults.
func New(opts Options) (*Executor, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("executor: broker is required")
	}
	if opts.Orders == nil {
		return nil, fmt.Errorf("executor: order manager is required")
	}
	cfg := opts.Config
	if cfg.FillWaitTimeout <= 0 {
		cfg.FillWaitTimeout = DefaultConfig().FillWaitTimeout
	}
	if cfg.EventHistorySize <= 0 {
		cfg.EventHistorySize = DefaultConfig().EventHistorySize
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	riskMgr := opts.Risk
	if riskMgr == nil {
		riskMgr = risk.New(nil, opts.Logger)
	}
	conv := opts.Converter
	if conv == nil {
		conv = convert.New(convert.DefaultConfig())
	}
	return &Executor{
		broker:    opts.Broker,
		orders:    opts.Orders,
		risk:      riskMgr,
		converter: conv,
		cfg:       cfg,
		onResult:  opts.OnResult,
		log:       opts.Logger.With().Str("component", "executor").Logger(),
		ring:      newEventRing(cfg.EventHistorySize),
	}, nil
}

// Events returns the recorded execution events, oldest first.
func (e *Executor) Events() []ExecutionEvent {
	return e.ring.snapshot()
}

// Run consumes signals until the channel closes or the context is done.
// Signals execute concurrently up to MaxInFlight; the per-symbol lock keeps
// same-symbol signals sequential.
func (e *Executor) Run(ctx context.Context, signals <-chan models.TradingSignal) error {
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxInFlight)
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				e.ExecuteSignal(ctx, sig)
				return nil
			})
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Pipeline
// ════════════════════════════════════════════════════════════════════

// ExecuteSignal runs one signal through the full pipeline and returns the
// finalized result. Failures are reported in the result, never as a panic;
// a risk rejection is a normal outcome, not an error.
func (e *Executor) ExecuteSignal(ctx context.Context, sig models.TradingSignal) *ExecutionResult {
	res := &ExecutionResult{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		SignalType: sig.Type,
		StartedAt:  time.Now().UTC(),
	}
	e.record(EventSignalReceived, sig.ID, "", fmt.Sprintf("%s %s from %s", sig.Type, sig.Symbol, sig.Source))

	if err := sig.Validate(); err != nil {
		return e.finish(res, OutcomeError, err.Error())
	}
	if !sig.IsActionable() {
		return e.finish(res, OutcomeSkipped, "hold signal")
	}

	// Same-symbol signals execute one at a time so sizing and risk checks
	// see a settled book.
	unlock := e.locks.lock(sig.Symbol)
	defer unlock()

	price, err := e.resolvePrice(ctx, sig)
	if err != nil {
		e.record(EventError, sig.ID, "", err.Error())
		return e.finish(res, OutcomeError, err.Error())
	}

	pf, err := e.snapshot(ctx)
	if err != nil {
		e.record(EventError, sig.ID, "", err.Error())
		return e.finish(res, OutcomeError, err.Error())
	}
	e.risk.UpdatePeakEquity(pf.Equity())

	cctx := convertContext(sig, pf)
	if skip, reason := closeWithoutPosition(sig, cctx.PositionQty); skip {
		return e.finish(res, OutcomeSkipped, reason)
	}

	conv := e.converter.Convert(sig, price, cctx)
	if !conv.Success {
		detail := joinErrors(conv.Errors)
		e.record(EventError, sig.ID, "", detail)
		return e.finish(res, OutcomeError, detail)
	}
	e.record(EventOrderBuilt, sig.ID, "", fmt.Sprintf("%s %s %s %s @ %s",
		conv.Order.Side, conv.Order.Quantity, conv.Order.Symbol, conv.Order.Type, price))

	check := e.risk.Check(*conv.Order, price, pf)
	res.Violations = check.Violations
	for _, v := range check.Violations {
		metrics.RiskViolations.WithLabelValues(v.RuleType).Inc()
	}
	if !check.Passed {
		e.record(EventRiskChecked, sig.ID, "", fmt.Sprintf("rejected: %d violation(s)", len(check.Violations)))
		e.log.Warn().
			Str("signal_id", sig.ID).
			Str("symbol", sig.Symbol).
			Int("violations", len(check.Violations)).
			Msg("signal rejected by risk checks")
		return e.finish(res, OutcomeRiskRejected, firstViolationMessage(check.Violations))
	}
	e.record(EventRiskChecked, sig.ID, "", "passed")

	order, attempts, err := e.submitWithRetry(ctx, *conv.Order, sig.ID)
	res.Attempts = attempts
	if err != nil {
		kind := broker.KindOf(err)
		if kind == broker.KindOrderRejected || kind == broker.KindOrderInvalid || kind == broker.KindInsufficientFunds {
			e.record(EventRejected, sig.ID, "", err.Error())
			metrics.OrdersRejected.WithLabelValues(e.broker.Name()).Inc()
			return e.finish(res, OutcomeRejected, err.Error())
		}
		e.record(EventError, sig.ID, "", err.Error())
		return e.finish(res, OutcomeError, err.Error())
	}
	res.Order = order
	e.record(EventSubmitted, sig.ID, order.ID, string(order.Status))
	metrics.OrdersSubmitted.WithLabelValues(e.broker.Name()).Inc()

	final, outcome := e.awaitFill(ctx, sig.ID, order.ID)
	if final != nil {
		res.Order = final
	}
	switch outcome {
	case OutcomeFilled:
		e.record(EventFilled, sig.ID, order.ID, fillDetail(final))
		metrics.OrdersFilled.WithLabelValues(e.broker.Name()).Inc()
		res.Bracket = e.placeBracket(ctx, sig.ID, conv.Bracket)
		e.publishBookGauges(ctx)
		return e.finish(res, OutcomeFilled, "")
	case OutcomeRejected:
		e.record(EventRejected, sig.ID, order.ID, rejectDetail(final))
		metrics.OrdersRejected.WithLabelValues(e.broker.Name()).Inc()
		return e.finish(res, OutcomeRejected, rejectDetail(final))
	case OutcomeTimeout:
		e.record(EventTimeout, sig.ID, order.ID, fmt.Sprintf("no fill within %s", e.cfg.FillWaitTimeout))
		return e.finish(res, OutcomeTimeout, "fill wait deadline exceeded")
	default:
		e.record(EventCancelled, sig.ID, order.ID, "")
		return e.finish(res, OutcomeCancelled, "")
	}
}

func (e *Executor) finish(res *ExecutionResult, outcome Outcome, errMsg string) *ExecutionResult {
	res.Outcome = outcome
	res.Error = errMsg
	res.FinishedAt = time.Now().UTC()
	metrics.SignalsExecuted.WithLabelValues(string(outcome)).Inc()

	ev := e.log.Info()
	if outcome == OutcomeError {
		ev = e.log.Error()
	}
	ev.Str("signal_id", res.SignalID).
		Str("symbol", res.Symbol).
		Str("outcome", string(outcome)).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("signal execution finished")

	if e.onResult != nil {
		e.onResult(res)
	}
	return res
}

// ════════════════════════════════════════════════════════════════════
// Pipeline stages
// ════════════════════════════════════════════════════════════════════

// resolvePrice prefers the price captured when the signal was generated and
// falls back to the live quote midpoint.
func (e *Executor) resolvePrice(ctx context.Context, sig models.TradingSignal) (decimal.Decimal, error) {
	if sig.PriceAtSignal.Valid && sig.PriceAtSignal.Decimal.IsPositive() {
		return sig.PriceAtSignal.Decimal, nil
	}
	quote, err := e.broker.GetQuote(ctx, sig.Symbol)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("resolve price for %s: %w", sig.Symbol, err)
	}
	mid := quote.Mid()
	if !mid.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("resolve price for %s: quote has no usable price", sig.Symbol)
	}
	return mid, nil
}

// snapshot assembles a portfolio view from the broker's account and open
// positions. Risk checks and sizing both run against this one snapshot.
func (e *Executor) snapshot(ctx context.Context) (*models.Portfolio, error) {
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("account snapshot: %w", err)
	}
	positions, err := e.broker.GetPositions(ctx)
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

// submitWithRetry submits through the order manager, retrying transient
// broker failures per the retry policy. It returns the attempt count along
// with the submitted order.
func (e *Executor) submitWithRetry(ctx context.Context, req models.OrderRequest, signalID string) (*models.Order, int, error) {
	maxAttempts := e.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 || e.cfg.Retry.Policy == RetryNone {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		order, err := e.orders.SubmitOrder(ctx, e.broker, req)
		if err == nil {
			return order, attempt, nil
		}
		lastErr = err

		kind := broker.KindOf(err)
		if !e.cfg.Retry.shouldRetry(kind) || attempt == maxAttempts {
			return nil, attempt, err
		}

		delay := e.cfg.Retry.backoff(attempt, err)
		metrics.ExecutorRetries.Inc()
		e.record(EventError, signalID, "", fmt.Sprintf("attempt %d failed (%s), retrying in %s", attempt, kind, delay))
		e.log.Warn().
			Err(err).
			Str("signal_id", signalID).
			Str("symbol", req.Symbol).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("order submission failed, retrying")

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, maxAttempts, lastErr
}

// awaitFill blocks until the order reaches a terminal status, the fill wait
// deadline passes, or the context ends. Terminal transitions arrive through
// a manager subscription; the broker is also polled so fills reported
// out-of-band are still observed. On deadline or cancellation a best-effort
// cancel is issued before returning.
func (e *Executor) awaitFill(ctx context.Context, signalID, orderID string) (*models.Order, Outcome) {
	done := make(chan *models.Order, 1)
	subID := e.orders.Subscribe(func(o *models.Order, ev ordermgr.Event) {
		if o.ID != orderID {
			return
		}
		if ev == ordermgr.EventPartiallyFilled {
			e.record(EventPartiallyFilled, signalID, o.ID,
				fmt.Sprintf("%s of %s", o.FilledQuantity, o.Quantity))
			return
		}
		if o.Status.IsTerminal() {
			select {
			case done <- o:
			default:
			}
		}
	}, ordermgr.EventPartiallyFilled, ordermgr.EventFilled, ordermgr.EventCancelled,
		ordermgr.EventRejected, ordermgr.EventExpired, ordermgr.EventReplaced)
	defer e.orders.Unsubscribe(subID)

	// The submit itself may have reached a terminal status before the
	// subscription existed.
	if order, err := e.orders.GetOrder(orderID); err == nil && order.Status.IsTerminal() {
		return order, outcomeForStatus(order.Status)
	}

	deadline := time.NewTimer(e.cfg.FillWaitTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(fillPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			e.cancelBestEffort(orderID)
			return e.trackedOrder(orderID), OutcomeCancelled

		case order := <-done:
			return order, outcomeForStatus(order.Status)

		case <-deadline.C:
			e.cancelBestEffort(orderID)
			return e.trackedOrder(orderID), OutcomeTimeout

		case <-poll.C:
			order, err := e.broker.GetOrder(ctx, orderID)
			if err != nil {
				continue
			}
			e.orders.UpdateOrderStatus(order)
			if order.Status.IsTerminal() {
				return order, outcomeForStatus(order.Status)
			}
		}
	}
}

// placeBracket submits the protective legs after the entry fills. A leg
// failure is logged and recorded but does not fail the execution; the entry
// position already exists.
func (e *Executor) placeBracket(ctx context.Context, signalID string, bracket convert.Bracket) []*models.Order {
	var children []*models.Order
	for _, leg := range []*models.OrderRequest{bracket.StopLoss, bracket.TakeProfit} {
		if leg == nil {
			continue
		}
		child, err := e.orders.SubmitOrder(ctx, e.broker, *leg)
		if err != nil {
			e.record(EventError, signalID, "", fmt.Sprintf("bracket %s: %v", leg.ClientOrderID, err))
			e.log.Error().
				Err(err).
				Str("signal_id", signalID).
				Str("client_order_id", leg.ClientOrderID).
				Msg("bracket leg submission failed")
			continue
		}
		e.record(EventBracketPlaced, signalID, child.ID, leg.ClientOrderID)
		metrics.OrdersSubmitted.WithLabelValues(e.broker.Name()).Inc()
		children = append(children, child)
	}
	return children
}

// cancelBestEffort tries to cancel a still-open order on its own short
// deadline; the surrounding context may already be done.
func (e *Executor) cancelBestEffort(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.orders.CancelOrder(ctx, e.broker, orderID); err != nil {
		e.log.Warn().Err(err).Str("order_id", orderID).Msg("best-effort cancel failed")
	}
}

func (e *Executor) trackedOrder(orderID string) *models.Order {
	order, err := e.orders.GetOrder(orderID)
	if err != nil {
		return nil
	}
	return order
}

// publishBookGauges refreshes the open-position and equity gauges after a
// fill. Failures are ignored; gauges catch up on the next fill.
func (e *Executor) publishBookGauges(ctx context.Context) {
	pf, err := e.snapshot(ctx)
	if err != nil {
		return
	}
	metrics.PositionsOpen.Set(float64(pf.OpenPositionCount()))
	eq, _ := pf.Equity().Float64()
	metrics.EquityGauge.Set(eq)
	e.risk.UpdatePeakEquity(pf.Equity())
}

func (e *Executor) record(kind EventKind, signalID, orderID, detail string) {
	e.ring.add(ExecutionEvent{
		Kind:      kind,
		SignalID:  signalID,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

// convertContext carries the sizing inputs: current equity, the signed open
// quantity for the symbol, and the signal's ATR metadata if present.
func convertContext(sig models.TradingSignal, pf *models.Portfolio) convert.Context {
	cctx := convert.Context{Equity: pf.Equity()}
	if pos, ok := pf.Position(sig.Symbol); ok {
		cctx.PositionQty = pos.Quantity
	}
	if raw, ok := sig.Metadata["atr"]; ok {
		if atr, err := decimal.NewFromString(raw); err == nil && atr.IsPositive() {
			cctx.ATR = decimal.NewNullDecimal(atr)
		}
	}
	return cctx
}

// closeWithoutPosition reports whether a close signal has nothing to
// flatten, which is a no-op rather than a failure.
func closeWithoutPosition(sig models.TradingSignal, posQty decimal.Decimal) (bool, string) {
	switch sig.Type {
	case models.SignalCloseLong:
		if !posQty.IsPositive() {
			return true, fmt.Sprintf("no long position in %s to close", sig.Symbol)
		}
	case models.SignalCloseShort:
		if !posQty.IsNegative() {
			return true, fmt.Sprintf("no short position in %s to close", sig.Symbol)
		}
	}
	return false, ""
}

func outcomeForStatus(status models.OrderStatus) Outcome {
	switch status {
	case models.StatusFilled:
		return OutcomeFilled
	case models.StatusRejected:
		return OutcomeRejected
	case models.StatusCancelled, models.StatusExpired, models.StatusReplaced:
		return OutcomeCancelled
	}
	return OutcomeError
}

func fillDetail(order *models.Order) string {
	if order == nil {
		return ""
	}
	return fmt.Sprintf("%s @ %s", order.FilledQuantity, order.AvgFillPrice.Decimal)
}

func rejectDetail(order *models.Order) string {
	if order == nil {
		return "order rejected"
	}
	if order.RejectReason != "" {
		return order.RejectReason
	}
	return "order rejected"
}

func firstViolationMessage(violations []risk.Violation) string {
	if len(violations) == 0 {
		return "risk check failed"
	}
	return violations[0].Message
}

func joinErrors(errs []string) string {
	switch len(errs) {
	case 0:
		return "conversion failed"
	case 1:
		return errs[0]
	}
	out := errs[0]
	for _, s := range errs[1:] {
		out += "; " + s
	}
	return out
}
