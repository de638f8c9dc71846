// Package risk runs pre-trade checks against a portfolio snapshot. Rules
// cover position sizing, exposure concentration, daily loss, drawdown and
// losing streaks; loss breaches latch a cooling-off window that rejects
// everything until it expires.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Violations
// ════════════════════════════════════════════════════════════════════

// Severity grades a violation. Warnings never block an order.
type Severity string

// Severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is one failed rule.
type Violation struct {
	RuleType     string            `json:"rule_type"`
	RuleName     string            `json:"rule_name"`
	Message      string            `json:"message"`
	CurrentValue decimal.Decimal   `json:"current_value"`
	LimitValue   decimal.Decimal   `json:"limit_value"`
	Severity     Severity          `json:"severity"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CheckResult is the outcome of a pre-trade validation. Warnings are
// advisory; Passed reflects error-severity violations only.
type CheckResult struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`
}

// ════════════════════════════════════════════════════════════════════
// Configuration
// ════════════════════════════════════════════════════════════════════

// PositionLimits bound exposure per symbol and across the book. A zero
// limit disables its rule.
type PositionLimits struct {
	// MaxPositionSize caps |resulting quantity| per symbol.
	MaxPositionSize decimal.Decimal
	// SymbolLimits override MaxPositionSize for specific symbols.
	SymbolLimits map[string]decimal.Decimal
	// MaxPositionValue caps |resulting quantity| × price.
	MaxPositionValue decimal.Decimal
	// MaxConcentrationPercent caps resulting value as a share of equity.
	MaxConcentrationPercent decimal.Decimal
	// MaxTotalPositions caps distinct open symbols; checked when a buy
	// would open a fresh one.
	MaxTotalPositions int
}

// LossLimits bound realized losses. A zero limit disables its rule.
type LossLimits struct {
	// MaxDailyLoss rejects once the day's P&L drops below its negative.
	MaxDailyLoss decimal.Decimal
	// MaxDailyLossPercent is the same bound as a percent of equity.
	MaxDailyLossPercent decimal.Decimal
	// MaxDrawdown bounds peak equity minus current equity.
	MaxDrawdown decimal.Decimal
	// MaxDrawdownPercent is the same bound as a percent of peak equity.
	MaxDrawdownPercent decimal.Decimal
	// MaxSingleTradeLoss flags order values above this as warnings.
	MaxSingleTradeLoss decimal.Decimal
	// MaxConsecutiveLosses rejects after a losing streak this long.
	MaxConsecutiveLosses int
	// CoolingOffMinutes is how long loss breaches lock the book.
	CoolingOffMinutes int
}

// Config holds every limit group.
type Config struct {
	Position PositionLimits
	Loss     LossLimits
}

// DefaultConfig returns moderate guardrails: exposure and streak limits
// on, absolute dollar limits off.
func DefaultConfig() Config {
	return Config{
		Position: PositionLimits{
			MaxConcentrationPercent: decimal.NewFromInt(25),
			MaxTotalPositions:       20,
		},
		Loss: LossLimits{
			MaxDailyLossPercent:  decimal.NewFromInt(3),
			MaxDrawdownPercent:   decimal.NewFromInt(20),
			MaxConsecutiveLosses: 5,
			CoolingOffMinutes:    60,
		},
	}
}

// CustomRule inspects a proposed order and returns a violation or nil.
// Rules run with manager state locked and must not call back into the
// manager. A panicking rule is logged and skipped.
type CustomRule func(req models.OrderRequest, price decimal.Decimal, pf *models.Portfolio) *Violation

type customEntry struct {
	name string
	fn   CustomRule
}

// ════════════════════════════════════════════════════════════════════
// Manager
// ════════════════════════════════════════════════════════════════════

// Manager evaluates the rule set. One mutex guards the daily-P&L map,
// peak equity, streak counter and the cooling-off latch.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	dailyPnL          map[string]decimal.Decimal // keyed by "2006-01-02"
	peakEquity        decimal.Decimal
	consecutiveLosses int
	coolUntil         time.Time

	custom []customEntry

	log zerolog.Logger
	now func() time.Time
}

// New creates a manager. A nil config applies DefaultConfig.
func New(cfg *Config, log zerolog.Logger) *Manager {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	return &Manager{
		cfg:      c,
		dailyPnL: make(map[string]decimal.Decimal),
		log:      log.With().Str("component", "risk").Logger(),
		now:      time.Now,
	}
}

// AddCustomRule registers a named pluggable rule.
func (m *Manager) AddCustomRule(name string, fn CustomRule) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custom = append(m.custom, customEntry{name: name, fn: fn})
}

// RemoveCustomRule drops a rule by name.
func (m *Manager) RemoveCustomRule(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.custom {
		if entry.name == name {
			m.custom = append(m.custom[:i], m.custom[i+1:]...)
			return
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Validation
// ════════════════════════════════════════════════════════════════════

var hundred = decimal.NewFromInt(100)

// Check runs the full rule set against a portfolio snapshot and the
// estimated execution price. An active cooling-off window short-circuits
// everything else.
func (m *Manager) Check(req models.OrderRequest, price decimal.Decimal, pf *models.Portfolio) *CheckResult {
	if pf == nil {
		pf = &models.Portfolio{Positions: make(map[string]*models.Position)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res := &CheckResult{Passed: true}

	if m.coolingActiveLocked() {
		remaining := m.coolUntil.Sub(m.now()).Minutes()
		res.Passed = false
		res.Violations = append(res.Violations, Violation{
			RuleType:     "loss_limit",
			RuleName:     "cooling_off_period",
			Message:      fmt.Sprintf("trading suspended until %s", m.coolUntil.Format(time.RFC3339)),
			CurrentValue: decimal.NewFromFloat(remaining).Round(2),
			LimitValue:   decimal.NewFromInt(int64(m.cfg.Loss.CoolingOffMinutes)),
			Severity:     SeverityError,
			Metadata:     map[string]string{"cooling_off_until": m.coolUntil.Format(time.RFC3339)},
		})
		return res
	}

	equity := pf.Equity()

	// ── Rule 1: position size ──
	current := decimal.Zero
	if pos, ok := pf.Position(req.Symbol); ok {
		current = pos.Quantity
	}
	delta := req.Quantity
	if req.Side == models.SideSell {
		delta = delta.Neg()
	}
	newQty := current.Add(delta).Abs()

	sizeLimit := m.cfg.Position.MaxPositionSize
	if override, ok := m.cfg.Position.SymbolLimits[req.Symbol]; ok {
		sizeLimit = override
	}
	if sizeLimit.IsPositive() && newQty.GreaterThan(sizeLimit) {
		res.fail(Violation{
			RuleType:     "position_limit",
			RuleName:     "max_position_size",
			Message:      fmt.Sprintf("resulting position %s in %s exceeds max size %s", newQty, req.Symbol, sizeLimit),
			CurrentValue: newQty,
			LimitValue:   sizeLimit,
			Severity:     SeverityError,
			Metadata:     map[string]string{"symbol": req.Symbol},
		})
	}

	// ── Rule 2: position value ──
	newValue := newQty.Mul(price)
	if m.cfg.Position.MaxPositionValue.IsPositive() && newValue.GreaterThan(m.cfg.Position.MaxPositionValue) {
		res.fail(Violation{
			RuleType:     "position_limit",
			RuleName:     "max_position_value",
			Message:      fmt.Sprintf("resulting value %s in %s exceeds max value %s", newValue, req.Symbol, m.cfg.Position.MaxPositionValue),
			CurrentValue: newValue,
			LimitValue:   m.cfg.Position.MaxPositionValue,
			Severity:     SeverityError,
			Metadata:     map[string]string{"symbol": req.Symbol},
		})
	}

	// ── Rule 3: concentration ──
	if m.cfg.Position.MaxConcentrationPercent.IsPositive() && equity.IsPositive() {
		pct := newValue.Div(equity).Mul(hundred)
		if pct.GreaterThan(m.cfg.Position.MaxConcentrationPercent) {
			res.fail(Violation{
				RuleType:     "position_limit",
				RuleName:     "max_concentration",
				Message:      fmt.Sprintf("%s would be %s%% of equity, limit %s%%", req.Symbol, pct.Round(2), m.cfg.Position.MaxConcentrationPercent),
				CurrentValue: pct.Round(2),
				LimitValue:   m.cfg.Position.MaxConcentrationPercent,
				Severity:     SeverityError,
				Metadata:     map[string]string{"symbol": req.Symbol},
			})
		}
	}

	// ── Rule 4: total positions ──
	if m.cfg.Position.MaxTotalPositions > 0 && req.Side == models.SideBuy && current.IsZero() {
		open := pf.OpenPositionCount()
		if open >= m.cfg.Position.MaxTotalPositions {
			res.fail(Violation{
				RuleType:     "position_limit",
				RuleName:     "max_total_positions",
				Message:      fmt.Sprintf("%d positions already open, limit %d", open, m.cfg.Position.MaxTotalPositions),
				CurrentValue: decimal.NewFromInt(int64(open)),
				LimitValue:   decimal.NewFromInt(int64(m.cfg.Position.MaxTotalPositions)),
				Severity:     SeverityError,
			})
		}
	}

	// ── Rule 5: daily loss, absolute ──
	dayPnL := m.dailyPnL[m.now().Format("2006-01-02")]
	if m.cfg.Loss.MaxDailyLoss.IsPositive() && dayPnL.LessThan(m.cfg.Loss.MaxDailyLoss.Neg()) {
		res.fail(Violation{
			RuleType:     "loss_limit",
			RuleName:     "max_daily_loss",
			Message:      fmt.Sprintf("daily P&L %s breaches max daily loss %s", dayPnL, m.cfg.Loss.MaxDailyLoss),
			CurrentValue: dayPnL,
			LimitValue:   m.cfg.Loss.MaxDailyLoss,
			Severity:     SeverityError,
		})
		m.triggerCoolingOffLocked("max_daily_loss")
	}

	// ── Rule 6: daily loss, percent of equity ──
	if m.cfg.Loss.MaxDailyLossPercent.IsPositive() && equity.IsPositive() {
		pct := dayPnL.Div(equity).Mul(hundred)
		if pct.LessThan(m.cfg.Loss.MaxDailyLossPercent.Neg()) {
			res.fail(Violation{
				RuleType:     "loss_limit",
				RuleName:     "max_daily_loss_percent",
				Message:      fmt.Sprintf("daily P&L %s%% of equity breaches limit %s%%", pct.Round(2), m.cfg.Loss.MaxDailyLossPercent),
				CurrentValue: pct.Round(2),
				LimitValue:   m.cfg.Loss.MaxDailyLossPercent,
				Severity:     SeverityError,
			})
			m.triggerCoolingOffLocked("max_daily_loss_percent")
		}
	}

	// ── Rule 7: drawdown, absolute and percent ──
	if m.peakEquity.IsPositive() {
		drawdown := m.peakEquity.Sub(equity)
		if drawdown.IsNegative() {
			drawdown = decimal.Zero
		}
		if m.cfg.Loss.MaxDrawdown.IsPositive() && drawdown.GreaterThan(m.cfg.Loss.MaxDrawdown) {
			res.fail(Violation{
				RuleType:     "drawdown_limit",
				RuleName:     "max_drawdown",
				Message:      fmt.Sprintf("drawdown %s from peak %s exceeds limit %s", drawdown, m.peakEquity, m.cfg.Loss.MaxDrawdown),
				CurrentValue: drawdown,
				LimitValue:   m.cfg.Loss.MaxDrawdown,
				Severity:     SeverityError,
			})
		}
		if m.cfg.Loss.MaxDrawdownPercent.IsPositive() {
			pct := drawdown.Div(m.peakEquity).Mul(hundred)
			if pct.GreaterThan(m.cfg.Loss.MaxDrawdownPercent) {
				res.fail(Violation{
					RuleType:     "drawdown_limit",
					RuleName:     "max_drawdown_percent",
					Message:      fmt.Sprintf("drawdown %s%% from peak exceeds limit %s%%", pct.Round(2), m.cfg.Loss.MaxDrawdownPercent),
					CurrentValue: pct.Round(2),
					LimitValue:   m.cfg.Loss.MaxDrawdownPercent,
					Severity:     SeverityError,
				})
			}
		}
	}

	// ── Rule 8: single-trade loss, advisory only ──
	orderValue := req.Quantity.Mul(price)
	if m.cfg.Loss.MaxSingleTradeLoss.IsPositive() && orderValue.GreaterThan(m.cfg.Loss.MaxSingleTradeLoss) {
		res.Warnings = append(res.Warnings, Violation{
			RuleType:     "loss_limit",
			RuleName:     "max_single_trade_loss",
			Message:      fmt.Sprintf("order value %s exceeds single-trade loss bound %s", orderValue, m.cfg.Loss.MaxSingleTradeLoss),
			CurrentValue: orderValue,
			LimitValue:   m.cfg.Loss.MaxSingleTradeLoss,
			Severity:     SeverityWarning,
			Metadata:     map[string]string{"symbol": req.Symbol},
		})
	}

	// ── Rule 9: consecutive losses ──
	if m.cfg.Loss.MaxConsecutiveLosses > 0 && m.consecutiveLosses >= m.cfg.Loss.MaxConsecutiveLosses {
		res.fail(Violation{
			RuleType:     "loss_limit",
			RuleName:     "max_consecutive_losses",
			Message:      fmt.Sprintf("%d consecutive losing trades, limit %d", m.consecutiveLosses, m.cfg.Loss.MaxConsecutiveLosses),
			CurrentValue: decimal.NewFromInt(int64(m.consecutiveLosses)),
			LimitValue:   decimal.NewFromInt(int64(m.cfg.Loss.MaxConsecutiveLosses)),
			Severity:     SeverityError,
		})
		m.triggerCoolingOffLocked("max_consecutive_losses")
	}

	// ── Rule 10: custom rules ──
	for _, entry := range m.custom {
		v := m.runCustomLocked(entry, req, price, pf)
		if v == nil {
			continue
		}
		if v.RuleType == "" {
			v.RuleType = "custom"
		}
		if v.RuleName == "" {
			v.RuleName = entry.name
		}
		if v.Severity == SeverityWarning {
			res.Warnings = append(res.Warnings, *v)
			continue
		}
		v.Severity = SeverityError
		res.fail(*v)
	}

	if !res.Passed {
		m.log.Warn().
			Str("symbol", req.Symbol).
			Str("side", string(req.Side)).
			Int("violations", len(res.Violations)).
			Msg("pre-trade check rejected order")
	}
	return res
}

func (r *CheckResult) fail(v Violation) {
	r.Passed = false
	r.Violations = append(r.Violations, v)
}

// runCustomLocked shields the rule set from a misbehaving callable.
func (m *Manager) runCustomLocked(entry customEntry, req models.OrderRequest, price decimal.Decimal, pf *models.Portfolio) (v *Violation) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Interface("panic", r).
				Str("rule", entry.name).
				Msg("custom risk rule panicked")
			v = nil
		}
	}()
	return entry.fn(req, price, pf)
}

// ════════════════════════════════════════════════════════════════════
// Cooling-Off
// ════════════════════════════════════════════════════════════════════

func (m *Manager) coolingActiveLocked() bool {
	if m.coolUntil.IsZero() {
		return false
	}
	if m.now().Before(m.coolUntil) {
		return true
	}
	// Expired windows reset themselves.
	m.coolUntil = time.Time{}
	return false
}

func (m *Manager) triggerCoolingOffLocked(reason string) {
	if m.cfg.Loss.CoolingOffMinutes <= 0 {
		return
	}
	if m.coolingActiveLocked() {
		return
	}
	m.coolUntil = m.now().Add(time.Duration(m.cfg.Loss.CoolingOffMinutes) * time.Minute)
	m.log.Warn().
		Str("reason", reason).
		Time("until", m.coolUntil).
		Msg("cooling-off engaged")
}

// InCoolingOff reports whether the latch is active.
func (m *Manager) InCoolingOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coolingActiveLocked()
}

// CoolingOffUntil returns the latch expiry, zero when inactive.
func (m *Manager) CoolingOffUntil() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.coolingActiveLocked() {
		return time.Time{}
	}
	return m.coolUntil
}

// ════════════════════════════════════════════════════════════════════
// State Updates
// ════════════════════════════════════════════════════════════════════

// UpdateDailyPnL accumulates realized P&L under the trade's date and
// maintains the losing-streak counter: losses extend it, wins clear it,
// flat trades leave it alone.
func (m *Manager) UpdateDailyPnL(pnl decimal.Decimal, date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := date.Format("2006-01-02")
	m.dailyPnL[key] = m.dailyPnL[key].Add(pnl)

	switch {
	case pnl.IsNegative():
		m.consecutiveLosses++
	case pnl.IsPositive():
		m.consecutiveLosses = 0
	}
}

// UpdatePeakEquity raises the watermark. Monotone: lower readings are
// ignored.
func (m *Manager) UpdatePeakEquity(equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if equity.GreaterThan(m.peakEquity) {
		m.peakEquity = equity
	}
}

// ResetDailyLimits clears the cooling-off latch. Accumulated P&L and the
// peak are untouched.
func (m *Manager) ResetDailyLimits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coolUntil = time.Time{}
}

// ResetAll clears the latch, the P&L history, the losing streak and the
// peak watermark.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coolUntil = time.Time{}
	m.dailyPnL = make(map[string]decimal.Decimal)
	m.consecutiveLosses = 0
	m.peakEquity = decimal.Zero
}

// ════════════════════════════════════════════════════════════════════
// Accessors
// ════════════════════════════════════════════════════════════════════

// DailyPnL returns the accumulated P&L for a date.
func (m *Manager) DailyPnL(date time.Time) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL[date.Format("2006-01-02")]
}

// PeakEquity returns the current watermark.
func (m *Manager) PeakEquity() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakEquity
}

// ConsecutiveLosses returns the current losing streak.
func (m *Manager) ConsecutiveLosses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveLosses
}
