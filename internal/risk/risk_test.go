package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/logger"
	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

func newTestManager(cfg *Config) *Manager {
	return New(cfg, logger.Nop())
}

func buyReq(symbol string, qty int64) models.OrderRequest {
	return models.OrderRequest{
		Symbol:   symbol,
		Side:     models.SideBuy,
		Type:     models.OrderTypeMarket,
		Quantity: decimal.NewFromInt(qty),
	}
}

func sellReq(symbol string, qty int64) models.OrderRequest {
	req := buyReq(symbol, qty)
	req.Side = models.SideSell
	return req
}

func longPosition(symbol string, qty, price int64) *models.Position {
	return &models.Position{
		Symbol:        symbol,
		Quantity:      decimal.NewFromInt(qty),
		Side:          models.PositionLong,
		AvgEntryPrice: decimal.NewFromInt(price),
		CurrentPrice:  decimal.NewFromInt(price),
	}
}

func portfolioWith(cash int64, positions ...*models.Position) *models.Portfolio {
	pf := &models.Portfolio{
		Cash:      decimal.NewFromInt(cash),
		Positions: make(map[string]*models.Position),
	}
	for _, p := range positions {
		pf.Positions[p.Symbol] = p
	}
	return pf
}

func findViolation(t *testing.T, res *CheckResult, ruleName string) Violation {
	t.Helper()
	for _, v := range res.Violations {
		if v.RuleName == ruleName {
			return v
		}
	}
	t.Fatalf("violation %q not found in %+v", ruleName, res.Violations)
	return Violation{}
}

func hasViolation(res *CheckResult, ruleName string) bool {
	for _, v := range res.Violations {
		if v.RuleName == ruleName {
			return true
		}
	}
	return false
}

func price(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// ════════════════════════════════════════════════════════════════════
// Position Rules
// ════════════════════════════════════════════════════════════════════

func TestCheck_MaxPositionSize(t *testing.T) {
	m := newTestManager(&Config{
		Position: PositionLimits{MaxPositionSize: decimal.NewFromInt(1000)},
	})
	pf := portfolioWith(100000, longPosition("AAPL", 600, 50))

	res := m.Check(buyReq("AAPL", 500), price(50), pf)
	if res.Passed {
		t.Fatal("expected rejection")
	}
	v := findViolation(t, res, "max_position_size")
	if !v.CurrentValue.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("current = %s, want 1100", v.CurrentValue)
	}
	if !v.LimitValue.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("limit = %s, want 1000", v.LimitValue)
	}
	if v.RuleType != "position_limit" || v.Severity != SeverityError {
		t.Errorf("violation classified as %s/%s", v.RuleType, v.Severity)
	}
	if v.Metadata["symbol"] != "AAPL" {
		t.Errorf("metadata symbol = %q", v.Metadata["symbol"])
	}

	// 400 more shares lands exactly on the limit and passes.
	if res := m.Check(buyReq("AAPL", 400), price(50), pf); !res.Passed {
		t.Errorf("at-limit order rejected: %+v", res.Violations)
	}
}

func TestCheck_SellReducesExposure(t *testing.T) {
	m := newTestManager(&Config{
		Position: PositionLimits{MaxPositionSize: decimal.NewFromInt(1000)},
	})
	pf := portfolioWith(100000, longPosition("AAPL", 900, 50))

	if res := m.Check(sellReq("AAPL", 500), price(50), pf); !res.Passed {
		t.Errorf("sell that shrinks the position rejected: %+v", res.Violations)
	}

	// A sell that flips into an oversized short is still caught.
	res := m.Check(sellReq("AAPL", 2000), price(50), pf)
	if res.Passed {
		t.Fatal("expected rejection of oversized short")
	}
	v := findViolation(t, res, "max_position_size")
	if !v.CurrentValue.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("current = %s, want 1100 (|900 - 2000|)", v.CurrentValue)
	}
}

func TestCheck_SymbolOverride(t *testing.T) {
	m := newTestManager(&Config{
		Position: PositionLimits{
			MaxPositionSize: decimal.NewFromInt(1000),
			SymbolLimits: map[string]decimal.Decimal{
				"BHP.AX": decimal.NewFromInt(100),
			},
		},
	})
	pf := portfolioWith(100000)

	if res := m.Check(buyReq("AAPL", 500), price(10), pf); !res.Passed {
		t.Errorf("AAPL under default limit rejected: %+v", res.Violations)
	}
	res := m.Check(buyReq("BHP.AX", 500), price(10), pf)
	if res.Passed {
		t.Fatal("expected BHP.AX override to reject")
	}
	v := findViolation(t, res, "max_position_size")
	if !v.LimitValue.Equal(decimal.NewFromInt(100)) {
		t.Errorf("override limit = %s, want 100", v.LimitValue)
	}
}

func TestCheck_MaxPositionValue(t *testing.T) {
	m := newTestManager(&Config{
		Position: PositionLimits{MaxPositionValue: decimal.NewFromInt(10000)},
	})
	pf := portfolioWith(100000, longPosition("AAPL", 50, 100))

	// 50 held + 60 more at 100 = 11000 value.
	res := m.Check(buyReq("AAPL", 60), price(100), pf)
	if res.Passed {
		t.Fatal("expected rejection")
	}
	v := findViolation(t, res, "max_position_value")
	if !v.CurrentValue.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("current = %s, want 11000", v.CurrentValue)
	}
}

func TestCheck_Concentration(t *testing.T) {
	m := newTestManager(&Config{
		Position: PositionLimits{MaxConcentrationPercent: decimal.NewFromInt(25)},
	})
	pf := portfolioWith(10000)

	// 3000 of 10000 equity = 30%.
	res := m.Check(buyReq("AAPL", 30), price(100), pf)
	if res.Passed {
		t.Fatal("expected rejection")
	}
	v := findViolation(t, res, "max_concentration")
	if !v.CurrentValue.Equal(decimal.NewFromInt(30)) {
		t.Errorf("current = %s, want 30", v.CurrentValue)
	}

	if res := m.Check(buyReq("AAPL", 20), price(100), pf); !res.Passed {
		t.Errorf("20%% concentration rejected: %+v", res.Violations)
	}
}

func TestCheck_MaxTotalPositions(t *testing.T) {
	m := newTestManager(&Config{
		Position: PositionLimits{MaxTotalPositions: 2},
	})
	pf := portfolioWith(100000,
		longPosition("AAPL", 10, 100),
		longPosition("MSFT", 10, 100),
	)

	res := m.Check(buyReq("GOOG", 10), price(100), pf)
	if !hasViolation(res, "max_total_positions") {
		t.Errorf("fresh symbol at capacity should reject, got %+v", res)
	}

	// Adding to an existing position is not a new slot.
	if res := m.Check(buyReq("AAPL", 10), price(100), pf); !res.Passed {
		t.Errorf("add to existing position rejected: %+v", res.Violations)
	}
	// Sells never open a new slot.
	if res := m.Check(sellReq("MSFT", 5), price(100), pf); !res.Passed {
		t.Errorf("sell rejected by total-positions rule: %+v", res.Violations)
	}
}

// ════════════════════════════════════════════════════════════════════
// Loss and Drawdown Rules
// ════════════════════════════════════════════════════════════════════

func TestCheck_DailyLossEngagesCoolingOff(t *testing.T) {
	m := newTestManager(&Config{
		Loss: LossLimits{
			MaxDailyLoss:      decimal.NewFromInt(1000),
			CoolingOffMinutes: 30,
		},
	})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	pf := portfolioWith(100000)

	m.UpdateDailyPnL(decimal.NewFromInt(-1500), now)

	res := m.Check(buyReq("AAPL", 10), price(100), pf)
	if res.Passed {
		t.Fatal("expected rejection")
	}
	v := findViolation(t, res, "max_daily_loss")
	if !v.CurrentValue.Equal(decimal.NewFromInt(-1500)) {
		t.Errorf("current = %s, want -1500", v.CurrentValue)
	}
	if !m.InCoolingOff() {
		t.Fatal("cooling-off should be engaged")
	}

	// P&L recovers to zero, but the latch still rejects everything.
	m.UpdateDailyPnL(decimal.NewFromInt(1500), now)
	now = now.Add(10 * time.Minute)

	res = m.Check(buyReq("AAPL", 10), price(100), pf)
	if res.Passed {
		t.Fatal("expected cooling-off rejection")
	}
	if len(res.Violations) != 1 || res.Violations[0].RuleName != "cooling_off_period" {
		t.Errorf("violations = %+v, want only cooling_off_period", res.Violations)
	}

	// Past the expiry, validation resumes and the latch clears.
	now = now.Add(21 * time.Minute)
	if res := m.Check(buyReq("AAPL", 10), price(100), pf); !res.Passed {
		t.Errorf("order after cooling-off expiry rejected: %+v", res.Violations)
	}
	if m.InCoolingOff() {
		t.Error("latch should clear on expiry")
	}
}

func TestCheck_DailyLossPercent(t *testing.T) {
	m := newTestManager(&Config{
		Loss: LossLimits{
			MaxDailyLossPercent: decimal.NewFromInt(3),
			CoolingOffMinutes:   30,
		},
	})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	pf := portfolioWith(100000)

	// 4% of 100000 equity.
	m.UpdateDailyPnL(decimal.NewFromInt(-4000), now)

	res := m.Check(buyReq("AAPL", 10), price(100), pf)
	if !hasViolation(res, "max_daily_loss_percent") {
		t.Errorf("expected percent loss violation, got %+v", res)
	}
	if !m.InCoolingOff() {
		t.Error("percent breach should also engage cooling-off")
	}
}

func TestCheck_Drawdown(t *testing.T) {
	m := newTestManager(&Config{
		Loss: LossLimits{
			MaxDrawdown:        decimal.NewFromInt(500),
			MaxDrawdownPercent: decimal.NewFromInt(5),
		},
	})
	m.UpdatePeakEquity(decimal.NewFromInt(10000))
	pf := portfolioWith(9400) // 600 off the peak, 6%

	res := m.Check(buyReq("AAPL", 1), price(100), pf)
	if res.Passed {
		t.Fatal("expected rejection")
	}
	abs := findViolation(t, res, "max_drawdown")
	if !abs.CurrentValue.Equal(decimal.NewFromInt(600)) {
		t.Errorf("drawdown = %s, want 600", abs.CurrentValue)
	}
	pct := findViolation(t, res, "max_drawdown_percent")
	if !pct.CurrentValue.Equal(decimal.NewFromInt(6)) {
		t.Errorf("drawdown pct = %s, want 6", pct.CurrentValue)
	}

	// Within bounds passes both.
	if res := m.Check(buyReq("AAPL", 1), price(100), portfolioWith(9600)); !res.Passed {
		t.Errorf("400 drawdown rejected: %+v", res.Violations)
	}
}

func TestCheck_SingleTradeLossIsWarning(t *testing.T) {
	m := newTestManager(&Config{
		Loss: LossLimits{MaxSingleTradeLoss: decimal.NewFromInt(1000)},
	})
	pf := portfolioWith(100000)

	res := m.Check(buyReq("AAPL", 20), price(100), pf)
	if !res.Passed {
		t.Fatalf("warning should not block: %+v", res.Violations)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %+v, want one", res.Warnings)
	}
	w := res.Warnings[0]
	if w.RuleName != "max_single_trade_loss" || w.Severity != SeverityWarning {
		t.Errorf("warning = %+v", w)
	}
	if !w.CurrentValue.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("order value = %s, want 2000", w.CurrentValue)
	}
}

func TestCheck_ConsecutiveLosses(t *testing.T) {
	m := newTestManager(&Config{
		Loss: LossLimits{
			MaxConsecutiveLosses: 3,
			CoolingOffMinutes:    15,
		},
	})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	pf := portfolioWith(100000)

	for i := 0; i < 3; i++ {
		m.UpdateDailyPnL(decimal.NewFromInt(-10), now)
	}
	if got := m.ConsecutiveLosses(); got != 3 {
		t.Fatalf("streak = %d, want 3", got)
	}

	res := m.Check(buyReq("AAPL", 1), price(100), pf)
	if !hasViolation(res, "max_consecutive_losses") {
		t.Errorf("expected streak violation, got %+v", res)
	}
	if !m.InCoolingOff() {
		t.Error("streak breach should engage cooling-off")
	}
}

func TestUpdateDailyPnL_WinClearsStreak(t *testing.T) {
	m := newTestManager(&Config{})
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	m.UpdateDailyPnL(decimal.NewFromInt(-10), day)
	m.UpdateDailyPnL(decimal.NewFromInt(-10), day)
	m.UpdateDailyPnL(decimal.NewFromInt(5), day)
	if got := m.ConsecutiveLosses(); got != 0 {
		t.Errorf("streak after win = %d, want 0", got)
	}
	m.UpdateDailyPnL(decimal.Zero, day)
	if got := m.ConsecutiveLosses(); got != 0 {
		t.Errorf("flat trade changed streak: %d", got)
	}

	if got := m.DailyPnL(day); !got.Equal(decimal.NewFromInt(-15)) {
		t.Errorf("daily pnl = %s, want -15", got)
	}
	// Another date accumulates separately.
	other := day.AddDate(0, 0, 1)
	m.UpdateDailyPnL(decimal.NewFromInt(7), other)
	if got := m.DailyPnL(other); !got.Equal(decimal.NewFromInt(7)) {
		t.Errorf("next-day pnl = %s, want 7", got)
	}
	if got := m.DailyPnL(day); !got.Equal(decimal.NewFromInt(-15)) {
		t.Errorf("first-day pnl disturbed: %s", got)
	}
}

// ════════════════════════════════════════════════════════════════════
// Custom Rules
// ════════════════════════════════════════════════════════════════════

func TestCheck_CustomRule(t *testing.T) {
	m := newTestManager(&Config{})
	m.AddCustomRule("no_meme_stocks", func(req models.OrderRequest, _ decimal.Decimal, _ *models.Portfolio) *Violation {
		if req.Symbol == "GME" {
			return &Violation{Message: "symbol is on the exclusion list"}
		}
		return nil
	})
	pf := portfolioWith(100000)

	res := m.Check(buyReq("GME", 1), price(100), pf)
	if res.Passed {
		t.Fatal("expected custom rule rejection")
	}
	v := findViolation(t, res, "no_meme_stocks")
	if v.RuleType != "custom" || v.Severity != SeverityError {
		t.Errorf("defaults not applied: %+v", v)
	}

	if res := m.Check(buyReq("AAPL", 1), price(100), pf); !res.Passed {
		t.Errorf("unrelated symbol rejected: %+v", res.Violations)
	}

	m.RemoveCustomRule("no_meme_stocks")
	if res := m.Check(buyReq("GME", 1), price(100), pf); !res.Passed {
		t.Errorf("removed rule still firing: %+v", res.Violations)
	}
}

func TestCheck_CustomWarning(t *testing.T) {
	m := newTestManager(&Config{})
	m.AddCustomRule("advisory", func(models.OrderRequest, decimal.Decimal, *models.Portfolio) *Violation {
		return &Violation{Message: "heads up", Severity: SeverityWarning}
	})

	res := m.Check(buyReq("AAPL", 1), price(100), portfolioWith(1000))
	if !res.Passed {
		t.Fatalf("warning-severity custom rule blocked: %+v", res.Violations)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].RuleName != "advisory" {
		t.Errorf("warnings = %+v", res.Warnings)
	}
}

func TestCheck_CustomPanicSwallowed(t *testing.T) {
	m := newTestManager(&Config{})
	m.AddCustomRule("broken", func(models.OrderRequest, decimal.Decimal, *models.Portfolio) *Violation {
		panic("rule bug")
	})
	m.AddCustomRule("after_broken", func(models.OrderRequest, decimal.Decimal, *models.Portfolio) *Violation {
		return &Violation{Message: "still ran"}
	})

	res := m.Check(buyReq("AAPL", 1), price(100), portfolioWith(1000))
	if res.Passed {
		t.Fatal("rule after the panicking one should still reject")
	}
	if !hasViolation(res, "after_broken") {
		t.Errorf("violations = %+v, want after_broken", res.Violations)
	}
}

// ════════════════════════════════════════════════════════════════════
// State Management
// ════════════════════════════════════════════════════════════════════

func TestUpdatePeakEquity_Monotone(t *testing.T) {
	m := newTestManager(&Config{})
	m.UpdatePeakEquity(decimal.NewFromInt(100))
	m.UpdatePeakEquity(decimal.NewFromInt(50))
	if got := m.PeakEquity(); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("peak = %s, want 100", got)
	}
	m.UpdatePeakEquity(decimal.NewFromInt(150))
	if got := m.PeakEquity(); !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("peak = %s, want 150", got)
	}
}

func TestResetDailyLimits_ClearsLatchOnly(t *testing.T) {
	m := newTestManager(&Config{
		Loss: LossLimits{MaxDailyLoss: decimal.NewFromInt(100), CoolingOffMinutes: 60},
	})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.UpdateDailyPnL(decimal.NewFromInt(-500), now)
	m.UpdatePeakEquity(decimal.NewFromInt(9000))
	m.Check(buyReq("AAPL", 1), price(100), portfolioWith(1000))
	if !m.InCoolingOff() {
		t.Fatal("latch should be engaged")
	}

	m.ResetDailyLimits()
	if m.InCoolingOff() {
		t.Error("latch should be cleared")
	}
	if got := m.DailyPnL(now); !got.Equal(decimal.NewFromInt(-500)) {
		t.Errorf("daily pnl should survive: %s", got)
	}
	if got := m.PeakEquity(); !got.Equal(decimal.NewFromInt(9000)) {
		t.Errorf("peak should survive: %s", got)
	}
}

func TestResetAll(t *testing.T) {
	m := newTestManager(&Config{
		Loss: LossLimits{MaxDailyLoss: decimal.NewFromInt(100), CoolingOffMinutes: 60},
	})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.UpdateDailyPnL(decimal.NewFromInt(-500), now)
	m.UpdatePeakEquity(decimal.NewFromInt(9000))
	m.Check(buyReq("AAPL", 1), price(100), portfolioWith(1000))

	m.ResetAll()
	if m.InCoolingOff() {
		t.Error("latch should be cleared")
	}
	if !m.DailyPnL(now).IsZero() {
		t.Error("pnl history should be cleared")
	}
	if !m.PeakEquity().IsZero() {
		t.Error("peak should be cleared")
	}
	if m.ConsecutiveLosses() != 0 {
		t.Error("streak should be cleared")
	}
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	m := New(nil, logger.Nop())
	pf := portfolioWith(10000)

	// Default concentration guardrail is 25%.
	res := m.Check(buyReq("AAPL", 40), price(100), pf)
	if !hasViolation(res, "max_concentration") {
		t.Errorf("default config should cap concentration, got %+v", res)
	}
	if res := m.Check(buyReq("AAPL", 10), price(100), pf); !res.Passed {
		t.Errorf("modest order rejected under defaults: %+v", res.Violations)
	}
}

func TestCheck_NilPortfolio(t *testing.T) {
	m := newTestManager(&Config{
		Position: PositionLimits{MaxPositionSize: decimal.NewFromInt(100)},
	})
	res := m.Check(buyReq("AAPL", 500), price(10), nil)
	if !hasViolation(res, "max_position_size") {
		t.Errorf("nil portfolio should still enforce size caps, got %+v", res)
	}
}
