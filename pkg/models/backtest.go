package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ════════════════════════════════════════════════════════════════════
// Backtest Configuration
// ════════════════════════════════════════════════════════════════════

// PortfolioConfig parameterizes the simulated portfolio of a backtest or
// paper session: starting cash, the commission model and slippage.
type PortfolioConfig struct {
	InitialCash            decimal.Decimal     `json:"initial_cash"`
	CommissionPerShare     decimal.Decimal     `json:"commission_per_share"`
	CommissionPerTrade     decimal.Decimal     `json:"commission_per_trade"`
	CommissionPercent      decimal.Decimal     `json:"commission_percent"`
	MinCommission          decimal.Decimal     `json:"min_commission"`
	MaxCommission          decimal.NullDecimal `json:"max_commission,omitempty"`
	SlippagePercent        decimal.Decimal     `json:"slippage_percent"`
	AllowFractionalShares  bool                `json:"allow_fractional_shares"`
	MaxPositionSizePercent decimal.Decimal     `json:"max_position_size_percent"`
	Currency               string              `json:"currency,omitempty"`
}

// DefaultPortfolioConfig returns a commission-free portfolio with 100k cash
// that may deploy all cash into a single position.
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		InitialCash:            decimal.NewFromInt(100000),
		MaxPositionSizePercent: decimal.NewFromInt(100),
		Currency:               "AUD",
	}
}

// Validate enforces the configuration ranges.
func (c PortfolioConfig) Validate() error {
	hundred := decimal.NewFromInt(100)
	if !c.InitialCash.IsPositive() {
		return fmt.Errorf("portfolio config: initial cash must be positive, got %s", c.InitialCash)
	}
	for name, v := range map[string]decimal.Decimal{
		"commission_per_share": c.CommissionPerShare,
		"commission_per_trade": c.CommissionPerTrade,
		"min_commission":       c.MinCommission,
	} {
		if v.IsNegative() {
			return fmt.Errorf("portfolio config: %s must be non-negative, got %s", name, v)
		}
	}
	if c.CommissionPercent.IsNegative() || c.CommissionPercent.GreaterThan(hundred) {
		return fmt.Errorf("portfolio config: commission percent %s outside [0,100]", c.CommissionPercent)
	}
	if c.MaxCommission.Valid && c.MaxCommission.Decimal.LessThan(c.MinCommission) {
		return fmt.Errorf("portfolio config: max commission %s below min %s", c.MaxCommission.Decimal, c.MinCommission)
	}
	if c.SlippagePercent.IsNegative() || c.SlippagePercent.GreaterThan(hundred) {
		return fmt.Errorf("portfolio config: slippage percent %s outside [0,100]", c.SlippagePercent)
	}
	if !c.MaxPositionSizePercent.IsPositive() || c.MaxPositionSizePercent.GreaterThan(hundred) {
		return fmt.Errorf("portfolio config: max position size percent %s outside (0,100]", c.MaxPositionSizePercent)
	}
	return nil
}

// BacktestConfig describes one backtest run.
type BacktestConfig struct {
	Name            string            `json:"name,omitempty"`
	Tickers         []string          `json:"tickers"`
	StartDate       time.Time         `json:"start_date"`
	EndDate         time.Time         `json:"end_date"`
	Interval        Interval          `json:"interval"`
	Portfolio       PortfolioConfig   `json:"portfolio"`
	WarmupPeriod    int               `json:"warmup_period"`
	BenchmarkTicker string            `json:"benchmark_ticker,omitempty"`
	RiskFreeRate    float64           `json:"risk_free_rate"`
	StrategyName    string            `json:"strategy_name,omitempty"`
	StrategyParams  map[string]string `json:"strategy_params,omitempty"`
}

// Normalize upper-cases tickers in place and defaults the interval to daily.
func (c *BacktestConfig) Normalize() {
	for i, t := range c.Tickers {
		c.Tickers[i] = NormalizeTicker(t)
	}
	c.BenchmarkTicker = NormalizeTicker(c.BenchmarkTicker)
	if c.Interval == "" {
		c.Interval = Interval1Day
	}
}

// Validate enforces the config invariants. Call Normalize first.
func (c BacktestConfig) Validate() error {
	if len(c.Tickers) == 0 {
		return fmt.Errorf("backtest config: at least one ticker required")
	}
	for _, t := range c.Tickers {
		if t == "" {
			return fmt.Errorf("backtest config: empty ticker")
		}
	}
	if !c.StartDate.Before(c.EndDate) {
		return fmt.Errorf("backtest config: start date %s not before end date %s",
			c.StartDate.Format("2006-01-02"), c.EndDate.Format("2006-01-02"))
	}
	if c.WarmupPeriod < 0 {
		return fmt.Errorf("backtest config: warmup period must be non-negative")
	}
	if c.RiskFreeRate < 0 {
		return fmt.Errorf("backtest config: risk-free rate must be non-negative")
	}
	return c.Portfolio.Validate()
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// ════════════════════════════════════════════════════════════════════
// Backtest Results
// ════════════════════════════════════════════════════════════════════

// BacktestStatus is the run state of a backtest.
type BacktestStatus string

// Backtest statuses.
const (
	BacktestPending   BacktestStatus = "pending"
	BacktestRunning   BacktestStatus = "running"
	BacktestCompleted BacktestStatus = "completed"
	BacktestFailed    BacktestStatus = "failed"
)

// EquityCurvePoint is one mark-to-market snapshot, one per trading day.
// Invariant: Equity = Cash + PositionsValue and Drawdown ≥ 0.
type EquityCurvePoint struct {
	Timestamp       time.Time           `json:"timestamp"`
	Equity          decimal.Decimal     `json:"equity"`
	Cash            decimal.Decimal     `json:"cash"`
	PositionsValue  decimal.Decimal     `json:"positions_value"`
	BenchmarkValue  decimal.NullDecimal `json:"benchmark_value,omitempty"`
	Drawdown        decimal.Decimal     `json:"drawdown"`
	DrawdownPercent float64             `json:"drawdown_percent"`
}

// BacktestTrade pairs an entry with its exit for metric calculation.
type BacktestTrade struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	EntryDate   time.Time       `json:"entry_date"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitDate    time.Time       `json:"exit_date"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPercent  float64         `json:"pnl_percent"`
	HoldingDays int             `json:"holding_days"`
}

// BacktestMetrics aggregates run performance. Ratio metrics whose
// denominator can vanish (Sharpe, Sortino, Calmar, ProfitFactor and the
// benchmark-relative set) are pointers; nil means undefined.
type BacktestMetrics struct {
	TotalReturn          decimal.Decimal `json:"total_return"`
	TotalReturnPct       float64         `json:"total_return_pct"`
	AnnualizedReturn     float64         `json:"annualized_return"`
	Volatility           float64         `json:"volatility"`
	AnnualizedVolatility float64         `json:"annualized_volatility"`
	DownsideVolatility   float64         `json:"downside_volatility"`
	SharpeRatio          *float64        `json:"sharpe_ratio"`
	SortinoRatio         *float64        `json:"sortino_ratio"`
	CalmarRatio          *float64        `json:"calmar_ratio"`
	MaxDrawdown          decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct       float64         `json:"max_drawdown_pct"`
	AvgDrawdown          decimal.Decimal `json:"avg_drawdown"`
	MaxDrawdownDuration  int             `json:"max_drawdown_duration"`
	WinRate              float64         `json:"win_rate"`
	ProfitFactor         *float64        `json:"profit_factor"`
	AvgWin               decimal.Decimal `json:"avg_win"`
	AvgLoss              decimal.Decimal `json:"avg_loss"`
	AvgHoldingPeriod     float64         `json:"avg_holding_period"`
	TotalTrades          int             `json:"total_trades"`
	WinningTrades        int             `json:"winning_trades"`
	LosingTrades         int             `json:"losing_trades"`
	TradingDays          int             `json:"trading_days"`
	EndEquity            decimal.Decimal `json:"end_equity"`
	Alpha                *float64        `json:"alpha,omitempty"`
	Beta                 *float64        `json:"beta,omitempty"`
	InformationRatio     *float64        `json:"information_ratio,omitempty"`
}

// BacktestResult is the full artifact of one run. Failures are captured
// in Status and ErrorMessage rather than surfaced as panics.
type BacktestResult struct {
	ID           string             `json:"id"`
	Config       BacktestConfig     `json:"config"`
	Metrics      BacktestMetrics    `json:"metrics"`
	TradeLog     []BacktestTrade    `json:"trade_log"`
	EquityCurve  []EquityCurvePoint `json:"equity_curve"`
	DailyReturns []float64          `json:"daily_returns"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at,omitempty"`
	Status       BacktestStatus     `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// EndEquity is the final curve point's equity, or initial cash when the
// curve is empty.
func (r *BacktestResult) EndEquity() decimal.Decimal {
	if len(r.EquityCurve) == 0 {
		return r.Config.Portfolio.InitialCash
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Equity
}
