package backtest

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/seaquant/tradeflow/pkg/models"
)

// tradingDaysPerYear annualizes daily statistics, equity-market convention.
const tradingDaysPerYear = 252

// buildMetrics computes the performance set from a finished run. Ratio
// metrics stay nil when their denominator is zero. An empty curve is an
// error; the engine surfaces it as a failed result.
func buildMetrics(
	initialCash decimal.Decimal,
	riskFree float64,
	curve []models.EquityCurvePoint,
	dailyReturns []float64,
	trades []models.BacktestTrade,
	benchmarkReturns []float64,
) (models.BacktestMetrics, error) {
	if len(curve) == 0 {
		return models.BacktestMetrics{}, errors.New("backtest: empty equity curve")
	}

	end := curve[len(curve)-1].Equity
	m := models.BacktestMetrics{
		TotalReturn: models.RoundValue(end.Sub(initialCash)),
		EndEquity:   models.RoundValue(end),
		TradingDays: len(curve),
	}

	endF, _ := end.Float64()
	initF, _ := initialCash.Float64()
	if initF > 0 {
		m.TotalReturnPct = (endF/initF - 1) * 100
		m.AnnualizedReturn = math.Pow(endF/initF, tradingDaysPerYear/float64(len(curve))) - 1
	}

	m.Volatility = stdev(dailyReturns)
	m.AnnualizedVolatility = m.Volatility * math.Sqrt(tradingDaysPerYear)
	var downside []float64
	for _, r := range dailyReturns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	m.DownsideVolatility = stdev(downside)

	if m.AnnualizedVolatility > 0 {
		m.SharpeRatio = ptr((m.AnnualizedReturn - riskFree) / m.AnnualizedVolatility)
	}
	if annDownside := m.DownsideVolatility * math.Sqrt(tradingDaysPerYear); annDownside > 0 {
		m.SortinoRatio = ptr((m.AnnualizedReturn - riskFree) / annDownside)
	}

	drawdownStats(&m, curve)
	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = ptr(m.AnnualizedReturn / (m.MaxDrawdownPct / 100))
	}

	tradeStats(&m, trades)
	benchmarkStats(&m, dailyReturns, benchmarkReturns)
	return m, nil
}

// drawdownStats fills the peak-to-trough measures: the deepest drawdown in
// currency and percent, the average while underwater, and the longest
// consecutive underwater stretch in trading days.
func drawdownStats(m *models.BacktestMetrics, curve []models.EquityCurvePoint) {
	sum := decimal.Zero
	underwater := 0
	streak := 0
	for _, p := range curve {
		if p.Drawdown.GreaterThan(m.MaxDrawdown) {
			m.MaxDrawdown = p.Drawdown
		}
		if p.DrawdownPercent > m.MaxDrawdownPct {
			m.MaxDrawdownPct = p.DrawdownPercent
		}
		if p.Drawdown.IsPositive() {
			sum = sum.Add(p.Drawdown)
			underwater++
			streak++
			if streak > m.MaxDrawdownDuration {
				m.MaxDrawdownDuration = streak
			}
		} else {
			streak = 0
		}
	}
	if underwater > 0 {
		m.AvgDrawdown = sum.DivRound(decimal.NewFromInt(int64(underwater)), models.ValueScale)
	}
}

// tradeStats fills the per-trade measures. Win rate is a percentage;
// average loss keeps its negative sign; profit factor is nil when no trade
// lost money.
func tradeStats(m *models.BacktestMetrics, trades []models.BacktestTrade) {
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}
	winTotal, lossTotal := decimal.Zero, decimal.Zero
	holding := 0
	for _, t := range trades {
		holding += t.HoldingDays
		switch t.PnL.Sign() {
		case 1:
			m.WinningTrades++
			winTotal = winTotal.Add(t.PnL)
		case -1:
			m.LosingTrades++
			lossTotal = lossTotal.Add(t.PnL)
		}
	}
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.AvgHoldingPeriod = float64(holding) / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AvgWin = winTotal.DivRound(decimal.NewFromInt(int64(m.WinningTrades)), models.ValueScale)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = lossTotal.DivRound(decimal.NewFromInt(int64(m.LosingTrades)), models.ValueScale)
	}
	if lossTotal.IsNegative() {
		pf, _ := winTotal.DivRound(lossTotal.Abs(), 8).Float64()
		m.ProfitFactor = ptr(pf)
	}
}

// benchmarkStats regresses the run's daily returns on the benchmark's and
// fills alpha (annualized intercept), beta (slope) and the information
// ratio. Skipped when the series are missing or misaligned.
func benchmarkStats(m *models.BacktestMetrics, returns, benchmark []float64) {
	if len(benchmark) == 0 || len(benchmark) != len(returns) || len(returns) < 2 {
		return
	}
	alpha, beta := stat.LinearRegression(benchmark, returns, nil, false)
	if !math.IsNaN(beta) && !math.IsInf(beta, 0) {
		m.Beta = ptr(beta)
		m.Alpha = ptr(alpha * tradingDaysPerYear)
	}
	excess := make([]float64, len(returns))
	for i := range returns {
		excess[i] = returns[i] - benchmark[i]
	}
	if te := stdev(excess); te > 0 {
		ir := stat.Mean(excess, nil) * tradingDaysPerYear / (te * math.Sqrt(tradingDaysPerYear))
		m.InformationRatio = ptr(ir)
	}
}

// stdev is the sample standard deviation, zero below two points.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sd := stat.StdDev(xs, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

func ptr(v float64) *float64 { return &v }
