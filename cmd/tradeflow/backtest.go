package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/seaquant/tradeflow/internal/backtest"
	"github.com/seaquant/tradeflow/internal/config"
	"github.com/seaquant/tradeflow/internal/marketdata"
	"github.com/seaquant/tradeflow/pkg/models"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest [tickers...]",
	Short: "Run a backtest over CSV bar data",
	Long: `Run a strategy over daily bars read from CSV files, one file per
ticker, resolved as <data-dir>/<TICKER>.csv.

Examples:
  tradeflow backtest BHP.AX --start 2023-01-03 --end 2024-06-28
  tradeflow backtest BHP.AX CBA.AX --start 2023-01-03 --strategy rsi_reversion --param period=10
  tradeflow backtest SPY --start 2022-01-03 --benchmark SPY --cash 250000`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")
		strategyName, _ := cmd.Flags().GetString("strategy")
		paramList, _ := cmd.Flags().GetStringArray("param")
		cash, _ := cmd.Flags().GetString("cash")
		dataDir, _ := cmd.Flags().GetString("data")
		benchmark, _ := cmd.Flags().GetString("benchmark")
		warmup, _ := cmd.Flags().GetInt("warmup")

		if startStr == "" {
			return fmt.Errorf("--start is required (YYYY-MM-DD)")
		}
		start, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return fmt.Errorf("invalid --start %q: use YYYY-MM-DD", startStr)
		}
		end := time.Now().UTC().Truncate(24 * time.Hour)
		if endStr != "" {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("invalid --end %q: use YYYY-MM-DD", endStr)
			}
		}

		params, err := parseParams(paramList)
		if err != nil {
			return err
		}
		strategy, err := backtest.ForName(strategyName, params)
		if err != nil {
			return err
		}

		pc, err := portfolioConfig(cfg.Backtest)
		if err != nil {
			return err
		}
		if cash != "" {
			pc.InitialCash, err = models.ParseDecimal(cash)
			if err != nil {
				return fmt.Errorf("invalid --cash: %w", err)
			}
		}
		if warmup < 0 {
			return fmt.Errorf("--warmup must be non-negative")
		}
		if !cmd.Flags().Changed("warmup") {
			warmup = cfg.Backtest.WarmupPeriod
		}

		if dataDir == "" {
			dataDir = cfg.MarketData.DataDir
		}
		engine := backtest.New(newLoader(dataDir), log)

		btCfg := models.BacktestConfig{
			Tickers:         args,
			StartDate:       start,
			EndDate:         end,
			Portfolio:       pc,
			WarmupPeriod:    warmup,
			BenchmarkTicker: benchmark,
			RiskFreeRate:    cfg.Backtest.RiskFreeRate,
			StrategyName:    strategyName,
			StrategyParams:  params,
		}

		res := engine.Run(cmd.Context(), btCfg, strategy)
		printBacktest(res)
		if res.Status != models.BacktestCompleted {
			return exitWith(2, "backtest %s: %s", res.Status, res.ErrorMessage)
		}
		return nil
	},
}

func init() {
	backtestCmd.Flags().String("start", "", "start date, YYYY-MM-DD (required)")
	backtestCmd.Flags().String("end", "", "end date, YYYY-MM-DD (default: today)")
	backtestCmd.Flags().String("strategy", "", "strategy name (default: sma_rule)")
	backtestCmd.Flags().StringArray("param", nil, "strategy parameter key=value (repeatable)")
	backtestCmd.Flags().String("cash", "", "initial cash override")
	backtestCmd.Flags().String("data", "", "CSV data directory (default: marketdata.data_dir)")
	backtestCmd.Flags().String("benchmark", "", "benchmark ticker for alpha/beta")
	backtestCmd.Flags().Int("warmup", 0, "warm-up trading days (default: backtest.warmup_period)")
}

// parseParams splits repeated key=value flags into a parameter map.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", p)
		}
		params[k] = v
	}
	return params, nil
}

// portfolioConfig builds a portfolio from the configured backtest defaults.
func portfolioConfig(bc config.BacktestConfig) (models.PortfolioConfig, error) {
	pc := models.DefaultPortfolioConfig()

	fields := []struct {
		dst  *decimal.Decimal
		name string
		val  string
	}{
		{&pc.InitialCash, "backtest.initial_cash", bc.InitialCash},
		{&pc.CommissionPerTrade, "backtest.commission_per_trade", bc.CommissionPerTrade},
		{&pc.CommissionPerShare, "backtest.commission_per_share", bc.CommissionPerShare},
		{&pc.CommissionPercent, "backtest.commission_percent", bc.CommissionPercent},
		{&pc.MinCommission, "backtest.min_commission", bc.MinCommission},
		{&pc.SlippagePercent, "backtest.slippage_percent", bc.SlippagePercent},
		{&pc.MaxPositionSizePercent, "backtest.max_position_size_pct", bc.MaxPositionSizePct},
	}
	for _, f := range fields {
		if f.val == "" {
			continue
		}
		d, err := parseDec(f.name, f.val)
		if err != nil {
			return pc, err
		}
		*f.dst = d
	}
	if bc.MaxCommission != "" {
		d, err := parseDec("backtest.max_commission", bc.MaxCommission)
		if err != nil {
			return pc, err
		}
		pc.MaxCommission = decimal.NewNullDecimal(d)
	}
	return pc, nil
}

// newLoader builds a cached CSV-backed bar loader.
func newLoader(dataDir string) *marketdata.Loader {
	return marketdata.NewLoader(marketdata.NewCSVSource(dataDir), &marketdata.LoaderConfig{
		TTL:      time.Duration(cfg.MarketData.CacheTTLSeconds) * time.Second,
		Capacity: cfg.MarketData.CacheCapacity,
	})
}

// printBacktest renders the result summary.
func printBacktest(res *models.BacktestResult) {
	m := res.Metrics

	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  Backtest %s — %s\n", res.ID[:8], res.Status)
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  Tickers:        %s\n", strings.Join(res.Config.Tickers, ", "))
	fmt.Printf("  Period:         %s → %s (%d trading days)\n",
		res.Config.StartDate.Format("2006-01-02"),
		res.Config.EndDate.Format("2006-01-02"),
		m.TradingDays)
	if res.Status != models.BacktestCompleted {
		fmt.Printf("  Error:          %s\n", res.ErrorMessage)
		fmt.Println("═══════════════════════════════════════")
		return
	}

	fmt.Printf("  End Equity:     %s %s\n", m.EndEquity.StringFixed(2), res.Config.Portfolio.Currency)
	fmt.Printf("  Total Return:   %s (%.2f%%)\n", m.TotalReturn.StringFixed(2), m.TotalReturnPct)
	fmt.Printf("  Annualized:     %.2f%%\n", m.AnnualizedReturn*100)
	fmt.Printf("  Volatility:     %.2f%% (annualized)\n", m.AnnualizedVolatility*100)
	fmt.Printf("  Sharpe:         %s   Sortino: %s   Calmar: %s\n",
		fmtRatio(m.SharpeRatio), fmtRatio(m.SortinoRatio), fmtRatio(m.CalmarRatio))
	fmt.Printf("  Max Drawdown:   %s (%.2f%%, %d days)\n",
		m.MaxDrawdown.StringFixed(2), m.MaxDrawdownPct, m.MaxDrawdownDuration)
	fmt.Printf("  Trades:         %d (%d wins, %d losses, win rate %.1f%%)\n",
		m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate)
	fmt.Printf("  Profit Factor:  %s\n", fmtRatio(m.ProfitFactor))
	if m.Alpha != nil && m.Beta != nil {
		fmt.Printf("  Alpha/Beta:     %.4f / %.2f vs %s\n", *m.Alpha, *m.Beta, res.Config.BenchmarkTicker)
	}
	fmt.Println("═══════════════════════════════════════")
}

// fmtRatio renders a nil-able ratio; nil means undefined for the sample.
func fmtRatio(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *p)
}
