// TradeFlow — algorithmic trading engine for ASX and US equities.
//
// Main CLI entrypoint using the cobra command framework.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/seaquant/tradeflow/internal/config"
	"github.com/seaquant/tradeflow/internal/risk"
	"github.com/seaquant/tradeflow/pkg/logger"
	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Process-wide config and logger, set by the root PersistentPreRunE.
var (
	cfg *config.Config
	log zerolog.Logger
)

// exitError carries a process exit code through RunE. Exit semantics:
// 0 success, 1 invalid input or runtime error, 2 failed backtest,
// 3 risk rejection.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, format string, args ...interface{}) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	// Local .env files carry broker credentials in development.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tradeflow",
	Short: "TradeFlow — algorithmic trading engine",
	Long: `TradeFlow is an algorithmic trading engine for ASX and US equities:
broker adapters (paper, Alpaca, IBKR), order lifecycle management,
pre-trade risk checks, signal execution, backtesting and an Australian
CGT trade ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logCfg := logger.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			logCfg.Level = lvl
		}
		log = logger.New(logCfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(paperCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("TradeFlow %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine configuration and market sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  TradeFlow — Engine Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:      %s (%s)\n", version, commit)
		fmt.Printf("  ASX:          %s (%s)\n", utils.ASX.Status(now), now.In(utils.Sydney).Format("15:04 MST"))
		fmt.Printf("  NYSE:         %s (%s)\n", utils.NYSE.Status(now), now.In(utils.NewYork).Format("15:04 MST"))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Broker:       %s\n", cfg.Broker.Provider)
		fmt.Printf("    API Server:   %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Printf("    Store:        %s\n", cfg.Store.Path)
		fmt.Printf("    Data Dir:     %s\n", cfg.MarketData.DataDir)
		fmt.Printf("    Tax Year:     %s (%s)\n", taxYearNow(), cfg.Ledger.BaseCurrency)
		if len(cfg.Signals.Watchlist) > 0 {
			fmt.Printf("    Watchlist:    %v\n", cfg.Signals.Watchlist)
		}
		fmt.Println()

		fmt.Println("  Credentials:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-20s %s\n", k.Name+":", status)
		}
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// taxYearNow labels the current Australian financial year under the
// configured ledger rules.
func taxYearNow() string {
	rules, err := ledgerRules(cfg.Ledger)
	if err != nil {
		return "?"
	}
	return rules.TaxYear(time.Now().In(utils.Sydney))
}

// ════════════════════════════════════════════════════════════════════
// Shared config parsing
// ════════════════════════════════════════════════════════════════════

// parseDec parses a decimal option, tolerating the empty string.
func parseDec(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, nil
	}
	d, err := models.ParseDecimal(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}

// riskConfig translates the string-typed risk block into manager limits.
func riskConfig(rc config.RiskConfig) (*risk.Config, error) {
	out := risk.Config{
		Position: risk.PositionLimits{MaxTotalPositions: rc.MaxTotalPositions},
		Loss: risk.LossLimits{
			MaxConsecutiveLosses: rc.MaxConsecutiveLosses,
			CoolingOffMinutes:    rc.CoolingOffMinutes,
		},
	}

	fields := []struct {
		dst  *decimal.Decimal
		name string
		val  string
	}{
		{&out.Position.MaxPositionSize, "risk.max_position_size", rc.MaxPositionSize},
		{&out.Position.MaxPositionValue, "risk.max_position_value", rc.MaxPositionValue},
		{&out.Position.MaxConcentrationPercent, "risk.max_concentration_pct", rc.MaxConcentrationPct},
		{&out.Loss.MaxDailyLoss, "risk.max_daily_loss", rc.MaxDailyLoss},
		{&out.Loss.MaxDailyLossPercent, "risk.max_daily_loss_pct", rc.MaxDailyLossPct},
		{&out.Loss.MaxDrawdown, "risk.max_drawdown", rc.MaxDrawdown},
		{&out.Loss.MaxDrawdownPercent, "risk.max_drawdown_pct", rc.MaxDrawdownPct},
		{&out.Loss.MaxSingleTradeLoss, "risk.max_single_trade_loss", rc.MaxSingleTradeLoss},
	}
	for _, f := range fields {
		d, err := parseDec(f.name, f.val)
		if err != nil {
			return nil, err
		}
		*f.dst = d
	}
	return &out, nil
}
