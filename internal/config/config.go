// Package config loads the engine configuration from YAML files with
// environment-variable overrides. Monetary options are carried as strings
// and parsed into decimals by the consuming component.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete engine configuration.
type Config struct {
	Broker     BrokerConfig     `mapstructure:"broker"     yaml:"broker"`
	Router     RouterConfig     `mapstructure:"router"     yaml:"router"`
	Risk       RiskConfig       `mapstructure:"risk"       yaml:"risk"`
	Executor   ExecutorConfig   `mapstructure:"executor"   yaml:"executor"`
	Converter  ConverterConfig  `mapstructure:"converter"  yaml:"converter"`
	Signals    SignalsConfig    `mapstructure:"signals"    yaml:"signals"`
	Backtest   BacktestConfig   `mapstructure:"backtest"   yaml:"backtest"`
	Ledger     LedgerConfig     `mapstructure:"ledger"     yaml:"ledger"`
	MarketData MarketDataConfig `mapstructure:"marketdata" yaml:"marketdata"`
	Store      StoreConfig      `mapstructure:"store"      yaml:"store"`
	API        APIConfig        `mapstructure:"api"        yaml:"api"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"  yaml:"scheduler"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
}

// BrokerConfig selects and parameterizes the broker adapters.
type BrokerConfig struct {
	// Provider is the default broker: "paper", "alpaca" or "ibkr".
	Provider string       `mapstructure:"provider" yaml:"provider"`
	Paper    PaperConfig  `mapstructure:"paper"    yaml:"paper"`
	Alpaca   AlpacaConfig `mapstructure:"alpaca"   yaml:"alpaca"`
	IBKR     IBKRConfig   `mapstructure:"ibkr"     yaml:"ibkr"`
	// SubmitTimeoutSec bounds submit/cancel/replace calls.
	SubmitTimeoutSec int `mapstructure:"submit_timeout_sec" yaml:"submit_timeout_sec"`
	// QuoteTimeoutSec bounds quote fetches; shorter than submit.
	QuoteTimeoutSec int `mapstructure:"quote_timeout_sec" yaml:"quote_timeout_sec"`
}

// PaperConfig parameterizes the simulated broker.
type PaperConfig struct {
	InitialCash     string  `mapstructure:"initial_cash"     yaml:"initial_cash"`
	Currency        string  `mapstructure:"currency"         yaml:"currency"`
	SlippagePercent string  `mapstructure:"slippage_percent" yaml:"slippage_percent"`
	FillProbability float64 `mapstructure:"fill_probability" yaml:"fill_probability"`
	CommissionFixed string  `mapstructure:"commission_fixed" yaml:"commission_fixed"`
}

// AlpacaConfig holds Alpaca Markets credentials and endpoints.
type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"    yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
	// Paper switches between the paper and live REST hosts.
	Paper bool `mapstructure:"paper" yaml:"paper"`
	// RequestsPerMinute paces the client below the vendor limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// IBKRConfig holds Interactive Brokers gateway settings. Port 7497 is the
// paper gateway, 7496 live.
type IBKRConfig struct {
	Host     string `mapstructure:"host"      yaml:"host"`
	Port     int    `mapstructure:"port"      yaml:"port"`
	ClientID int    `mapstructure:"client_id" yaml:"client_id"`
	Live     bool   `mapstructure:"live"      yaml:"live"`
}

// RouterConfig parameterizes multi-broker routing.
type RouterConfig struct {
	// Fallback names the broker used when no registration covers a class.
	Fallback string `mapstructure:"fallback" yaml:"fallback"`
	// HistorySize bounds the routing-decision ring.
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`
}

// RiskConfig carries the pre-trade rule limits. Empty string disables a rule.
type RiskConfig struct {
	MaxPositionSize      string `mapstructure:"max_position_size"      yaml:"max_position_size"`
	MaxPositionValue     string `mapstructure:"max_position_value"     yaml:"max_position_value"`
	MaxConcentrationPct  string `mapstructure:"max_concentration_pct"  yaml:"max_concentration_pct"`
	MaxTotalPositions    int    `mapstructure:"max_total_positions"    yaml:"max_total_positions"`
	MaxDailyLoss         string `mapstructure:"max_daily_loss"         yaml:"max_daily_loss"`
	MaxDailyLossPct      string `mapstructure:"max_daily_loss_pct"     yaml:"max_daily_loss_pct"`
	MaxDrawdown          string `mapstructure:"max_drawdown"           yaml:"max_drawdown"`
	MaxDrawdownPct       string `mapstructure:"max_drawdown_pct"       yaml:"max_drawdown_pct"`
	MaxSingleTradeLoss   string `mapstructure:"max_single_trade_loss"  yaml:"max_single_trade_loss"`
	MaxConsecutiveLosses int    `mapstructure:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	CoolingOffMinutes    int    `mapstructure:"cooling_off_minutes"    yaml:"cooling_off_minutes"`
}

// ExecutorConfig parameterizes signal execution.
type ExecutorConfig struct {
	// RetryPolicy is "none", "fixed_delay" or "exponential_backoff".
	RetryPolicy        string `mapstructure:"retry_policy"          yaml:"retry_policy"`
	MaxAttempts        int    `mapstructure:"max_attempts"          yaml:"max_attempts"`
	RetryDelayMS       int    `mapstructure:"retry_delay_ms"        yaml:"retry_delay_ms"`
	RetryMaxDelayMS    int    `mapstructure:"retry_max_delay_ms"    yaml:"retry_max_delay_ms"`
	RetryJitter        bool   `mapstructure:"retry_jitter"          yaml:"retry_jitter"`
	FillWaitTimeoutSec int    `mapstructure:"fill_wait_timeout_sec" yaml:"fill_wait_timeout_sec"`
	EventHistorySize   int    `mapstructure:"event_history_size"    yaml:"event_history_size"`
}

// ConverterConfig parameterizes signal-to-order conversion.
type ConverterConfig struct {
	// SizingMethod is one of fixed_dollar, fixed_quantity,
	// percent_of_portfolio, kelly, volatility.
	SizingMethod       string  `mapstructure:"sizing_method"        yaml:"sizing_method"`
	FixedDollar        string  `mapstructure:"fixed_dollar"         yaml:"fixed_dollar"`
	FixedQuantity      string  `mapstructure:"fixed_quantity"       yaml:"fixed_quantity"`
	PercentOfPortfolio string  `mapstructure:"percent_of_portfolio" yaml:"percent_of_portfolio"`
	KellyWinProb       float64 `mapstructure:"kelly_win_prob"       yaml:"kelly_win_prob"`
	KellyWinLossRatio  float64 `mapstructure:"kelly_win_loss_ratio" yaml:"kelly_win_loss_ratio"`
	KellyCapPct        string  `mapstructure:"kelly_cap_pct"        yaml:"kelly_cap_pct"`
	RiskPerTrade       string  `mapstructure:"risk_per_trade"       yaml:"risk_per_trade"`
	ATRMultiplier      string  `mapstructure:"atr_multiplier"       yaml:"atr_multiplier"`
	// StopLossType is none, fixed_price, percent, atr_multiple,
	// trailing_percent or trailing_amount.
	StopLossType  string `mapstructure:"stop_loss_type"  yaml:"stop_loss_type"`
	StopLossValue string `mapstructure:"stop_loss_value" yaml:"stop_loss_value"`
	// TakeProfitType is none, fixed_price, percent or risk_reward_ratio.
	TakeProfitType    string `mapstructure:"take_profit_type"  yaml:"take_profit_type"`
	TakeProfitValue   string `mapstructure:"take_profit_value" yaml:"take_profit_value"`
	DefaultTimeInForce string `mapstructure:"default_time_in_force" yaml:"default_time_in_force"`
	PricePrecision    int    `mapstructure:"price_precision"    yaml:"price_precision"`
	QuantityPrecision int    `mapstructure:"quantity_precision" yaml:"quantity_precision"`
}

// SignalsConfig parameterizes the live signal sources for the serve runtime.
type SignalsConfig struct {
	// Watchlist names the symbols scanned for signals.
	Watchlist []string `mapstructure:"watchlist" yaml:"watchlist"`
	// NewsEnabled turns the RSS sentiment source on. It stays idle
	// without a watchlist.
	NewsEnabled       bool    `mapstructure:"news_enabled"        yaml:"news_enabled"`
	NewsPollSeconds   int     `mapstructure:"news_poll_seconds"   yaml:"news_poll_seconds"`
	NewsMinConfidence float64 `mapstructure:"news_min_confidence" yaml:"news_min_confidence"`
}

// BacktestConfig carries backtest defaults for the CLI and API surfaces.
type BacktestConfig struct {
	InitialCash        string  `mapstructure:"initial_cash"          yaml:"initial_cash"`
	CommissionPerTrade string  `mapstructure:"commission_per_trade"  yaml:"commission_per_trade"`
	CommissionPerShare string  `mapstructure:"commission_per_share"  yaml:"commission_per_share"`
	CommissionPercent  string  `mapstructure:"commission_percent"    yaml:"commission_percent"`
	MinCommission      string  `mapstructure:"min_commission"        yaml:"min_commission"`
	MaxCommission      string  `mapstructure:"max_commission"        yaml:"max_commission"`
	SlippagePercent    string  `mapstructure:"slippage_percent"      yaml:"slippage_percent"`
	MaxPositionSizePct string  `mapstructure:"max_position_size_pct" yaml:"max_position_size_pct"`
	WarmupPeriod       int     `mapstructure:"warmup_period"         yaml:"warmup_period"`
	RiskFreeRate       float64 `mapstructure:"risk_free_rate"        yaml:"risk_free_rate"`
}

// LedgerConfig parameterizes capital-gains computation.
type LedgerConfig struct {
	BaseCurrency   string `mapstructure:"base_currency"   yaml:"base_currency"`
	DiscountDays   int    `mapstructure:"discount_days"   yaml:"discount_days"`
	DiscountFactor string `mapstructure:"discount_factor" yaml:"discount_factor"`
	FYStartMonth   int    `mapstructure:"fy_start_month"  yaml:"fy_start_month"`
}

// MarketDataConfig parameterizes the bar loader and its cache.
type MarketDataConfig struct {
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	CacheCapacity   int    `mapstructure:"cache_capacity"    yaml:"cache_capacity"`
	LookbackDays    int    `mapstructure:"lookback_days"     yaml:"lookback_days"`
	DataDir         string `mapstructure:"data_dir"          yaml:"data_dir"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// APIConfig holds the engine HTTP surface settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// MetricsEnabled exposes /metrics for Prometheus scrapes.
	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// SchedulerConfig holds cron expressions for the serve runtime.
type SchedulerConfig struct {
	// DailyResetCron fires the risk daily-limit reset.
	DailyResetCron string `mapstructure:"daily_reset_cron" yaml:"daily_reset_cron"`
	// LedgerFlushCron fires the end-of-day ledger flush.
	LedgerFlushCron string `mapstructure:"ledger_flush_cron" yaml:"ledger_flush_cron"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Load reads configuration from file and environment.
// Config file search order:
//  1. ./config/config.yaml
//  2. ~/.tradeflow/config.yaml
//  3. /etc/tradeflow/config.yaml
//
// Environment variables override file values, prefixed TRADEFLOW_ with
// dots replaced by underscores, e.g. TRADEFLOW_BROKER_ALPACA_API_KEY.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".tradeflow"))
	v.AddConfigPath("/etc/tradeflow")

	v.SetEnvPrefix("TRADEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults plus environment.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from an explicit path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets defaults for every recognized option.
func setDefaults(v *viper.Viper) {
	// Broker defaults: simulated trading out of the box.
	v.SetDefault("broker.provider", "paper")
	v.SetDefault("broker.submit_timeout_sec", 10)
	v.SetDefault("broker.quote_timeout_sec", 3)
	v.SetDefault("broker.paper.initial_cash", "100000")
	v.SetDefault("broker.paper.currency", "AUD")
	v.SetDefault("broker.paper.slippage_percent", "0")
	v.SetDefault("broker.paper.fill_probability", 1.0)
	v.SetDefault("broker.paper.commission_fixed", "0")
	v.SetDefault("broker.alpaca.paper", true)
	v.SetDefault("broker.alpaca.requests_per_minute", 180)
	v.SetDefault("broker.ibkr.host", "127.0.0.1")
	v.SetDefault("broker.ibkr.port", 7497)
	v.SetDefault("broker.ibkr.client_id", 1)

	// Router defaults.
	v.SetDefault("router.fallback", "paper")
	v.SetDefault("router.history_size", 1000)

	// Risk defaults: generous but bounded.
	v.SetDefault("risk.max_total_positions", 20)
	v.SetDefault("risk.max_consecutive_losses", 5)
	v.SetDefault("risk.cooling_off_minutes", 30)
	v.SetDefault("risk.max_concentration_pct", "25")

	// Executor defaults.
	v.SetDefault("executor.retry_policy", "exponential_backoff")
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.retry_delay_ms", 500)
	v.SetDefault("executor.retry_max_delay_ms", 10000)
	v.SetDefault("executor.retry_jitter", true)
	v.SetDefault("executor.fill_wait_timeout_sec", 30)
	v.SetDefault("executor.event_history_size", 1000)

	// Converter defaults.
	v.SetDefault("converter.sizing_method", "percent_of_portfolio")
	v.SetDefault("converter.percent_of_portfolio", "10")
	v.SetDefault("converter.kelly_cap_pct", "25")
	v.SetDefault("converter.atr_multiplier", "2")
	v.SetDefault("converter.stop_loss_type", "none")
	v.SetDefault("converter.take_profit_type", "none")
	v.SetDefault("converter.default_time_in_force", "day")
	v.SetDefault("converter.price_precision", 4)
	v.SetDefault("converter.quantity_precision", 0)

	// Signals defaults: news sentiment on, but idle until a watchlist
	// is configured.
	v.SetDefault("signals.news_enabled", true)
	v.SetDefault("signals.news_poll_seconds", 600)
	v.SetDefault("signals.news_min_confidence", 0.25)

	// Backtest defaults.
	v.SetDefault("backtest.initial_cash", "100000")
	v.SetDefault("backtest.commission_per_trade", "0")
	v.SetDefault("backtest.commission_per_share", "0")
	v.SetDefault("backtest.commission_percent", "0")
	v.SetDefault("backtest.min_commission", "0")
	v.SetDefault("backtest.slippage_percent", "0")
	v.SetDefault("backtest.max_position_size_pct", "100")
	v.SetDefault("backtest.warmup_period", 20)
	v.SetDefault("backtest.risk_free_rate", 0.0)

	// Ledger defaults: Australian CGT.
	v.SetDefault("ledger.base_currency", "AUD")
	v.SetDefault("ledger.discount_days", 367)
	v.SetDefault("ledger.discount_factor", "0.5")
	v.SetDefault("ledger.fy_start_month", 7)

	// Market-data defaults.
	v.SetDefault("marketdata.cache_ttl_seconds", 300)
	v.SetDefault("marketdata.cache_capacity", 256)
	v.SetDefault("marketdata.lookback_days", 250)
	v.SetDefault("marketdata.data_dir", "./data")

	// Store defaults.
	v.SetDefault("store.path", "tradeflow.db")

	// API defaults.
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.metrics_enabled", true)

	// Scheduler defaults: midnight Sydney for the daily reset.
	v.SetDefault("scheduler.daily_reset_cron", "0 0 * * *")
	v.SetDefault("scheduler.ledger_flush_cron", "5 16 * * 1-5")

	// Logging defaults.
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

// overrideFromEnv re-reads sensitive credentials so they never have to
// live in a file.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("TRADEFLOW_BROKER_ALPACA_API_KEY"); key != "" {
		cfg.Broker.Alpaca.APIKey = key
	}
	if key := os.Getenv("TRADEFLOW_BROKER_ALPACA_API_SECRET"); key != "" {
		cfg.Broker.Alpaca.APISecret = key
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
