package config

import (
	"os"
	"path/filepath"
	"testing"
)

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_KEY")
	os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_SECRET")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Broker.Provider != "paper" {
		t.Errorf("Broker.Provider: got %q, want %q", cfg.Broker.Provider, "paper")
	}
	if cfg.Broker.IBKR.Host != "127.0.0.1" {
		t.Errorf("Broker.IBKR.Host: got %q", cfg.Broker.IBKR.Host)
	}
	if cfg.Broker.IBKR.Port != 7497 {
		t.Errorf("Broker.IBKR.Port: got %d, want 7497", cfg.Broker.IBKR.Port)
	}
	if cfg.Broker.Paper.InitialCash != "100000" {
		t.Errorf("Broker.Paper.InitialCash: got %q", cfg.Broker.Paper.InitialCash)
	}
	if cfg.Broker.Paper.FillProbability != 1.0 {
		t.Errorf("Broker.Paper.FillProbability: got %f", cfg.Broker.Paper.FillProbability)
	}
	if !cfg.Broker.Alpaca.Paper {
		t.Error("Alpaca should default to paper endpoints")
	}

	if cfg.Router.Fallback != "paper" {
		t.Errorf("Router.Fallback: got %q", cfg.Router.Fallback)
	}
	if cfg.Router.HistorySize != 1000 {
		t.Errorf("Router.HistorySize: got %d", cfg.Router.HistorySize)
	}

	if cfg.Risk.MaxTotalPositions != 20 {
		t.Errorf("Risk.MaxTotalPositions: got %d", cfg.Risk.MaxTotalPositions)
	}
	if cfg.Risk.CoolingOffMinutes != 30 {
		t.Errorf("Risk.CoolingOffMinutes: got %d", cfg.Risk.CoolingOffMinutes)
	}

	if cfg.Executor.RetryPolicy != "exponential_backoff" {
		t.Errorf("Executor.RetryPolicy: got %q", cfg.Executor.RetryPolicy)
	}
	if cfg.Executor.MaxAttempts != 3 {
		t.Errorf("Executor.MaxAttempts: got %d", cfg.Executor.MaxAttempts)
	}

	if cfg.Converter.SizingMethod != "percent_of_portfolio" {
		t.Errorf("Converter.SizingMethod: got %q", cfg.Converter.SizingMethod)
	}
	if cfg.Converter.DefaultTimeInForce != "day" {
		t.Errorf("Converter.DefaultTimeInForce: got %q", cfg.Converter.DefaultTimeInForce)
	}

	if cfg.Ledger.BaseCurrency != "AUD" {
		t.Errorf("Ledger.BaseCurrency: got %q", cfg.Ledger.BaseCurrency)
	}
	if cfg.Ledger.DiscountDays != 367 {
		t.Errorf("Ledger.DiscountDays: got %d, want 367", cfg.Ledger.DiscountDays)
	}
	if cfg.Ledger.FYStartMonth != 7 {
		t.Errorf("Ledger.FYStartMonth: got %d, want 7", cfg.Ledger.FYStartMonth)
	}

	if cfg.MarketData.LookbackDays != 250 {
		t.Errorf("MarketData.LookbackDays: got %d, want 250", cfg.MarketData.LookbackDays)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d, want 8080", cfg.API.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q", cfg.Logging.Level)
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test_config.yaml")
	content := []byte(`
broker:
  provider: "alpaca"
  alpaca:
    api_key: "test_key_12345678901234"
    api_secret: "test_secret_1234567890"
    paper: true
risk:
  max_position_size: "1000"
  max_daily_loss: "2500"
  cooling_off_minutes: 45
ledger:
  base_currency: "AUD"
  discount_days: 367
api:
  port: 9090
logging:
  level: "debug"
  pretty: true
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_KEY")
	os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_SECRET")

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.Broker.Provider != "alpaca" {
		t.Errorf("Broker.Provider: got %q", cfg.Broker.Provider)
	}
	if cfg.Broker.Alpaca.APIKey != "test_key_12345678901234" {
		t.Errorf("Alpaca.APIKey: got %q", cfg.Broker.Alpaca.APIKey)
	}
	if cfg.Risk.MaxPositionSize != "1000" {
		t.Errorf("Risk.MaxPositionSize: got %q", cfg.Risk.MaxPositionSize)
	}
	if cfg.Risk.CoolingOffMinutes != 45 {
		t.Errorf("Risk.CoolingOffMinutes: got %d", cfg.Risk.CoolingOffMinutes)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port: got %d, want 9090", cfg.API.Port)
	}
	if !cfg.Logging.Pretty {
		t.Error("Logging.Pretty should be true")
	}
	// Defaults still apply for untouched blocks.
	if cfg.Executor.MaxAttempts != 3 {
		t.Errorf("Executor.MaxAttempts default lost: got %d", cfg.Executor.MaxAttempts)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	cfg := &Config{}
	os.Setenv("TRADEFLOW_BROKER_ALPACA_API_KEY", "alpaca-env-key")
	os.Setenv("TRADEFLOW_BROKER_ALPACA_API_SECRET", "alpaca-env-secret")
	defer func() {
		os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_KEY")
		os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_SECRET")
	}()

	overrideFromEnv(cfg)

	if cfg.Broker.Alpaca.APIKey != "alpaca-env-key" {
		t.Errorf("Alpaca.APIKey: got %q", cfg.Broker.Alpaca.APIKey)
	}
	if cfg.Broker.Alpaca.APISecret != "alpaca-env-secret" {
		t.Errorf("Alpaca.APISecret: got %q", cfg.Broker.Alpaca.APISecret)
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_KEY")
	cfg := &Config{}
	cfg.Broker.Alpaca.APIKey = "from-config"
	overrideFromEnv(cfg)
	if cfg.Broker.Alpaca.APIKey != "from-config" {
		t.Errorf("APIKey should stay as config value when env unset, got %q", cfg.Broker.Alpaca.APIKey)
	}
}

// ── maskKey / CheckAPIKeys ──

func TestMaskKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"12345678", "***"},
		{"123456789", "123...789"},
		{"PKabcdef1234567890xyz", "PKa...xyz"},
	}
	for _, tc := range tests {
		if got := maskKey(tc.input); got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestCheckAPIKeys(t *testing.T) {
	os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_KEY")
	os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_SECRET")

	cfg := &Config{}
	statuses := CheckAPIKeys(cfg)
	if len(statuses) != 2 {
		t.Fatalf("CheckAPIKeys: got %d statuses, want 2", len(statuses))
	}
	for _, s := range statuses {
		if s.IsSet || s.Source != KeySourceNone {
			t.Errorf("key %q should be unset", s.Name)
		}
	}

	cfg.Broker.Alpaca.APIKey = "PK-config-key-value-long"
	statuses = CheckAPIKeys(cfg)
	if !statuses[0].IsSet || statuses[0].Source != KeySourceConfig {
		t.Errorf("config-sourced key misreported: %+v", statuses[0])
	}

	os.Setenv("TRADEFLOW_BROKER_ALPACA_API_KEY", "PK-config-key-value-long")
	defer os.Unsetenv("TRADEFLOW_BROKER_ALPACA_API_KEY")
	statuses = CheckAPIKeys(cfg)
	if statuses[0].Source != KeySourceEnv {
		t.Errorf("env-sourced key misreported: %+v", statuses[0])
	}
}

// ── homeDir ──

func TestHomeDirReturnsNonEmpty(t *testing.T) {
	if homeDir() == "" {
		t.Error("homeDir() should not return empty string")
	}
}
