package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ════════════════════════════════════════════════════════════════════
// Per-User Settings
// ════════════════════════════════════════════════════════════════════

// RiskProfile is the user's declared appetite.
type RiskProfile string

// Risk profiles.
const (
	RiskConservative RiskProfile = "conservative"
	RiskModerate     RiskProfile = "moderate"
	RiskAggressive   RiskProfile = "aggressive"
)

// AlertChannel names a delivery channel for alerts.
type AlertChannel string

// Alert channels.
const (
	ChannelEmail   AlertChannel = "email"
	ChannelSMS     AlertChannel = "sms"
	ChannelPush    AlertChannel = "push"
	ChannelWebhook AlertChannel = "webhook"
)

// AlertRateLimit throttles one channel.
type AlertRateLimit struct {
	MaxPerHour      int `json:"max_per_hour,omitempty"`
	MaxPerDay       int `json:"max_per_day,omitempty"`
	MaxPerWeek      int `json:"max_per_week,omitempty"`
	CooldownMinutes int `json:"cooldown_minutes,omitempty"`
}

// ChannelPrefs configures one alert channel.
type ChannelPrefs struct {
	Enabled    bool            `json:"enabled"`
	Address    string          `json:"address,omitempty"`
	AlertTypes []string        `json:"alert_types,omitempty"`
	RateLimit  *AlertRateLimit `json:"rate_limit,omitempty"`
}

// AlertPreferences maps channel to its preferences. Persistence layers
// detect changes by identity, so mutations must build a new map and
// reassign it rather than edit in place; WithChannel does that.
type AlertPreferences map[AlertChannel]ChannelPrefs

// WithChannel returns a copy of prefs with ch set to p.
func (a AlertPreferences) WithChannel(ch AlertChannel, p ChannelPrefs) AlertPreferences {
	out := make(AlertPreferences, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	out[ch] = p
	return out
}

// Settings is the per-user risk profile consumed by the risk manager and
// signal converter defaults.
type Settings struct {
	UserID                  int64            `json:"user_id"`
	RiskProfile             RiskProfile      `json:"risk_profile"`
	RiskScore               float64          `json:"risk_score"`
	MaxPositionPct          decimal.Decimal  `json:"max_position_pct"`
	MaxPortfolioRiskPct     decimal.Decimal  `json:"max_portfolio_risk_pct"`
	InvestmentHorizonYears  int              `json:"investment_horizon_years"`
	AlertPreferences        AlertPreferences `json:"alert_preferences,omitempty"`
}

// Validate enforces the documented ranges.
func (s Settings) Validate() error {
	switch s.RiskProfile {
	case RiskConservative, RiskModerate, RiskAggressive:
	default:
		return fmt.Errorf("settings: unknown risk profile %q", s.RiskProfile)
	}
	if s.RiskScore < 0 || s.RiskScore > 10 {
		return fmt.Errorf("settings: risk score %.2f outside [0,10]", s.RiskScore)
	}
	hundred := decimal.NewFromInt(100)
	if s.MaxPositionPct.IsNegative() || s.MaxPositionPct.GreaterThan(hundred) {
		return fmt.Errorf("settings: max position pct %s outside [0,100]", s.MaxPositionPct)
	}
	if s.MaxPortfolioRiskPct.IsNegative() || s.MaxPortfolioRiskPct.GreaterThan(hundred) {
		return fmt.Errorf("settings: max portfolio risk pct %s outside [0,100]", s.MaxPortfolioRiskPct)
	}
	if s.InvestmentHorizonYears < 0 {
		return fmt.Errorf("settings: investment horizon must be non-negative")
	}
	return nil
}
