package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// SettingsRepo persists per-user settings, one row per user.
type SettingsRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// Upsert writes the user's settings, replacing any previous row. Alert
// preferences are stored as JSON.
func (r *SettingsRepo) Upsert(ctx context.Context, s *models.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	prefs := sql.NullString{}
	if len(s.AlertPreferences) > 0 {
		raw, err := json.Marshal(s.AlertPreferences)
		if err != nil {
			return fmt.Errorf("settings for user %d: encode alert preferences: %w", s.UserID, err)
		}
		prefs = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings
		(user_id, risk_profile, risk_score, max_position_pct,
		 max_portfolio_risk_pct, investment_horizon_years,
		 alert_preferences, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		 risk_profile = excluded.risk_profile,
		 risk_score = excluded.risk_score,
		 max_position_pct = excluded.max_position_pct,
		 max_portfolio_risk_pct = excluded.max_portfolio_risk_pct,
		 investment_horizon_years = excluded.investment_horizon_years,
		 alert_preferences = excluded.alert_preferences,
		 updated_at = excluded.updated_at`,
		s.UserID,
		string(s.RiskProfile),
		s.RiskScore,
		s.MaxPositionPct.String(),
		s.MaxPortfolioRiskPct.String(),
		s.InvestmentHorizonYears,
		prefs,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert settings for user %d: %w", s.UserID, err)
	}

	r.log.Info().Int64("user_id", s.UserID).
		Str("risk_profile", string(s.RiskProfile)).Msg("settings saved")
	return nil
}

// Get returns the user's settings.
func (r *SettingsRepo) Get(ctx context.Context, userID int64) (*models.Settings, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, risk_profile, risk_score, max_position_pct,
		       max_portfolio_risk_pct, investment_horizon_years,
		       alert_preferences
		FROM settings WHERE user_id = ?`, userID)

	var s models.Settings
	var profile, maxPos, maxRisk string
	var prefs sql.NullString
	err := row.Scan(&s.UserID, &profile, &s.RiskScore, &maxPos,
		&maxRisk, &s.InvestmentHorizonYears, &prefs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings for user %d: %w", userID, err)
	}
	s.RiskProfile = models.RiskProfile(profile)
	if s.MaxPositionPct, err = decimal.NewFromString(maxPos); err != nil {
		return nil, fmt.Errorf("settings for user %d: max position pct: %w", userID, err)
	}
	if s.MaxPortfolioRiskPct, err = decimal.NewFromString(maxRisk); err != nil {
		return nil, fmt.Errorf("settings for user %d: max portfolio risk pct: %w", userID, err)
	}
	if prefs.Valid && prefs.String != "" {
		if err := json.Unmarshal([]byte(prefs.String), &s.AlertPreferences); err != nil {
			return nil, fmt.Errorf("settings for user %d: decode alert preferences: %w", userID, err)
		}
	}
	return &s, nil
}
