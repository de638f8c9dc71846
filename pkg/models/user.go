package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// User is the owner of portfolios and settings in the persistence layer.
type User struct {
	ID              int64     `json:"id,omitempty"`
	Email           string    `json:"email"`
	Name            string    `json:"name,omitempty"`
	TaxJurisdiction string    `json:"tax_jurisdiction,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PortfolioType distinguishes how a persisted portfolio is driven.
type PortfolioType string

// Portfolio types.
const (
	PortfolioLive     PortfolioType = "live"
	PortfolioPaper    PortfolioType = "paper"
	PortfolioBacktest PortfolioType = "backtest"
)

// PortfolioRecord is the persisted portfolio row. Unique per (user, name);
// deleting a user cascades to its portfolios and their trades.
type PortfolioRecord struct {
	ID             int64           `json:"id,omitempty"`
	UserID         int64           `json:"user_id"`
	Name           string          `json:"name"`
	Type           PortfolioType   `json:"portfolio_type"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	Currency       string          `json:"currency"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate enforces the persisted-portfolio invariants.
func (p PortfolioRecord) Validate() error {
	if p.Name == "" || len(p.Name) > 255 {
		return fmt.Errorf("portfolio record: name must be 1-255 characters")
	}
	switch p.Type {
	case PortfolioLive, PortfolioPaper, PortfolioBacktest:
	default:
		return fmt.Errorf("portfolio record %s: unknown type %q", p.Name, p.Type)
	}
	if p.InitialCapital.IsNegative() {
		return fmt.Errorf("portfolio record %s: initial capital must be non-negative", p.Name)
	}
	if c := NormalizeCurrency(p.Currency); len(c) != 3 {
		return fmt.Errorf("portfolio record %s: currency %q is not a 3-letter code", p.Name, p.Currency)
	}
	return nil
}
