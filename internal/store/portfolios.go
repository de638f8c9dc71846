package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ErrDuplicateName is returned when a user already has a portfolio with
// the requested name.
var ErrDuplicateName = fmt.Errorf("store: portfolio name already in use")

// PortfolioRepo persists portfolio rows.
type PortfolioRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// Create inserts a portfolio and returns its ID. Names are unique per
// user.
func (r *PortfolioRepo) Create(ctx context.Context, p *models.PortfolioRecord) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.CurrentValue.IsZero() {
		p.CurrentValue = p.InitialCapital
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolios
		(user_id, name, portfolio_type, initial_capital, current_value,
		 currency, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID,
		p.Name,
		string(p.Type),
		p.InitialCapital.String(),
		p.CurrentValue.String(),
		models.NormalizeCurrency(p.Currency),
		boolToInt(p.IsActive),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, fmt.Errorf("%w: %q for user %d", ErrDuplicateName, p.Name, p.UserID)
		}
		return 0, fmt.Errorf("create portfolio: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create portfolio: %w", err)
	}
	p.ID = id

	r.log.Info().Int64("portfolio_id", id).Int64("user_id", p.UserID).
		Str("name", p.Name).Str("type", string(p.Type)).Msg("portfolio created")
	return id, nil
}

// Get returns the portfolio with the given ID.
func (r *PortfolioRepo) Get(ctx context.Context, id int64) (*models.PortfolioRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectPortfolio+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get portfolio %d: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get portfolio %d: %w", id, err)
		}
		return nil, ErrNotFound
	}
	return scanPortfolio(rows)
}

// ListByUser returns the user's portfolios, newest first.
func (r *PortfolioRepo) ListByUser(ctx context.Context, userID int64) ([]*models.PortfolioRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectPortfolio+` WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list portfolios for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*models.PortfolioRecord
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list portfolios for user %d: %w", userID, err)
	}
	return out, nil
}

// UpdateValue stamps the portfolio's current value.
func (r *PortfolioRepo) UpdateValue(ctx context.Context, id int64, value decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE portfolios SET current_value = ?, updated_at = ? WHERE id = ?`,
		value.String(), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update portfolio %d: %w", id, err)
	}
	return requireAffected(res, id)
}

// SetActive flips the active flag.
func (r *PortfolioRepo) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE portfolios SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update portfolio %d: %w", id, err)
	}
	return requireAffected(res, id)
}

// Delete removes a portfolio. Its trades cascade.
func (r *PortfolioRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM portfolios WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete portfolio %d: %w", id, err)
	}
	return requireAffected(res, id)
}

const selectPortfolio = `
	SELECT id, user_id, name, portfolio_type, initial_capital,
	       current_value, currency, is_active, created_at, updated_at
	FROM portfolios`

func scanPortfolio(rows *sql.Rows) (*models.PortfolioRecord, error) {
	var p models.PortfolioRecord
	var ptype, capital, value, created, updated string
	var active int
	err := rows.Scan(&p.ID, &p.UserID, &p.Name, &ptype, &capital,
		&value, &p.Currency, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan portfolio: %w", err)
	}
	p.Type = models.PortfolioType(ptype)
	p.IsActive = active != 0
	if p.InitialCapital, err = decimal.NewFromString(capital); err != nil {
		return nil, fmt.Errorf("scan portfolio %d: initial capital: %w", p.ID, err)
	}
	if p.CurrentValue, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("scan portfolio %d: current value: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("scan portfolio %d: %w", p.ID, err)
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("scan portfolio %d: %w", p.ID, err)
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("portfolio %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
