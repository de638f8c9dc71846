package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// TradeRepo persists CGT trade records. It satisfies ledger.Store.
type TradeRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// SaveTrade inserts a trade record and returns its ID.
func (r *TradeRepo) SaveTrade(ctx context.Context, rec *models.TradeRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	acquired := sql.NullString{}
	if !rec.AcquisitionDate.IsZero() {
		acquired = sql.NullString{String: rec.AcquisitionDate.Format(time.RFC3339), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO trades
		(user_id, portfolio_id, order_id, symbol, side, quantity, price,
		 total_value, commission, executed_at, signal_confidence, currency,
		 fx_rate_to_aud, total_value_aud, acquisition_date,
		 cost_basis_per_unit, cost_basis_total, holding_period_days,
		 cgt_discount_eligible, cgt_gross_gain, cgt_gross_loss,
		 cgt_net_gain, tax_year, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(rec.UserID),
		nullableID(rec.PortfolioID),
		rec.OrderID,
		rec.Symbol,
		string(rec.Side),
		rec.Quantity.String(),
		rec.Price.String(),
		rec.TotalValue.String(),
		rec.Commission.String(),
		rec.ExecutedAt.Format(time.RFC3339),
		rec.SignalConfidence,
		rec.Currency,
		rec.FXRateToAUD.String(),
		rec.TotalValueAUD.String(),
		acquired,
		rec.CostBasisPerUnit.String(),
		rec.CostBasisTotal.String(),
		rec.HoldingPeriodDays,
		boolToInt(rec.CGTDiscountEligible),
		rec.CGTGrossGain.String(),
		rec.CGTGrossLoss.String(),
		rec.CGTNetGain.String(),
		rec.TaxYear,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("save trade %s: %w", rec.Symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save trade %s: %w", rec.Symbol, err)
	}
	rec.ID = id

	r.log.Info().Int64("trade_id", id).Str("symbol", rec.Symbol).
		Str("side", string(rec.Side)).Str("quantity", rec.Quantity.String()).
		Str("tax_year", rec.TaxYear).Msg("trade recorded")
	return id, nil
}

// TradesByTaxYear returns all trades booked to a tax year, oldest first.
func (r *TradeRepo) TradesByTaxYear(ctx context.Context, taxYear string) ([]*models.TradeRecord, error) {
	return r.list(ctx, `WHERE tax_year = ? ORDER BY executed_at ASC, id ASC`, taxYear)
}

// TradesBySymbol returns a symbol's trades, oldest first.
func (r *TradeRepo) TradesBySymbol(ctx context.Context, symbol string) ([]*models.TradeRecord, error) {
	return r.list(ctx, `WHERE symbol = ? ORDER BY executed_at ASC, id ASC`, symbol)
}

// TradesByPortfolio returns a portfolio's trades, oldest first.
func (r *TradeRepo) TradesByPortfolio(ctx context.Context, portfolioID int64) ([]*models.TradeRecord, error) {
	return r.list(ctx, `WHERE portfolio_id = ? ORDER BY executed_at ASC, id ASC`, portfolioID)
}

// History returns the most recent trades, newest first.
func (r *TradeRepo) History(ctx context.Context, limit int) ([]*models.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
}

const selectTrade = `
	SELECT id, user_id, portfolio_id, order_id, symbol, side, quantity,
	       price, total_value, commission, executed_at, signal_confidence,
	       currency, fx_rate_to_aud, total_value_aud, acquisition_date,
	       cost_basis_per_unit, cost_basis_total, holding_period_days,
	       cgt_discount_eligible, cgt_gross_gain, cgt_gross_loss,
	       cgt_net_gain, tax_year
	FROM trades `

func (r *TradeRepo) list(ctx context.Context, clause string, args ...any) ([]*models.TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectTrade+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []*models.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return out, nil
}

func scanTrade(rows *sql.Rows) (*models.TradeRecord, error) {
	var rec models.TradeRecord
	var userID, portfolioID sql.NullInt64
	var side, executed string
	var acquired sql.NullString
	var eligible int
	var qty, price, total, commission, fx, totalAUD string
	var basisUnit, basisTotal, gain, loss, net string

	err := rows.Scan(&rec.ID, &userID, &portfolioID, &rec.OrderID,
		&rec.Symbol, &side, &qty, &price, &total, &commission, &executed,
		&rec.SignalConfidence, &rec.Currency, &fx, &totalAUD, &acquired,
		&basisUnit, &basisTotal, &rec.HoldingPeriodDays, &eligible,
		&gain, &loss, &net, &rec.TaxYear)
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
		col string
	}{
		{&rec.Quantity, qty, "quantity"},
		{&rec.Price, price, "price"},
		{&rec.TotalValue, total, "total_value"},
		{&rec.Commission, commission, "commission"},
		{&rec.FXRateToAUD, fx, "fx_rate_to_aud"},
		{&rec.TotalValueAUD, totalAUD, "total_value_aud"},
		{&rec.CostBasisPerUnit, basisUnit, "cost_basis_per_unit"},
		{&rec.CostBasisTotal, basisTotal, "cost_basis_total"},
		{&rec.CGTGrossGain, gain, "cgt_gross_gain"},
		{&rec.CGTGrossLoss, loss, "cgt_gross_loss"},
		{&rec.CGTNetGain, net, "cgt_net_gain"},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("scan trade %d: %s: %w", rec.ID, f.col, err)
		}
		*f.dst = v
	}

	rec.UserID = userID.Int64
	rec.PortfolioID = portfolioID.Int64
	rec.Side = models.OrderSide(side)
	rec.CGTDiscountEligible = eligible != 0
	if rec.ExecutedAt, err = parseTime(executed); err != nil {
		return nil, fmt.Errorf("scan trade %d: %w", rec.ID, err)
	}
	if acquired.Valid {
		if rec.AcquisitionDate, err = parseTime(acquired.String); err != nil {
			return nil, fmt.Errorf("scan trade %d: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
