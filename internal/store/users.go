package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seaquant/tradeflow/pkg/models"
)

// UserRepo persists users.
type UserRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// Create inserts a user and returns its ID. A zero CreatedAt is stamped
// with the current time.
func (r *UserRepo) Create(ctx context.Context, u *models.User) (int64, error) {
	if strings.TrimSpace(u.Email) == "" {
		return 0, fmt.Errorf("create user: empty email")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.TaxJurisdiction == "" {
		u.TaxJurisdiction = "AU"
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (email, name, tax_jurisdiction, created_at)
		VALUES (?, ?, ?, ?)`,
		strings.ToLower(strings.TrimSpace(u.Email)),
		u.Name,
		u.TaxJurisdiction,
		u.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	u.ID = id

	r.log.Info().Int64("user_id", id).Str("email", u.Email).Msg("user created")
	return id, nil
}

// Get returns the user with the given ID.
func (r *UserRepo) Get(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, tax_jurisdiction, created_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, tax_jurisdiction, created_at
		FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// Delete removes a user. Portfolios, settings, and trades cascade.
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	r.log.Info().Int64("user_id", id).Msg("user deleted")
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var created string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.TaxJurisdiction, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// parseTime reads the RFC 3339 strings this package writes, tolerating a
// bare date for rows imported from spreadsheets.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}
