// Package store is the sqlite persistence layer: users, portfolios,
// per-user settings, and the CGT trade ledger. Decimals are stored as
// TEXT to keep their exact scale; times are RFC 3339 strings.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = fmt.Errorf("store: not found")

// Store owns the database handle and the repositories.
type Store struct {
	db   *sql.DB
	path string

	Users      *UserRepo
	Portfolios *PortfolioRepo
	Settings   *SettingsRepo
	Trades     *TradeRepo
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" opens a private in-memory database.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// The in-memory database lives in a single connection; pooling past
	// it would hand out empty databases.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, path: path}
	s.Users = &UserRepo{db: db, log: log.With().Str("repo", "users").Logger()}
	s.Portfolios = &PortfolioRepo{db: db, log: log.With().Str("repo", "portfolios").Logger()}
	s.Settings = &SettingsRepo{db: db, log: log.With().Str("repo", "settings").Logger()}
	s.Trades = &TradeRepo{db: db, log: log.With().Str("repo", "trades").Logger()}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// nullableID maps zero IDs to NULL so optional foreign keys stay valid.
func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
