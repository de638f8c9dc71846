package store

// Monetary columns are TEXT holding decimal strings: 4 dp for prices,
// quantities and values, 8 dp for FX rates. Deleting a user cascades to
// its portfolios, settings, and trades.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    email            TEXT UNIQUE NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    tax_jurisdiction TEXT NOT NULL DEFAULT 'AU',
    created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolios (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id         INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    portfolio_type  TEXT NOT NULL,
    initial_capital TEXT NOT NULL,
    current_value   TEXT NOT NULL,
    currency        TEXT NOT NULL,
    is_active       INTEGER NOT NULL DEFAULT 1,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS settings (
    user_id                  INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    risk_profile             TEXT NOT NULL,
    risk_score               REAL NOT NULL DEFAULT 0,
    max_position_pct         TEXT NOT NULL,
    max_portfolio_risk_pct   TEXT NOT NULL,
    investment_horizon_years INTEGER NOT NULL DEFAULT 0,
    alert_preferences        TEXT,
    updated_at               TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id               INTEGER REFERENCES users(id) ON DELETE CASCADE,
    portfolio_id          INTEGER REFERENCES portfolios(id) ON DELETE CASCADE,
    order_id              TEXT NOT NULL DEFAULT '',
    symbol                TEXT NOT NULL,
    side                  TEXT NOT NULL,
    quantity              TEXT NOT NULL,
    price                 TEXT NOT NULL,
    total_value           TEXT NOT NULL,
    commission            TEXT NOT NULL DEFAULT '0',
    executed_at           TEXT NOT NULL,
    signal_confidence     REAL NOT NULL DEFAULT 0,
    currency              TEXT NOT NULL,
    fx_rate_to_aud        TEXT NOT NULL,
    total_value_aud       TEXT NOT NULL,
    acquisition_date      TEXT,
    cost_basis_per_unit   TEXT NOT NULL DEFAULT '0',
    cost_basis_total      TEXT NOT NULL DEFAULT '0',
    holding_period_days   INTEGER NOT NULL DEFAULT 0,
    cgt_discount_eligible INTEGER NOT NULL DEFAULT 0,
    cgt_gross_gain        TEXT NOT NULL DEFAULT '0',
    cgt_gross_loss        TEXT NOT NULL DEFAULT '0',
    cgt_net_gain          TEXT NOT NULL DEFAULT '0',
    tax_year              TEXT NOT NULL,
    created_at            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_portfolios_user ON portfolios(user_id);
CREATE INDEX IF NOT EXISTS idx_trades_tax_year ON trades(tax_year);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
CREATE INDEX IF NOT EXISTS idx_trades_portfolio ON trades(portfolio_id);
`
