package store

// PostgresSchema creates the tables used by PostgresStore.
// Monetary columns are unconstrained NUMERIC so that price × quantity is
// stored exactly. Positions and orders cascade with their account.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	balance       NUMERIC NOT NULL CHECK (balance >= 0),
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	account_id    TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol        VARCHAR(10) NOT NULL,
	quantity      BIGINT NOT NULL CHECK (quantity > 0),
	average_price NUMERIC NOT NULL CHECK (average_price > 0),
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, symbol)
);

CREATE TABLE IF NOT EXISTS orders (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol      VARCHAR(10) NOT NULL,
	side        TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity    BIGINT NOT NULL CHECK (quantity > 0),
	price       NUMERIC NOT NULL CHECK (price > 0),
	total_value NUMERIC NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_account_recent
	ON orders (account_id, created_at DESC, seq DESC);
`

// SQLiteSchema creates the tables used by SQLiteStore. Decimals are kept
// as TEXT and timestamps as Unix nanoseconds so ordering is numeric.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	balance       TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	account_id    TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol        TEXT NOT NULL,
	quantity      INTEGER NOT NULL CHECK (quantity > 0),
	average_price TEXT NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (account_id, symbol)
);

CREATE TABLE IF NOT EXISTS orders (
	id          TEXT NOT NULL UNIQUE,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity    INTEGER NOT NULL CHECK (quantity > 0),
	price       TEXT NOT NULL,
	total_value TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_account_recent ON orders (account_id, created_at);
`
