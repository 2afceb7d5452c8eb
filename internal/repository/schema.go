package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	is_system  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_single_system ON users (is_system) WHERE is_system;

CREATE TABLE IF NOT EXISTS assets (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	symbol     VARCHAR(16) NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wallets (
	id         UUID PRIMARY KEY,
	user_id    UUID NOT NULL REFERENCES users(id),
	asset_id   UUID NOT NULL REFERENCES assets(id),
	balance    NUMERIC(20, 4) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, asset_id)
);

CREATE TABLE IF NOT EXISTS transactions (
	id              UUID PRIMARY KEY,
	user_id         UUID NOT NULL REFERENCES users(id),
	type            VARCHAR(16) NOT NULL CHECK (type IN ('TOPUP', 'BONUS', 'SPEND')),
	status          VARCHAR(16) NOT NULL CHECK (status IN ('COMPLETED')),
	asset_id        UUID NOT NULL REFERENCES assets(id),
	amount          NUMERIC(20, 4) NOT NULL CHECK (amount > 0),
	idempotency_key VARCHAR(128) NOT NULL,
	metadata        JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT transactions_idempotency_key_key UNIQUE (idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id             UUID PRIMARY KEY,
	wallet_id      UUID NOT NULL REFERENCES wallets(id),
	transaction_id UUID NOT NULL REFERENCES transactions(id),
	amount         NUMERIC(20, 4) NOT NULL,
	balance_after  NUMERIC(20, 4) NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries(transaction_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet ON ledger_entries(wallet_id);
`

// Migrate creates the tables and indexes if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
