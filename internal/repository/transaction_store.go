package repository

import (
	"context"
	"errors"
	"log/slog"

	"wallet_engine/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, user_id, type, status, asset_id, amount, idempotency_key, metadata, created_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Status, &t.AssetID, &t.Amount,
		&t.IdempotencyKey, &t.Metadata, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *WalletPGRepository) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		r.logger.Error("Failed to find transaction by idempotency key",
			slog.String("idempotency_key", key),
			slog.Any("err", err),
		)
		return nil, err
	}
	return t, nil
}

func (r *WalletPGRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get transaction",
			slog.String("transaction_id", id.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return t, nil
}

// InsertTransaction stores t and fills in CreatedAt. A second row with the
// same idempotency key fails with ErrDuplicateIdempotencyKey.
func (t *pgTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	if tr.Metadata == nil {
		tr.Metadata = map[string]any{}
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, type, status, asset_id, amount, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		tr.ID, tr.UserID, tr.Type, tr.Status, tr.AssetID, tr.Amount, tr.IdempotencyKey, tr.Metadata,
	).Scan(&tr.CreatedAt)
	if err != nil {
		err = mapPGError(err)
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			t.logger.Warn("Duplicate idempotency key on insert",
				slog.String("idempotency_key", tr.IdempotencyKey),
			)
			return err
		}
		t.logger.Error("Failed to insert transaction",
			slog.String("transaction_id", tr.ID.String()),
			slog.String("type", string(tr.Type)),
			slog.Any("err", err),
		)
		return err
	}
	return nil
}
