package repository

import (
	"context"
	"log/slog"

	"wallet_engine/internal/models"

	"github.com/google/uuid"
)

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, transaction_id, amount, balance_after)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		e.ID, e.WalletID, e.TransactionID, e.Amount, e.BalanceAfter,
	).Scan(&e.CreatedAt)
	if err != nil {
		t.logger.Error("Failed to insert ledger entry",
			slog.String("wallet_id", e.WalletID.String()),
			slog.String("transaction_id", e.TransactionID.String()),
			slog.Any("err", err),
		)
		return mapPGError(err)
	}
	return nil
}

// ListLedgerEntries returns the entries of one transaction, debit first.
func (r *WalletPGRepository) ListLedgerEntries(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet_id, transaction_id, amount, balance_after, created_at
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY amount ASC`, transactionID)
	if err != nil {
		r.logger.Error("Failed to list ledger entries",
			slog.String("transaction_id", transactionID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.TransactionID, &e.Amount, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
