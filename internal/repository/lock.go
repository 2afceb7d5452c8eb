package repository

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"wallet_engine/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CanonicalOrder returns a and b sorted by their byte representation, which
// matches both PostgreSQL's uuid ordering and the order of their string form.
func CanonicalOrder(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// LockWalletPair takes row locks on both wallets, always lower id first,
// whatever direction the money moves in. Two units touching the same pair
// therefore queue on the same first row and cannot deadlock each other.
func (t *pgTx) LockWalletPair(ctx context.Context, a, b uuid.UUID) (models.Wallet, models.Wallet, error) {
	if a == b {
		return models.Wallet{}, models.Wallet{}, ErrSameWallet
	}
	first, second := CanonicalOrder(a, b)

	locked := make(map[uuid.UUID]models.Wallet, 2)
	for _, id := range [2]uuid.UUID{first, second} {
		w, err := t.lockWallet(ctx, id)
		if err != nil {
			return models.Wallet{}, models.Wallet{}, err
		}
		locked[id] = w
	}
	return locked[a], locked[b], nil
}

func (t *pgTx) lockWallet(ctx context.Context, walletID uuid.UUID) (models.Wallet, error) {
	var w models.Wallet
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, asset_id, balance, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE`, walletID).Scan(&w.ID, &w.UserID, &w.AssetID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		t.logger.Error("Failed to select wallet for update",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{}, mapPGError(err)
	}
	return w, nil
}
