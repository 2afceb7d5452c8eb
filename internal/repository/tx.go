package repository

import (
	"context"

	"wallet_engine/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=tx.go -destination=../mocks/mock_tx.go -package=mocks Tx

// Tx is the write path available inside one atomic unit.
type Tx interface {
	// LockWalletPair locks both wallet rows in canonical order and returns
	// them in argument order, as read after the locks were granted.
	LockWalletPair(ctx context.Context, a, b uuid.UUID) (models.Wallet, models.Wallet, error)
	// ApplyBalanceDelta adds delta to the wallet balance and returns the new balance.
	ApplyBalanceDelta(ctx context.Context, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	InsertLedgerEntry(ctx context.Context, e *models.LedgerEntry) error
}
