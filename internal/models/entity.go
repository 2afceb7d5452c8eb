package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits stored and returned for
// every amount and balance.
const AmountScale = 4

type TransactionType string

const (
	TransactionTopup TransactionType = "TOPUP"
	TransactionBonus TransactionType = "BONUS"
	TransactionSpend TransactionType = "SPEND"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTopup, TransactionBonus, TransactionSpend:
		return true
	}
	return false
}

type TransactionStatus string

const TransactionCompleted TransactionStatus = "COMPLETED"

type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsSystem  bool      `db:"is_system" json:"isSystem"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Asset struct {
	ID     uuid.UUID `db:"id" json:"id"`
	Name   string    `db:"name" json:"name"`
	Symbol string    `db:"symbol" json:"symbol"`
}

type Wallet struct {
	ID        uuid.UUID       `db:"id" json:"walletId"`
	UserID    uuid.UUID       `db:"user_id" json:"userId"`
	AssetID   uuid.UUID       `db:"asset_id" json:"assetId"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

type Transaction struct {
	ID             uuid.UUID         `db:"id"`
	UserID         uuid.UUID         `db:"user_id"`
	Type           TransactionType   `db:"type"`
	Status         TransactionStatus `db:"status"`
	AssetID        uuid.UUID         `db:"asset_id"`
	Amount         decimal.Decimal   `db:"amount"`
	IdempotencyKey string            `db:"idempotency_key"`
	Metadata       map[string]any    `db:"metadata"`
	CreatedAt      time.Time         `db:"created_at"`
}

type LedgerEntry struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	WalletID      uuid.UUID       `db:"wallet_id" json:"walletId"`
	TransactionID uuid.UUID       `db:"transaction_id" json:"transactionId"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balanceAfter"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}

// WalletWithAsset is a wallet row joined with its asset, used for balance listings.
type WalletWithAsset struct {
	Wallet
	AssetName   string `db:"asset_name"`
	AssetSymbol string `db:"asset_symbol"`
}
