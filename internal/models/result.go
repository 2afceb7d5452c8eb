package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionResult struct {
	TransactionID  uuid.UUID         `json:"transactionId"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	Amount         string            `json:"amount"`
	AssetID        uuid.UUID         `json:"assetId"`
	UserBalance    string            `json:"userBalance"`
	IdempotencyKey string            `json:"idempotencyKey"`
	CreatedAt      time.Time         `json:"createdAt"`
	// Cached is true when the result replays an already committed transaction.
	Cached bool `json:"cached"`
}

func NewTransactionResult(tx *Transaction, userBalance decimal.Decimal, cached bool) *TransactionResult {
	return &TransactionResult{
		TransactionID:  tx.ID,
		Type:           tx.Type,
		Status:         tx.Status,
		Amount:         tx.Amount.StringFixed(AmountScale),
		AssetID:        tx.AssetID,
		UserBalance:    userBalance.StringFixed(AmountScale),
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt,
		Cached:         cached,
	}
}

type WalletBalance struct {
	WalletID    uuid.UUID `json:"walletId"`
	AssetID     uuid.UUID `json:"assetId"`
	AssetName   string    `json:"assetName"`
	AssetSymbol string    `json:"assetSymbol"`
	Balance     string    `json:"balance"`
}

type UserBalances struct {
	UserID   uuid.UUID       `json:"userId"`
	UserName string          `json:"userName"`
	Wallets  []WalletBalance `json:"wallets"`
}

type LedgerEntryView struct {
	ID           uuid.UUID `json:"id"`
	WalletID     uuid.UUID `json:"walletId"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balanceAfter"`
}

type TransactionDetails struct {
	TransactionID  uuid.UUID         `json:"transactionId"`
	UserID         uuid.UUID         `json:"userId"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	AssetID        uuid.UUID         `json:"assetId"`
	Amount         string            `json:"amount"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Metadata       map[string]any    `json:"metadata"`
	CreatedAt      time.Time         `json:"createdAt"`
	Entries        []LedgerEntryView `json:"entries"`
}

func NewTransactionDetails(tx *Transaction, entries []LedgerEntry) *TransactionDetails {
	d := &TransactionDetails{
		TransactionID:  tx.ID,
		UserID:         tx.UserID,
		Type:           tx.Type,
		Status:         tx.Status,
		AssetID:        tx.AssetID,
		Amount:         tx.Amount.StringFixed(AmountScale),
		IdempotencyKey: tx.IdempotencyKey,
		Metadata:       tx.Metadata,
		CreatedAt:      tx.CreatedAt,
		Entries:        make([]LedgerEntryView, 0, len(entries)),
	}
	for _, e := range entries {
		d.Entries = append(d.Entries, LedgerEntryView{
			ID:           e.ID,
			WalletID:     e.WalletID,
			Amount:       e.Amount.StringFixed(AmountScale),
			BalanceAfter: e.BalanceAfter.StringFixed(AmountScale),
		})
	}
	return d
}
