package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionRequest is the body of POST /api/v1/transactions/{topup,bonus,spend}.
type TransactionRequest struct {
	UserID   uuid.UUID       `json:"userId" binding:"required"`
	AssetID  uuid.UUID       `json:"assetId" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Metadata map[string]any  `json:"metadata"`
}
