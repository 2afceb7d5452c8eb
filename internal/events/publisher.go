// Package events publishes committed wallet transactions to downstream
// consumers. Publishing happens after commit and is best effort.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wallet_engine/internal/models"

	"github.com/google/uuid"
)

//go:generate mockgen -source=publisher.go -destination=../mocks/mock_publisher.go -package=mocks Publisher

const EventTransactionCompleted = "transaction.completed"

type TransactionEvent struct {
	EventType      string                 `json:"event_type"`
	TransactionID  uuid.UUID              `json:"transaction_id"`
	UserID         uuid.UUID              `json:"user_id"`
	AssetID        uuid.UUID              `json:"asset_id"`
	Type           models.TransactionType `json:"transaction_type"`
	Status         string                 `json:"status"`
	Amount         string                 `json:"amount"`
	BalanceAfter   string                 `json:"balance_after"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

func NewTransactionCompleted(userID uuid.UUID, res *models.TransactionResult, metadata map[string]any) *TransactionEvent {
	return &TransactionEvent{
		EventType:      EventTransactionCompleted,
		TransactionID:  res.TransactionID,
		UserID:         userID,
		AssetID:        res.AssetID,
		Type:           res.Type,
		Status:         string(res.Status),
		Amount:         res.Amount,
		BalanceAfter:   res.UserBalance,
		IdempotencyKey: res.IdempotencyKey,
		Metadata:       metadata,
		Timestamp:      res.CreatedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event *TransactionEvent) error
	Close() error
}

func encode(event *TransactionEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *TransactionEvent) error { return nil }
func (NoopPublisher) Close() error                                    { return nil }
