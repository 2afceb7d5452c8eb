package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wallet_engine/internal/apperr"
	"wallet_engine/internal/cache"
	"wallet_engine/internal/events"
	"wallet_engine/internal/models"
	"wallet_engine/internal/repository"

	"github.com/google/uuid"
)

//go:generate mockgen -source=service.go -destination=../mocks/mock_store.go -package=mocks Store

type Store interface {
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListLedgerEntries(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEntry, error)
	FindWallet(ctx context.Context, userID, assetID uuid.UUID) (*models.Wallet, error)
	FindTreasuryWallet(ctx context.Context, assetID uuid.UUID) (*models.Wallet, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	ListUserWallets(ctx context.Context, userID uuid.UUID) ([]models.WalletWithAsset, error)
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

type WalletService struct {
	store      Store
	cache      cache.BalanceCache
	publisher  events.Publisher
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

type Option func(*WalletService)

func WithBalanceCache(c cache.BalanceCache) Option {
	return func(s *WalletService) { s.cache = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *WalletService) { s.publisher = p }
}

// WithMaxRetries sets how many times a unit is attempted when PostgreSQL
// reports a serialization failure or deadlock.
func WithMaxRetries(n int) Option {
	return func(s *WalletService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func NewWalletService(store Store, logger *slog.Logger, opts ...Option) *WalletService {
	s := &WalletService{
		store:      store,
		cache:      cache.NoopBalanceCache{},
		publisher:  events.NoopPublisher{},
		logger:     logger,
		maxRetries: 3,
		backoff:    10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBalances lists every wallet of the user ordered by asset symbol.
// The listing is a point-in-time snapshot and takes no locks.
func (s *WalletService) GetBalances(ctx context.Context, userID uuid.UUID) (*models.UserBalances, error) {
	cached, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("Balance cache read failed",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.NotFoundID("User", userID.String())
		}
		return nil, s.translate(err)
	}
	wallets, err := s.store.ListUserWallets(ctx, userID)
	if err != nil {
		return nil, s.translate(err)
	}

	out := &models.UserBalances{
		UserID:   user.ID,
		UserName: user.Name,
		Wallets:  make([]models.WalletBalance, 0, len(wallets)),
	}
	for _, w := range wallets {
		out.Wallets = append(out.Wallets, models.WalletBalance{
			WalletID:    w.ID,
			AssetID:     w.AssetID,
			AssetName:   w.AssetName,
			AssetSymbol: w.AssetSymbol,
			Balance:     w.Balance.StringFixed(models.AmountScale),
		})
	}

	if err := s.cache.Set(ctx, out); err != nil {
		s.logger.Warn("Balance cache write failed",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
	}
	return out, nil
}

func (s *WalletService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.TransactionDetails, error) {
	tr, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, apperr.NotFoundID("Transaction", id.String())
		}
		return nil, s.translate(err)
	}
	entries, err := s.store.ListLedgerEntries(ctx, id)
	if err != nil {
		return nil, s.translate(err)
	}
	return models.NewTransactionDetails(tr, entries), nil
}

// translate maps store and context failures onto error kinds. Errors that
// already carry a kind pass through unchanged.
func (s *WalletService) translate(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Unavailable("request cancelled or timed out", err)
	case errors.Is(err, repository.ErrLockTimeout):
		return apperr.Conflict("wallet is busy, retry the request", err)
	case repository.IsRetryable(err):
		return apperr.Conflict("concurrent update detected, retry the request", err)
	case errors.Is(err, repository.ErrWalletNotFound):
		return apperr.NotFound("Wallet")
	}
	s.logger.Error("Unexpected store failure", slog.Any("err", err))
	return apperr.Internal(err)
}
