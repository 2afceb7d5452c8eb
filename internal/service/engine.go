package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"wallet_engine/internal/apperr"
	"wallet_engine/internal/events"
	"wallet_engine/internal/models"
	"wallet_engine/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const MaxIdempotencyKeyLength = 128

// maxAmount keeps amounts inside NUMERIC(20, 4).
var maxAmount = decimal.New(1, 16)

func (s *WalletService) Topup(ctx context.Context, req models.TransactionRequest, idempotencyKey string) (*models.TransactionResult, error) {
	return s.Execute(ctx, models.TransactionTopup, req, idempotencyKey)
}

func (s *WalletService) Bonus(ctx context.Context, req models.TransactionRequest, idempotencyKey string) (*models.TransactionResult, error) {
	return s.Execute(ctx, models.TransactionBonus, req, idempotencyKey)
}

func (s *WalletService) Spend(ctx context.Context, req models.TransactionRequest, idempotencyKey string) (*models.TransactionResult, error) {
	return s.Execute(ctx, models.TransactionSpend, req, idempotencyKey)
}

// Execute moves req.Amount between the user's wallet and the treasury wallet
// of the asset. TOPUP and BONUS credit the user, SPEND debits the user after
// checking the locked balance. A key that was already committed returns the
// stored transaction with Cached set instead of moving money again.
func (s *WalletService) Execute(ctx context.Context, kind models.TransactionType, req models.TransactionRequest, idempotencyKey string) (*models.TransactionResult, error) {
	start := time.Now()
	res, err := s.execute(ctx, kind, req, idempotencyKey)
	transactionDuration.WithLabelValues(typeLabel(kind)).Observe(time.Since(start).Seconds())
	transactionsTotal.WithLabelValues(typeLabel(kind), outcomeLabel(res, err)).Inc()
	return res, err
}

func (s *WalletService) execute(ctx context.Context, kind models.TransactionType, req models.TransactionRequest, idempotencyKey string) (*models.TransactionResult, error) {
	if err := validateRequest(kind, req, idempotencyKey); err != nil {
		s.logger.Warn("Rejected transaction request",
			slog.String("type", string(kind)),
			slog.String("idempotency_key", idempotencyKey),
			slog.Any("err", err),
		)
		return nil, err
	}
	s.logger.Info("Transaction request",
		slog.String("type", string(kind)),
		slog.String("user_id", req.UserID.String()),
		slog.String("asset_id", req.AssetID.String()),
		slog.String("amount", req.Amount.String()),
		slog.String("idempotency_key", idempotencyKey),
	)

	if res, err := s.replay(ctx, req, idempotencyKey); res != nil || err != nil {
		return res, err
	}

	userWallet, err := s.store.FindWallet(ctx, req.UserID, req.AssetID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("Wallet for user %s / asset %s", req.UserID, req.AssetID))
		}
		return nil, s.translate(err)
	}
	treasury, err := s.store.FindTreasuryWallet(ctx, req.AssetID)
	if err != nil {
		if errors.Is(err, repository.ErrTreasuryNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("Treasury wallet for asset %s", req.AssetID))
		}
		return nil, s.translate(err)
	}
	if treasury.ID == userWallet.ID {
		return nil, apperr.Validation("the treasury cannot be the counterparty of its own transaction")
	}

	var res *models.TransactionResult
	for i := 0; i < s.maxRetries; i++ {
		res, err = s.apply(ctx, kind, req, idempotencyKey, userWallet.ID, treasury.ID)
		if err == nil || !repository.IsRetryable(err) || i == s.maxRetries-1 {
			break
		}
		transactionRetries.WithLabelValues(string(kind)).Inc()
		s.logger.Warn("Retrying transaction",
			slog.String("type", string(kind)),
			slog.String("idempotency_key", idempotencyKey),
			slog.Int("attempt", i+1),
			slog.Any("err", err),
		)
		if serr := sleepCtx(ctx, time.Duration(1<<i)*s.backoff); serr != nil {
			err = serr
			break
		}
	}

	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			// A concurrent request with the same key committed first. Its row
			// is visible now, so answer from it.
			replayed, rerr := s.replay(ctx, req, idempotencyKey)
			if rerr != nil {
				return nil, rerr
			}
			if replayed != nil {
				s.logger.Info("Resolved concurrent duplicate submission",
					slog.String("idempotency_key", idempotencyKey),
					slog.String("transaction_id", replayed.TransactionID.String()),
				)
				return replayed, nil
			}
			return nil, apperr.IdempotencyConflict(idempotencyKey, err)
		}
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindInsufficientBalance {
			s.logger.Warn("Spend rejected: insufficient balance",
				slog.String("user_id", req.UserID.String()),
				slog.String("available", e.Available),
				slog.String("requested", e.Requested),
			)
			return nil, err
		}
		s.logger.Error("Transaction failed",
			slog.String("type", string(kind)),
			slog.String("idempotency_key", idempotencyKey),
			slog.Any("err", err),
		)
		return nil, s.translate(err)
	}

	s.logger.Info("Transaction completed",
		slog.String("transaction_id", res.TransactionID.String()),
		slog.String("type", string(kind)),
		slog.String("user_balance", res.UserBalance),
	)
	s.afterCommit(ctx, req, res)
	return res, nil
}

// apply runs one attempt of the atomic unit.
func (s *WalletService) apply(
	ctx context.Context,
	kind models.TransactionType,
	req models.TransactionRequest,
	idempotencyKey string,
	userWalletID, treasuryWalletID uuid.UUID,
) (*models.TransactionResult, error) {
	var res *models.TransactionResult
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		lockedUser, _, err := tx.LockWalletPair(ctx, userWalletID, treasuryWalletID)
		if err != nil {
			return err
		}

		debitID, creditID := treasuryWalletID, userWalletID
		if kind == models.TransactionSpend {
			if lockedUser.Balance.LessThan(req.Amount) {
				return apperr.InsufficientBalance(
					lockedUser.Balance.StringFixed(models.AmountScale),
					req.Amount.StringFixed(models.AmountScale),
				)
			}
			debitID, creditID = userWalletID, treasuryWalletID
		}

		debitBalance, err := tx.ApplyBalanceDelta(ctx, debitID, req.Amount.Neg())
		if err != nil {
			return err
		}
		creditBalance, err := tx.ApplyBalanceDelta(ctx, creditID, req.Amount)
		if err != nil {
			return err
		}

		tr := &models.Transaction{
			ID:             uuid.New(),
			UserID:         req.UserID,
			Type:           kind,
			Status:         models.TransactionCompleted,
			AssetID:        req.AssetID,
			Amount:         req.Amount,
			IdempotencyKey: idempotencyKey,
			Metadata:       req.Metadata,
		}
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}

		if err := tx.InsertLedgerEntry(ctx, &models.LedgerEntry{
			ID:            uuid.New(),
			WalletID:      debitID,
			TransactionID: tr.ID,
			Amount:        req.Amount.Neg(),
			BalanceAfter:  debitBalance,
		}); err != nil {
			return err
		}
		if err := tx.InsertLedgerEntry(ctx, &models.LedgerEntry{
			ID:            uuid.New(),
			WalletID:      creditID,
			TransactionID: tr.ID,
			Amount:        req.Amount,
			BalanceAfter:  creditBalance,
		}); err != nil {
			return err
		}

		userBalance := creditBalance
		if debitID == userWalletID {
			userBalance = debitBalance
		}
		res = models.NewTransactionResult(tr, userBalance, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// replay returns the stored result for an already used key, or nil, nil
// when the key is new.
func (s *WalletService) replay(ctx context.Context, req models.TransactionRequest, idempotencyKey string) (*models.TransactionResult, error) {
	existing, err := s.store.FindTransactionByIdempotencyKey(ctx, idempotencyKey)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.translate(err)
	}

	wallet, err := s.store.FindWallet(ctx, req.UserID, req.AssetID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("Wallet for user %s / asset %s", req.UserID, req.AssetID))
		}
		return nil, s.translate(err)
	}
	s.logger.Info("Idempotent replay",
		slog.String("idempotency_key", idempotencyKey),
		slog.String("transaction_id", existing.ID.String()),
	)
	return models.NewTransactionResult(existing, wallet.Balance, true), nil
}

// afterCommit drops the user's cached balances and publishes the event.
// Failures are logged; the transaction is already durable.
func (s *WalletService) afterCommit(ctx context.Context, req models.TransactionRequest, res *models.TransactionResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.cache.Invalidate(ctx, req.UserID); err != nil {
		sideEffectErrors.WithLabelValues("cache_invalidate").Inc()
		s.logger.Warn("Balance cache invalidation failed",
			slog.String("user_id", req.UserID.String()),
			slog.Any("err", err),
		)
	}
	if err := s.publisher.Publish(ctx, events.NewTransactionCompleted(req.UserID, res, req.Metadata)); err != nil {
		sideEffectErrors.WithLabelValues("publish").Inc()
		s.logger.Warn("Transaction event publish failed",
			slog.String("transaction_id", res.TransactionID.String()),
			slog.Any("err", err),
		)
	}
}

func validateRequest(kind models.TransactionType, req models.TransactionRequest, idempotencyKey string) error {
	switch {
	case !kind.Valid():
		return apperr.Validation(fmt.Sprintf("unknown transaction type %q", kind))
	case idempotencyKey == "":
		return apperr.Validation("Idempotency-Key header is required")
	case utf8.RuneCountInString(idempotencyKey) > MaxIdempotencyKeyLength:
		return apperr.Validation("Idempotency-Key must be ≤ 128 characters")
	case req.UserID == uuid.Nil:
		return apperr.Validation("userId is required")
	case req.AssetID == uuid.Nil:
		return apperr.Validation("assetId is required")
	case !req.Amount.IsPositive():
		return apperr.Validation("amount must be positive")
	case !req.Amount.Equal(req.Amount.Truncate(models.AmountScale)):
		return apperr.Validation("amount must have at most 4 decimal places")
	case req.Amount.GreaterThanOrEqual(maxAmount):
		return apperr.Validation("amount is too large")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
