package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrTreasuryNotFound        = errors.New("treasury wallet not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrLockTimeout             = errors.New("lock wait timeout")
	ErrSameWallet              = errors.New("wallet pair must reference two distinct wallets")
)

const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	idempotencyKeyConstraint = "transactions_idempotency_key_key"
)

type WalletPGRepository struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	lockTimeout time.Duration
}

type Option func(*WalletPGRepository)

// WithLockTimeout bounds how long a unit waits for a wallet row lock.
// Zero leaves the server default in place.
func WithLockTimeout(d time.Duration) Option {
	return func(r *WalletPGRepository) { r.lockTimeout = d }
}

func NewWalletPGRepository(pool *pgxpool.Pool, logger *slog.Logger, opts ...Option) *WalletPGRepository {
	r := &WalletPGRepository{
		pool:   pool,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InTx runs fn inside one database transaction. The transaction commits only
// if fn returns nil; on any error everything fn wrote is rolled back.
func (r *WalletPGRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		r.logger.Error("Failed to begin transaction", slog.Any("err", err))
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Error("Failed to rollback transaction", slog.Any("err", err))
		}
	}()

	if r.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			r.logger.Error("Failed to set lock timeout", slog.Any("err", err))
			return err
		}
	}

	if err := fn(&pgTx{tx: tx, logger: r.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction", slog.Any("err", err))
		return mapPGError(err)
	}
	return nil
}

func (r *WalletPGRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// pgTx is the Tx handed to InTx callbacks.
type pgTx struct {
	tx     pgx.Tx
	logger *slog.Logger
}

// mapPGError translates the PostgreSQL errors the engine reacts to into
// sentinel errors, keeping the original error in the chain.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgLockNotAvailable:
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	case pgUniqueViolation:
		if pgErr.ConstraintName == idempotencyKeyConstraint {
			return fmt.Errorf("%w: %w", ErrDuplicateIdempotencyKey, err)
		}
	}
	return err
}

// IsRetryable reports whether err is a serialization failure or a detected
// deadlock, after which the whole unit can be replayed.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}
