package repository

import (
	"context"
	"errors"
	"log/slog"

	"wallet_engine/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const walletColumns = `w.id, w.user_id, w.asset_id, w.balance, w.updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.AssetID, &w.Balance, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletPGRepository) FindWallet(ctx context.Context, userID, assetID uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets w
		WHERE w.user_id = $1 AND w.asset_id = $2`, userID, assetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		r.logger.Error("Failed to find wallet",
			slog.String("user_id", userID.String()),
			slog.String("asset_id", assetID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return w, nil
}

// FindTreasuryWallet returns the system user's wallet for the asset.
func (r *WalletPGRepository) FindTreasuryWallet(ctx context.Context, assetID uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets w
		JOIN users u ON u.id = w.user_id
		WHERE u.is_system AND w.asset_id = $1`, assetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTreasuryNotFound
	}
	if err != nil {
		r.logger.Error("Failed to find treasury wallet",
			slog.String("asset_id", assetID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return w, nil
}

func (r *WalletPGRepository) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, is_system, created_at
		FROM users
		WHERE id = $1`, userID).Scan(&u.ID, &u.Name, &u.IsSystem, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get user",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return &u, nil
}

// ListUserWallets returns every wallet of the user joined with its asset,
// ordered by asset symbol.
func (r *WalletPGRepository) ListUserWallets(ctx context.Context, userID uuid.UUID) ([]models.WalletWithAsset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+walletColumns+`, a.name, a.symbol
		FROM wallets w
		JOIN assets a ON a.id = w.asset_id
		WHERE w.user_id = $1
		ORDER BY a.symbol ASC`, userID)
	if err != nil {
		r.logger.Error("Failed to list wallets",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	defer rows.Close()

	var wallets []models.WalletWithAsset
	for rows.Next() {
		var w models.WalletWithAsset
		if err := rows.Scan(&w.ID, &w.UserID, &w.AssetID, &w.Balance, &w.UpdatedAt, &w.AssetName, &w.AssetSymbol); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (t *pgTx) ApplyBalanceDelta(ctx context.Context, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance`, delta, walletID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrWalletNotFound
	}
	if err != nil {
		t.logger.Error("Failed to update wallet balance",
			slog.String("wallet_id", walletID.String()),
			slog.Any("delta", delta),
			slog.Any("err", err),
		)
		return decimal.Zero, mapPGError(err)
	}
	return balance, nil
}

// Onboarding helpers. The engine never calls these; they back cmd/seed and tests.

func (r *WalletPGRepository) CreateUser(ctx context.Context, name string) (*models.User, error) {
	u := models.User{ID: uuid.New(), Name: name}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, is_system) VALUES ($1, $2, FALSE)
		RETURNING created_at`, u.ID, u.Name).Scan(&u.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create user", slog.String("name", name), slog.Any("err", err))
		return nil, err
	}
	return &u, nil
}

// EnsureSystemUser returns the treasury owner, creating it on first use.
func (r *WalletPGRepository) EnsureSystemUser(ctx context.Context, name string) (*models.User, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, is_system) VALUES ($1, $2, TRUE)
		ON CONFLICT (is_system) WHERE is_system DO NOTHING`, uuid.New(), name)
	if err != nil {
		r.logger.Error("Failed to create system user", slog.Any("err", err))
		return nil, err
	}
	var u models.User
	err = r.pool.QueryRow(ctx, `
		SELECT id, name, is_system, created_at FROM users WHERE is_system`).
		Scan(&u.ID, &u.Name, &u.IsSystem, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *WalletPGRepository) EnsureAsset(ctx context.Context, name, symbol string) (*models.Asset, error) {
	a := models.Asset{}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO assets (id, name, symbol) VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, symbol`, uuid.New(), name, symbol).Scan(&a.ID, &a.Name, &a.Symbol)
	if err != nil {
		r.logger.Error("Failed to ensure asset", slog.String("symbol", symbol), slog.Any("err", err))
		return nil, err
	}
	return &a, nil
}

// EnsureWallet creates the (user, asset) wallet with an opening balance, or
// returns the existing one untouched.
func (r *WalletPGRepository) EnsureWallet(ctx context.Context, userID, assetID uuid.UUID, opening decimal.Decimal) (*models.Wallet, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallets (id, user_id, asset_id, balance) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, asset_id) DO NOTHING`, uuid.New(), userID, assetID, opening)
	if err != nil {
		r.logger.Error("Failed to create wallet",
			slog.String("user_id", userID.String()),
			slog.String("asset_id", assetID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return r.FindWallet(ctx, userID, assetID)
}
