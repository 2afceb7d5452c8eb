package testutil

import (
	"context"
	"testing"

	"wallet_engine/internal/models"
	"wallet_engine/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Fixture is one asset with a funded treasury wallet and one user wallet.
type Fixture struct {
	Asset    *models.Asset
	Treasury *models.Wallet
	User     *models.User
	Wallet   *models.Wallet
}

func SeedFixture(t *testing.T, repo *repository.WalletPGRepository, userBalance decimal.Decimal) Fixture {
	t.Helper()
	ctx := context.Background()

	system, err := repo.EnsureSystemUser(ctx, "Treasury")
	require.NoError(t, err)
	asset, err := repo.EnsureAsset(ctx, "Gold Coins", "GLD")
	require.NoError(t, err)
	treasury, err := repo.EnsureWallet(ctx, system.ID, asset.ID, decimal.NewFromInt(1_000_000))
	require.NoError(t, err)

	user, err := repo.CreateUser(ctx, "Alice")
	require.NoError(t, err)
	wallet, err := repo.EnsureWallet(ctx, user.ID, asset.ID, userBalance)
	require.NoError(t, err)

	return Fixture{Asset: asset, Treasury: treasury, User: user, Wallet: wallet}
}

// AddUser creates another user with a wallet in the fixture's asset.
func (f Fixture) AddUser(t *testing.T, repo *repository.WalletPGRepository, name string, balance decimal.Decimal) (*models.User, *models.Wallet) {
	t.Helper()
	ctx := context.Background()
	user, err := repo.CreateUser(ctx, name)
	require.NoError(t, err)
	wallet, err := repo.EnsureWallet(ctx, user.ID, f.Asset.ID, balance)
	require.NoError(t, err)
	return user, wallet
}
