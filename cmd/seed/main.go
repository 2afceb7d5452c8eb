// Command seed creates the treasury user, the configured assets with a funded
// treasury wallet each, and optionally demo users with wallets in every asset.
// The treasury, assets and treasury wallets are reused on re-runs with their
// balances untouched; demo users are created fresh every time.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"wallet_engine/internal/config"
	"wallet_engine/internal/logging"
	"wallet_engine/internal/models"
	"wallet_engine/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var defaultAssets = []struct{ name, symbol string }{
	{"Gold Coins", "GLD"},
	{"Diamonds", "DIA"},
	{"Loyalty Points", "LPT"},
}

func main() {
	float := flag.String("treasury-float", "1000000", "opening balance of each treasury wallet")
	demoUsers := flag.Int("demo-users", 2, "number of demo users to create")
	demoBalance := flag.String("demo-balance", "100", "opening balance of each demo wallet")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	logger := logging.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	treasuryFloat, err := decimal.NewFromString(*float)
	if err != nil {
		logger.Error("invalid treasury float", "value", *float, "err", err)
		os.Exit(2)
	}
	demoOpening, err := decimal.NewFromString(*demoBalance)
	if err != nil || demoOpening.IsNegative() {
		logger.Error("invalid demo balance", "value", *demoBalance)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "err", err)
		os.Exit(1)
	}
	repo := repository.NewWalletPGRepository(pool, logger)

	system, err := repo.EnsureSystemUser(ctx, "Treasury")
	if err != nil {
		logger.Error("failed to create treasury user", "err", err)
		os.Exit(1)
	}

	assets := make([]*models.Asset, 0, len(defaultAssets))
	for _, a := range defaultAssets {
		asset, err := repo.EnsureAsset(ctx, a.name, a.symbol)
		if err != nil {
			logger.Error("failed to create asset", "symbol", a.symbol, "err", err)
			os.Exit(1)
		}
		w, err := repo.EnsureWallet(ctx, system.ID, asset.ID, treasuryFloat)
		if err != nil {
			logger.Error("failed to create treasury wallet", "symbol", a.symbol, "err", err)
			os.Exit(1)
		}
		logger.Info("Asset ready", "symbol", asset.Symbol, "asset_id", asset.ID, "treasury_wallet_id", w.ID, "balance", w.Balance.StringFixed(models.AmountScale))
		assets = append(assets, asset)
	}

	for i := 0; i < *demoUsers; i++ {
		user, err := repo.CreateUser(ctx, demoName(i))
		if err != nil {
			logger.Error("failed to create demo user", "err", err)
			os.Exit(1)
		}
		for _, asset := range assets {
			if _, err := repo.EnsureWallet(ctx, user.ID, asset.ID, demoOpening); err != nil {
				logger.Error("failed to create demo wallet", "user_id", user.ID, "symbol", asset.Symbol, "err", err)
				os.Exit(1)
			}
		}
		logger.Info("Demo user ready", "user_id", user.ID, "name", user.Name)
	}
	logger.Info("Seeding complete", "treasury_user_id", system.ID)
}

func demoName(i int) string {
	names := []string{"Alice", "Bob", "Carol", "Dave", "Erin", "Frank"}
	if i < len(names) {
		return names[i]
	}
	return names[i%len(names)] + " " + strconv.Itoa(i/len(names)+1)
}
