package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet_engine/internal/cache"
	"wallet_engine/internal/config"
	"wallet_engine/internal/events"
	"wallet_engine/internal/handlers"
	"wallet_engine/internal/logging"
	"wallet_engine/internal/repository"
	"wallet_engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := logging.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	poolConfig, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		logger.Error("failed to parse db config", "err", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "err", err)
		os.Exit(1)
	}

	repo := repository.NewWalletPGRepository(pool, logger, repository.WithLockTimeout(cfg.LockTimeout))
	opts := []service.Option{service.WithMaxRetries(cfg.MaxRetries)}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, balance cache disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			opts = append(opts, service.WithBalanceCache(cache.NewRedisBalanceCache(rdb, cfg.CacheTTL)))
			logger.Info("Balance cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		}
	}

	publisher := newPublisher(cfg, rdb, logger)
	defer publisher.Close()
	opts = append(opts, service.WithPublisher(publisher))

	svc := service.NewWalletService(repo, logger, opts...)
	handler := handlers.NewWalletHTTPHandler(svc, repo, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}

func newPublisher(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) events.Publisher {
	switch cfg.EventsBackend {
	case "redis":
		if rdb == nil {
			break
		}
		logger.Info("Publishing transaction events to redis", "channel", cfg.RedisEventsChannel)
		return events.NewRedisPublisher(rdb, cfg.RedisEventsChannel)
	case "kafka":
		logger.Info("Publishing transaction events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return events.NoopPublisher{}
}
