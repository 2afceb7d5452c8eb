package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"wallet_engine/internal/apperr"
	"wallet_engine/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:generate mockgen -source=http_handlers.go -destination=../mocks/mock_wallet_service.go -package=mocks WalletService,HealthChecker

type WalletService interface {
	Execute(ctx context.Context, kind models.TransactionType, req models.TransactionRequest, idempotencyKey string) (*models.TransactionResult, error)
	GetBalances(ctx context.Context, userID uuid.UUID) (*models.UserBalances, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.TransactionDetails, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

const (
	IdempotencyKeyHeader    = "Idempotency-Key"
	maxIdempotencyKeyLength = 128
	healthCheckTimeout      = 2 * time.Second
)

type WalletHTTPHandler struct {
	service WalletService
	health  HealthChecker
	logger  *slog.Logger
}

func NewWalletHTTPHandler(service WalletService, health HealthChecker, logger *slog.Logger) *WalletHTTPHandler {
	return &WalletHTTPHandler{service: service, health: health, logger: logger}
}

func (h *WalletHTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.Use(RequestID(), AccessLog(h.logger))

	r.GET("/health", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/transactions/topup", h.HandleTransaction(models.TransactionTopup))
		v1.POST("/transactions/bonus", h.HandleTransaction(models.TransactionBonus))
		v1.POST("/transactions/spend", h.HandleTransaction(models.TransactionSpend))
		v1.GET("/transactions/:id", h.HandleGetTransaction)
		v1.GET("/wallets/:user_id", h.HandleGetBalances)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody(apperr.KindNotFound, "Route not found"))
	})
}

func (h *WalletHTTPHandler) HandleTransaction(kind models.TransactionType) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			h.fail(c, apperr.Validation("Idempotency-Key header is required"))
			return
		}
		if utf8.RuneCountInString(key) > maxIdempotencyKeyLength {
			h.fail(c, apperr.Validation("Idempotency-Key must be ≤ 128 characters"))
			return
		}

		var req models.TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, apperr.Validation("invalid request: "+err.Error()))
			return
		}

		res, err := h.service.Execute(c.Request.Context(), kind, req, key)
		if err != nil {
			h.fail(c, err)
			return
		}
		status := http.StatusCreated
		if res.Cached {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"success": true, "data": res})
	}
}

func (h *WalletHTTPHandler) HandleGetBalances(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		h.fail(c, apperr.Validation("invalid user_id"))
		return
	}
	balances, err := h.service.GetBalances(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": balances})
}

func (h *WalletHTTPHandler) HandleGetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.fail(c, apperr.Validation("invalid transaction id"))
		return
	}
	details, err := h.service.GetTransaction(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": details})
}

func (h *WalletHTTPHandler) HandleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", slog.Any("err", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "timestamp": time.Now().UTC()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

func (h *WalletHTTPHandler) fail(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	status := statusFor(e.Kind)
	attrs := []any{
		slog.String("request_id", c.GetString(requestIDKey)),
		slog.String("code", string(e.Kind)),
		slog.String("message", e.Message),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", append(attrs, slog.Any("err", e.Err))...)
	} else {
		h.logger.Warn("Request rejected", attrs...)
	}

	body := errorBody(e.Kind, e.Message)
	if e.Kind == apperr.KindInsufficientBalance {
		body["error"].(gin.H)["available"] = e.Available
		body["error"].(gin.H)["requested"] = e.Requested
	}
	c.JSON(status, body)
}

func errorBody(kind apperr.Kind, message string) gin.H {
	return gin.H{"success": false, "error": gin.H{"code": kind, "message": message}}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
