package service

import (
	"wallet_engine/internal/apperr"
	"wallet_engine/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transactions_total",
			Help: "Transaction requests by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	transactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_transaction_duration_seconds",
			Help:    "Duration of transaction requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"type"},
	)

	transactionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transaction_retries_total",
			Help: "Atomic units replayed after a serialization failure or deadlock",
		},
		[]string{"type"},
	)

	sideEffectErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_post_commit_errors_total",
			Help: "Failed post-commit cache invalidations and event publishes",
		},
		[]string{"effect"},
	)
)

func typeLabel(kind models.TransactionType) string {
	if !kind.Valid() {
		return "UNKNOWN"
	}
	return string(kind)
}

// outcomeLabel is "created", "cached" or the error kind.
func outcomeLabel(res *models.TransactionResult, err error) string {
	switch {
	case err != nil:
		return string(apperr.KindOf(err))
	case res.Cached:
		return "cached"
	}
	return "created"
}
