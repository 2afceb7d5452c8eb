package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"wallet_engine/internal/apperr"
	"wallet_engine/internal/events"
	"wallet_engine/internal/mocks"
	"wallet_engine/internal/models"
	"wallet_engine/internal/repository"
	"wallet_engine/internal/service"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decimalMatcher struct{ want decimal.Decimal }

func (m decimalMatcher) Matches(x interface{}) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string { return "is decimal " + m.want.String() }

func dec(s string) gomock.Matcher { return decimalMatcher{want: decimal.RequireFromString(s)} }

type engineMocks struct {
	store *mocks.MockStore
	tx    *mocks.MockTx
	cache *mocks.MockBalanceCache
	pub   *mocks.MockPublisher
}

type fixtureIDs struct {
	user, asset, userWallet, treasury uuid.UUID
}

func newEngine(t *testing.T, opts ...service.Option) (*service.WalletService, engineMocks, fixtureIDs) {
	ctrl := gomock.NewController(t)
	m := engineMocks{
		store: mocks.NewMockStore(ctrl),
		tx:    mocks.NewMockTx(ctrl),
		cache: mocks.NewMockBalanceCache(ctrl),
		pub:   mocks.NewMockPublisher(ctrl),
	}
	opts = append([]service.Option{service.WithBalanceCache(m.cache), service.WithPublisher(m.pub)}, opts...)
	svc := service.NewWalletService(m.store, testLogger, opts...)
	ids := fixtureIDs{user: uuid.New(), asset: uuid.New(), userWallet: uuid.New(), treasury: uuid.New()}
	return svc, m, ids
}

func (ids fixtureIDs) request(amount string) models.TransactionRequest {
	return models.TransactionRequest{UserID: ids.user, AssetID: ids.asset, Amount: decimal.RequireFromString(amount)}
}

// expectLookups wires the idempotency miss and both wallet lookups.
func expectLookups(m engineMocks, ids fixtureIDs, key, userBalance string) {
	m.store.EXPECT().FindTransactionByIdempotencyKey(gomock.Any(), key).
		Return(nil, repository.ErrTransactionNotFound)
	m.store.EXPECT().FindWallet(gomock.Any(), ids.user, ids.asset).
		Return(&models.Wallet{ID: ids.userWallet, UserID: ids.user, AssetID: ids.asset, Balance: decimal.RequireFromString(userBalance)}, nil)
	m.store.EXPECT().FindTreasuryWallet(gomock.Any(), ids.asset).
		Return(&models.Wallet{ID: ids.treasury, AssetID: ids.asset, Balance: decimal.NewFromInt(1_000_000)}, nil)
}

func runInTx(m engineMocks) func(ctx context.Context, fn func(repository.Tx) error) error {
	return func(_ context.Context, fn func(repository.Tx) error) error { return fn(m.tx) }
}

func TestExecute_Spend_Success(t *testing.T) {
	svc, m, ids := newEngine(t)
	expectLookups(m, ids, "spend-1", "100")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(runInTx(m))

	m.tx.EXPECT().LockWalletPair(gomock.Any(), ids.userWallet, ids.treasury).Return(
		models.Wallet{ID: ids.userWallet, Balance: decimal.NewFromInt(100)},
		models.Wallet{ID: ids.treasury, Balance: decimal.NewFromInt(1_000_000)},
		nil,
	)
	gomock.InOrder(
		m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), ids.userWallet, dec("-30")).Return(decimal.NewFromInt(70), nil),
		m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), ids.treasury, dec("30")).Return(decimal.NewFromInt(1_000_030), nil),
	)

	createdAt := time.Now().UTC()
	var stored *models.Transaction
	m.tx.EXPECT().InsertTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, tr *models.Transaction) error {
			tr.CreatedAt = createdAt
			stored = tr
			return nil
		})
	var entries []*models.LedgerEntry
	m.tx.EXPECT().InsertLedgerEntry(gomock.Any(), gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, e *models.LedgerEntry) error {
			entries = append(entries, e)
			return nil
		})
	m.cache.EXPECT().Invalidate(gomock.Any(), ids.user).Return(nil)
	m.pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ev *events.TransactionEvent) error {
			assert.Equal(t, events.EventTransactionCompleted, ev.EventType)
			assert.Equal(t, "70.0000", ev.BalanceAfter)
			return nil
		})

	res, err := svc.Spend(context.Background(), ids.request("30"), "spend-1")
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, "70.0000", res.UserBalance)
	assert.Equal(t, "30.0000", res.Amount)
	assert.Equal(t, models.TransactionSpend, res.Type)
	assert.Equal(t, models.TransactionCompleted, res.Status)
	assert.Equal(t, createdAt, res.CreatedAt)

	require.NotNil(t, stored)
	assert.Equal(t, stored.ID, res.TransactionID)
	assert.Equal(t, "spend-1", stored.IdempotencyKey)
	assert.Equal(t, ids.user, stored.UserID)

	require.Len(t, entries, 2)
	assert.Equal(t, ids.userWallet, entries[0].WalletID)
	assert.Equal(t, ids.treasury, entries[1].WalletID)
	assert.True(t, entries[0].Amount.Add(entries[1].Amount).IsZero())
	assert.True(t, entries[0].BalanceAfter.Equal(decimal.NewFromInt(70)))
	for _, e := range entries {
		assert.Equal(t, stored.ID, e.TransactionID)
	}
}

func TestExecute_Topup_CreditsUser(t *testing.T) {
	for _, kind := range []models.TransactionType{models.TransactionTopup, models.TransactionBonus} {
		t.Run(string(kind), func(t *testing.T) {
			svc, m, ids := newEngine(t)
			expectLookups(m, ids, "credit-1", "0")
			m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(runInTx(m))
			m.tx.EXPECT().LockWalletPair(gomock.Any(), ids.userWallet, ids.treasury).Return(
				models.Wallet{ID: ids.userWallet}, models.Wallet{ID: ids.treasury}, nil)
			gomock.InOrder(
				m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), ids.treasury, dec("-50.5")).Return(decimal.RequireFromString("999949.5"), nil),
				m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), ids.userWallet, dec("50.5")).Return(decimal.RequireFromString("50.5"), nil),
			)
			m.tx.EXPECT().InsertTransaction(gomock.Any(), gomock.Any()).Return(nil)
			m.tx.EXPECT().InsertLedgerEntry(gomock.Any(), gomock.Any()).Times(2).Return(nil)
			m.cache.EXPECT().Invalidate(gomock.Any(), ids.user).Return(nil)
			m.pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

			res, err := svc.Execute(context.Background(), kind, ids.request("50.5"), "credit-1")
			require.NoError(t, err)
			assert.Equal(t, "50.5000", res.UserBalance)
			assert.Equal(t, kind, res.Type)
		})
	}
}

func TestExecute_Replay_ReturnsCachedResult(t *testing.T) {
	svc, m, ids := newEngine(t)
	existing := &models.Transaction{
		ID:             uuid.New(),
		UserID:         ids.user,
		Type:           models.TransactionSpend,
		Status:         models.TransactionCompleted,
		AssetID:        ids.asset,
		Amount:         decimal.NewFromInt(30),
		IdempotencyKey: "spend-1",
		CreatedAt:      time.Now().UTC(),
	}
	m.store.EXPECT().FindTransactionByIdempotencyKey(gomock.Any(), "spend-1").Return(existing, nil)
	m.store.EXPECT().FindWallet(gomock.Any(), ids.user, ids.asset).
		Return(&models.Wallet{ID: ids.userWallet, Balance: decimal.NewFromInt(70)}, nil)

	// A different amount in the replay body does not matter: the key wins.
	res, err := svc.Spend(context.Background(), ids.request("999"), "spend-1")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, existing.ID, res.TransactionID)
	assert.Equal(t, "30.0000", res.Amount)
	assert.Equal(t, "70.0000", res.UserBalance)
}

func TestExecute_Spend_InsufficientBalance(t *testing.T) {
	svc, m, ids := newEngine(t)
	expectLookups(m, ids, "spend-big", "70")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(runInTx(m))
	m.tx.EXPECT().LockWalletPair(gomock.Any(), ids.userWallet, ids.treasury).Return(
		models.Wallet{ID: ids.userWallet, Balance: decimal.NewFromInt(70)},
		models.Wallet{ID: ids.treasury, Balance: decimal.NewFromInt(1_000_000)},
		nil,
	)

	_, err := svc.Spend(context.Background(), ids.request("1000"), "spend-big")
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInsufficientBalance, e.Kind)
	assert.Equal(t, "70.0000", e.Available)
	assert.Equal(t, "1000.0000", e.Requested)
}

func TestExecute_Spend_ExactBalanceAllowed(t *testing.T) {
	svc, m, ids := newEngine(t)
	expectLookups(m, ids, "spend-all", "70")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(runInTx(m))
	m.tx.EXPECT().LockWalletPair(gomock.Any(), ids.userWallet, ids.treasury).Return(
		models.Wallet{ID: ids.userWallet, Balance: decimal.NewFromInt(70)}, models.Wallet{ID: ids.treasury}, nil)
	m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), ids.userWallet, dec("-70")).Return(decimal.Zero, nil)
	m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), ids.treasury, dec("70")).Return(decimal.NewFromInt(70), nil)
	m.tx.EXPECT().InsertTransaction(gomock.Any(), gomock.Any()).Return(nil)
	m.tx.EXPECT().InsertLedgerEntry(gomock.Any(), gomock.Any()).Times(2).Return(nil)
	m.cache.EXPECT().Invalidate(gomock.Any(), ids.user).Return(nil)
	m.pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.Spend(context.Background(), ids.request("70"), "spend-all")
	require.NoError(t, err)
	assert.Equal(t, "0.0000", res.UserBalance)
}

func TestExecute_DuplicateKeyRace_ReplaysWinner(t *testing.T) {
	svc, m, ids := newEngine(t)
	winner := &models.Transaction{
		ID:             uuid.New(),
		UserID:         ids.user,
		Type:           models.TransactionTopup,
		Status:         models.TransactionCompleted,
		AssetID:        ids.asset,
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "race",
	}
	gomock.InOrder(
		m.store.EXPECT().FindTransactionByIdempotencyKey(gomock.Any(), "race").Return(nil, repository.ErrTransactionNotFound),
		m.store.EXPECT().FindTransactionByIdempotencyKey(gomock.Any(), "race").Return(winner, nil),
	)
	m.store.EXPECT().FindWallet(gomock.Any(), ids.user, ids.asset).Times(2).
		Return(&models.Wallet{ID: ids.userWallet, Balance: decimal.NewFromInt(10)}, nil)
	m.store.EXPECT().FindTreasuryWallet(gomock.Any(), ids.asset).Return(&models.Wallet{ID: ids.treasury}, nil)
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("%w: insert", repository.ErrDuplicateIdempotencyKey))

	res, err := svc.Topup(context.Background(), ids.request("10"), "race")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, winner.ID, res.TransactionID)
}

func TestExecute_DuplicateKeyWithoutVisibleRow_Conflict(t *testing.T) {
	svc, m, ids := newEngine(t)
	m.store.EXPECT().FindTransactionByIdempotencyKey(gomock.Any(), "race").Times(2).
		Return(nil, repository.ErrTransactionNotFound)
	m.store.EXPECT().FindWallet(gomock.Any(), ids.user, ids.asset).
		Return(&models.Wallet{ID: ids.userWallet}, nil)
	m.store.EXPECT().FindTreasuryWallet(gomock.Any(), ids.asset).Return(&models.Wallet{ID: ids.treasury}, nil)
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).Return(repository.ErrDuplicateIdempotencyKey)

	_, err := svc.Topup(context.Background(), ids.request("10"), "race")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.ErrorIs(t, err, repository.ErrDuplicateIdempotencyKey)
}

func TestExecute_RetriesDeadlock(t *testing.T) {
	svc, m, ids := newEngine(t, service.WithMaxRetries(3))
	expectLookups(m, ids, "retry", "0")
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	gomock.InOrder(
		m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).Return(deadlock),
		m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(runInTx(m)),
	)
	m.tx.EXPECT().LockWalletPair(gomock.Any(), ids.userWallet, ids.treasury).Return(
		models.Wallet{ID: ids.userWallet}, models.Wallet{ID: ids.treasury}, nil)
	m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), ids.treasury, dec("-5")).Return(decimal.NewFromInt(999_995), nil)
	m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), ids.userWallet, dec("5")).Return(decimal.NewFromInt(5), nil)
	m.tx.EXPECT().InsertTransaction(gomock.Any(), gomock.Any()).Return(nil)
	m.tx.EXPECT().InsertLedgerEntry(gomock.Any(), gomock.Any()).Times(2).Return(nil)
	m.cache.EXPECT().Invalidate(gomock.Any(), ids.user).Return(nil)
	m.pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.Topup(context.Background(), ids.request("5"), "retry")
	require.NoError(t, err)
	assert.Equal(t, "5.0000", res.UserBalance)
}

func TestExecute_RetriesExhausted_Conflict(t *testing.T) {
	svc, m, ids := newEngine(t, service.WithMaxRetries(2))
	expectLookups(m, ids, "retry", "0")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).Times(2).
		Return(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	_, err := svc.Topup(context.Background(), ids.request("5"), "retry")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, e.Kind)
	assert.True(t, e.Retryable())
}

func TestExecute_LockTimeout_NotRetried(t *testing.T) {
	svc, m, ids := newEngine(t)
	expectLookups(m, ids, "busy", "100")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).Times(1).
		Return(fmt.Errorf("%w: %w", repository.ErrLockTimeout, &pgconn.PgError{Code: "55P03"}))

	_, err := svc.Spend(context.Background(), ids.request("5"), "busy")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestExecute_ContextCancelled_Unavailable(t *testing.T) {
	svc, m, ids := newEngine(t)
	expectLookups(m, ids, "gone", "100")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).Return(context.Canceled)

	_, err := svc.Spend(context.Background(), ids.request("5"), "gone")
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_UnexpectedStoreError_Internal(t *testing.T) {
	svc, m, ids := newEngine(t)
	expectLookups(m, ids, "boom", "100")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	_, err := svc.Spend(context.Background(), ids.request("5"), "boom")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInternal, e.Kind)
	assert.NotContains(t, e.Message, "connection reset")
}

func TestExecute_WalletNotFound(t *testing.T) {
	svc, m, ids := newEngine(t)
	m.store.EXPECT().FindTransactionByIdempotencyKey(gomock.Any(), "k").Return(nil, repository.ErrTransactionNotFound)
	m.store.EXPECT().FindWallet(gomock.Any(), ids.user, ids.asset).Return(nil, repository.ErrWalletNotFound)

	_, err := svc.Topup(context.Background(), ids.request("5"), "k")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, e.Kind)
	assert.Contains(t, e.Message, ids.user.String())
}

func TestExecute_TreasuryNotFound(t *testing.T) {
	svc, m, ids := newEngine(t)
	m.store.EXPECT().FindTransactionByIdempotencyKey(gomock.Any(), "k").Return(nil, repository.ErrTransactionNotFound)
	m.store.EXPECT().FindWallet(gomock.Any(), ids.user, ids.asset).Return(&models.Wallet{ID: ids.userWallet}, nil)
	m.store.EXPECT().FindTreasuryWallet(gomock.Any(), ids.asset).Return(nil, repository.ErrTreasuryNotFound)

	_, err := svc.Topup(context.Background(), ids.request("5"), "k")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, e.Kind)
	assert.Contains(t, e.Message, "Treasury")
}

func TestExecute_ValidationErrors(t *testing.T) {
	ids := fixtureIDs{user: uuid.New(), asset: uuid.New()}
	cases := []struct {
		name string
		kind models.TransactionType
		req  models.TransactionRequest
		key  string
	}{
		{"zero amount", models.TransactionTopup, ids.request("0"), "k"},
		{"negative amount", models.TransactionSpend, ids.request("-1"), "k"},
		{"five decimals", models.TransactionTopup, ids.request("1.00001"), "k"},
		{"too large", models.TransactionTopup, ids.request("10000000000000000"), "k"},
		{"empty key", models.TransactionTopup, ids.request("1"), ""},
		{"long key", models.TransactionTopup, ids.request("1"), strings.Repeat("x", 129)},
		{"nil user", models.TransactionTopup, models.TransactionRequest{AssetID: ids.asset, Amount: decimal.NewFromInt(1)}, "k"},
		{"nil asset", models.TransactionTopup, models.TransactionRequest{UserID: ids.user, Amount: decimal.NewFromInt(1)}, "k"},
		{"unknown type", models.TransactionType("REFUND"), ids.request("1"), "k"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// No store expectations: validation must fail before any lookup.
			svc, _, _ := newEngine(t)
			_, err := svc.Execute(context.Background(), tc.kind, tc.req, tc.key)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestExecute_MaxLengthKeyAccepted(t *testing.T) {
	svc, m, ids := newEngine(t)
	key := strings.Repeat("ключ", 32)
	m.store.EXPECT().FindTransactionByIdempotencyKey(gomock.Any(), key).Return(nil, repository.ErrTransactionNotFound)
	m.store.EXPECT().FindWallet(gomock.Any(), ids.user, ids.asset).Return(nil, repository.ErrWalletNotFound)

	_, err := svc.Topup(context.Background(), ids.request("1"), key)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestExecute_SideEffectFailuresDoNotFailTransaction(t *testing.T) {
	svc, m, ids := newEngine(t)
	expectLookups(m, ids, "k", "0")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(runInTx(m))
	m.tx.EXPECT().LockWalletPair(gomock.Any(), ids.userWallet, ids.treasury).Return(
		models.Wallet{ID: ids.userWallet}, models.Wallet{ID: ids.treasury}, nil)
	m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), gomock.Any(), gomock.Any()).Times(2).Return(decimal.NewFromInt(1), nil)
	m.tx.EXPECT().InsertTransaction(gomock.Any(), gomock.Any()).Return(nil)
	m.tx.EXPECT().InsertLedgerEntry(gomock.Any(), gomock.Any()).Times(2).Return(nil)
	m.cache.EXPECT().Invalidate(gomock.Any(), ids.user).Return(errors.New("redis down"))
	m.pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	res, err := svc.Bonus(context.Background(), ids.request("1"), "k")
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestExecute_LedgerInsertFailure_NoSideEffects(t *testing.T) {
	svc, m, ids := newEngine(t)
	expectLookups(m, ids, "k", "0")
	m.store.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(runInTx(m))
	m.tx.EXPECT().LockWalletPair(gomock.Any(), ids.userWallet, ids.treasury).Return(
		models.Wallet{ID: ids.userWallet}, models.Wallet{ID: ids.treasury}, nil)
	m.tx.EXPECT().ApplyBalanceDelta(gomock.Any(), gomock.Any(), gomock.Any()).Times(2).Return(decimal.NewFromInt(1), nil)
	m.tx.EXPECT().InsertTransaction(gomock.Any(), gomock.Any()).Return(nil)
	m.tx.EXPECT().InsertLedgerEntry(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	_, err := svc.Topup(context.Background(), ids.request("1"), "k")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}
