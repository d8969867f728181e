package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoexecutor/src/model"
)

func newIntent(key string) *model.OrderIntent {
	return &model.OrderIntent{
		IdempotencyKey: key,
		ClientOrderID:  "cid-" + key,
		Symbol:         "BTC_USDT",
		Side:           model.SideBuy,
		OrderType:      model.OrderTypeMarket,
		Price:          decimal.RequireFromString("100500"),
		Quantity:       decimal.RequireFromString("0.001"),
		Source:         model.IntentSourceSignal,
		Status:         model.IntentPending,
	}
}

func TestIntentRepositoryFindActiveByKeyQuery(t *testing.T) {
	db, mock := newMockDB(t)
	repo := (&IntentRepository{}).WithDB(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_intents" WHERE idempotency_key = $1 AND status IN ($2,$3)`)).
		WithArgs("k1", model.IntentPending, model.IntentFilledUpstream, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "idempotency_key", "status"}).AddRow(4, "k1", model.IntentPending))

	intent, err := repo.FindActiveByKey(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, uint(4), intent.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntentRepositoryFindActiveByKeyNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := (&IntentRepository{}).WithDB(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_intents" WHERE idempotency_key = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	intent, err := repo.FindActiveByKey(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestIntentRepositoryActiveKeyIsUnique(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&IntentRepository{}).WithDB(db)
	ctx := context.Background()

	first := newIntent("BTC_USDT:BUY:k")
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, newIntent("BTC_USDT:BUY:k"))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// A FILLED_UPSTREAM intent still blocks the key.
	require.NoError(t, repo.MarkFilledUpstream(ctx, first.ID, "ex-1"))
	assert.ErrorIs(t, repo.Create(ctx, newIntent("BTC_USDT:BUY:k")), ErrDuplicateKey)
}

func TestIntentRepositoryFailedKeyCanBeReused(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&IntentRepository{}).WithDB(db)
	ctx := context.Background()

	first := newIntent("k-failed")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.MarkFailed(ctx, first.ID, "rejected", "insufficient balance"))

	second := newIntent("k-failed")
	require.NoError(t, repo.Create(ctx, second))

	active, err := repo.FindActiveByKey(ctx, "k-failed")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
}

func TestIntentRepositoryClaimAttemptIsExclusive(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&IntentRepository{}).WithDB(db)
	ctx := context.Background()

	intent := newIntent("k-claim")
	intent.Attempts = 1
	require.NoError(t, repo.Create(ctx, intent))

	now := time.Now().UTC()
	won, err := repo.ClaimAttempt(ctx, intent.ID, 1, now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.ClaimAttempt(ctx, intent.ID, 1, now)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestIntentRepositoryTransitionsOnlyFromPending(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&IntentRepository{}).WithDB(db)
	ctx := context.Background()

	intent := newIntent("k-transition")
	require.NoError(t, repo.Create(ctx, intent))
	require.NoError(t, repo.MarkFilledUpstream(ctx, intent.ID, "ex-9"))
	require.NoError(t, repo.MarkFailed(ctx, intent.ID, "stale", ""))

	got, err := repo.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentFilledUpstream, got.Status)
	require.NotNil(t, got.ExchangeOrderID)
	assert.Equal(t, "ex-9", *got.ExchangeOrderID)
}

func TestIntentRepositoryListPendingOlderThan(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&IntentRepository{}).WithDB(db)
	ctx := context.Background()

	old := newIntent("k-old")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, newIntent("k-new")))

	stale, err := repo.ListPendingOlderThan(ctx, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "k-old", stale[0].IdempotencyKey)

	n, err := repo.CountPending(ctx, "BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.IntentPending])
}
