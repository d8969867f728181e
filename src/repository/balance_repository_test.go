package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoexecutor/src/model"
)

func TestBalanceRepositoryUpsertAll(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&BalanceRepository{}).WithDB(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertAll(ctx, []model.Balance{
		{Currency: "BTC", Quantity: decimal.RequireFromString("0.5"), UpdatedAt: time.Now()},
		{Currency: "USDT", Quantity: decimal.RequireFromString("1000"), UpdatedAt: time.Now()},
	}))
	require.NoError(t, repo.UpsertAll(ctx, []model.Balance{
		{Currency: "BTC", Quantity: decimal.RequireFromString("0.25"), Reserved: decimal.RequireFromString("0.05"), UpdatedAt: time.Now()},
	}))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	btc, err := repo.FindByCurrency(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, btc)
	assert.True(t, btc.Available().Equal(decimal.RequireFromString("0.2")))
}

func TestBalanceRepositorySnapshotIsSingleRow(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&BalanceRepository{}).WithDB(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, &model.PortfolioSnapshot{LocalValue: decimal.NewFromInt(10), ComputedAt: time.Now()}))
	require.NoError(t, repo.SaveSnapshot(ctx, &model.PortfolioSnapshot{LocalValue: decimal.NewFromInt(20), ComputedAt: time.Now()}))

	var n int64
	require.NoError(t, db.Model(&model.PortfolioSnapshot{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	s, err := repo.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, s.LocalValue.Equal(decimal.NewFromInt(20)))
}
