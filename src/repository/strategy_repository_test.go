package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

func TestFindOrCreateBySymbolAutoRegisters(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewStrategyRepository(db)
	ctx := context.Background()

	created, err := repo.FindOrCreateBySymbol(ctx, "ES", "")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "ES", created.Symbol)
	assert.Equal(t, "ES", created.Name)
	assert.True(t, created.Active)
	assert.False(t, created.AutoTrade)

	// The second signal for the symbol resolves to the same row.
	again, err := repo.FindOrCreateBySymbol(ctx, "ES", "ignored")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "ES", again.Name)

	var count int64
	require.NoError(t, db.Model(&model.Strategy{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTouchLastSignal(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewStrategyRepository(db)
	ctx := context.Background()

	strategy, err := repo.FindOrCreateBySymbol(ctx, "NQ", "Momentum NQ")
	require.NoError(t, err)
	assert.Nil(t, strategy.LastSignalAt)

	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, repo.TouchLastSignal(ctx, strategy.ID, at))

	var stored model.Strategy
	require.NoError(t, db.First(&stored, strategy.ID).Error)
	require.NotNil(t, stored.LastSignalAt)
	assert.Equal(t, at.Unix(), stored.LastSignalAt.Unix())
}

func TestSetAutoTrade(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewStrategyRepository(db)
	ctx := context.Background()

	strategy, err := repo.FindOrCreateBySymbol(ctx, "CL", "")
	require.NoError(t, err)

	require.NoError(t, repo.SetAutoTrade(ctx, strategy.ID, true))

	var stored model.Strategy
	require.NoError(t, db.First(&stored, strategy.ID).Error)
	assert.True(t, stored.AutoTrade)

	assert.ErrorIs(t, repo.SetAutoTrade(ctx, 9999, true), gorm.ErrRecordNotFound)
}

func TestStrategyFindByIDAndList(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewStrategyRepository(db)
	ctx := context.Background()

	nq, err := repo.FindOrCreateBySymbol(ctx, "NQ", "")
	require.NoError(t, err)
	_, err = repo.FindOrCreateBySymbol(ctx, "ES", "")
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, nq.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "NQ", found.Symbol)

	missing, err := repo.FindByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ES", all[0].Symbol)
	assert.Equal(t, "NQ", all[1].Symbol)
}

func TestStrategyWithDBJoinsTransaction(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewStrategyRepository(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := repo.WithDB(tx).FindOrCreateBySymbol(ctx, "GC", ""); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	// The rollback took the auto-registration with it.
	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
