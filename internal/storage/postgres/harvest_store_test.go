package postgres_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
	"vault-factory-lab/internal/storage/postgres"
)

func TestHarvestStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewHarvestStore(pool)
	ctx := context.Background()

	o := outcome("h1", addr(0xa1), 10)
	o.Swept = true
	o.Donated = uint256.NewInt(1_000)
	o.PreSyncError = "pool is closed"
	require.NoError(t, store.Insert(ctx, o))

	got, err := store.GetByStrategy(ctx, o.Strategy)
	require.NoError(t, err)
	require.Len(t, got, 1)
	h := got[0]
	assert.Equal(t, o.OutcomeID, h.OutcomeID)
	assert.Equal(t, o.Vault, h.Vault)
	assert.Equal(t, o.Block, h.Block)
	assert.Equal(t, o.Timestamp, h.Timestamp)
	assert.Equal(t, o.Profit, h.Profit)
	assert.Equal(t, o.DebtOutstanding, h.DebtOutstanding)
	assert.True(t, o.ProfitUnits.Equal(h.ProfitUnits))
	assert.True(t, h.LossUnits.IsZero())
	assert.Equal(t, "pool is closed", h.PreSyncError)
	assert.True(t, h.Swept)
	assert.Equal(t, o.Donated, h.Donated)
	assert.Equal(t, domain.OutcomeProfit, h.Class())
}

func TestHarvestStore_NilDonation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewHarvestStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, outcome("h1", addr(0xa1), 10)))

	got, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Donated)
	assert.False(t, got[0].Swept)
}

func TestHarvestStore_InsertBulk(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewHarvestStore(pool)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, nil))
	require.NoError(t, store.InsertBulk(ctx, []*domain.HarvestOutcome{
		outcome("h3", addr(0xa1), 30),
		outcome("h1", addr(0xa1), 10),
		outcome("x", addr(0xb2), 20),
	}))

	got, err := store.GetByStrategy(ctx, addr(0xa1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "h1", got[0].OutcomeID)
	assert.Equal(t, "h3", got[1].OutcomeID)

	// a duplicate anywhere rolls back the whole batch
	err = store.InsertBulk(ctx, []*domain.HarvestOutcome{
		outcome("h4", addr(0xa1), 40),
		outcome("h1", addr(0xa1), 10),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestHarvestStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewHarvestStore(pool)
	ctx := context.Background()

	o := outcome("h1", addr(0xa1), 10)
	require.NoError(t, store.Insert(ctx, o))
	assert.ErrorIs(t, store.Insert(ctx, o), storage.ErrDuplicateKey)
}
