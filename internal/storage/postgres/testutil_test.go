package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage/migrations"
	"vault-factory-lab/internal/storage/postgres"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations. The returned cleanup must be called when done.
func setupTestDB(t *testing.T) (*postgres.Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := postgres.NewPool(ctx, dsn, 4)
	require.NoError(t, err, "failed to create pool")

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	require.NoError(t, err, "failed to apply migrations")
	require.NotEmpty(t, applied)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func deployment(id string, vault, gauge byte, block uint64, pid *uint64) *domain.DeploymentRecord {
	return &domain.DeploymentRecord{
		DeploymentID:   id,
		Factory:        addr(0xfa),
		Vault:          addr(vault),
		ConvexStrategy: addr(vault + 1),
		CurveStrategy:  addr(vault + 2),
		Gauge:          addr(gauge),
		LPToken:        addr(gauge + 1),
		Pid:            pid,
		Path:           domain.PathStandard,
		Name:           "rETH-WETH yVault",
		Symbol:         "yvrETH-WETH",
		Block:          block,
		Timestamp:      1_700_000_000 + int64(block),
	}
}

func outcome(id string, strategy common.Address, block uint64) *domain.HarvestOutcome {
	profit := uint256.MustFromDecimal("100000000000000000")
	return &domain.HarvestOutcome{
		OutcomeID:       id,
		Vault:           addr(0x01),
		Strategy:        strategy,
		Kind:            "convex",
		Block:           block,
		Timestamp:       1_700_000_000 + int64(block),
		Profit:          profit,
		Loss:            uint256.NewInt(0),
		DebtPayment:     uint256.NewInt(0),
		DebtOutstanding: uint256.MustFromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935"),
		ProfitUnits:     decimal.RequireFromString("0.1"),
		LossUnits:       decimal.Zero,
	}
}

func ptr[T any](v T) *T {
	return &v
}
