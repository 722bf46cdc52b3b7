package clickhouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage/clickhouse"
	"vault-factory-lab/internal/storage/migrations"
)

// setupTestDB starts a ClickHouse container and applies the embedded
// migrations to a fresh "lab" database.
func setupTestDB(t *testing.T) (*clickhouse.Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/lab", host, port.Port())

	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}

	return conn, cleanup
}

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func outcome(id string, strategy common.Address, block uint64) *domain.HarvestOutcome {
	return &domain.HarvestOutcome{
		OutcomeID:       id,
		Vault:           addr(0x01),
		Strategy:        strategy,
		Kind:            "curve",
		Block:           block,
		Timestamp:       1_700_000_000 + int64(block),
		Profit:          uint256.MustFromDecimal("250000000000000000"),
		Loss:            uint256.NewInt(0),
		DebtPayment:     uint256.NewInt(7),
		DebtOutstanding: uint256.NewInt(0),
		ProfitUnits:     decimal.RequireFromString("0.25"),
		LossUnits:       decimal.Zero,
	}
}
