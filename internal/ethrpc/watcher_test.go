package ethrpc

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/idhash"
	"vault-factory-lab/internal/storage/memory"
)

// deploymentLog builds a NewAutomatedVault log as the factory emits it.
func deploymentLog(t *testing.T, category int64, vault common.Address, block uint64) Log {
	t.Helper()
	data, err := factoryABI.Events["NewAutomatedVault"].Inputs.NonIndexed().Pack(testGauge, testConvex, testCurve)
	require.NoError(t, err)
	return Log{
		Address: testFactory,
		Topics: []common.Hash{
			NewAutomatedVaultTopic,
			common.BigToHash(big.NewInt(category)),
			common.BytesToHash(testLP.Bytes()),
			common.BytesToHash(vault.Bytes()),
		},
		Data:        data,
		BlockNumber: hexutil.Uint64(block),
		TxHash:      common.HexToHash("0x99"),
	}
}

type chanSubscriber struct {
	ch     chan Log
	filter LogFilter
}

func (s *chanSubscriber) SubscribeLogs(_ context.Context, filter LogFilter) (<-chan Log, error) {
	s.filter = filter
	return s.ch, nil
}

func TestDecodeNewAutomatedVault(t *testing.T) {
	rec, err := DecodeNewAutomatedVault(deploymentLog(t, 0, testVault, 120))
	require.NoError(t, err)

	assert.Equal(t, testFactory, rec.Factory)
	assert.Equal(t, testVault, rec.Vault)
	assert.Equal(t, testGauge, rec.Gauge)
	assert.Equal(t, testLP, rec.LPToken)
	assert.Equal(t, testConvex, rec.ConvexStrategy)
	assert.Equal(t, testCurve, rec.CurveStrategy)
	assert.Equal(t, domain.PathStandard, rec.Path)
	assert.Equal(t, uint64(120), rec.Block)
	assert.Equal(t, idhash.ComputeDeploymentID(testFactory, testVault, testGauge, 120), rec.DeploymentID)

	rec, err = DecodeNewAutomatedVault(deploymentLog(t, 1, testVault, 120))
	require.NoError(t, err)
	assert.Equal(t, domain.PathPermissioned, rec.Path)
}

func TestDecodeNewAutomatedVault_Rejects(t *testing.T) {
	l := deploymentLog(t, 0, testVault, 1)

	other := l
	other.Topics = append([]common.Hash{common.HexToHash("0x01")}, l.Topics[1:]...)
	_, err := DecodeNewAutomatedVault(other)
	assert.ErrorIs(t, err, ErrNotDeploymentLog)

	short := l
	short.Topics = l.Topics[:3]
	_, err = DecodeNewAutomatedVault(short)
	assert.ErrorIs(t, err, ErrNotDeploymentLog)

	truncated := l
	truncated.Data = l.Data[:40]
	_, err = DecodeNewAutomatedVault(truncated)
	assert.Error(t, err)
}

func TestWatcher_Run(t *testing.T) {
	store := memory.NewDeploymentStore()
	sub := &chanSubscriber{ch: make(chan Log, 4)}
	w := NewWatcher(WatcherOptions{
		Subscriber: sub,
		Factory:    factoryNode(t, nil),
		Store:      store,
	})

	first := deploymentLog(t, 0, testVault, 10)
	sub.ch <- first
	sub.ch <- first // redelivery is ignored
	removed := deploymentLog(t, 1, testGauge, 11)
	removed.Removed = true
	sub.ch <- removed
	sub.ch <- Log{Address: testFactory, Topics: []common.Hash{common.HexToHash("0x02")}}
	close(sub.ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []common.Address{testFactory}, sub.filter.Addresses)
	assert.Equal(t, NewAutomatedVaultTopic, sub.filter.Topics[0][0])

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	rec := all[0]
	assert.Equal(t, testVault, rec.Vault)
	assert.Equal(t, "Curve FUD Factory yVault", rec.Name)
	assert.Equal(t, "yvCurve-FUD-f", rec.Symbol)
	require.NotNil(t, rec.Pid)
	assert.Equal(t, uint64(42), *rec.Pid)
}

func TestWatcher_RunCanceled(t *testing.T) {
	sub := &chanSubscriber{ch: make(chan Log)}
	w := NewWatcher(WatcherOptions{
		Subscriber: sub,
		Factory:    factoryNode(t, nil),
		Store:      memory.NewDeploymentStore(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWatcher_Backfill(t *testing.T) {
	store := memory.NewDeploymentStore()
	logs := []Log{
		deploymentLog(t, 0, testVault, 10),
		deploymentLog(t, 1, testGauge, 12),
	}
	w := NewWatcher(WatcherOptions{
		Factory: factoryNode(t, nil, logs...),
		Store:   store,
	})

	ctx := context.Background()
	n, err := w.Backfill(ctx, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// a second pass over the same range stores nothing new
	n, err = w.Backfill(ctx, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rec, err := store.GetByVault(ctx, testGauge)
	require.NoError(t, err)
	assert.Equal(t, domain.PathPermissioned, rec.Path)
	assert.Equal(t, uint64(12), rec.Block)
}
