package harvest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/external"
	"vault-factory-lab/internal/external/sim"
	"vault-factory-lab/internal/fixtures"
	"vault-factory-lab/internal/harvest"
	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/observability"
	"vault-factory-lab/internal/strategy"
)

var deposit = chain.Units(10, 18)

type env struct {
	w      *fixtures.World
	vault  *sim.Vault
	convex *strategy.Strategy
	pool   *fixtures.Pool
}

// newEnv deploys the rETH vault through the factory, hands it to gov and
// deposits 10 LP from the whale.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	w, err := fixtures.Build(ctx, fixtures.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, w.EndorseFactory(ctx))
	require.NoError(t, w.ConnectProxy(ctx))

	pool := w.Pool("rETH")
	var rec domain.DeploymentRecord
	do(t, w, w.Accounts.Whale, func(tx *chain.Tx) error {
		rec, err = w.Factory.CreateNewVaultsAndStrategies(tx, pool.Gauge.Address())
		return err
	})
	v, ok := w.Vault(rec.Vault)
	require.True(t, ok)
	s, ok := w.Strategy(rec.ConvexStrategy)
	require.True(t, ok)

	do(t, w, w.Accounts.Gov, v.AcceptGovernance)
	do(t, w, w.Accounts.Whale, func(tx *chain.Tx) error {
		if err := pool.LP.Approve(tx, v.Address(), chain.MaxUint()); err != nil {
			return err
		}
		_, err := v.Deposit(tx, deposit)
		return err
	})
	return &env{w: w, vault: v, convex: s, pool: pool}
}

func do(t *testing.T, w *fixtures.World, from common.Address, fn func(tx *chain.Tx) error) {
	t.Helper()
	_, err := w.Ledger.Transact(context.Background(), from, fn)
	require.NoError(t, err)
}

func (e *env) engine(t *testing.T, m *observability.Metrics, useYSwaps bool, profit *uint256.Int) *harvest.Engine {
	return harvest.New(harvest.Options{
		Ledger:       e.w.Ledger,
		Gov:          e.w.Accounts.Gov,
		UseYSwaps:    useYSwaps,
		ProfitWhale:  e.w.Accounts.ProfitWhale,
		ProfitAmount: profit,
		Logger:       logging.New(zaptest.NewLogger(t)),
		Metrics:      m,
	})
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics("test", prometheus.NewRegistry())
}

func TestHarvestCycle(t *testing.T) {
	e := newEnv(t)
	m := testMetrics()
	donation := chain.Units(1, 17)
	eng := e.engine(t, m, true, donation)
	ctx := context.Background()

	// first harvest only moves the deposit into the booster
	first, err := eng.Harvest(ctx, e.convex)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFlat, first.Class())
	assert.Equal(t, "convex", first.Kind)
	assert.Equal(t, e.vault.Address(), first.Vault)
	assert.Equal(t, e.convex.Address(), first.Strategy)
	assert.False(t, first.Swept)
	assert.Nil(t, first.Donated)
	assert.Empty(t, first.PreSyncError)
	assert.Equal(t, deposit, e.convex.StakedBalance())
	assert.True(t, e.convex.BalanceOfWant().IsZero())
	assert.True(t, e.convex.DoHealthCheck())

	// a day of rewards is claimed, swept and paid back in want
	e.w.Ledger.Sleep(24 * time.Hour)
	second, err := eng.Harvest(ctx, e.convex)
	require.NoError(t, err)
	assert.True(t, second.Swept)
	assert.Equal(t, donation, second.Donated)
	assert.Equal(t, donation, e.convex.BalanceOfWant())
	for _, tok := range e.convex.RewardTokens() {
		erc, ok := chain.ContractAt[external.ERC20](e.w.Ledger, tok)
		require.True(t, ok)
		assert.True(t, erc.BalanceOf(e.convex.Address()).IsZero(), "reward %s left on strategy", erc.Symbol())
	}
	assert.False(t, e.w.CRV.BalanceOf(e.pool.LP.Address()).IsZero())

	// the donation is reported as profit on the next harvest
	third, err := eng.Harvest(ctx, e.convex)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProfit, third.Class())
	assert.Equal(t, donation, third.Profit)
	assert.True(t, third.ProfitUnits.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, third.Loss.IsZero())

	assert.Less(t, first.Block, second.Block)
	assert.Less(t, second.Block, third.Block)
	assert.Less(t, first.Timestamp, second.Timestamp)
	assert.NotEqual(t, first.OutcomeID, second.OutcomeID)
	assert.Len(t, third.OutcomeID, 64)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.HarvestsTotal.WithLabelValues("convex", "ok")))
}

func TestHarvestMovesClock(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t, nil, false, nil)

	block, now := e.w.Ledger.BlockNumber(), e.w.Ledger.Now()
	out, err := eng.Harvest(context.Background(), e.convex)
	require.NoError(t, err)

	assert.Greater(t, out.Block, block)
	assert.Greater(t, e.w.Ledger.BlockNumber(), out.Block)
	assert.GreaterOrEqual(t, e.w.Ledger.Now(), now+2*uint64(harvest.StabilizeDelay/time.Second))
}

func TestHarvestSwallowsPreSyncFailure(t *testing.T) {
	e := newEnv(t)
	m := testMetrics()
	eng := e.engine(t, m, false, nil)
	ctx := context.Background()

	_, err := eng.Harvest(ctx, e.convex)
	require.NoError(t, err)

	do(t, e.w, e.w.Accounts.Gov, func(tx *chain.Tx) error {
		return e.w.Booster.Shutdown(tx, *e.pool.Pid)
	})
	e.w.Ledger.Sleep(time.Hour)

	out, err := eng.Harvest(ctx, e.convex)
	require.NoError(t, err)
	assert.Contains(t, out.PreSyncError, external.ErrPoolClosed.Error())
	assert.Equal(t, deposit, e.convex.StakedBalance())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PreSyncFailures))
}

func TestHarvestHealthCheckRollsBack(t *testing.T) {
	e := newEnv(t)
	m := testMetrics()
	eng := e.engine(t, m, false, nil)
	ctx := context.Background()

	_, err := eng.Harvest(ctx, e.convex)
	require.NoError(t, err)

	// 5 LP of profit on 10 LP of debt is far over the profit limit
	gift := chain.Units(5, 18)
	do(t, e.w, e.w.Accounts.ProfitWhale, func(tx *chain.Tx) error {
		return e.pool.LP.Transfer(tx, e.convex.Address(), gift)
	})

	_, err = eng.Harvest(ctx, e.convex)
	require.Error(t, err)
	assert.True(t, errors.Is(err, strategy.ErrHealthCheck))
	assert.Equal(t, gift, e.convex.BalanceOfWant())
	assert.Equal(t, deposit, e.convex.StakedBalance())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HarvestsTotal.WithLabelValues("convex", "error")))
}

func TestHarvestSkipsHealthCheckWhenNothingStaked(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t, nil, false, nil)
	gift := chain.Units(5, 18)

	do(t, e.w, e.w.Accounts.Gov, func(tx *chain.Tx) error { return e.convex.SetDoHealthCheck(tx, true) })
	do(t, e.w, e.w.Accounts.ProfitWhale, func(tx *chain.Tx) error {
		return e.pool.LP.Transfer(tx, e.convex.Address(), gift)
	})
	require.True(t, e.convex.StakedBalance().IsZero())

	// with nothing staked the gift would fail the profit limit
	out, err := eng.Harvest(context.Background(), e.convex)
	require.NoError(t, err)
	assert.Equal(t, gift, out.Profit)
	assert.True(t, e.convex.DoHealthCheck())
	assert.True(t, e.convex.BalanceOfWant().IsZero())
}

func TestHarvestClaimRewardsFlag(t *testing.T) {
	donation := chain.Units(1, 17)
	tests := []struct {
		name       string
		prepare    func(tx *chain.Tx, s *strategy.Strategy) error
		wantClaim  bool
		wantStaked *uint256.Int
		wantVault  *uint256.Int
	}{
		{
			name:       "emergency exit claims while unwinding",
			prepare:    func(tx *chain.Tx, s *strategy.Strategy) error { return s.SetEmergencyExit(tx) },
			wantClaim:  true,
			wantStaked: chain.Zero(),
			wantVault:  deposit,
		},
		{
			name:       "leftover claim flag is cleared",
			prepare:    func(tx *chain.Tx, s *strategy.Strategy) error { return s.SetClaimRewards(tx, true) },
			wantClaim:  false,
			wantStaked: deposit,
			wantVault:  chain.Zero(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			eng := e.engine(t, nil, true, donation)
			ctx := context.Background()

			_, err := eng.Harvest(ctx, e.convex)
			require.NoError(t, err)
			require.False(t, e.convex.ClaimRewards())

			e.w.Ledger.Sleep(24 * time.Hour)
			do(t, e.w, e.w.Accounts.Gov, func(tx *chain.Tx) error { return tt.prepare(tx, e.convex) })

			out, err := eng.Harvest(ctx, e.convex)
			require.NoError(t, err)
			assert.Equal(t, tt.wantClaim, e.convex.ClaimRewards())
			assert.Equal(t, tt.wantStaked, e.convex.StakedBalance())
			assert.Equal(t, tt.wantVault, e.pool.LP.BalanceOf(e.vault.Address()))
			assert.True(t, out.Loss.IsZero())

			// rewards were swept and the only want left is the donation
			assert.True(t, out.Swept)
			assert.Equal(t, donation, out.Donated)
			assert.Equal(t, donation, e.convex.BalanceOfWant())
			assert.True(t, e.w.CRV.BalanceOf(e.convex.Address()).IsZero())
		})
	}
}

func TestHarvestPropagatesStrategyError(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t, nil, false, nil)
	ctx := context.Background()

	_, err := eng.Harvest(ctx, e.convex)
	require.NoError(t, err)

	// idle want has nowhere to go once the pool is closed
	do(t, e.w, e.w.Accounts.Gov, func(tx *chain.Tx) error {
		return e.w.Booster.Shutdown(tx, *e.pool.Pid)
	})
	do(t, e.w, e.w.Accounts.Whale, func(tx *chain.Tx) error {
		_, err := e.vault.Deposit(tx, deposit)
		return err
	})

	_, err = eng.Harvest(ctx, e.convex)
	require.Error(t, err)
	assert.True(t, errors.Is(err, external.ErrPoolClosed))

	var violation *harvest.InvariantViolation
	assert.False(t, errors.As(err, &violation))
	assert.Equal(t, deposit, e.convex.StakedBalance())
}

func TestSettlementWithoutProfitIsViolation(t *testing.T) {
	e := newEnv(t)
	m := testMetrics()
	eng := e.engine(t, m, true, uint256.NewInt(0))
	ctx := context.Background()

	_, err := eng.Harvest(ctx, e.convex)
	require.NoError(t, err)

	e.w.Ledger.Sleep(24 * time.Hour)
	_, err = eng.Harvest(ctx, e.convex)
	require.Error(t, err)

	var violation *harvest.InvariantViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, harvest.InvariantSettlementProfit, violation.Invariant)
	assert.Equal(t, e.convex.Address(), violation.Strategy)
	assert.True(t, errors.Is(err, harvest.ErrSettlementNoProfit))

	// the sweep was rolled back with the rest of the harvest
	assert.True(t, e.w.CRV.BalanceOf(e.pool.LP.Address()).IsZero())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvariantViolations.WithLabelValues(harvest.InvariantSettlementProfit)))
}

func TestCheckStatus(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t, nil, false, nil)

	st, err := eng.CheckStatus(e.convex)
	require.NoError(t, err)
	assert.True(t, st.StakedBalance.IsZero())
	assert.True(t, st.CreditAvailable.Equal(decimal.NewFromInt(10)))

	_, err = eng.Harvest(context.Background(), e.convex)
	require.NoError(t, err)

	st, err = eng.CheckStatus(e.convex)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), st.DebtRatio)
	assert.True(t, st.StakedBalance.Equal(decimal.NewFromInt(10)))
	assert.True(t, st.StrategyDebt.Equal(decimal.NewFromInt(10)))
	assert.True(t, st.IdleWant.IsZero())
	assert.False(t, st.EmergencyExit)
}

func TestInvariantViolationError(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	err := error(&harvest.InvariantViolation{
		Invariant: harvest.InvariantIdleWant,
		Strategy:  addr,
		Err:       harvest.ErrIdleWant,
	})

	if !errors.Is(err, harvest.ErrIdleWant) {
		t.Errorf("errors.Is(ErrIdleWant) = false")
	}
	want := "harvest invariant idle_want violated by " + addr.Hex() + ": idle want after harvest"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
