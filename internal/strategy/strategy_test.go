package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external/sim"
)

var genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type world struct {
	l          *chain.Ledger
	gov        common.Address
	strategist common.Address
	keeper     common.Address
	treasury   common.Address
	user       common.Address

	crv     *chain.Token
	cvx     *chain.Token
	lp      *chain.Token
	extra   *chain.Token
	gauge   *sim.Gauge
	booster *sim.Booster
	proxy   *sim.StrategyProxy
	vault   *sim.Vault
	tf      *sim.TradeFactory

	convexTemplate *Strategy
	curveTemplate  *Strategy
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		l:          chain.NewLedger(genesis),
		gov:        chain.Account("gov"),
		strategist: chain.Account("strategist"),
		keeper:     chain.Account("keeper"),
		treasury:   chain.Account("treasury"),
		user:       chain.Account("user"),
	}
	w.do(t, w.gov, func(tx *chain.Tx) error {
		w.crv = chain.DeployToken(tx, "Curve DAO Token", "CRV", 18)
		w.cvx = chain.DeployToken(tx, "Convex Token", "CVX", 18)
		w.lp = chain.DeployToken(tx, "Curve.fi Factory Pool", "crvLP", 18)
		w.extra = chain.DeployToken(tx, "Extra Reward", "XTR", 18)

		w.gauge = sim.DeployGauge(tx, w.lp, w.crv, uint256.NewInt(1e15))
		w.gauge.AddReward(tx, w.extra, uint256.NewInt(1e14))
		for _, tok := range []*chain.Token{w.crv, w.extra} {
			if err := tok.SetMinter(tx, w.gauge.Address(), true); err != nil {
				return err
			}
		}

		w.booster = sim.DeployBooster(tx, w.crv, w.cvx, 5_000)
		if err := w.cvx.SetMinter(tx, w.booster.Address(), true); err != nil {
			return err
		}
		if _, err := w.booster.AddPool(tx, w.gauge); err != nil {
			return err
		}

		voter := sim.DeployVoter(tx)
		w.proxy = sim.DeployStrategyProxy(tx, voter, w.crv)
		if err := voter.SetStrategy(tx, w.proxy.Address()); err != nil {
			return err
		}
		w.tf = sim.DeployTradeFactory(tx)

		w.vault = sim.DeployVault(tx)
		if err := w.vault.Initialize(tx, w.lp.Address(), w.gov, w.treasury, "", "", w.gov); err != nil {
			return err
		}
		if err := w.vault.SetDepositLimit(tx, chain.MaxUint()); err != nil {
			return err
		}
		return w.lp.Mint(tx, w.user, chain.Units(10, 18))
	})

	w.do(t, w.strategist, func(tx *chain.Tx) error {
		var err error
		w.convexTemplate, err = DeployTemplate(tx, w.vault.Address(), w.tf.Address(), w.convexParams())
		if err != nil {
			return err
		}
		w.curveTemplate, err = DeployTemplate(tx, w.vault.Address(), w.tf.Address(), w.curveParams())
		return err
	})
	return w
}

func (w *world) convexParams() ConvexParams {
	return ConvexParams{
		Pid:                    0,
		HarvestProfitMinInUsdc: uint256.NewInt(7_500e6),
		HarvestProfitMaxInUsdc: uint256.NewInt(100_000e6),
		Booster:                w.booster.Address(),
		ConvexToken:            w.cvx.Address(),
	}
}

func (w *world) curveParams() CurveParams {
	return CurveParams{
		Proxy:                  w.proxy.Address(),
		Gauge:                  w.gauge.Address(),
		HarvestProfitMinInUsdc: uint256.NewInt(7_500e6),
		HarvestProfitMaxInUsdc: uint256.NewInt(100_000e6),
	}
}

func (w *world) do(t *testing.T, from common.Address, fn func(tx *chain.Tx) error) *chain.Receipt {
	t.Helper()
	r, err := w.l.Transact(context.Background(), from, fn)
	require.NoError(t, err)
	return r
}

func (w *world) try(from common.Address, fn func(tx *chain.Tx) error) error {
	_, err := w.l.Transact(context.Background(), from, fn)
	return err
}

// clone deploys a strategy of kind, adds it to the vault with the full
// debt ratio and deposits the user's LP.
func (w *world) clone(t *testing.T, params InitParams) *Strategy {
	t.Helper()
	var s *Strategy
	w.do(t, w.gov, func(tx *chain.Tx) error {
		var err error
		s, err = FromTemplate(tx, w.templateFor(params.Kind()).Address(), Init{
			Vault:        w.vault.Address(),
			Strategist:   w.strategist,
			Rewards:      w.treasury,
			Keeper:       w.keeper,
			TradeFactory: w.tf.Address(),
			Params:       params,
		})
		if err != nil {
			return err
		}
		if params.Kind() == KindCurve {
			if err := w.proxy.ApproveStrategy(tx, w.gauge.Address(), s.Address()); err != nil {
				return err
			}
		}
		return w.vault.AddStrategy(tx, s.Address(), 10_000, chain.Zero(), chain.MaxUint(), 0)
	})
	w.do(t, w.user, func(tx *chain.Tx) error {
		if err := w.lp.Approve(tx, w.vault.Address(), chain.MaxUint()); err != nil {
			return err
		}
		_, err := w.vault.Deposit(tx, chain.Units(10, 18))
		return err
	})
	return s
}

func (w *world) templateFor(k Kind) *Strategy {
	if k == KindCurve {
		return w.curveTemplate
	}
	return w.convexTemplate
}

func (w *world) harvest(t *testing.T, s *Strategy) Harvested {
	t.Helper()
	r := w.do(t, w.keeper, s.Harvest)
	ev, ok := chain.FindEvent[Harvested](r)
	require.True(t, ok)
	return ev
}

func TestDeployTemplate(t *testing.T) {
	w := newWorld(t)
	tpl := w.convexTemplate

	assert.True(t, tpl.IsOriginal())
	assert.Equal(t, KindConvex, tpl.Kind())
	assert.Equal(t, w.strategist, tpl.Strategist())
	assert.Equal(t, w.strategist, tpl.Keeper())
	assert.Equal(t, w.strategist, tpl.Rewards())
	assert.Equal(t, DefaultCreditThreshold, tpl.CreditThreshold())
	assert.Equal(t, uint64(365*24*3600), tpl.MaxReportDelay())
	assert.Equal(t, "StrategyConvexcrvLP", tpl.Name())
	assert.Equal(t, "StrategyCurveBoostedcrvLP", w.curveTemplate.Name())

	booster, pid, ok := tpl.DepositContract()
	require.True(t, ok)
	assert.Equal(t, w.booster.Address(), booster)
	assert.Equal(t, uint64(0), pid)

	_, _, ok = w.curveTemplate.DepositContract()
	assert.False(t, ok)

	assert.True(t, w.tf.IsEnabled(tpl.Address(), w.crv.Address(), w.lp.Address()))
	assert.True(t, w.tf.IsEnabled(tpl.Address(), w.cvx.Address(), w.lp.Address()))
}

func TestDeployTemplateRejectsForeignPool(t *testing.T) {
	w := newWorld(t)
	err := w.try(w.gov, func(tx *chain.Tx) error {
		other := chain.DeployToken(tx, "Other", "OTH", 18)
		v := sim.DeployVault(tx)
		if err := v.Initialize(tx, other.Address(), w.gov, w.gov, "", "", w.gov); err != nil {
			return err
		}
		_, err := DeployTemplate(tx, v.Address(), common.Address{}, w.convexParams())
		return err
	})
	require.ErrorIs(t, err, ErrWrongWant)
}

func TestCloneRules(t *testing.T) {
	w := newWorld(t)
	init := Init{
		Vault:      w.vault.Address(),
		Strategist: w.strategist,
		Rewards:    w.treasury,
		Keeper:     w.keeper,
		Params:     w.convexParams(),
	}

	var clone *Strategy
	r := w.do(t, w.gov, func(tx *chain.Tx) error {
		var err error
		clone, err = w.convexTemplate.Clone(tx, init)
		return err
	})
	ev, ok := chain.FindEvent[Cloned](r)
	require.True(t, ok)
	assert.Equal(t, clone.Address(), ev.Clone)
	assert.Equal(t, w.convexTemplate.Address(), ev.Template)
	assert.False(t, clone.IsOriginal())
	assert.Equal(t, w.convexTemplate.Address(), clone.Template())
	assert.Equal(t, w.treasury, clone.Rewards())
	assert.Equal(t, w.keeper, clone.Keeper())
	assert.Equal(t, uint256.NewInt(7_500e6), clone.HarvestProfitMinInUsdc())
	assert.Equal(t, uint256.NewInt(100_000e6), clone.HarvestProfitMaxInUsdc())

	got, ok := chain.ContractAt[*Strategy](w.l, clone.Address())
	require.True(t, ok)
	assert.Same(t, clone, got)

	err := w.try(w.gov, func(tx *chain.Tx) error {
		_, err := clone.Clone(tx, init)
		return err
	})
	require.ErrorIs(t, err, ErrNotTemplate)

	err = w.try(w.gov, func(tx *chain.Tx) error {
		_, err := w.curveTemplate.Clone(tx, init)
		return err
	})
	require.ErrorIs(t, err, ErrKindMismatch)

	err = w.try(w.gov, func(tx *chain.Tx) error {
		_, err := FromTemplate(tx, w.gov, init)
		return err
	})
	require.ErrorIs(t, err, ErrNotTemplate)

	init.Params = nil
	err = w.try(w.gov, func(tx *chain.Tx) error {
		_, err := FromTemplate(tx, w.convexTemplate.Address(), init)
		return err
	})
	require.ErrorIs(t, err, ErrMissingParams)
}

func TestConvexHarvestCycle(t *testing.T) {
	w := newWorld(t)
	s := w.clone(t, w.convexParams())
	curveVoter, convexVoter := chain.Account("curve-voter"), chain.Account("convex-voter")

	w.do(t, w.gov, func(tx *chain.Tx) error {
		if err := s.SetLocalKeepCRV(tx, 1_000); err != nil {
			return err
		}
		if err := s.SetLocalKeepCVX(tx, 1_000); err != nil {
			return err
		}
		if err := s.SetCurveVoter(tx, curveVoter); err != nil {
			return err
		}
		return s.SetConvexVoter(tx, convexVoter)
	})

	first := w.harvest(t, s)
	assert.True(t, first.Profit.IsZero())
	assert.True(t, first.Loss.IsZero())
	assert.Equal(t, chain.Units(10, 18), s.StakedBalance())
	assert.True(t, s.BalanceOfWant().IsZero())
	assert.True(t, s.DoHealthCheck(), "first harvest without a health check turns checking on")

	w.l.Sleep(24 * time.Hour)
	w.do(t, w.gov, func(tx *chain.Tx) error { return w.booster.EarmarkRewards(tx, 0) })

	second := w.harvest(t, s)
	assert.True(t, second.Profit.IsZero(), "reward tokens are not profit until sold")
	claimed := uint256.MustFromDecimal("86400000000000000000")
	assert.Equal(t, chain.MulDiv(claimed, uint256.NewInt(1_000), uint256.NewInt(10_000)), w.crv.BalanceOf(curveVoter))
	assert.Equal(t, chain.MulDiv(claimed, uint256.NewInt(9_000), uint256.NewInt(10_000)), w.crv.BalanceOf(s.Address()))
	assert.Equal(t, chain.MulDiv(claimed, uint256.NewInt(500), uint256.NewInt(10_000)), w.cvx.BalanceOf(convexVoter))

	donation := chain.Units(1, 17)
	w.do(t, w.gov, func(tx *chain.Tx) error { return w.lp.Mint(tx, s.Address(), donation) })

	third := w.harvest(t, s)
	assert.Equal(t, donation, third.Profit)
	assert.True(t, s.BalanceOfWant().IsZero())
	assert.Equal(t, donation, w.vault.Strategies(s.Address()).TotalGain)
}

func TestCurveHarvestCycle(t *testing.T) {
	w := newWorld(t)
	s := w.clone(t, w.curveParams())
	assert.Equal(t, uint256.NewInt(7_500e6), s.HarvestProfitMinInUsdc())
	assert.Equal(t, uint256.NewInt(100_000e6), s.HarvestProfitMaxInUsdc())

	w.do(t, w.gov, func(tx *chain.Tx) error {
		if err := s.UpdateRewards(tx, []common.Address{w.extra.Address()}); err != nil {
			return err
		}
		return w.proxy.ApproveRewardToken(tx, w.extra.Address())
	})
	assert.Equal(t, []common.Address{w.crv.Address(), w.extra.Address()}, s.RewardTokens())
	assert.True(t, w.tf.IsEnabled(s.Address(), w.extra.Address(), w.lp.Address()))

	w.harvest(t, s)
	assert.Equal(t, chain.Units(10, 18), s.StakedBalance())
	assert.Equal(t, chain.Units(10, 18), w.proxy.BalanceOf(w.gauge.Address()))
	assert.True(t, s.BalanceOfWant().IsZero())

	w.l.Sleep(time.Hour)
	w.harvest(t, s)
	assert.Equal(t, uint256.NewInt(3_600*1e15), w.crv.BalanceOf(s.Address()))
	assert.Equal(t, uint256.NewInt(3_600*1e14), w.extra.BalanceOf(s.Address()))
}

func TestEmergencyExitLiquidates(t *testing.T) {
	w := newWorld(t)
	s := w.clone(t, w.convexParams())
	w.harvest(t, s)

	err := w.try(w.user, s.SetEmergencyExit)
	require.ErrorIs(t, err, chain.ErrUnauthorized)

	w.do(t, w.strategist, s.SetEmergencyExit)
	assert.True(t, s.EmergencyExit())
	assert.Equal(t, uint64(0), w.vault.Strategies(s.Address()).DebtRatio)

	ev := w.harvest(t, s)
	assert.Equal(t, chain.Units(10, 18), ev.DebtPayment)
	assert.True(t, s.StakedBalance().IsZero())
	assert.True(t, s.BalanceOfWant().IsZero())
	assert.True(t, w.vault.Strategies(s.Address()).TotalDebt.IsZero())
	assert.Equal(t, chain.Units(10, 18), w.lp.BalanceOf(w.vault.Address()))
}

func TestHealthCheckRejectsOutsizedProfit(t *testing.T) {
	w := newWorld(t)
	s := w.clone(t, w.convexParams())
	w.do(t, w.gov, func(tx *chain.Tx) error {
		hc := sim.DeployHealthCheck(tx, 300, 1)
		return s.SetHealthCheck(tx, hc.Address())
	})
	w.harvest(t, s)
	require.True(t, s.DoHealthCheck())

	w.do(t, w.gov, func(tx *chain.Tx) error { return w.lp.Mint(tx, s.Address(), chain.Units(1, 18)) })
	err := w.try(w.keeper, s.Harvest)
	require.ErrorIs(t, err, ErrHealthCheck)
	assert.Equal(t, chain.Units(1, 18), s.BalanceOfWant(), "failed harvest leaves state untouched")

	w.do(t, w.gov, func(tx *chain.Tx) error { return s.SetDoHealthCheck(tx, false) })
	ev := w.harvest(t, s)
	assert.Equal(t, chain.Units(1, 18), ev.Profit)
	assert.True(t, s.DoHealthCheck())
}

func TestVaultWithdrawPullsFromStrategy(t *testing.T) {
	w := newWorld(t)
	s := w.clone(t, w.convexParams())
	w.harvest(t, s)
	require.True(t, w.lp.BalanceOf(w.user).IsZero())

	w.do(t, w.user, func(tx *chain.Tx) error {
		_, err := w.vault.Withdraw(tx, w.vault.BalanceOf(w.user))
		return err
	})
	assert.Equal(t, chain.Units(10, 18), w.lp.BalanceOf(w.user))
	assert.True(t, s.StakedBalance().IsZero())

	err := w.try(w.user, func(tx *chain.Tx) error {
		_, err := s.Withdraw(tx, chain.Units(1, 18))
		return err
	})
	require.ErrorIs(t, err, ErrNotVault)
}

func TestSetterAccessAndBounds(t *testing.T) {
	w := newWorld(t)
	convex := w.clone(t, w.convexParams())

	var curve *Strategy
	w.do(t, w.gov, func(tx *chain.Tx) error {
		var err error
		curve, err = w.curveTemplate.Clone(tx, Init{Vault: w.vault.Address(), Strategist: w.strategist, Params: w.curveParams()})
		return err
	})

	cases := []struct {
		name string
		from common.Address
		fn   func(tx *chain.Tx) error
		want error
	}{
		{"harvest by stranger", w.user, convex.Harvest, chain.ErrUnauthorized},
		{"keep crv above max", w.gov, func(tx *chain.Tx) error { return convex.SetLocalKeepCRV(tx, 10_001) }, ErrKeepTooHigh},
		{"keep crv by strategist", w.strategist, func(tx *chain.Tx) error { return convex.SetLocalKeepCRV(tx, 10) }, chain.ErrUnauthorized},
		{"keep cvx on curve", w.gov, func(tx *chain.Tx) error { return curve.SetLocalKeepCVX(tx, 10) }, ErrWrongKind},
		{"convex voter on curve", w.gov, func(tx *chain.Tx) error { return curve.SetConvexVoter(tx, w.gov) }, ErrWrongKind},
		{"rewards by governance", w.gov, func(tx *chain.Tx) error { return convex.SetRewards(tx, w.gov) }, chain.ErrUnauthorized},
		{"health check by strategist", w.strategist, func(tx *chain.Tx) error { return convex.SetHealthCheck(tx, w.gov) }, chain.ErrUnauthorized},
		{"keeper by user", w.user, func(tx *chain.Tx) error { return convex.SetKeeper(tx, w.user) }, chain.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, w.try(tc.from, tc.fn), tc.want)
		})
	}

	w.do(t, w.strategist, func(tx *chain.Tx) error { return convex.SetKeeper(tx, w.user) })
	assert.Equal(t, w.user, convex.Keeper())
	w.do(t, w.user, convex.Harvest)
}

func TestHarvestTrigger(t *testing.T) {
	w := newWorld(t)

	var idle *Strategy
	w.do(t, w.gov, func(tx *chain.Tx) error {
		var err error
		idle, err = w.convexTemplate.Clone(tx, Init{Vault: w.vault.Address(), Strategist: w.strategist, Params: w.convexParams()})
		return err
	})
	assert.False(t, idle.HarvestTrigger(chain.Zero()), "inactive strategies never trigger")

	s := w.clone(t, w.convexParams())
	w.harvest(t, s)
	assert.False(t, s.HarvestTrigger(chain.Zero()))

	var fee *sim.BaseFeeOracle
	prices := sim.NewPriceOracle()
	prices.SetPrice(w.crv.Address(), uint256.NewInt(1e6))
	w.do(t, w.gov, func(tx *chain.Tx) error {
		fee = sim.DeployBaseFeeOracle(tx)
		registered := chain.Account("price-oracle")
		tx.Register(registered, prices)
		if err := s.SetPriceOracle(tx, registered); err != nil {
			return err
		}
		return s.SetBaseFeeOracle(tx, fee.Address())
	})

	w.do(t, w.gov, func(tx *chain.Tx) error { return s.SetForceHarvestTriggerOnce(tx, true) })
	assert.True(t, s.HarvestTrigger(chain.Zero()))

	w.do(t, w.gov, func(tx *chain.Tx) error {
		if err := fee.SetBaseFeeProvider(tx, common.Address{}); err != nil {
			return err
		}
		return fee.SetManualBaseFeeBool(tx, false)
	})
	assert.False(t, s.HarvestTrigger(chain.Zero()), "base fee gates forced harvests")

	// One day of CRV is 86.4 USDC at 1 USDC per CRV.
	w.l.Sleep(24 * time.Hour)
	w.do(t, w.gov, func(tx *chain.Tx) error { return w.booster.EarmarkRewards(tx, 0) })
	assert.Equal(t, uint256.NewInt(86_400_000), s.ClaimableProfitInUsdc())
	w.do(t, w.gov, func(tx *chain.Tx) error {
		return s.SetHarvestTriggerParams(tx, uint256.NewInt(1e6), uint256.NewInt(50e6))
	})
	assert.True(t, s.HarvestTrigger(chain.Zero()), "profit above max ignores the base fee")

	w.do(t, w.gov, func(tx *chain.Tx) error {
		if err := s.SetHarvestTriggerParams(tx, uint256.NewInt(100e6), uint256.NewInt(200e6)); err != nil {
			return err
		}
		if err := s.SetForceHarvestTriggerOnce(tx, false); err != nil {
			return err
		}
		return fee.SetManualBaseFeeBool(tx, true)
	})
	assert.False(t, s.HarvestTrigger(chain.Zero()))

	w.l.Sleep(366 * 24 * time.Hour)
	assert.True(t, s.HarvestTrigger(chain.Zero()), "max report delay elapsed")
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("balancer")
	require.ErrorIs(t, err, ErrUnknownKind)
}
