package strategy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

// venue is where a strategy stakes its want and claims rewards from.
type venue interface {
	stakedBalance(s *Strategy) *uint256.Int
	deposit(tx *chain.Tx, s *Strategy, amount *uint256.Int) error
	withdraw(tx *chain.Tx, s *Strategy, amount *uint256.Int) error
	claim(tx *chain.Tx, s *Strategy) error
	claimableCRV(s *Strategy) *uint256.Int
}

// newVenue dispatches on the params' kind.
func newVenue(tx *chain.Tx, s *Strategy, params InitParams) (venue, error) {
	switch p := params.(type) {
	case ConvexParams:
		return newConvexVenue(tx, s, p)
	case CurveParams:
		return newCurveVenue(tx, s, p)
	default:
		return nil, ErrUnknownKind
	}
}

type convexVenue struct {
	pid        uint64
	booster    external.Booster
	rewardPool external.RewardPool
}

func newConvexVenue(tx *chain.Tx, s *Strategy, p ConvexParams) (*convexVenue, error) {
	booster, ok := chain.ContractAt[external.Booster](tx.Ledger(), p.Booster)
	if !ok {
		return nil, fmt.Errorf("booster %s: %w", p.Booster.Hex(), chain.ErrNoContract)
	}
	info, err := booster.PoolInfo(p.Pid)
	if err != nil {
		return nil, err
	}
	if info.LPToken != s.want.Address() {
		return nil, fmt.Errorf("pool %d: %w", p.Pid, ErrWrongWant)
	}
	pool, ok := chain.ContractAt[external.RewardPool](tx.Ledger(), info.CRVRewards)
	if !ok {
		return nil, fmt.Errorf("reward pool %s: %w", info.CRVRewards.Hex(), chain.ErrNoContract)
	}
	cvx, ok := chain.ContractAt[external.ERC20](tx.Ledger(), p.ConvexToken)
	if !ok {
		return nil, fmt.Errorf("convex token %s: %w", p.ConvexToken.Hex(), chain.ErrNoContract)
	}
	crv, ok := chain.ContractAt[external.ERC20](tx.Ledger(), booster.CRV())
	if !ok {
		return nil, fmt.Errorf("crv %s: %w", booster.CRV().Hex(), chain.ErrNoContract)
	}

	chain.Set(tx, &s.crv, crv)
	chain.Set(tx, &s.cvx, cvx)
	setProfitBounds(tx, s, p.HarvestProfitMinInUsdc, p.HarvestProfitMaxInUsdc)
	if err := s.want.Approve(tx.As(s.address), booster.Address(), chain.MaxUint()); err != nil {
		return nil, err
	}
	return &convexVenue{pid: p.Pid, booster: booster, rewardPool: pool}, nil
}

func (v *convexVenue) stakedBalance(s *Strategy) *uint256.Int {
	return v.rewardPool.BalanceOf(s.address)
}

func (v *convexVenue) deposit(tx *chain.Tx, s *Strategy, amount *uint256.Int) error {
	return v.booster.Deposit(tx.As(s.address), v.pid, amount, true)
}

// withdraw unstakes and unwraps. Rewards are claimed along only when the
// strategy's claimRewards flag is on.
func (v *convexVenue) withdraw(tx *chain.Tx, s *Strategy, amount *uint256.Int) error {
	return v.rewardPool.WithdrawAndUnwrap(tx.As(s.address), amount, s.claimRewards)
}

func (v *convexVenue) claim(tx *chain.Tx, s *Strategy) error {
	return v.rewardPool.GetReward(tx.As(s.address), s.address, true)
}

func (v *convexVenue) claimableCRV(s *Strategy) *uint256.Int {
	return v.rewardPool.Earned(s.address)
}

type curveVenue struct {
	proxy external.StrategyProxy
	gauge external.Gauge
}

func newCurveVenue(tx *chain.Tx, s *Strategy, p CurveParams) (*curveVenue, error) {
	proxy, ok := chain.ContractAt[external.StrategyProxy](tx.Ledger(), p.Proxy)
	if !ok {
		return nil, fmt.Errorf("strategy proxy %s: %w", p.Proxy.Hex(), chain.ErrNoContract)
	}
	gauge, ok := chain.ContractAt[external.Gauge](tx.Ledger(), p.Gauge)
	if !ok {
		return nil, fmt.Errorf("gauge %s: %w", p.Gauge.Hex(), chain.ErrNoContract)
	}
	if gauge.LPToken() != s.want.Address() {
		return nil, fmt.Errorf("gauge %s: %w", p.Gauge.Hex(), ErrWrongWant)
	}
	crv, ok := chain.ContractAt[external.ERC20](tx.Ledger(), proxy.CRV())
	if !ok {
		return nil, fmt.Errorf("crv %s: %w", proxy.CRV().Hex(), chain.ErrNoContract)
	}
	chain.Set(tx, &s.crv, crv)
	setProfitBounds(tx, s, p.HarvestProfitMinInUsdc, p.HarvestProfitMaxInUsdc)
	return &curveVenue{proxy: proxy, gauge: gauge}, nil
}

// setProfitBounds copies the harvest trigger thresholds; nil keeps the
// current value.
func setProfitBounds(tx *chain.Tx, s *Strategy, lo, hi *uint256.Int) {
	if lo != nil {
		chain.Set(tx, &s.harvestProfitMinInUsdc, lo.Clone())
	}
	if hi != nil {
		chain.Set(tx, &s.harvestProfitMaxInUsdc, hi.Clone())
	}
}

func (v *curveVenue) stakedBalance(_ *Strategy) *uint256.Int {
	return v.proxy.BalanceOf(v.gauge.Address())
}

// deposit hands the want to the voter and lets the proxy stake it.
func (v *curveVenue) deposit(tx *chain.Tx, s *Strategy, amount *uint256.Int) error {
	self := tx.As(s.address)
	if err := s.want.Transfer(self, v.proxy.Voter(), amount); err != nil {
		return err
	}
	return v.proxy.Deposit(self, v.gauge.Address(), s.want.Address())
}

func (v *curveVenue) withdraw(tx *chain.Tx, s *Strategy, amount *uint256.Int) error {
	_, err := v.proxy.Withdraw(tx.As(s.address), v.gauge.Address(), s.want.Address(), amount)
	return err
}

func (v *curveVenue) claim(tx *chain.Tx, s *Strategy) error {
	self := tx.As(s.address)
	if err := v.proxy.Harvest(self, v.gauge.Address()); err != nil {
		return err
	}
	if len(s.rewardsTokens) == 0 {
		return nil
	}
	return v.proxy.ClaimManyRewards(self, v.gauge.Address(), s.rewardsTokens)
}

func (v *curveVenue) claimableCRV(_ *Strategy) *uint256.Int {
	return v.gauge.ClaimableCRV(v.proxy.Voter())
}

// depositContract reports the booster and pool id of convex strategies.
func depositContract(v venue) (common.Address, uint64, bool) {
	if c, ok := v.(*convexVenue); ok {
		return c.booster.Address(), c.pid, true
	}
	return common.Address{}, 0, false
}
