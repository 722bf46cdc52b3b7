package sim

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

// ErrNotBooster guards reward-pool entry points reserved for the booster.
var ErrNotBooster = errors.New("!booster")

var precision = chain.Units(1, 18)

// Booster is a Convex-style deposit contract. LP deposited through it sits
// in the gauge under the booster's voter account; claimed CRV is forwarded
// to each pool's reward contract by EarmarkRewards.
type Booster struct {
	address     common.Address
	ledger      *chain.Ledger
	poolManager common.Address
	voterProxy  common.Address

	crv *chain.Token
	cvx *chain.Token
	// cvxPerCrvBPS is how much CVX is minted per CRV claimed.
	cvxPerCrvBPS uint64

	pools   []external.PoolInfo
	gauges  []*Gauge
	rewards []*RewardPool
}

var _ external.Booster = (*Booster)(nil)

// DeployBooster creates a booster managed by the sender. The booster must
// be made a minter of cvx before rewards are claimed.
func DeployBooster(tx *chain.Tx, crv, cvx *chain.Token, cvxPerCrvBPS uint64) *Booster {
	b := &Booster{
		address:      tx.Create(),
		ledger:       tx.Ledger(),
		poolManager:  tx.From(),
		crv:          crv,
		cvx:          cvx,
		cvxPerCrvBPS: cvxPerCrvBPS,
	}
	b.voterProxy = chain.Account("convex-voter-proxy:" + b.address.Hex())
	tx.Register(b.address, b)
	return b
}

func (b *Booster) Address() common.Address     { return b.address }
func (b *Booster) CRV() common.Address         { return b.crv.Address() }
func (b *Booster) VoterProxy() common.Address  { return b.voterProxy }
func (b *Booster) PoolManager() common.Address { return b.poolManager }
func (b *Booster) PoolLength() uint64          { return uint64(len(b.pools)) }

func (b *Booster) PoolInfo(pid uint64) (external.PoolInfo, error) {
	if pid >= uint64(len(b.pools)) {
		return external.PoolInfo{}, fmt.Errorf("pool %d: %w", pid, external.ErrUnknownPool)
	}
	return b.pools[pid], nil
}

// RewardPool returns the reward contract of pid.
func (b *Booster) RewardPool(pid uint64) (*RewardPool, error) {
	if pid >= uint64(len(b.rewards)) {
		return nil, fmt.Errorf("pool %d: %w", pid, external.ErrUnknownPool)
	}
	return b.rewards[pid], nil
}

// AddPool lists gauge and deploys its deposit token and reward pool.
func (b *Booster) AddPool(tx *chain.Tx, gauge *Gauge) (uint64, error) {
	if tx.From() != b.poolManager {
		return 0, chain.ErrUnauthorized
	}
	lp, ok := chain.ContractAt[*chain.Token](b.ledger, gauge.LPToken())
	if !ok {
		return 0, fmt.Errorf("add pool: lp token: %w", chain.ErrNoContract)
	}
	pid := uint64(len(b.pools))

	self := tx.As(b.address)
	depositToken := chain.DeployToken(self, "Convex "+lp.Symbol(), "cvx"+lp.Symbol(), lp.Decimals())
	pool := deployRewardPool(self, b, pid)
	if err := lp.Approve(tx.As(b.voterProxy), gauge.Address(), chain.MaxUint()); err != nil {
		return 0, err
	}

	chain.Append(tx, &b.pools, external.PoolInfo{
		LPToken:    lp.Address(),
		Token:      depositToken.Address(),
		Gauge:      gauge.Address(),
		CRVRewards: pool.Address(),
	})
	chain.Append(tx, &b.gauges, gauge)
	chain.Append(tx, &b.rewards, pool)
	return pid, nil
}

// Shutdown closes pid for earmarking and new deposits.
func (b *Booster) Shutdown(tx *chain.Tx, pid uint64) error {
	if tx.From() != b.poolManager {
		return chain.ErrUnauthorized
	}
	if pid >= uint64(len(b.pools)) {
		return external.ErrUnknownPool
	}
	info := b.pools[pid]
	info.Shutdown = true
	pools := append([]external.PoolInfo(nil), b.pools...)
	pools[pid] = info
	chain.Set(tx, &b.pools, pools)
	return nil
}

// Deposit pulls amount of the pool's LP from the caller into the gauge and,
// when stake is set, credits the caller on the reward pool.
func (b *Booster) Deposit(tx *chain.Tx, pid uint64, amount *uint256.Int, stake bool) error {
	info, err := b.PoolInfo(pid)
	if err != nil {
		return err
	}
	if info.Shutdown {
		return external.ErrPoolClosed
	}
	lp, _ := chain.ContractAt[*chain.Token](b.ledger, info.LPToken)
	if err := lp.TransferFrom(tx.As(b.address), tx.From(), b.voterProxy, amount); err != nil {
		return fmt.Errorf("booster deposit: %w", err)
	}
	if err := b.gauges[pid].Deposit(tx.As(b.voterProxy), amount); err != nil {
		return fmt.Errorf("booster deposit: %w", err)
	}
	if !stake {
		return nil
	}
	return b.rewards[pid].stakeFor(tx.As(b.address), tx.From(), amount)
}

// EarmarkRewards claims the pool's CRV from its gauge and queues it on the
// reward pool.
func (b *Booster) EarmarkRewards(tx *chain.Tx, pid uint64) error {
	info, err := b.PoolInfo(pid)
	if err != nil {
		return err
	}
	if info.Shutdown {
		return external.ErrPoolClosed
	}
	claimed, err := b.gauges[pid].ClaimCRV(tx.As(b.voterProxy))
	if err != nil {
		return fmt.Errorf("earmark pool %d: %w", pid, err)
	}
	if claimed.IsZero() {
		return nil
	}
	pool := b.rewards[pid]
	if err := b.crv.Transfer(tx.As(b.voterProxy), pool.Address(), claimed); err != nil {
		return fmt.Errorf("earmark pool %d: %w", pid, err)
	}
	return pool.queueNewRewards(tx.As(b.address), claimed)
}

func (b *Booster) withdrawTo(tx *chain.Tx, pid uint64, amount *uint256.Int, to common.Address) error {
	if tx.From() != b.rewards[pid].Address() {
		return chain.ErrUnauthorized
	}
	if err := b.gauges[pid].Withdraw(tx.As(b.voterProxy), amount); err != nil {
		return err
	}
	lp, _ := chain.ContractAt[*chain.Token](b.ledger, b.pools[pid].LPToken)
	return lp.Transfer(tx.As(b.voterProxy), to, amount)
}

func (b *Booster) mintCVX(tx *chain.Tx, to common.Address, crvAmount *uint256.Int) error {
	amount := chain.MulDiv(crvAmount, uint256.NewInt(b.cvxPerCrvBPS), uint256.NewInt(external.MaxBPS))
	if amount.IsZero() {
		return nil
	}
	return b.cvx.Mint(tx.As(b.address), to, amount)
}

// RewardPool is a staking contract paying CRV (plus CVX minted by the
// booster). Queued rewards are distributed to current stakers immediately.
type RewardPool struct {
	address common.Address
	booster *Booster
	pid     uint64

	totalSupply    *uint256.Int
	balances       map[common.Address]*uint256.Int
	rewardPerToken *uint256.Int
	paid           map[common.Address]*uint256.Int
	rewards        map[common.Address]*uint256.Int
	queued         *uint256.Int
}

var _ external.RewardPool = (*RewardPool)(nil)

func deployRewardPool(tx *chain.Tx, booster *Booster, pid uint64) *RewardPool {
	p := &RewardPool{
		address:        tx.Create(),
		booster:        booster,
		pid:            pid,
		totalSupply:    chain.Zero(),
		balances:       make(map[common.Address]*uint256.Int),
		rewardPerToken: chain.Zero(),
		paid:           make(map[common.Address]*uint256.Int),
		rewards:        make(map[common.Address]*uint256.Int),
		queued:         chain.Zero(),
	}
	tx.Register(p.address, p)
	return p
}

func (p *RewardPool) Address() common.Address { return p.address }
func (p *RewardPool) Pid() uint64             { return p.pid }

func (p *RewardPool) TotalSupply() *uint256.Int {
	return p.totalSupply.Clone()
}

func (p *RewardPool) BalanceOf(account common.Address) *uint256.Int {
	return valueOrZero(p.balances, account)
}

// Earned is the CRV claimable by account.
func (p *RewardPool) Earned(account common.Address) *uint256.Int {
	delta := new(uint256.Int).Sub(p.rewardPerToken, valueOrZero(p.paid, account))
	accrued := chain.MulDiv(p.BalanceOf(account), delta, precision)
	return accrued.Add(accrued, valueOrZero(p.rewards, account))
}

func (p *RewardPool) updateReward(tx *chain.Tx, account common.Address) {
	chain.SetMap(tx, p.rewards, account, p.Earned(account))
	chain.SetMap(tx, p.paid, account, p.rewardPerToken.Clone())
}

func (p *RewardPool) stakeFor(tx *chain.Tx, account common.Address, amount *uint256.Int) error {
	if tx.From() != p.booster.address {
		return ErrNotBooster
	}
	p.updateReward(tx, account)
	chain.Set(tx, &p.totalSupply, new(uint256.Int).Add(p.totalSupply, amount))
	chain.SetMap(tx, p.balances, account, new(uint256.Int).Add(p.BalanceOf(account), amount))
	return nil
}

func (p *RewardPool) queueNewRewards(tx *chain.Tx, amount *uint256.Int) error {
	if tx.From() != p.booster.address {
		return ErrNotBooster
	}
	total := new(uint256.Int).Add(amount, p.queued)
	if p.totalSupply.IsZero() {
		chain.Set(tx, &p.queued, total)
		return nil
	}
	inc := chain.MulDiv(total, precision, p.totalSupply)
	chain.Set(tx, &p.rewardPerToken, new(uint256.Int).Add(p.rewardPerToken, inc))
	chain.Set(tx, &p.queued, chain.Zero())
	return nil
}

// GetReward pays account its earned CRV and the matching CVX.
func (p *RewardPool) GetReward(tx *chain.Tx, account common.Address, _ bool) error {
	p.updateReward(tx, account)
	reward := valueOrZero(p.rewards, account)
	if reward.IsZero() {
		return nil
	}
	chain.SetMap(tx, p.rewards, account, chain.Zero())
	if err := p.booster.crv.Transfer(tx.As(p.address), account, reward); err != nil {
		return fmt.Errorf("get reward: %w", err)
	}
	return p.booster.mintCVX(tx, account, reward)
}

// WithdrawAndUnwrap unstakes amount for the caller and returns the LP.
func (p *RewardPool) WithdrawAndUnwrap(tx *chain.Tx, amount *uint256.Int, claim bool) error {
	account := tx.From()
	if p.BalanceOf(account).Lt(amount) {
		return fmt.Errorf("withdraw %s: %w", amount.Dec(), chain.ErrInsufficientBalance)
	}
	p.updateReward(tx, account)
	chain.Set(tx, &p.totalSupply, new(uint256.Int).Sub(p.totalSupply, amount))
	chain.SetMap(tx, p.balances, account, new(uint256.Int).Sub(p.BalanceOf(account), amount))
	if err := p.booster.withdrawTo(tx.As(p.address), p.pid, amount, account); err != nil {
		return fmt.Errorf("withdraw and unwrap: %w", err)
	}
	if claim {
		return p.GetReward(tx, account, true)
	}
	return nil
}

func valueOrZero(m map[common.Address]*uint256.Int, k common.Address) *uint256.Int {
	if v, ok := m[k]; ok {
		return v.Clone()
	}
	return chain.Zero()
}
