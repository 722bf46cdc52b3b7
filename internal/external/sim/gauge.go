package sim

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

type rewardKey struct {
	account common.Address
	index   int
}

// Gauge is a liquidity gauge emitting CRV (index 0) and optional extra
// reward tokens at fixed per-second rates, shared pro rata by depositors.
// The gauge must be a minter of every token it emits.
type Gauge struct {
	address common.Address
	ledger  *chain.Ledger
	lp      *chain.Token

	tokens []*chain.Token
	rates  []*uint256.Int

	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	integrals   []*uint256.Int
	lastUpdate  uint64
	paid        map[rewardKey]*uint256.Int
	claimable   map[rewardKey]*uint256.Int
}

var _ external.Gauge = (*Gauge)(nil)

// DeployGauge creates a gauge for lp emitting crvPerSecond CRV.
func DeployGauge(tx *chain.Tx, lp, crv *chain.Token, crvPerSecond *uint256.Int) *Gauge {
	g := &Gauge{
		address:     tx.Create(),
		ledger:      tx.Ledger(),
		lp:          lp,
		tokens:      []*chain.Token{crv},
		rates:       []*uint256.Int{crvPerSecond.Clone()},
		integrals:   []*uint256.Int{chain.Zero()},
		totalSupply: chain.Zero(),
		balances:    make(map[common.Address]*uint256.Int),
		lastUpdate:  tx.Time(),
		paid:        make(map[rewardKey]*uint256.Int),
		claimable:   make(map[rewardKey]*uint256.Int),
	}
	tx.Register(g.address, g)
	return g
}

// AddReward adds an extra reward token emitted at perSecond.
func (g *Gauge) AddReward(tx *chain.Tx, token *chain.Token, perSecond *uint256.Int) {
	g.checkpoint(tx)
	chain.Append(tx, &g.tokens, token)
	chain.Append(tx, &g.rates, perSecond.Clone())
	chain.Append(tx, &g.integrals, chain.Zero())
}

func (g *Gauge) Address() common.Address { return g.address }
func (g *Gauge) LPToken() common.Address { return g.lp.Address() }

func (g *Gauge) BalanceOf(account common.Address) *uint256.Int {
	return valueOrZero(g.balances, account)
}

func (g *Gauge) TotalSupply() *uint256.Int {
	return g.totalSupply.Clone()
}

// RewardTokens lists the extra (non-CRV) reward tokens.
func (g *Gauge) RewardTokens() []common.Address {
	out := make([]common.Address, 0, len(g.tokens)-1)
	for _, t := range g.tokens[1:] {
		out = append(out, t.Address())
	}
	return out
}

func (g *Gauge) integralAt(i int, now uint64) *uint256.Int {
	integral := g.integrals[i].Clone()
	if g.totalSupply.IsZero() || now <= g.lastUpdate {
		return integral
	}
	emitted := new(uint256.Int).Mul(g.rates[i], uint256.NewInt(now-g.lastUpdate))
	return integral.Add(integral, chain.MulDiv(emitted, precision, g.totalSupply))
}

func (g *Gauge) claimableAt(account common.Address, i int, now uint64) *uint256.Int {
	key := rewardKey{account, i}
	delta := new(uint256.Int).Sub(g.integralAt(i, now), valueOrZeroKey(g.paid, key))
	accrued := chain.MulDiv(g.BalanceOf(account), delta, precision)
	return accrued.Add(accrued, valueOrZeroKey(g.claimable, key))
}

// ClaimableCRV is the CRV account could claim now.
func (g *Gauge) ClaimableCRV(account common.Address) *uint256.Int {
	return g.claimableAt(account, 0, g.ledger.Now())
}

// ClaimableReward is the amount of extra reward token could claim now.
func (g *Gauge) ClaimableReward(account, token common.Address) *uint256.Int {
	for i, t := range g.tokens {
		if i > 0 && t.Address() == token {
			return g.claimableAt(account, i, g.ledger.Now())
		}
	}
	return chain.Zero()
}

func (g *Gauge) checkpoint(tx *chain.Tx) {
	now := tx.Time()
	integrals := make([]*uint256.Int, len(g.integrals))
	for i := range g.integrals {
		integrals[i] = g.integralAt(i, now)
	}
	chain.Set(tx, &g.integrals, integrals)
	chain.Set(tx, &g.lastUpdate, now)
}

func (g *Gauge) checkpointAccount(tx *chain.Tx, account common.Address) {
	g.checkpoint(tx)
	for i := range g.integrals {
		key := rewardKey{account, i}
		chain.SetMap(tx, g.claimable, key, g.claimableAt(account, i, tx.Time()))
		chain.SetMap(tx, g.paid, key, g.integrals[i].Clone())
	}
}

// Deposit pulls amount of LP from the caller.
func (g *Gauge) Deposit(tx *chain.Tx, amount *uint256.Int) error {
	account := tx.From()
	g.checkpointAccount(tx, account)
	if err := g.lp.TransferFrom(tx.As(g.address), account, g.address, amount); err != nil {
		return fmt.Errorf("gauge deposit: %w", err)
	}
	chain.Set(tx, &g.totalSupply, new(uint256.Int).Add(g.totalSupply, amount))
	chain.SetMap(tx, g.balances, account, new(uint256.Int).Add(g.BalanceOf(account), amount))
	return nil
}

// Withdraw returns amount of LP to the caller.
func (g *Gauge) Withdraw(tx *chain.Tx, amount *uint256.Int) error {
	account := tx.From()
	if g.BalanceOf(account).Lt(amount) {
		return fmt.Errorf("gauge withdraw: %w", chain.ErrInsufficientBalance)
	}
	g.checkpointAccount(tx, account)
	chain.Set(tx, &g.totalSupply, new(uint256.Int).Sub(g.totalSupply, amount))
	chain.SetMap(tx, g.balances, account, new(uint256.Int).Sub(g.BalanceOf(account), amount))
	return g.lp.Transfer(tx.As(g.address), account, amount)
}

// ClaimCRV mints the caller's accrued CRV to the caller.
func (g *Gauge) ClaimCRV(tx *chain.Tx) (*uint256.Int, error) {
	account := tx.From()
	g.checkpointAccount(tx, account)
	key := rewardKey{account, 0}
	amount := valueOrZeroKey(g.claimable, key)
	if amount.IsZero() {
		return amount, nil
	}
	chain.SetMap(tx, g.claimable, key, chain.Zero())
	if err := g.tokens[0].Mint(tx.As(g.address), account, amount); err != nil {
		return nil, fmt.Errorf("claim crv: %w", err)
	}
	return amount, nil
}

// ClaimRewards mints the caller's accrued extra rewards to receiver.
func (g *Gauge) ClaimRewards(tx *chain.Tx, receiver common.Address) error {
	account := tx.From()
	g.checkpointAccount(tx, account)
	for i := 1; i < len(g.tokens); i++ {
		key := rewardKey{account, i}
		amount := valueOrZeroKey(g.claimable, key)
		if amount.IsZero() {
			continue
		}
		chain.SetMap(tx, g.claimable, key, chain.Zero())
		if err := g.tokens[i].Mint(tx.As(g.address), receiver, amount); err != nil {
			return fmt.Errorf("claim rewards: %w", err)
		}
	}
	return nil
}

func valueOrZeroKey(m map[rewardKey]*uint256.Int, k rewardKey) *uint256.Int {
	if v, ok := m[k]; ok {
		return v.Clone()
	}
	return chain.Zero()
}
