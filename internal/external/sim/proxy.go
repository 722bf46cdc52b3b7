package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

var (
	ErrNotApprovedStrategy = errors.New("!strategy")
	ErrRewardNotApproved   = errors.New("reward token not approved")
)

// Voter holds gauge positions; only its strategy (the proxy) may move them.
type Voter struct {
	address    common.Address
	governance common.Address
	strategy   common.Address
}

var _ external.Voter = (*Voter)(nil)

// DeployVoter creates a voter governed by the sender.
func DeployVoter(tx *chain.Tx) *Voter {
	v := &Voter{address: tx.Create(), governance: tx.From()}
	tx.Register(v.address, v)
	return v
}

func (v *Voter) Address() common.Address    { return v.address }
func (v *Voter) Governance() common.Address { return v.governance }
func (v *Voter) Strategy() common.Address   { return v.strategy }

func (v *Voter) SetStrategy(tx *chain.Tx, proxy common.Address) error {
	if tx.From() != v.governance {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &v.strategy, proxy)
	return nil
}

// StrategyProxy pairs at most one strategy with each gauge and acts on the
// voter's gauge positions for that strategy. The pairing table is guarded
// by its own mutex so reads from other factories never observe a torn
// update.
type StrategyProxy struct {
	address    common.Address
	ledger     *chain.Ledger
	governance common.Address
	voter      *Voter
	crv        *chain.Token

	mu           sync.Mutex
	factory      common.Address
	strategies   map[common.Address]common.Address
	rewardTokens map[common.Address]bool
}

var _ external.StrategyProxy = (*StrategyProxy)(nil)

// DeployStrategyProxy creates a proxy governed by the sender acting for
// voter.
func DeployStrategyProxy(tx *chain.Tx, voter *Voter, crv *chain.Token) *StrategyProxy {
	p := &StrategyProxy{
		address:      tx.Create(),
		ledger:       tx.Ledger(),
		governance:   tx.From(),
		voter:        voter,
		crv:          crv,
		strategies:   make(map[common.Address]common.Address),
		rewardTokens: make(map[common.Address]bool),
	}
	tx.Register(p.address, p)
	return p
}

func (p *StrategyProxy) Address() common.Address    { return p.address }
func (p *StrategyProxy) CRV() common.Address        { return p.crv.Address() }
func (p *StrategyProxy) Voter() common.Address      { return p.voter.address }
func (p *StrategyProxy) Governance() common.Address { return p.governance }

func (p *StrategyProxy) Factory() common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.factory
}

// Strategies returns the strategy paired with gauge, or the zero address.
func (p *StrategyProxy) Strategies(gauge common.Address) common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strategies[gauge]
}

func (p *StrategyProxy) IsRewardTokenApproved(token common.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rewardTokens[token]
}

// BalanceOf is the voter's LP position in gauge.
func (p *StrategyProxy) BalanceOf(gauge common.Address) *uint256.Int {
	g, ok := chain.ContractAt[*Gauge](p.ledger, gauge)
	if !ok {
		return chain.Zero()
	}
	return g.BalanceOf(p.voter.address)
}

func (p *StrategyProxy) governanceOrFactory(tx *chain.Tx) error {
	if tx.From() != p.governance && tx.From() != p.Factory() {
		return chain.ErrUnauthorized
	}
	return nil
}

func (p *StrategyProxy) SetFactory(tx *chain.Tx, factory common.Address) error {
	if tx.From() != p.governance {
		return chain.ErrUnauthorized
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.factory
	p.factory = factory
	tx.OnRevert(func() {
		p.mu.Lock()
		p.factory = old
		p.mu.Unlock()
	})
	return nil
}

// ApproveStrategy claims the gauge slot for strategy. The check and the
// write happen under one lock.
func (p *StrategyProxy) ApproveStrategy(tx *chain.Tx, gauge, strategy common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tx.From() != p.governance && tx.From() != p.factory {
		return chain.ErrUnauthorized
	}
	if p.strategies[gauge] != (common.Address{}) {
		return fmt.Errorf("approve %s: %w", gauge.Hex(), external.ErrStrategyAlreadyApproved)
	}
	p.setStrategyLocked(tx, gauge, strategy)
	return nil
}

// RevokeStrategy frees the gauge slot. Governance only.
func (p *StrategyProxy) RevokeStrategy(tx *chain.Tx, gauge common.Address) error {
	if tx.From() != p.governance {
		return chain.ErrUnauthorized
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setStrategyLocked(tx, gauge, common.Address{})
	return nil
}

func (p *StrategyProxy) setStrategyLocked(tx *chain.Tx, gauge, strategy common.Address) {
	old, existed := p.strategies[gauge]
	p.strategies[gauge] = strategy
	tx.OnRevert(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if existed {
			p.strategies[gauge] = old
		} else {
			delete(p.strategies, gauge)
		}
	})
}

func (p *StrategyProxy) ApproveRewardToken(tx *chain.Tx, token common.Address) error {
	if err := p.governanceOrFactory(tx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	existed := p.rewardTokens[token]
	p.rewardTokens[token] = true
	tx.OnRevert(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !existed {
			delete(p.rewardTokens, token)
		}
	})
	return nil
}

func (p *StrategyProxy) pairedGauge(tx *chain.Tx, gauge common.Address) (*Gauge, error) {
	if p.Strategies(gauge) != tx.From() || tx.From() == (common.Address{}) {
		return nil, ErrNotApprovedStrategy
	}
	g, ok := chain.ContractAt[*Gauge](p.ledger, gauge)
	if !ok {
		return nil, fmt.Errorf("gauge %s: %w", gauge.Hex(), chain.ErrNoContract)
	}
	return g, nil
}

// Deposit stakes whatever LP the voter holds into gauge. The strategy sends
// the LP to the voter beforehand.
func (p *StrategyProxy) Deposit(tx *chain.Tx, gauge, lpToken common.Address) error {
	g, err := p.pairedGauge(tx, gauge)
	if err != nil {
		return err
	}
	lp, ok := chain.ContractAt[*chain.Token](p.ledger, lpToken)
	if !ok {
		return fmt.Errorf("lp %s: %w", lpToken.Hex(), chain.ErrNoContract)
	}
	balance := lp.BalanceOf(p.voter.address)
	if balance.IsZero() {
		return nil
	}
	asVoter := tx.As(p.voter.address)
	if err := lp.Approve(asVoter, g.Address(), balance); err != nil {
		return err
	}
	return g.Deposit(asVoter, balance)
}

// Withdraw takes amount of LP out of gauge and sends it to the strategy.
func (p *StrategyProxy) Withdraw(tx *chain.Tx, gauge, lpToken common.Address, amount *uint256.Int) (*uint256.Int, error) {
	g, err := p.pairedGauge(tx, gauge)
	if err != nil {
		return nil, err
	}
	lp, ok := chain.ContractAt[*chain.Token](p.ledger, lpToken)
	if !ok {
		return nil, fmt.Errorf("lp %s: %w", lpToken.Hex(), chain.ErrNoContract)
	}
	asVoter := tx.As(p.voter.address)
	if err := g.Withdraw(asVoter, amount); err != nil {
		return nil, err
	}
	if err := lp.Transfer(asVoter, tx.From(), amount); err != nil {
		return nil, err
	}
	return amount.Clone(), nil
}

// Harvest claims the voter's CRV on gauge and forwards it to the strategy.
func (p *StrategyProxy) Harvest(tx *chain.Tx, gauge common.Address) error {
	g, err := p.pairedGauge(tx, gauge)
	if err != nil {
		return err
	}
	asVoter := tx.As(p.voter.address)
	claimed, err := g.ClaimCRV(asVoter)
	if err != nil {
		return err
	}
	if claimed.IsZero() {
		return nil
	}
	return p.crv.Transfer(asVoter, tx.From(), claimed)
}

// ClaimManyRewards claims extra rewards on gauge and forwards the approved
// tokens to the strategy.
func (p *StrategyProxy) ClaimManyRewards(tx *chain.Tx, gauge common.Address, tokens []common.Address) error {
	g, err := p.pairedGauge(tx, gauge)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if !p.IsRewardTokenApproved(token) {
			return fmt.Errorf("claim %s: %w", token.Hex(), ErrRewardNotApproved)
		}
	}
	asVoter := tx.As(p.voter.address)
	if err := g.ClaimRewards(asVoter, p.voter.address); err != nil {
		return err
	}
	for _, token := range tokens {
		t, ok := chain.ContractAt[*chain.Token](p.ledger, token)
		if !ok {
			continue
		}
		bal := t.BalanceOf(p.voter.address)
		if bal.IsZero() {
			continue
		}
		if err := t.Transfer(asVoter, tx.From(), bal); err != nil {
			return err
		}
	}
	return nil
}
