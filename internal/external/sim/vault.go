// Package sim provides in-ledger implementations of the external
// collaborators. Their economics are intentionally simple; they honour the
// call contracts in package external.
package sim

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

const (
	maxStrategies  = 20
	secsPerYear    = 31_556_952
	maxPerfFeeBPS  = external.MaxBPS / 2
	defaultVersion = "0.4.6"
)

var (
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrDepositLimit       = errors.New("deposit limit exceeded")
	ErrInactiveStrategy   = errors.New("strategy not active")
	ErrDebtRatioLimit     = errors.New("debt ratio limit exceeded")
	ErrQueueFull          = errors.New("withdrawal queue full")
	ErrFeeBound           = errors.New("fee out of bounds")
	ErrShutdown           = errors.New("vault shutdown")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// StrategyAdded is emitted by AddStrategy.
type StrategyAdded struct {
	Strategy       common.Address
	DebtRatio      uint64
	PerformanceFee uint64
}

func (StrategyAdded) EventName() string { return "StrategyAdded" }

// StrategyReported is emitted by Report.
type StrategyReported struct {
	Strategy  common.Address
	Gain      *uint256.Int
	Loss      *uint256.Int
	DebtPaid  *uint256.Int
	TotalGain *uint256.Int
	TotalLoss *uint256.Int
	TotalDebt *uint256.Int
	DebtAdded *uint256.Int
	DebtRatio uint64
}

func (StrategyReported) EventName() string { return "StrategyReported" }

// Vault is a compact share ledger in the shape of a v0.4 yVault.
type Vault struct {
	address common.Address
	ledger  *chain.Ledger

	token    external.ERC20
	name     string
	symbol   string
	decimals uint8

	governance        common.Address
	pendingGovernance common.Address
	management        common.Address
	guardian          common.Address
	rewards           common.Address

	managementFee  uint64
	performanceFee uint64
	depositLimit   *uint256.Int

	emergencyShutdown bool
	debtRatio         uint64
	totalDebt         *uint256.Int
	lastReport        uint64

	queue      []common.Address
	strategies map[common.Address]external.StrategyParams

	totalSupply *uint256.Int
	shares      map[common.Address]*uint256.Int
}

var _ external.Vault = (*Vault)(nil)

// DeployVault creates an uninitialized vault at the next address of the
// sender.
func DeployVault(tx *chain.Tx) *Vault {
	v := &Vault{
		address:     tx.Create(),
		ledger:      tx.Ledger(),
		strategies:  make(map[common.Address]external.StrategyParams),
		shares:      make(map[common.Address]*uint256.Int),
		totalSupply: chain.Zero(),
		totalDebt:   chain.Zero(),
	}
	tx.Register(v.address, v)
	return v
}

// Initialize sets the token and roles. Name and symbol default to values
// derived from the token symbol.
func (v *Vault) Initialize(tx *chain.Tx, token, governance, rewards common.Address, name, symbol string, guardian common.Address) error {
	if v.token != nil {
		return ErrAlreadyInitialized
	}
	erc, ok := chain.ContractAt[external.ERC20](v.ledger, token)
	if !ok {
		return fmt.Errorf("vault token %s: %w", token.Hex(), chain.ErrNoContract)
	}
	if name == "" {
		name = erc.Symbol() + " yVault"
	}
	if symbol == "" {
		symbol = "yv" + erc.Symbol()
	}

	chain.Set(tx, &v.token, erc)
	chain.Set(tx, &v.name, name)
	chain.Set(tx, &v.symbol, symbol)
	chain.Set(tx, &v.decimals, erc.Decimals())
	chain.Set(tx, &v.governance, governance)
	chain.Set(tx, &v.management, governance)
	chain.Set(tx, &v.rewards, rewards)
	chain.Set(tx, &v.guardian, guardian)
	chain.Set(tx, &v.performanceFee, 1_000)
	chain.Set(tx, &v.managementFee, 200)
	chain.Set(tx, &v.depositLimit, chain.Zero())
	chain.Set(tx, &v.lastReport, tx.Time())
	return nil
}

func (v *Vault) Address() common.Address           { return v.address }
func (v *Vault) Name() string                      { return v.name }
func (v *Vault) Symbol() string                    { return v.symbol }
func (v *Vault) APIVersion() string                { return defaultVersion }
func (v *Vault) Governance() common.Address        { return v.governance }
func (v *Vault) PendingGovernance() common.Address { return v.pendingGovernance }
func (v *Vault) Management() common.Address        { return v.management }
func (v *Vault) Guardian() common.Address          { return v.guardian }
func (v *Vault) Rewards() common.Address           { return v.rewards }
func (v *Vault) ManagementFee() uint64             { return v.managementFee }
func (v *Vault) PerformanceFee() uint64            { return v.performanceFee }
func (v *Vault) EmergencyShutdown() bool           { return v.emergencyShutdown }
func (v *Vault) DebtRatio() uint64                 { return v.debtRatio }

func (v *Vault) Token() common.Address {
	if v.token == nil {
		return common.Address{}
	}
	return v.token.Address()
}

func (v *Vault) DepositLimit() *uint256.Int {
	if v.depositLimit == nil {
		return chain.Zero()
	}
	return v.depositLimit.Clone()
}

// WithdrawalQueue returns the strategy at position i, or the zero address.
func (v *Vault) WithdrawalQueue(i int) common.Address {
	if i < 0 || i >= len(v.queue) {
		return common.Address{}
	}
	return v.queue[i]
}

// Strategies returns a copy of the accounting record of strategy.
func (v *Vault) Strategies(strategy common.Address) external.StrategyParams {
	p, ok := v.strategies[strategy]
	if !ok {
		return external.StrategyParams{
			MinDebtPerHarvest: chain.Zero(),
			MaxDebtPerHarvest: chain.Zero(),
			TotalDebt:         chain.Zero(),
			TotalGain:         chain.Zero(),
			TotalLoss:         chain.Zero(),
		}
	}
	p.MinDebtPerHarvest = p.MinDebtPerHarvest.Clone()
	p.MaxDebtPerHarvest = p.MaxDebtPerHarvest.Clone()
	p.TotalDebt = p.TotalDebt.Clone()
	p.TotalGain = p.TotalGain.Clone()
	p.TotalLoss = p.TotalLoss.Clone()
	return p
}

func (v *Vault) onlyGovernance(tx *chain.Tx) error {
	if tx.From() != v.governance {
		return chain.ErrUnauthorized
	}
	return nil
}

func (v *Vault) SetManagementFee(tx *chain.Tx, bps uint64) error {
	if err := v.onlyGovernance(tx); err != nil {
		return err
	}
	if bps > external.MaxBPS {
		return ErrFeeBound
	}
	chain.Set(tx, &v.managementFee, bps)
	return nil
}

func (v *Vault) SetPerformanceFee(tx *chain.Tx, bps uint64) error {
	if err := v.onlyGovernance(tx); err != nil {
		return err
	}
	if bps > maxPerfFeeBPS {
		return ErrFeeBound
	}
	chain.Set(tx, &v.performanceFee, bps)
	return nil
}

func (v *Vault) SetDepositLimit(tx *chain.Tx, limit *uint256.Int) error {
	if err := v.onlyGovernance(tx); err != nil {
		return err
	}
	chain.Set(tx, &v.depositLimit, limit.Clone())
	return nil
}

func (v *Vault) SetManagement(tx *chain.Tx, management common.Address) error {
	if err := v.onlyGovernance(tx); err != nil {
		return err
	}
	chain.Set(tx, &v.management, management)
	return nil
}

// SetGovernance nominates a new governance; it takes effect on
// AcceptGovernance.
func (v *Vault) SetGovernance(tx *chain.Tx, governance common.Address) error {
	if err := v.onlyGovernance(tx); err != nil {
		return err
	}
	chain.Set(tx, &v.pendingGovernance, governance)
	return nil
}

func (v *Vault) AcceptGovernance(tx *chain.Tx) error {
	if tx.From() != v.pendingGovernance {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &v.governance, v.pendingGovernance)
	return nil
}

// SetEmergencyShutdown may be turned on by guardian or governance, and off
// by governance only.
func (v *Vault) SetEmergencyShutdown(tx *chain.Tx, active bool) error {
	if active {
		if tx.From() != v.guardian && tx.From() != v.governance {
			return chain.ErrUnauthorized
		}
	} else if err := v.onlyGovernance(tx); err != nil {
		return err
	}
	chain.Set(tx, &v.emergencyShutdown, active)
	return nil
}

// AddStrategy registers strategy at the tail of the withdrawal queue.
func (v *Vault) AddStrategy(tx *chain.Tx, strategy common.Address, debtRatio uint64, minDebtPerHarvest, maxDebtPerHarvest *uint256.Int, performanceFee uint64) error {
	if err := v.onlyGovernance(tx); err != nil {
		return err
	}
	if v.emergencyShutdown {
		return ErrShutdown
	}
	if strategy == (common.Address{}) {
		return fmt.Errorf("add strategy: zero address")
	}
	if _, exists := v.strategies[strategy]; exists {
		return fmt.Errorf("add strategy %s: already added", strategy.Hex())
	}
	if len(v.queue) >= maxStrategies {
		return ErrQueueFull
	}
	if v.debtRatio+debtRatio > external.MaxBPS {
		return ErrDebtRatioLimit
	}
	if minDebtPerHarvest.Gt(maxDebtPerHarvest) {
		return fmt.Errorf("add strategy: min debt above max debt")
	}
	if performanceFee > maxPerfFeeBPS {
		return ErrFeeBound
	}

	chain.SetMap(tx, v.strategies, strategy, external.StrategyParams{
		PerformanceFee:    performanceFee,
		Activation:        tx.Time(),
		DebtRatio:         debtRatio,
		MinDebtPerHarvest: minDebtPerHarvest.Clone(),
		MaxDebtPerHarvest: maxDebtPerHarvest.Clone(),
		LastReport:        tx.Time(),
		TotalDebt:         chain.Zero(),
		TotalGain:         chain.Zero(),
		TotalLoss:         chain.Zero(),
	})
	chain.Set(tx, &v.debtRatio, v.debtRatio+debtRatio)
	chain.Append(tx, &v.queue, strategy)
	tx.Emit(v.address, StrategyAdded{Strategy: strategy, DebtRatio: debtRatio, PerformanceFee: performanceFee})
	return nil
}

// RevokeStrategy zeroes the debt ratio of strategy. Governance, guardian,
// management or the strategy itself may call it.
func (v *Vault) RevokeStrategy(tx *chain.Tx, strategy common.Address) error {
	caller := tx.From()
	if caller != strategy && caller != v.governance && caller != v.guardian && caller != v.management {
		return chain.ErrUnauthorized
	}
	p, ok := v.strategies[strategy]
	if !ok || p.Activation == 0 {
		return ErrInactiveStrategy
	}
	chain.Set(tx, &v.debtRatio, v.debtRatio-p.DebtRatio)
	p.DebtRatio = 0
	chain.SetMap(tx, v.strategies, strategy, p)
	return nil
}

// TotalAssets is idle tokens plus debt lent to strategies.
func (v *Vault) TotalAssets() *uint256.Int {
	return new(uint256.Int).Add(v.totalIdle(), v.totalDebt)
}

func (v *Vault) TotalDebt() *uint256.Int {
	return v.totalDebt.Clone()
}

func (v *Vault) totalIdle() *uint256.Int {
	if v.token == nil {
		return chain.Zero()
	}
	return v.token.BalanceOf(v.address)
}

func (v *Vault) BalanceOf(account common.Address) *uint256.Int {
	if s, ok := v.shares[account]; ok {
		return s.Clone()
	}
	return chain.Zero()
}

func (v *Vault) TotalSupply() *uint256.Int {
	return v.totalSupply.Clone()
}

// PricePerShare is the value of one whole share in token smallest units.
func (v *Vault) PricePerShare() *uint256.Int {
	one := chain.Units(1, v.decimals)
	if v.totalSupply.IsZero() {
		return one
	}
	return chain.MulDiv(one, v.TotalAssets(), v.totalSupply)
}

func (v *Vault) sharesForAmount(amount *uint256.Int) *uint256.Int {
	if v.totalSupply.IsZero() {
		return amount.Clone()
	}
	return chain.MulDiv(amount, v.totalSupply, v.TotalAssets())
}

func (v *Vault) mint(tx *chain.Tx, to common.Address, shares *uint256.Int) {
	chain.Set(tx, &v.totalSupply, new(uint256.Int).Add(v.totalSupply, shares))
	chain.SetMap(tx, v.shares, to, new(uint256.Int).Add(v.BalanceOf(to), shares))
}

// Deposit pulls amount from the caller and mints shares.
func (v *Vault) Deposit(tx *chain.Tx, amount *uint256.Int) (*uint256.Int, error) {
	if v.emergencyShutdown {
		return nil, ErrShutdown
	}
	if new(uint256.Int).Add(v.TotalAssets(), amount).Gt(v.depositLimit) {
		return nil, ErrDepositLimit
	}
	shares := v.sharesForAmount(amount)
	if err := v.token.TransferFrom(tx.As(v.address), tx.From(), v.address, amount); err != nil {
		return nil, fmt.Errorf("vault deposit: %w", err)
	}
	v.mint(tx, tx.From(), shares)
	return shares, nil
}

// Withdraw burns shares and returns their value, pulling from strategies in
// queue order when idle funds fall short. Losses are borne by the withdrawer.
func (v *Vault) Withdraw(tx *chain.Tx, shares *uint256.Int) (*uint256.Int, error) {
	owner := tx.From()
	if v.BalanceOf(owner).Lt(shares) {
		return nil, ErrInsufficientShares
	}
	value := chain.MulDiv(shares, v.TotalAssets(), v.totalSupply)

	for _, addr := range v.queue {
		idle := v.totalIdle()
		if !idle.Lt(value) {
			break
		}
		params := v.strategies[addr]
		needed := chain.Min(new(uint256.Int).Sub(value, idle), params.TotalDebt)
		if needed.IsZero() {
			continue
		}
		strat, ok := chain.ContractAt[external.VaultStrategy](v.ledger, addr)
		if !ok {
			continue
		}
		before := v.totalIdle()
		loss, err := strat.Withdraw(tx.As(v.address), needed)
		if err != nil {
			return nil, fmt.Errorf("withdraw from strategy %s: %w", addr.Hex(), err)
		}
		withdrawn := chain.SubFloor(v.totalIdle(), before)
		if !loss.IsZero() {
			value = chain.SubFloor(value, loss)
			v.reportLoss(tx, addr, loss)
		}
		params = v.strategies[addr]
		params.TotalDebt = chain.SubFloor(params.TotalDebt, withdrawn)
		chain.SetMap(tx, v.strategies, addr, params)
		chain.Set(tx, &v.totalDebt, chain.SubFloor(v.totalDebt, withdrawn))
	}

	value = chain.Min(value, v.totalIdle())
	chain.Set(tx, &v.totalSupply, new(uint256.Int).Sub(v.totalSupply, shares))
	chain.SetMap(tx, v.shares, owner, new(uint256.Int).Sub(v.BalanceOf(owner), shares))
	if err := v.token.Transfer(tx.As(v.address), owner, value); err != nil {
		return nil, fmt.Errorf("vault withdraw: %w", err)
	}
	return value, nil
}

// DebtOutstanding is how far strategy is above its debt limit.
func (v *Vault) DebtOutstanding(strategy common.Address) *uint256.Int {
	p, ok := v.strategies[strategy]
	if !ok {
		return chain.Zero()
	}
	if v.debtRatio == 0 || v.emergencyShutdown {
		return p.TotalDebt.Clone()
	}
	limit := chain.MulDiv(uint256.NewInt(p.DebtRatio), v.TotalAssets(), uint256.NewInt(external.MaxBPS))
	return chain.SubFloor(p.TotalDebt, limit)
}

// CreditAvailable is how much more strategy may borrow this harvest.
func (v *Vault) CreditAvailable(strategy common.Address) *uint256.Int {
	p, ok := v.strategies[strategy]
	if !ok || v.emergencyShutdown {
		return chain.Zero()
	}
	total := v.TotalAssets()
	maxBPS := uint256.NewInt(external.MaxBPS)
	vaultLimit := chain.MulDiv(uint256.NewInt(v.debtRatio), total, maxBPS)
	strategyLimit := chain.MulDiv(uint256.NewInt(p.DebtRatio), total, maxBPS)

	if !strategyLimit.Gt(p.TotalDebt) || !vaultLimit.Gt(v.totalDebt) {
		return chain.Zero()
	}
	available := new(uint256.Int).Sub(strategyLimit, p.TotalDebt)
	available = chain.Min(available, new(uint256.Int).Sub(vaultLimit, v.totalDebt))
	available = chain.Min(available, v.totalIdle())
	if available.Lt(p.MinDebtPerHarvest) {
		return chain.Zero()
	}
	return chain.Min(available, p.MaxDebtPerHarvest)
}

func (v *Vault) reportLoss(tx *chain.Tx, strategy common.Address, loss *uint256.Int) {
	p := v.strategies[strategy]
	if v.debtRatio != 0 && !p.TotalDebt.IsZero() {
		change := chain.MulDiv(loss, uint256.NewInt(v.debtRatio), v.totalDebt).Uint64()
		if change > p.DebtRatio {
			change = p.DebtRatio
		}
		p.DebtRatio -= change
		chain.Set(tx, &v.debtRatio, v.debtRatio-change)
	}
	p.TotalLoss = new(uint256.Int).Add(p.TotalLoss, loss)
	p.TotalDebt = chain.SubFloor(p.TotalDebt, loss)
	chain.SetMap(tx, v.strategies, strategy, p)
	chain.Set(tx, &v.totalDebt, chain.SubFloor(v.totalDebt, loss))
}

// assessFees mints fee shares to the rewards address and to the strategy.
// Fees never exceed the reported gain.
func (v *Vault) assessFees(tx *chain.Tx, strategy common.Address, gain *uint256.Int) {
	p := v.strategies[strategy]
	if gain.IsZero() || p.Activation == tx.Time() {
		return
	}
	maxBPS := uint256.NewInt(external.MaxBPS)
	elapsed := uint256.NewInt(tx.Time() - p.LastReport)
	management := chain.MulDiv(
		new(uint256.Int).Mul(p.TotalDebt, elapsed),
		uint256.NewInt(v.managementFee),
		new(uint256.Int).Mul(maxBPS, uint256.NewInt(secsPerYear)),
	)
	strategist := chain.MulDiv(gain, uint256.NewInt(p.PerformanceFee), maxBPS)
	performance := chain.MulDiv(gain, uint256.NewInt(v.performanceFee), maxBPS)

	total := new(uint256.Int).Add(management, strategist)
	total.Add(total, performance)
	if total.Gt(gain) {
		total = gain.Clone()
		strategist = chain.Min(strategist, total)
	}
	if total.IsZero() {
		return
	}
	shares := v.sharesForAmount(total)
	if shares.IsZero() {
		return
	}
	strategistShares := chain.MulDiv(shares, strategist, total)
	if !strategistShares.IsZero() {
		v.mint(tx, strategy, strategistShares)
	}
	v.mint(tx, v.rewards, new(uint256.Int).Sub(shares, strategistShares))
}

// Report settles a strategy's harvest: it records gain and loss, takes
// debt repayment, lends out new credit and returns the debt still
// outstanding.
func (v *Vault) Report(tx *chain.Tx, gain, loss, debtPayment *uint256.Int) (*uint256.Int, error) {
	strategy := tx.From()
	p, ok := v.strategies[strategy]
	if !ok || p.Activation == 0 {
		return nil, ErrInactiveStrategy
	}
	owed := new(uint256.Int).Add(gain, debtPayment)
	if v.token.BalanceOf(strategy).Lt(owed) {
		return nil, fmt.Errorf("report: strategy balance below gain plus debt payment: %w", chain.ErrInsufficientBalance)
	}

	if !loss.IsZero() {
		v.reportLoss(tx, strategy, loss)
	}
	v.assessFees(tx, strategy, gain)

	p = v.strategies[strategy]
	p.TotalGain = new(uint256.Int).Add(p.TotalGain, gain)
	chain.SetMap(tx, v.strategies, strategy, p)

	credit := v.CreditAvailable(strategy)
	debt := v.DebtOutstanding(strategy)
	payment := chain.Min(debtPayment, debt)

	p = v.strategies[strategy]
	if !payment.IsZero() {
		p.TotalDebt = new(uint256.Int).Sub(p.TotalDebt, payment)
		chain.Set(tx, &v.totalDebt, new(uint256.Int).Sub(v.totalDebt, payment))
		debt = new(uint256.Int).Sub(debt, payment)
	}
	if !credit.IsZero() {
		p.TotalDebt = new(uint256.Int).Add(p.TotalDebt, credit)
		chain.Set(tx, &v.totalDebt, new(uint256.Int).Add(v.totalDebt, credit))
	}
	p.LastReport = tx.Time()
	chain.SetMap(tx, v.strategies, strategy, p)
	chain.Set(tx, &v.lastReport, tx.Time())

	available := new(uint256.Int).Add(gain, payment)
	switch {
	case available.Lt(credit):
		if err := v.token.Transfer(tx.As(v.address), strategy, new(uint256.Int).Sub(credit, available)); err != nil {
			return nil, fmt.Errorf("report: lend credit: %w", err)
		}
	case available.Gt(credit):
		if err := v.token.TransferFrom(tx.As(v.address), strategy, v.address, new(uint256.Int).Sub(available, credit)); err != nil {
			return nil, fmt.Errorf("report: collect from strategy: %w", err)
		}
	}

	tx.Emit(v.address, StrategyReported{
		Strategy:  strategy,
		Gain:      gain.Clone(),
		Loss:      loss.Clone(),
		DebtPaid:  payment,
		TotalGain: p.TotalGain.Clone(),
		TotalLoss: p.TotalLoss.Clone(),
		TotalDebt: p.TotalDebt.Clone(),
		DebtAdded: credit,
		DebtRatio: p.DebtRatio,
	})

	if v.emergencyShutdown {
		return p.TotalDebt.Clone(), nil
	}
	return debt, nil
}
