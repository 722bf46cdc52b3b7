// Package external declares the narrow contracts of the collaborators the
// factory and strategies consume: the vault ledger, the booster and its
// reward pools, gauges, the voter proxy, the vault registry, the trade
// factory, the base-fee oracle and the health check.
package external

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
)

// MaxBPS is the basis-point denominator shared by every fee and ratio.
const MaxBPS = 10_000

var (
	// ErrPoolClosed is returned by the booster for a shut down pool.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrUnknownPool is returned for a pool id past the pool list.
	ErrUnknownPool = errors.New("unknown pool id")
	// ErrStrategyAlreadyApproved is returned by the proxy when the gauge
	// slot is taken.
	ErrStrategyAlreadyApproved = errors.New("strategy already approved")
	// ErrVaultAlreadyEndorsed is returned by the registry when an endorsed
	// vault exists for the token.
	ErrVaultAlreadyEndorsed = errors.New("vault already endorsed for token")
)

// ERC20 is the token surface used by vaults and strategies.
type ERC20 interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(account common.Address) *uint256.Int
	Transfer(tx *chain.Tx, to common.Address, amount *uint256.Int) error
	TransferFrom(tx *chain.Tx, from, to common.Address, amount *uint256.Int) error
	Approve(tx *chain.Tx, spender common.Address, amount *uint256.Int) error
}

// StrategyParams is the vault's per-strategy accounting record.
type StrategyParams struct {
	PerformanceFee    uint64
	Activation        uint64
	DebtRatio         uint64
	MinDebtPerHarvest *uint256.Int
	MaxDebtPerHarvest *uint256.Int
	LastReport        uint64
	TotalDebt         *uint256.Int
	TotalGain         *uint256.Int
	TotalLoss         *uint256.Int
}

// Vault is the share ledger strategies report to.
type Vault interface {
	Address() common.Address
	Token() common.Address
	Name() string
	Symbol() string

	Initialize(tx *chain.Tx, token, governance, rewards common.Address, name, symbol string, guardian common.Address) error
	AddStrategy(tx *chain.Tx, strategy common.Address, debtRatio uint64, minDebtPerHarvest, maxDebtPerHarvest *uint256.Int, performanceFee uint64) error
	RevokeStrategy(tx *chain.Tx, strategy common.Address) error
	SetManagementFee(tx *chain.Tx, bps uint64) error
	SetPerformanceFee(tx *chain.Tx, bps uint64) error
	SetDepositLimit(tx *chain.Tx, limit *uint256.Int) error
	SetManagement(tx *chain.Tx, management common.Address) error
	SetGovernance(tx *chain.Tx, governance common.Address) error
	AcceptGovernance(tx *chain.Tx) error

	Governance() common.Address
	PendingGovernance() common.Address
	Management() common.Address
	Guardian() common.Address
	Rewards() common.Address
	ManagementFee() uint64
	PerformanceFee() uint64
	DepositLimit() *uint256.Int
	WithdrawalQueue(i int) common.Address
	Strategies(strategy common.Address) StrategyParams

	Deposit(tx *chain.Tx, amount *uint256.Int) (*uint256.Int, error)
	Withdraw(tx *chain.Tx, shares *uint256.Int) (*uint256.Int, error)
	Report(tx *chain.Tx, gain, loss, debtPayment *uint256.Int) (*uint256.Int, error)
	DebtOutstanding(strategy common.Address) *uint256.Int
	CreditAvailable(strategy common.Address) *uint256.Int
	TotalAssets() *uint256.Int
	TotalDebt() *uint256.Int
	PricePerShare() *uint256.Int
	BalanceOf(account common.Address) *uint256.Int
}

// VaultStrategy is what the vault calls back into when it needs funds.
type VaultStrategy interface {
	Withdraw(tx *chain.Tx, amountNeeded *uint256.Int) (*uint256.Int, error)
}

// PoolInfo mirrors the booster's per-pool record.
type PoolInfo struct {
	LPToken    common.Address
	Token      common.Address
	Gauge      common.Address
	CRVRewards common.Address
	Stash      common.Address
	Shutdown   bool
}

// Booster routes LP deposits into gauges and reward pools.
type Booster interface {
	Address() common.Address
	CRV() common.Address
	PoolLength() uint64
	PoolInfo(pid uint64) (PoolInfo, error)
	Deposit(tx *chain.Tx, pid uint64, amount *uint256.Int, stake bool) error
	EarmarkRewards(tx *chain.Tx, pid uint64) error
}

// RewardPool is the booster's per-pool staking contract.
type RewardPool interface {
	Address() common.Address
	Pid() uint64
	BalanceOf(account common.Address) *uint256.Int
	Earned(account common.Address) *uint256.Int
	GetReward(tx *chain.Tx, account common.Address, claimExtras bool) error
	WithdrawAndUnwrap(tx *chain.Tx, amount *uint256.Int, claim bool) error
}

// Gauge is a liquidity gauge.
type Gauge interface {
	Address() common.Address
	LPToken() common.Address
	BalanceOf(account common.Address) *uint256.Int
	RewardTokens() []common.Address
	ClaimableCRV(account common.Address) *uint256.Int
	Deposit(tx *chain.Tx, amount *uint256.Int) error
	Withdraw(tx *chain.Tx, amount *uint256.Int) error
	ClaimCRV(tx *chain.Tx) (*uint256.Int, error)
	ClaimRewards(tx *chain.Tx, receiver common.Address) error
}

// StrategyProxy is the shared voter proxy. Its gauge->strategy slot is a
// global pairing resource across factories.
type StrategyProxy interface {
	Address() common.Address
	CRV() common.Address
	Voter() common.Address
	Factory() common.Address
	Strategies(gauge common.Address) common.Address
	IsRewardTokenApproved(token common.Address) bool
	BalanceOf(gauge common.Address) *uint256.Int

	SetFactory(tx *chain.Tx, factory common.Address) error
	ApproveStrategy(tx *chain.Tx, gauge, strategy common.Address) error
	RevokeStrategy(tx *chain.Tx, gauge common.Address) error
	ApproveRewardToken(tx *chain.Tx, token common.Address) error

	Deposit(tx *chain.Tx, gauge, lpToken common.Address) error
	Withdraw(tx *chain.Tx, gauge, lpToken common.Address, amount *uint256.Int) (*uint256.Int, error)
	Harvest(tx *chain.Tx, gauge common.Address) error
	ClaimManyRewards(tx *chain.Tx, gauge common.Address, tokens []common.Address) error
}

// Voter holds gauge positions on behalf of its strategy proxy.
type Voter interface {
	Address() common.Address
	Strategy() common.Address
	SetStrategy(tx *chain.Tx, proxy common.Address) error
}

// VaultRegistry creates and endorses vaults.
type VaultRegistry interface {
	Address() common.Address
	Owner() common.Address
	ApprovedVaultsOwner(account common.Address) bool
	VaultEndorsers(account common.Address) bool
	SetApprovedVaultsOwner(tx *chain.Tx, account common.Address, approved bool) error
	SetVaultEndorsers(tx *chain.Tx, account common.Address, endorser bool) error
	NewVault(tx *chain.Tx, token, governance, guardian, rewards common.Address, name, symbol string) (Vault, error)
	NewExperimentalVault(tx *chain.Tx, token, governance, guardian, rewards common.Address, name, symbol string) (Vault, error)
	LatestVault(token common.Address) common.Address
}

// TradeFactory is the external trade-execution service.
type TradeFactory interface {
	Address() common.Address
	Enable(tx *chain.Tx, tokenIn, tokenOut common.Address) error
	IsEnabled(strategy, tokenIn, tokenOut common.Address) bool
}

// BaseFeeOracle gates harvests on network fees.
type BaseFeeOracle interface {
	Address() common.Address
	IsCurrentBaseFeeAcceptable() bool
}

// HealthCheck validates a harvest's profit and loss.
type HealthCheck interface {
	Address() common.Address
	Check(strategy common.Address, profit, loss, debtPayment, debtOutstanding, totalDebt *uint256.Int) bool
}

// PriceOracle quotes whole tokens in USDC smallest units (6 decimals).
type PriceOracle interface {
	PriceInUsdc(token common.Address) *uint256.Int
}
