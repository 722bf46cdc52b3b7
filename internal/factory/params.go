// Package factory deploys vaults and their paired strategies for liquidity
// gauges. A Factory owns a registry of role addresses and fee parameters;
// every deployment copies that registry into an immutable Params snapshot
// and passes it by value into the strategies it wires.
package factory

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
)

// Fee caps in basis points. A fee at or above its cap is rejected.
const (
	PerformanceFeeCap = 5_000
	ManagementFeeCap  = 1_000
)

// Registry defaults applied by Deploy.
const (
	DefaultPerformanceFee     = 1_000
	DefaultManagementFee      = 0
	DefaultSecondaryDebtRatio = 0
)

var (
	// DefaultDepositLimit is 10 trillion whole tokens of an 18-decimal want.
	DefaultDepositLimit = new(uint256.Int).Mul(uint256.NewInt(10_000_000_000_000), uint256.NewInt(1e18))
	// DefaultHarvestProfitMinInUsdc is 7,500 USDC.
	DefaultHarvestProfitMinInUsdc = uint256.NewInt(7_500e6)
	// DefaultHarvestProfitMaxInUsdc is 100,000 USDC.
	DefaultHarvestProfitMaxInUsdc = uint256.NewInt(100_000e6)
)

// NoPid is what GetPid returns for a gauge without a booster pool.
var NoPid = chain.MaxUint()

// Params is a point-in-time copy of the factory registry. Strategies and
// vaults are wired from a Params value, never from the live registry.
type Params struct {
	Owner             common.Address
	Governance        common.Address
	Management        common.Address
	Guardian          common.Address
	Treasury          common.Address
	Keeper            common.Address
	HealthCheck       common.Address
	TradeFactory      common.Address
	BaseFeeOracle     common.Address
	Registry          common.Address
	ConvexPoolManager common.Address
	Booster           common.Address
	CurveVoter        common.Address
	ConvexVoter       common.Address

	PerformanceFee     uint64 // bps
	ManagementFee      uint64 // bps
	KeepCRV            uint64 // bps of claimed CRV sent to CurveVoter
	KeepCVX            uint64 // bps of claimed CVX sent to ConvexVoter
	SecondaryDebtRatio uint64 // bps of vault debt given to the curve leg

	DepositLimit           *uint256.Int
	HarvestProfitMinInUsdc *uint256.Int
	HarvestProfitMaxInUsdc *uint256.Int
}

func (p Params) clone() Params {
	p.DepositLimit = p.DepositLimit.Clone()
	p.HarvestProfitMinInUsdc = p.HarvestProfitMinInUsdc.Clone()
	p.HarvestProfitMaxInUsdc = p.HarvestProfitMaxInUsdc.Clone()
	return p
}

// Config holds the constructor arguments of a factory. Proxy and
// ConvexToken are fixed for the factory's lifetime; everything else seeds
// the registry and can be changed through the setters. Zero Governance,
// Management, Guardian and Treasury fall back to the owner.
type Config struct {
	Owner          common.Address
	Registry       common.Address
	ConvexTemplate common.Address
	CurveTemplate  common.Address
	Proxy          common.Address
	ConvexToken    common.Address

	Booster           common.Address
	ConvexPoolManager common.Address
	Governance        common.Address
	Management        common.Address
	Guardian          common.Address
	Treasury          common.Address
	Keeper            common.Address
	HealthCheck       common.Address
	TradeFactory      common.Address
	BaseFeeOracle     common.Address
	CurveVoter        common.Address
	ConvexVoter       common.Address
}

func (c Config) params(owner common.Address) Params {
	orOwner := func(a common.Address) common.Address {
		if a == (common.Address{}) {
			return owner
		}
		return a
	}
	return Params{
		Owner:             owner,
		Governance:        orOwner(c.Governance),
		Management:        orOwner(c.Management),
		Guardian:          orOwner(c.Guardian),
		Treasury:          orOwner(c.Treasury),
		Keeper:            c.Keeper,
		HealthCheck:       c.HealthCheck,
		TradeFactory:      c.TradeFactory,
		BaseFeeOracle:     c.BaseFeeOracle,
		Registry:          c.Registry,
		ConvexPoolManager: c.ConvexPoolManager,
		Booster:           c.Booster,
		CurveVoter:        c.CurveVoter,
		ConvexVoter:       c.ConvexVoter,

		PerformanceFee:     DefaultPerformanceFee,
		ManagementFee:      DefaultManagementFee,
		SecondaryDebtRatio: DefaultSecondaryDebtRatio,

		DepositLimit:           DefaultDepositLimit.Clone(),
		HarvestProfitMinInUsdc: DefaultHarvestProfitMinInUsdc.Clone(),
		HarvestProfitMaxInUsdc: DefaultHarvestProfitMaxInUsdc.Clone(),
	}
}
