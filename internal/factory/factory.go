package factory

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/strategy"
)

var (
	ErrVaultExists        = errors.New("Vault already exists")
	ErrNotEligible        = errors.New("gauge not eligible for permissionless deployment")
	ErrProxyAlreadyPaired = errors.New("Voter strategy already exists")
	ErrNotAGauge          = errors.New("not a gauge")
	ErrFeeTooHigh         = errors.New("fee too high")
	ErrKeepTooHigh        = errors.New("keep too high")
	ErrKeepRecipientZero  = errors.New("keep recipient is the zero address")
	ErrDebtRatioTooHigh   = errors.New("debt ratio too high")
)

// Factory is a ledger contract that deploys one vault per gauge plus up to
// two strategies sharing it.
type Factory struct {
	address common.Address
	ledger  *chain.Ledger

	proxy       common.Address
	convexToken common.Address

	pendingOwner common.Address
	params       Params
	templates    TemplateBinding

	index  map[common.Address]common.Address // gauge -> standard vault
	vaults []common.Address
}

// Deploy creates a factory. An empty cfg.Owner makes the sender the owner.
func Deploy(tx *chain.Tx, cfg Config) *Factory {
	owner := cfg.Owner
	if owner == (common.Address{}) {
		owner = tx.From()
	}
	f := &Factory{
		address:     tx.Create(),
		ledger:      tx.Ledger(),
		proxy:       cfg.Proxy,
		convexToken: cfg.ConvexToken,
		params:      cfg.params(owner),
		templates: TemplateBinding{
			strategy.KindConvex: cfg.ConvexTemplate,
			strategy.KindCurve:  cfg.CurveTemplate,
		},
		index: make(map[common.Address]common.Address),
	}
	tx.Register(f.address, f)
	return f
}

func (f *Factory) Address() common.Address     { return f.address }
func (f *Factory) Proxy() common.Address       { return f.proxy }
func (f *Factory) ConvexToken() common.Address { return f.convexToken }

func (f *Factory) Owner() common.Address             { return f.params.Owner }
func (f *Factory) PendingOwner() common.Address      { return f.pendingOwner }
func (f *Factory) Governance() common.Address        { return f.params.Governance }
func (f *Factory) Management() common.Address        { return f.params.Management }
func (f *Factory) Guardian() common.Address          { return f.params.Guardian }
func (f *Factory) Treasury() common.Address          { return f.params.Treasury }
func (f *Factory) Keeper() common.Address            { return f.params.Keeper }
func (f *Factory) HealthCheck() common.Address       { return f.params.HealthCheck }
func (f *Factory) TradeFactory() common.Address      { return f.params.TradeFactory }
func (f *Factory) BaseFeeOracle() common.Address     { return f.params.BaseFeeOracle }
func (f *Factory) Registry() common.Address          { return f.params.Registry }
func (f *Factory) ConvexPoolManager() common.Address { return f.params.ConvexPoolManager }
func (f *Factory) Booster() common.Address           { return f.params.Booster }
func (f *Factory) CurveVoter() common.Address        { return f.params.CurveVoter }
func (f *Factory) ConvexVoter() common.Address       { return f.params.ConvexVoter }

func (f *Factory) PerformanceFee() uint64     { return f.params.PerformanceFee }
func (f *Factory) ManagementFee() uint64      { return f.params.ManagementFee }
func (f *Factory) KeepCRV() uint64            { return f.params.KeepCRV }
func (f *Factory) KeepCVX() uint64            { return f.params.KeepCVX }
func (f *Factory) SecondaryDebtRatio() uint64 { return f.params.SecondaryDebtRatio }

func (f *Factory) DepositLimit() *uint256.Int { return f.params.DepositLimit.Clone() }

func (f *Factory) HarvestProfitMinInUsdc() *uint256.Int {
	return f.params.HarvestProfitMinInUsdc.Clone()
}

func (f *Factory) HarvestProfitMaxInUsdc() *uint256.Int {
	return f.params.HarvestProfitMaxInUsdc.Clone()
}

// Snapshot copies the registry.
func (f *Factory) Snapshot() Params {
	return f.params.clone()
}
