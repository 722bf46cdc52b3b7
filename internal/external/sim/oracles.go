package sim

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

// BaseFeeOracle accepts the current base fee when it is at or below the
// configured maximum. With no provider it answers the manual flag.
type BaseFeeOracle struct {
	address    common.Address
	authorized map[common.Address]bool

	provider       common.Address
	manualAccept   bool
	currentBaseFee *uint256.Int
	maxBaseFee     *uint256.Int
}

var _ external.BaseFeeOracle = (*BaseFeeOracle)(nil)

// DeployBaseFeeOracle creates an oracle administered by the sender and by
// each of admins.
func DeployBaseFeeOracle(tx *chain.Tx, admins ...common.Address) *BaseFeeOracle {
	o := &BaseFeeOracle{
		address:        tx.Create(),
		authorized:     map[common.Address]bool{tx.From(): true},
		provider:       chain.Account("base-fee-provider"),
		currentBaseFee: uint256.NewInt(20_000_000_000),
		maxBaseFee:     uint256.NewInt(100_000_000_000),
	}
	for _, a := range admins {
		o.authorized[a] = true
	}
	tx.Register(o.address, o)
	return o
}

func (o *BaseFeeOracle) Address() common.Address { return o.address }

func (o *BaseFeeOracle) IsCurrentBaseFeeAcceptable() bool {
	if o.provider == (common.Address{}) {
		return o.manualAccept
	}
	return !o.currentBaseFee.Gt(o.maxBaseFee)
}

func (o *BaseFeeOracle) SetBaseFeeProvider(tx *chain.Tx, provider common.Address) error {
	if !o.authorized[tx.From()] {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &o.provider, provider)
	return nil
}

func (o *BaseFeeOracle) SetManualBaseFeeBool(tx *chain.Tx, accept bool) error {
	if !o.authorized[tx.From()] {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &o.manualAccept, accept)
	return nil
}

func (o *BaseFeeOracle) SetMaxAcceptableBaseFee(tx *chain.Tx, fee *uint256.Int) error {
	if !o.authorized[tx.From()] {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &o.maxBaseFee, fee.Clone())
	return nil
}

// SetCurrentBaseFee stands in for the provider's feed.
func (o *BaseFeeOracle) SetCurrentBaseFee(tx *chain.Tx, fee *uint256.Int) error {
	if !o.authorized[tx.From()] {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &o.currentBaseFee, fee.Clone())
	return nil
}

// HealthCheck rejects harvests whose profit or loss exceeds a share of the
// strategy's total debt.
type HealthCheck struct {
	address common.Address
	owner   common.Address

	profitLimitRatio uint64
	lossLimitRatio   uint64
}

var _ external.HealthCheck = (*HealthCheck)(nil)

// DeployHealthCheck creates a check with the given limits in basis points.
func DeployHealthCheck(tx *chain.Tx, profitLimitRatio, lossLimitRatio uint64) *HealthCheck {
	h := &HealthCheck{
		address:          tx.Create(),
		owner:            tx.From(),
		profitLimitRatio: profitLimitRatio,
		lossLimitRatio:   lossLimitRatio,
	}
	tx.Register(h.address, h)
	return h
}

func (h *HealthCheck) Address() common.Address { return h.address }

func (h *HealthCheck) Check(_ common.Address, profit, loss, _, _, totalDebt *uint256.Int) bool {
	maxBPS := uint256.NewInt(external.MaxBPS)
	if profit.Gt(chain.MulDiv(totalDebt, uint256.NewInt(h.profitLimitRatio), maxBPS)) {
		return false
	}
	return !loss.Gt(chain.MulDiv(totalDebt, uint256.NewInt(h.lossLimitRatio), maxBPS))
}

func (h *HealthCheck) SetLimits(tx *chain.Tx, profitLimitRatio, lossLimitRatio uint64) error {
	if tx.From() != h.owner {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &h.profitLimitRatio, profitLimitRatio)
	chain.Set(tx, &h.lossLimitRatio, lossLimitRatio)
	return nil
}

// PriceOracle returns fixed USDC prices per whole token.
type PriceOracle struct {
	prices map[common.Address]*uint256.Int
}

var _ external.PriceOracle = (*PriceOracle)(nil)

func NewPriceOracle() *PriceOracle {
	return &PriceOracle{prices: make(map[common.Address]*uint256.Int)}
}

// SetPrice is configuration, not ledger state.
func (o *PriceOracle) SetPrice(token common.Address, usdc *uint256.Int) {
	o.prices[token] = usdc.Clone()
}

func (o *PriceOracle) PriceInUsdc(token common.Address) *uint256.Int {
	return valueOrZero(o.prices, token)
}
