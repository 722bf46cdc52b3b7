package factory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
	"vault-factory-lab/internal/strategy"
)

func (f *Factory) onlyOwner(tx *chain.Tx) error {
	if tx.From() != f.params.Owner {
		return chain.ErrUnauthorized
	}
	return nil
}

// onlyAuthorized admits the owner and management.
func (f *Factory) onlyAuthorized(tx *chain.Tx) error {
	if tx.From() != f.params.Owner && tx.From() != f.params.Management {
		return chain.ErrUnauthorized
	}
	return nil
}

// setAddress is the body shared by the owner-only address setters.
func (f *Factory) setAddress(tx *chain.Tx, field *common.Address, v common.Address) error {
	if err := f.onlyOwner(tx); err != nil {
		return err
	}
	chain.Set(tx, field, v)
	return nil
}

// SetOwner nominates a new owner, who must call AcceptOwner.
func (f *Factory) SetOwner(tx *chain.Tx, owner common.Address) error {
	return f.setAddress(tx, &f.pendingOwner, owner)
}

func (f *Factory) AcceptOwner(tx *chain.Tx) error {
	if tx.From() != f.pendingOwner || f.pendingOwner == (common.Address{}) {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &f.params.Owner, f.pendingOwner)
	chain.Set(tx, &f.pendingOwner, common.Address{})
	return nil
}

func (f *Factory) SetRegistry(tx *chain.Tx, registry common.Address) error {
	return f.setAddress(tx, &f.params.Registry, registry)
}

func (f *Factory) SetGuardian(tx *chain.Tx, guardian common.Address) error {
	return f.setAddress(tx, &f.params.Guardian, guardian)
}

func (f *Factory) SetConvexPoolManager(tx *chain.Tx, manager common.Address) error {
	return f.setAddress(tx, &f.params.ConvexPoolManager, manager)
}

func (f *Factory) SetBooster(tx *chain.Tx, booster common.Address) error {
	return f.setAddress(tx, &f.params.Booster, booster)
}

// SetGovernance sets the address new vaults hand governance to.
func (f *Factory) SetGovernance(tx *chain.Tx, governance common.Address) error {
	return f.setAddress(tx, &f.params.Governance, governance)
}

func (f *Factory) SetManagement(tx *chain.Tx, management common.Address) error {
	return f.setAddress(tx, &f.params.Management, management)
}

func (f *Factory) SetTreasury(tx *chain.Tx, treasury common.Address) error {
	return f.setAddress(tx, &f.params.Treasury, treasury)
}

func (f *Factory) SetTradeFactory(tx *chain.Tx, tradeFactory common.Address) error {
	return f.setAddress(tx, &f.params.TradeFactory, tradeFactory)
}

// SetConvexStratImplementation binds the primary-leg template. The zero
// address disables the leg.
func (f *Factory) SetConvexStratImplementation(tx *chain.Tx, template common.Address) error {
	return f.setTemplate(tx, strategy.KindConvex, template)
}

// SetCurveStratImplementation binds the secondary-leg template. The zero
// address disables the leg.
func (f *Factory) SetCurveStratImplementation(tx *chain.Tx, template common.Address) error {
	return f.setTemplate(tx, strategy.KindCurve, template)
}

func (f *Factory) setTemplate(tx *chain.Tx, kind strategy.Kind, template common.Address) error {
	if err := f.onlyOwner(tx); err != nil {
		return err
	}
	chain.SetMap(tx, f.templates, kind, template)
	return nil
}

func (f *Factory) SetManagementFee(tx *chain.Tx, bps uint64) error {
	if err := f.onlyOwner(tx); err != nil {
		return err
	}
	if bps >= ManagementFeeCap {
		return fmt.Errorf("management fee %d: %w", bps, ErrFeeTooHigh)
	}
	chain.Set(tx, &f.params.ManagementFee, bps)
	return nil
}

func (f *Factory) SetPerformanceFee(tx *chain.Tx, bps uint64) error {
	if err := f.onlyOwner(tx); err != nil {
		return err
	}
	if bps >= PerformanceFeeCap {
		return fmt.Errorf("performance fee %d: %w", bps, ErrFeeTooHigh)
	}
	chain.Set(tx, &f.params.PerformanceFee, bps)
	return nil
}

// SetKeepCRV sets the CRV keep rate and the curve voter receiving it.
func (f *Factory) SetKeepCRV(tx *chain.Tx, bps uint64, voter common.Address) error {
	return f.setKeep(tx, &f.params.KeepCRV, &f.params.CurveVoter, bps, voter)
}

// SetKeepCVX sets the CVX keep rate and the convex voter receiving it.
func (f *Factory) SetKeepCVX(tx *chain.Tx, bps uint64, voter common.Address) error {
	return f.setKeep(tx, &f.params.KeepCVX, &f.params.ConvexVoter, bps, voter)
}

func (f *Factory) setKeep(tx *chain.Tx, rate *uint64, recipient *common.Address, bps uint64, voter common.Address) error {
	if err := f.onlyOwner(tx); err != nil {
		return err
	}
	if bps > external.MaxBPS {
		return fmt.Errorf("keep %d: %w", bps, ErrKeepTooHigh)
	}
	if bps != 0 && voter == (common.Address{}) {
		return ErrKeepRecipientZero
	}
	chain.Set(tx, rate, bps)
	chain.Set(tx, recipient, voter)
	return nil
}

// SetSecondaryDebtRatio sets the share of new vault debt routed to the
// curve leg.
func (f *Factory) SetSecondaryDebtRatio(tx *chain.Tx, bps uint64) error {
	if err := f.onlyOwner(tx); err != nil {
		return err
	}
	if bps > external.MaxBPS {
		return fmt.Errorf("secondary debt ratio %d: %w", bps, ErrDebtRatioTooHigh)
	}
	chain.Set(tx, &f.params.SecondaryDebtRatio, bps)
	return nil
}

func (f *Factory) SetDepositLimit(tx *chain.Tx, limit *uint256.Int) error {
	if err := f.onlyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, &f.params.DepositLimit, limit.Clone())
	return nil
}

func (f *Factory) SetHarvestProfitMinInUsdc(tx *chain.Tx, usdc *uint256.Int) error {
	if err := f.onlyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, &f.params.HarvestProfitMinInUsdc, usdc.Clone())
	return nil
}

func (f *Factory) SetHarvestProfitMaxInUsdc(tx *chain.Tx, usdc *uint256.Int) error {
	if err := f.onlyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, &f.params.HarvestProfitMaxInUsdc, usdc.Clone())
	return nil
}

// setManaged is the body shared by the owner-or-management address setters.
func (f *Factory) setManaged(tx *chain.Tx, field *common.Address, v common.Address) error {
	if err := f.onlyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, field, v)
	return nil
}

func (f *Factory) SetKeeper(tx *chain.Tx, keeper common.Address) error {
	return f.setManaged(tx, &f.params.Keeper, keeper)
}

func (f *Factory) SetHealthcheck(tx *chain.Tx, healthCheck common.Address) error {
	return f.setManaged(tx, &f.params.HealthCheck, healthCheck)
}

func (f *Factory) SetBaseFeeOracle(tx *chain.Tx, oracle common.Address) error {
	return f.setManaged(tx, &f.params.BaseFeeOracle, oracle)
}
