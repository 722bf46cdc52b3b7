package strategy

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

func (s *Strategy) governance() common.Address { return s.vault.Governance() }

func (s *Strategy) onlyGovernance(tx *chain.Tx) error {
	if tx.From() != s.governance() {
		return chain.ErrUnauthorized
	}
	return nil
}

// onlyAuthorized admits the strategist and governance.
func (s *Strategy) onlyAuthorized(tx *chain.Tx) error {
	if c := tx.From(); c != s.strategist && c != s.governance() {
		return chain.ErrUnauthorized
	}
	return nil
}

// onlyVaultManagers admits governance and the vault's management.
func (s *Strategy) onlyVaultManagers(tx *chain.Tx) error {
	if c := tx.From(); c != s.vault.Management() && c != s.governance() {
		return chain.ErrUnauthorized
	}
	return nil
}

// onlyEmergencyAuthorized admits the strategist, governance and the
// vault's guardian and management.
func (s *Strategy) onlyEmergencyAuthorized(tx *chain.Tx) error {
	c := tx.From()
	if c != s.strategist && c != s.governance() && c != s.vault.Guardian() && c != s.vault.Management() {
		return chain.ErrUnauthorized
	}
	return nil
}

// onlyKeepers admits the keeper and everyone emergency-authorized.
func (s *Strategy) onlyKeepers(tx *chain.Tx) error {
	if tx.From() == s.keeper {
		return nil
	}
	return s.onlyEmergencyAuthorized(tx)
}

func (s *Strategy) SetStrategist(tx *chain.Tx, strategist common.Address) error {
	if err := s.onlyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.strategist, strategist)
	return nil
}

func (s *Strategy) SetKeeper(tx *chain.Tx, keeper common.Address) error {
	if err := s.onlyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.keeper, keeper)
	return nil
}

// SetRewards is reserved to the strategist.
func (s *Strategy) SetRewards(tx *chain.Tx, rewards common.Address) error {
	if tx.From() != s.strategist {
		return chain.ErrUnauthorized
	}
	chain.Set(tx, &s.rewards, rewards)
	return nil
}

func (s *Strategy) SetMaxReportDelay(tx *chain.Tx, delay uint64) error {
	if err := s.onlyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.maxReportDelay, delay)
	return nil
}

func (s *Strategy) SetHealthCheck(tx *chain.Tx, healthCheck common.Address) error {
	if err := s.onlyVaultManagers(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.healthCheck, healthCheck)
	return nil
}

func (s *Strategy) SetDoHealthCheck(tx *chain.Tx, do bool) error {
	if err := s.onlyVaultManagers(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.doHealthCheck, do)
	return nil
}

func (s *Strategy) SetBaseFeeOracle(tx *chain.Tx, oracle common.Address) error {
	if err := s.onlyVaultManagers(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.baseFeeOracle, oracle)
	return nil
}

func (s *Strategy) SetPriceOracle(tx *chain.Tx, oracle common.Address) error {
	if err := s.onlyVaultManagers(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.priceOracle, oracle)
	return nil
}

func (s *Strategy) SetClaimRewards(tx *chain.Tx, claim bool) error {
	if err := s.onlyVaultManagers(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.claimRewards, claim)
	return nil
}

func (s *Strategy) SetCreditThreshold(tx *chain.Tx, threshold *uint256.Int) error {
	if err := s.onlyVaultManagers(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.creditThreshold, threshold.Clone())
	return nil
}

func (s *Strategy) SetHarvestTriggerParams(tx *chain.Tx, minInUsdc, maxInUsdc *uint256.Int) error {
	if err := s.onlyVaultManagers(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.harvestProfitMinInUsdc, minInUsdc.Clone())
	chain.Set(tx, &s.harvestProfitMaxInUsdc, maxInUsdc.Clone())
	return nil
}

func (s *Strategy) SetForceHarvestTriggerOnce(tx *chain.Tx, force bool) error {
	if err := s.onlyEmergencyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.forceHarvestTriggerOnce, force)
	return nil
}

// SetEmergencyExit puts the strategy in emergency exit and revokes it on
// the vault. The next harvest liquidates every position.
func (s *Strategy) SetEmergencyExit(tx *chain.Tx) error {
	if err := s.onlyEmergencyAuthorized(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.emergencyExit, true)
	if err := s.vault.RevokeStrategy(tx.As(s.address), s.address); err != nil {
		return err
	}
	tx.Emit(s.address, EmergencyExitEnabled{})
	return nil
}

// SetLocalKeepCRV sets the share of claimed CRV sent to the curve voter.
func (s *Strategy) SetLocalKeepCRV(tx *chain.Tx, keep uint64) error {
	if err := s.onlyGovernance(tx); err != nil {
		return err
	}
	if keep > external.MaxBPS {
		return ErrKeepTooHigh
	}
	chain.Set(tx, &s.localKeepCRV, keep)
	return nil
}

// SetLocalKeepCVX sets the share of claimed CVX sent to the convex voter.
// Convex strategies only.
func (s *Strategy) SetLocalKeepCVX(tx *chain.Tx, keep uint64) error {
	if err := s.onlyGovernance(tx); err != nil {
		return err
	}
	if s.kind != KindConvex {
		return ErrWrongKind
	}
	if keep > external.MaxBPS {
		return ErrKeepTooHigh
	}
	chain.Set(tx, &s.localKeepCVX, keep)
	return nil
}

func (s *Strategy) SetCurveVoter(tx *chain.Tx, voter common.Address) error {
	if err := s.onlyGovernance(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.curveVoter, voter)
	return nil
}

// SetConvexVoter is for convex strategies only.
func (s *Strategy) SetConvexVoter(tx *chain.Tx, voter common.Address) error {
	if err := s.onlyGovernance(tx); err != nil {
		return err
	}
	if s.kind != KindConvex {
		return ErrWrongKind
	}
	chain.Set(tx, &s.convexVoter, voter)
	return nil
}

// UpdateRewards replaces the extra reward tokens and enables their swaps on
// the trade factory.
func (s *Strategy) UpdateRewards(tx *chain.Tx, tokens []common.Address) error {
	if err := s.onlyVaultManagers(tx); err != nil {
		return err
	}
	chain.Set(tx, &s.rewardsTokens, append([]common.Address(nil), tokens...))
	if s.tradeFactory == (common.Address{}) {
		return nil
	}
	return s.setTradeFactory(tx, s.tradeFactory)
}

// UpdateTradeFactory points the strategy at a new trade factory.
func (s *Strategy) UpdateTradeFactory(tx *chain.Tx, tradeFactory common.Address) error {
	if err := s.onlyGovernance(tx); err != nil {
		return err
	}
	return s.setTradeFactory(tx, tradeFactory)
}
