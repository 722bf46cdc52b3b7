package strategy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

// Harvest claims rewards, reports profit and loss to the vault, and
// restakes whatever want the vault leaves with the strategy. Keepers only.
func (s *Strategy) Harvest(tx *chain.Tx) error {
	if err := s.onlyKeepers(tx); err != nil {
		return err
	}

	var (
		profit      = chain.Zero()
		loss        = chain.Zero()
		debtPayment = chain.Zero()
		err         error
	)
	debtOutstanding := s.vault.DebtOutstanding(s.address)

	if s.emergencyExit {
		freed, err := s.liquidateAllPositions(tx)
		if err != nil {
			return fmt.Errorf("liquidate: %w", err)
		}
		switch {
		case freed.Lt(debtOutstanding):
			loss = new(uint256.Int).Sub(debtOutstanding, freed)
		case freed.Gt(debtOutstanding):
			profit = new(uint256.Int).Sub(freed, debtOutstanding)
		}
		debtPayment = chain.SubFloor(debtOutstanding, loss)
	} else {
		profit, loss, debtPayment, err = s.prepareReturn(tx, debtOutstanding)
		if err != nil {
			return err
		}
	}

	totalDebt := s.vault.Strategies(s.address).TotalDebt
	debtOutstanding, err = s.vault.Report(tx.As(s.address), profit, loss, debtPayment)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := s.adjustPosition(tx); err != nil {
		return fmt.Errorf("adjust position: %w", err)
	}

	if s.doHealthCheck && s.healthCheck != (common.Address{}) {
		hc, ok := chain.ContractAt[external.HealthCheck](s.ledger, s.healthCheck)
		if !ok || !hc.Check(s.address, profit, loss, debtPayment, debtOutstanding, totalDebt) {
			return ErrHealthCheck
		}
	} else {
		chain.Set(tx, &s.doHealthCheck, true)
	}
	chain.Set(tx, &s.forceHarvestTriggerOnce, false)

	tx.Emit(s.address, Harvested{
		Profit:          profit,
		Loss:            loss,
		DebtPayment:     debtPayment,
		DebtOutstanding: debtOutstanding,
	})
	return nil
}

// prepareReturn claims and distributes rewards, then frees enough want to
// cover profit and the debt payment. Only want counts as profit; reward
// tokens are left for the trade factory.
func (s *Strategy) prepareReturn(tx *chain.Tx, debtOutstanding *uint256.Int) (profit, loss, debtPayment *uint256.Int, err error) {
	if err := s.venue.claim(tx, s); err != nil {
		return nil, nil, nil, fmt.Errorf("claim rewards: %w", err)
	}
	if err := s.sendKeeps(tx); err != nil {
		return nil, nil, nil, fmt.Errorf("send keeps: %w", err)
	}

	assets := s.EstimatedTotalAssets()
	debt := s.vault.Strategies(s.address).TotalDebt
	profit, loss = chain.Zero(), chain.Zero()

	if !assets.Lt(debt) {
		profit = new(uint256.Int).Sub(assets, debt)
		debtPayment = debtOutstanding.Clone()
	} else {
		loss = new(uint256.Int).Sub(debt, assets)
		debtPayment = chain.Min(debtOutstanding, assets)
	}

	toFree := new(uint256.Int).Add(profit, debtPayment)
	if loose := s.BalanceOfWant(); toFree.Gt(loose) {
		if err := s.freeWant(tx, new(uint256.Int).Sub(toFree, loose)); err != nil {
			return nil, nil, nil, err
		}
		loose = s.BalanceOfWant()
		if loose.Lt(toFree) {
			if profit.Gt(loose) {
				profit = loose
				debtPayment = chain.Zero()
			} else {
				debtPayment = chain.Min(new(uint256.Int).Sub(loose, profit), debtPayment)
			}
		}
	}
	return profit, loss, debtPayment, nil
}

// adjustPosition stakes all idle want unless the strategy is exiting.
func (s *Strategy) adjustPosition(tx *chain.Tx) error {
	if s.emergencyExit {
		return nil
	}
	idle := s.BalanceOfWant()
	if idle.IsZero() {
		return nil
	}
	return s.venue.deposit(tx, s, idle)
}

// freeWant unstakes up to amount.
func (s *Strategy) freeWant(tx *chain.Tx, amount *uint256.Int) error {
	amount = chain.Min(amount, s.StakedBalance())
	if amount.IsZero() {
		return nil
	}
	return s.venue.withdraw(tx, s, amount)
}

func (s *Strategy) liquidateAllPositions(tx *chain.Tx) (*uint256.Int, error) {
	if err := s.freeWant(tx, s.StakedBalance()); err != nil {
		return nil, err
	}
	return s.BalanceOfWant(), nil
}

// Withdraw frees up to amountNeeded and sends it to the vault. The
// shortfall, if any, is returned as loss. Vault only.
func (s *Strategy) Withdraw(tx *chain.Tx, amountNeeded *uint256.Int) (*uint256.Int, error) {
	if tx.From() != s.vault.Address() {
		return nil, ErrNotVault
	}
	if loose := s.BalanceOfWant(); amountNeeded.Gt(loose) {
		if err := s.freeWant(tx, new(uint256.Int).Sub(amountNeeded, loose)); err != nil {
			return nil, fmt.Errorf("free want: %w", err)
		}
	}
	freed := chain.Min(amountNeeded, s.BalanceOfWant())
	loss := new(uint256.Int).Sub(amountNeeded, freed)
	if !freed.IsZero() {
		if err := s.want.Transfer(tx.As(s.address), s.vault.Address(), freed); err != nil {
			return nil, err
		}
	}
	return loss, nil
}

func (s *Strategy) sendKeeps(tx *chain.Tx) error {
	if err := s.sendKeep(tx, s.crv, s.localKeepCRV, s.curveVoter); err != nil {
		return err
	}
	if s.cvx == nil {
		return nil
	}
	return s.sendKeep(tx, s.cvx, s.localKeepCVX, s.convexVoter)
}

func (s *Strategy) sendKeep(tx *chain.Tx, token external.ERC20, keep uint64, voter common.Address) error {
	if keep == 0 || voter == (common.Address{}) {
		return nil
	}
	amount := chain.MulDiv(token.BalanceOf(s.address), uint256.NewInt(keep), uint256.NewInt(external.MaxBPS))
	if amount.IsZero() {
		return nil
	}
	return token.Transfer(tx.As(s.address), voter, amount)
}
