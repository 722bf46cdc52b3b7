package harvest

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/external"
	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/strategy"
)

// settle simulates the trade factory: every reward token balance leaves
// the strategy (sent to the want token's own address, where nobody can
// spend it) and the profit whale pays the strategy in want instead.
func (e *Engine) settle(tx *chain.Tx, s *strategy.Strategy, out *domain.HarvestOutcome, log *logging.Logger) error {
	swept, err := sweepRewards(tx, s)
	if err != nil {
		return fmt.Errorf("settlement sweep: %w", err)
	}
	if len(swept) == 0 {
		log.Debug("settlement skipped, nothing to sweep")
		return nil
	}

	want, ok := chain.ContractAt[external.ERC20](tx.Ledger(), s.Want())
	if !ok {
		return fmt.Errorf("want %s: %w", s.Want().Hex(), chain.ErrNoContract)
	}
	if err := want.Transfer(tx.As(e.profitWhale), s.Address(), e.profitAmount); err != nil {
		return fmt.Errorf("settlement profit: %w", err)
	}
	if s.BalanceOfWant().IsZero() {
		e.metrics.RecordInvariantViolation(InvariantSettlementProfit)
		return &InvariantViolation{
			Invariant: InvariantSettlementProfit,
			Strategy:  s.Address(),
			Err:       ErrSettlementNoProfit,
		}
	}

	out.Swept = true
	out.Donated = e.profitAmount.Clone()
	log.Debug("settled rewards",
		zap.Int("tokens", len(swept)),
		zap.String("donated", e.profitAmount.ToBig().String()),
	)
	return nil
}

// sweepRewards moves every non-zero reward balance off the strategy and
// returns the tokens it moved.
func sweepRewards(tx *chain.Tx, s *strategy.Strategy) ([]common.Address, error) {
	var swept []common.Address
	for _, addr := range s.RewardTokens() {
		token, ok := chain.ContractAt[external.ERC20](tx.Ledger(), addr)
		if !ok {
			return nil, fmt.Errorf("reward token %s: %w", addr.Hex(), chain.ErrNoContract)
		}
		bal := token.BalanceOf(s.Address())
		if bal.IsZero() {
			continue
		}
		if err := token.Transfer(tx.As(s.Address()), s.Want(), bal); err != nil {
			return nil, fmt.Errorf("sweep %s: %w", token.Symbol(), err)
		}
		swept = append(swept, addr)
	}
	return swept, nil
}
