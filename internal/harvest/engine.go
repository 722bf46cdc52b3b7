// Package harvest drives strategy harvests against the ledger and
// reconciles the profit they report. Each harvest runs in one unit of work
// bracketed by clock moves, and settlement stands in for the trade
// execution service by sweeping reward tokens and returning want.
package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/external"
	"vault-factory-lab/internal/idhash"
	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/observability"
	"vault-factory-lab/internal/strategy"
)

// StabilizeDelay is how far the clock moves before and after a harvest.
const StabilizeDelay = time.Second

// Options configures an Engine.
type Options struct {
	Ledger *chain.Ledger
	// Gov sends every harvest. It must manage the strategies' vaults.
	Gov common.Address

	// UseYSwaps enables settlement: reward tokens are swept away and
	// ProfitAmount of want is sent from ProfitWhale.
	UseYSwaps    bool
	ProfitWhale  common.Address
	ProfitAmount *uint256.Int

	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Engine harvests strategies one unit of work at a time. It is safe for
// concurrent use; the ledger serializes the harvests.
type Engine struct {
	ledger       *chain.Ledger
	gov          common.Address
	useYSwaps    bool
	profitWhale  common.Address
	profitAmount *uint256.Int

	log     *logging.Logger
	metrics *observability.Metrics
}

// New creates a harvest engine.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	amount := chain.Zero()
	if opts.ProfitAmount != nil {
		amount = opts.ProfitAmount.Clone()
	}
	return &Engine{
		ledger:       opts.Ledger,
		gov:          opts.Gov,
		useYSwaps:    opts.UseYSwaps,
		profitWhale:  opts.ProfitWhale,
		profitAmount: amount,
		log:          log.Named("harvest"),
		metrics:      observability.Or(opts.Metrics),
	}
}

// Harvest runs one harvest of s and returns what it reported. Errors from
// the strategy are returned unchanged; invariant failures come back as
// *InvariantViolation. Either way nothing the harvest wrote survives.
func (e *Engine) Harvest(ctx context.Context, s *strategy.Strategy) (domain.HarvestOutcome, error) {
	log := e.log.With(
		zap.String("strategy", s.Address().Hex()),
		zap.Stringer("kind", s.Kind()),
	)

	e.stabilize()

	var out domain.HarvestOutcome
	receipt, err := e.ledger.Transact(ctx, e.gov, func(tx *chain.Tx) error {
		out = domain.HarvestOutcome{}
		return e.harvest(tx, s, &out, log)
	})
	if err != nil {
		e.metrics.RecordHarvest(s.Kind().String(), 0, 0, err)
		log.Error("harvest failed", zap.Error(err))
		return domain.HarvestOutcome{}, err
	}

	ev, ok := chain.FindEvent[strategy.Harvested](receipt)
	if !ok {
		return domain.HarvestOutcome{}, fmt.Errorf("harvest %s: no Harvested event", s.Address().Hex())
	}
	e.fill(&out, s, ev, receipt)

	e.stabilize()

	profit, _ := out.ProfitUnits.Float64()
	loss, _ := out.LossUnits.Float64()
	e.metrics.RecordHarvest(out.Kind, profit, loss, nil)
	log.Info("harvested",
		zap.Uint64("block", out.Block),
		zap.String("profit", out.ProfitUnits.String()),
		zap.String("loss", out.LossUnits.String()),
		zap.Bool("swept", out.Swept),
	)
	return out, nil
}

func (e *Engine) harvest(tx *chain.Tx, s *strategy.Strategy, out *domain.HarvestOutcome, log *logging.Logger) error {
	if err := e.presync(tx, s); err != nil {
		e.metrics.RecordPreSyncFailure()
		log.Warn("reward pre-sync failed", zap.Error(err))
		out.PreSyncError = err.Error()
	}

	if s.StakedBalance().IsZero() {
		if err := s.SetDoHealthCheck(tx, false); err != nil {
			return err
		}
	}
	switch {
	case s.EmergencyExit():
		if err := s.SetClaimRewards(tx, true); err != nil {
			return err
		}
	case s.ClaimRewards():
		if err := s.SetClaimRewards(tx, false); err != nil {
			return err
		}
	}

	if err := s.Harvest(tx); err != nil {
		return err
	}

	if idle := s.BalanceOfWant(); !idle.IsZero() {
		e.metrics.RecordInvariantViolation(InvariantIdleWant)
		return &InvariantViolation{
			Invariant: InvariantIdleWant,
			Strategy:  s.Address(),
			Err:       fmt.Errorf("%w: %s", ErrIdleWant, idle.ToBig().String()),
		}
	}

	if !e.useYSwaps {
		return nil
	}
	return e.settle(tx, s, out, log)
}

// presync updates the booster's reward accounting for convex strategies.
// A failure is undone and handed back to the caller to log.
func (e *Engine) presync(tx *chain.Tx, s *strategy.Strategy) error {
	addr, pid, ok := s.DepositContract()
	if !ok {
		return nil
	}
	booster, ok := chain.ContractAt[external.Booster](tx.Ledger(), addr)
	if !ok {
		return fmt.Errorf("booster %s: %w", addr.Hex(), chain.ErrNoContract)
	}
	return tx.Try(func(tx *chain.Tx) error {
		return booster.EarmarkRewards(tx, pid)
	})
}

func (e *Engine) stabilize() {
	e.ledger.Sleep(StabilizeDelay)
	e.ledger.Mine(1)
}

func (e *Engine) fill(out *domain.HarvestOutcome, s *strategy.Strategy, ev strategy.Harvested, r *chain.Receipt) {
	decimals := e.decimals(s)
	out.OutcomeID = idhash.ComputeHarvestOutcomeID(s.Address(), r.Block)
	out.Vault = s.Vault()
	out.Strategy = s.Address()
	out.Kind = s.Kind().String()
	out.Block = r.Block
	out.Timestamp = int64(r.Time)
	out.Profit = ev.Profit.Clone()
	out.Loss = ev.Loss.Clone()
	out.DebtPayment = ev.DebtPayment.Clone()
	out.DebtOutstanding = ev.DebtOutstanding.Clone()
	out.ProfitUnits = chain.ToDecimal(ev.Profit, decimals)
	out.LossUnits = chain.ToDecimal(ev.Loss, decimals)
}

func (e *Engine) decimals(s *strategy.Strategy) uint8 {
	if want, ok := chain.ContractAt[external.ERC20](e.ledger, s.Want()); ok {
		return want.Decimals()
	}
	return 18
}
