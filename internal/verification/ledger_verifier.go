package verification

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/external"
	"vault-factory-lab/internal/factory"
	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/storage"
	"vault-factory-lab/internal/strategy"
)

// LedgerVerifier reads deployed contracts from the ledger and compares
// them with a parameter snapshot.
type LedgerVerifier struct {
	ledger *chain.Ledger
	store  storage.DeploymentStore
	log    *logging.Logger
}

// LedgerVerifierOptions configures a LedgerVerifier.
type LedgerVerifierOptions struct {
	Ledger *chain.Ledger
	// Store is only needed by VerifyAll.
	Store  storage.DeploymentStore
	Logger *logging.Logger
}

// Compile-time interface check.
var _ Verifier = (*LedgerVerifier)(nil)

// NewLedgerVerifier creates a LedgerVerifier.
func NewLedgerVerifier(opts LedgerVerifierOptions) *LedgerVerifier {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &LedgerVerifier{
		ledger: opts.Ledger,
		store:  opts.Store,
		log:    log.Named("verification"),
	}
}

// VerifyDeployment compares the vault and each strategy leg of rec with p.
// Missing contracts are errors, not divergences.
func (v *LedgerVerifier) VerifyDeployment(ctx context.Context, rec *domain.DeploymentRecord, p factory.Params) (*VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c comparison
	err := v.ledger.View(func() error {
		vault, ok := chain.ContractAt[external.Vault](v.ledger, rec.Vault)
		if !ok {
			return fmt.Errorf("vault %s: %w", rec.Vault.Hex(), chain.ErrNoContract)
		}
		compareVault(&c, rec, vault, p)

		hasCurve := rec.CurveStrategy != (common.Address{})
		for i, leg := range rec.Legs() {
			s, ok := chain.ContractAt[*strategy.Strategy](v.ledger, leg)
			if !ok {
				return fmt.Errorf("strategy %s: %w", leg.Hex(), chain.ErrNoContract)
			}
			prefix := s.Kind().String()
			c.address(fmt.Sprintf("vault.withdrawalQueue[%d]", i), leg, vault.WithdrawalQueue(i))
			compareLeg(&c, prefix, rec, vault, s, p)

			expectedRatio := p.SecondaryDebtRatio
			if s.Kind() == strategy.KindConvex {
				expectedRatio = external.MaxBPS
				if hasCurve {
					expectedRatio -= p.SecondaryDebtRatio
				}
			}
			c.bps(prefix+".debtRatio", expectedRatio, vault.Strategies(leg).DebtRatio)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		DeploymentID: rec.DeploymentID,
		Vault:        rec.Vault,
		Match:        len(c.divergences) == 0,
		Checked:      c.checked,
		Divergences:  c.divergences,
	}
	if !result.Match {
		v.log.Warn("deployment diverges from factory parameters",
			zap.String("deployment_id", rec.DeploymentID),
			zap.String("vault", rec.Vault.Hex()),
			zap.Int("divergences", len(c.divergences)))
	}
	return result, nil
}

// VerifyAll verifies every deployment in the store.
func (v *LedgerVerifier) VerifyAll(ctx context.Context, p factory.Params) (*VerificationReport, error) {
	if v.store == nil {
		return nil, fmt.Errorf("verify all: no deployment store")
	}
	records, err := v.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	report := &VerificationReport{
		TotalDeployments: len(records),
		Results:          make([]VerificationResult, 0, len(records)),
	}
	for _, rec := range records {
		result, err := v.VerifyDeployment(ctx, rec, p)
		if err != nil {
			return nil, fmt.Errorf("verify deployment %s: %w", rec.DeploymentID, err)
		}
		if result.Match {
			report.MatchedDeployments++
		} else {
			report.DivergentDeployments++
		}
		report.Results = append(report.Results, *result)
	}

	v.log.Info("verified deployments",
		zap.Int("total", report.TotalDeployments),
		zap.Int("divergent", report.DivergentDeployments))
	return report, nil
}

func compareVault(c *comparison, rec *domain.DeploymentRecord, vault external.Vault, p factory.Params) {
	c.address("vault.token", rec.LPToken, vault.Token())
	c.text("vault.name", rec.Name, vault.Name())
	c.text("vault.symbol", rec.Symbol, vault.Symbol())

	// Governance is either still pending from the factory or already accepted.
	c.checked++
	switch {
	case vault.Governance() == p.Governance:
	case vault.Governance() == rec.Factory && vault.PendingGovernance() == p.Governance:
	default:
		c.add("vault.governance", p.Governance.Hex(), vault.Governance().Hex())
	}

	c.address("vault.management", p.Management, vault.Management())
	c.address("vault.guardian", p.Guardian, vault.Guardian())
	c.address("vault.rewards", p.Treasury, vault.Rewards())
	c.amount("vault.depositLimit", p.DepositLimit, vault.DepositLimit())
	c.bps("vault.managementFee", p.ManagementFee, vault.ManagementFee())
	c.bps("vault.performanceFee", p.PerformanceFee, vault.PerformanceFee())
}

func compareLeg(c *comparison, prefix string, rec *domain.DeploymentRecord, vault external.Vault, s *strategy.Strategy, p factory.Params) {
	field := func(name string) string { return prefix + "." + name }

	c.flag(field("clone"), false, s.IsOriginal())
	c.address(field("vault"), rec.Vault, s.Vault())
	c.address(field("want"), rec.LPToken, s.Want())
	c.address(field("keeper"), p.Keeper, s.Keeper())
	c.address(field("strategist"), p.Management, s.Strategist())
	c.address(field("rewards"), p.Treasury, s.Rewards())
	c.address(field("healthCheck"), p.HealthCheck, s.HealthCheck())
	c.address(field("baseFeeOracle"), p.BaseFeeOracle, s.BaseFeeOracle())
	c.address(field("tradeFactory"), p.TradeFactory, s.TradeFactory())
	c.address(field("curveVoter"), p.CurveVoter, s.CurveVoter())
	c.bps(field("localKeepCRV"), p.KeepCRV, s.LocalKeepCRV())
	c.amount(field("creditThreshold"), strategy.DefaultCreditThreshold, s.CreditThreshold())
	c.bps(field("performanceFee"), 0, vault.Strategies(s.Address()).PerformanceFee)
	c.amount(field("harvestProfitMinInUsdc"), p.HarvestProfitMinInUsdc, s.HarvestProfitMinInUsdc())
	c.amount(field("harvestProfitMaxInUsdc"), p.HarvestProfitMaxInUsdc, s.HarvestProfitMaxInUsdc())

	if s.Kind() == strategy.KindConvex {
		c.address(field("convexVoter"), p.ConvexVoter, s.ConvexVoter())
		c.bps(field("localKeepCVX"), p.KeepCVX, s.LocalKeepCVX())
	}
}
