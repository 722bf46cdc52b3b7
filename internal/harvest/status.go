package harvest

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
	"vault-factory-lab/internal/strategy"
)

// dustWei is the threshold below which amounts are not worth logging.
var dustWei = uint256.NewInt(10)

// Status is a point-in-time view of a strategy and its vault.
type Status struct {
	VaultAssets     decimal.Decimal
	PricePerShare   decimal.Decimal
	StrategyDebt    decimal.Decimal
	StrategyAssets  decimal.Decimal
	StakedBalance   decimal.Decimal
	IdleWant        decimal.Decimal
	DebtOutstanding decimal.Decimal
	CreditAvailable decimal.Decimal
	DebtRatio       uint64
	EmergencyExit   bool
}

// CheckStatus reads the strategy's standing in its vault and logs every
// amount that is above dust.
func (e *Engine) CheckStatus(s *strategy.Strategy) (Status, error) {
	v, ok := chain.ContractAt[external.Vault](e.ledger, s.Vault())
	if !ok {
		return Status{}, fmt.Errorf("vault %s: %w", s.Vault().Hex(), chain.ErrNoContract)
	}
	decimals := e.decimals(s)
	params := v.Strategies(s.Address())

	st := Status{DebtRatio: params.DebtRatio, EmergencyExit: s.EmergencyExit()}
	fields := []zap.Field{
		zap.String("strategy", s.Address().Hex()),
		zap.Uint64("debt_ratio", params.DebtRatio),
		zap.Bool("emergency_exit", st.EmergencyExit),
	}
	amount := func(dst *decimal.Decimal, key string, raw *uint256.Int) {
		*dst = chain.ToDecimal(raw, decimals)
		if raw.Gt(dustWei) {
			fields = append(fields, zap.String(key, dst.String()))
		}
	}
	amount(&st.VaultAssets, "vault_assets", v.TotalAssets())
	amount(&st.PricePerShare, "price_per_share", v.PricePerShare())
	amount(&st.StrategyDebt, "strategy_debt", params.TotalDebt)
	amount(&st.StrategyAssets, "strategy_assets", s.EstimatedTotalAssets())
	amount(&st.StakedBalance, "staked", s.StakedBalance())
	amount(&st.IdleWant, "idle_want", s.BalanceOfWant())
	amount(&st.DebtOutstanding, "debt_outstanding", v.DebtOutstanding(s.Address()))
	amount(&st.CreditAvailable, "credit_available", v.CreditAvailable(s.Address()))

	e.log.Info("strategy status", fields...)
	return st, nil
}
