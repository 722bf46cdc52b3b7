package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// HarvestOutcome is the result of one harvest cycle of one strategy.
// Amounts are in the want token's smallest unit; the *Units fields are the
// same values scaled by the token decimals for reporting only.
// Corresponds to harvest_outcomes tables in PostgreSQL and ClickHouse.
type HarvestOutcome struct {
	OutcomeID string         // PRIMARY KEY, deterministic hash
	Vault     common.Address // vault the strategy reports to
	Strategy  common.Address // harvested strategy
	Kind      string         // "convex" | "curve"
	Block     uint64         // block of the harvest
	Timestamp int64          // block timestamp (unix seconds)

	Profit          *uint256.Int
	Loss            *uint256.Int
	DebtPayment     *uint256.Int
	DebtOutstanding *uint256.Int
	ProfitUnits     decimal.Decimal
	LossUnits       decimal.Decimal

	// Settlement
	PreSyncError string       // swallowed pre-sync failure (empty if none)
	Swept        bool         // reward tokens were swept
	Donated      *uint256.Int // profit returned by settlement (nil if none)
}

// Outcome classes
const (
	OutcomeProfit = "PROFIT"
	OutcomeLoss   = "LOSS"
	OutcomeFlat   = "FLAT"
)

// Class classifies the outcome by its reported profit and loss.
func (o *HarvestOutcome) Class() string {
	switch {
	case o.Loss != nil && !o.Loss.IsZero():
		return OutcomeLoss
	case o.Profit != nil && !o.Profit.IsZero():
		return OutcomeProfit
	default:
		return OutcomeFlat
	}
}
