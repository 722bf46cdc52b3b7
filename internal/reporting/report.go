package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report represents the scenario run report.
type Report struct {
	// Metadata
	GeneratedAt     time.Time
	DeploymentCount int
	HarvestCount    int

	Summary Summary

	// Deployments sorted by block, deployment_id
	Deployments []DeploymentRow

	// Harvests sorted by block, strategy
	Harvests []HarvestRow

	// Per-strategy totals sorted by vault, kind
	StrategyTotals []StrategyTotalRow

	// Parameter propagation, nil when verification did not run
	Verification *VerificationSection
}

// Summary contains run-wide counters.
type Summary struct {
	StandardDeployments     int
	PermissionedDeployments int
	ProfitHarvests          int
	LossHarvests            int
	FlatHarvests            int
	SettledHarvests         int // reward tokens swept
	PreSyncFailures         int
	TotalProfitUnits        decimal.Decimal
	TotalLossUnits          decimal.Decimal
	FirstBlock              uint64
	LastBlock               uint64
}

// DeploymentRow represents one deployed vault.
type DeploymentRow struct {
	DeploymentID   string
	Path           string
	Vault          string
	Name           string
	Symbol         string
	Gauge          string
	ConvexStrategy string // empty if skipped
	CurveStrategy  string // empty if skipped
	Pid            string // empty if none
	Block          uint64
}

// HarvestRow represents one harvest outcome.
type HarvestRow struct {
	OutcomeID       string
	Vault           string
	Strategy        string
	Kind            string
	Block           uint64
	Timestamp       int64
	Class           string // PROFIT | LOSS | FLAT
	Profit          string // wei
	Loss            string // wei
	DebtPayment     string // wei
	DebtOutstanding string // wei
	ProfitUnits     decimal.Decimal
	LossUnits       decimal.Decimal
	Swept           bool
	Donated         string // empty if no settlement
	PreSyncError    string
}

// StrategyTotalRow aggregates the harvests of one strategy.
type StrategyTotalRow struct {
	Vault       string
	Strategy    string
	Kind        string
	Harvests    int
	ProfitUnits decimal.Decimal
	LossUnits   decimal.Decimal
	LastBlock   uint64
}

// VerificationSection contains one row per verified deployment.
type VerificationSection struct {
	Rows        []VerificationRow
	Divergences []string
	AllMatched  bool
}

// VerificationRow summarizes the verification of one deployment.
type VerificationRow struct {
	DeploymentID string
	Vault        string
	Checked      int
	Divergent    int
	Match        bool
}
