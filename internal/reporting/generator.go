package reporting

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
	"vault-factory-lab/internal/verification"
)

// Generator produces reports from stored data.
type Generator struct {
	deploymentStore storage.DeploymentStore
	harvestStore    storage.HarvestStore
	now             func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(deploymentStore storage.DeploymentStore, harvestStore storage.HarvestStore) *Generator {
	return &Generator{
		deploymentStore: deploymentStore,
		harvestStore:    harvestStore,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a complete report. vr may be nil.
func (g *Generator) Generate(ctx context.Context, vr *verification.VerificationReport) (*Report, error) {
	deployments, err := g.deploymentStore.List(ctx)
	if err != nil {
		return nil, err
	}
	harvests, err := g.harvestStore.List(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(deployments, func(i, j int) bool {
		if deployments[i].Block != deployments[j].Block {
			return deployments[i].Block < deployments[j].Block
		}
		return deployments[i].DeploymentID < deployments[j].DeploymentID
	})
	sort.Slice(harvests, func(i, j int) bool {
		if harvests[i].Block != harvests[j].Block {
			return harvests[i].Block < harvests[j].Block
		}
		return harvests[i].Strategy.Hex() < harvests[j].Strategy.Hex()
	})

	report := &Report{
		GeneratedAt:     g.now(),
		DeploymentCount: len(deployments),
		HarvestCount:    len(harvests),
		Summary:         summarize(deployments, harvests),
		Deployments:     make([]DeploymentRow, 0, len(deployments)),
		Harvests:        make([]HarvestRow, 0, len(harvests)),
		StrategyTotals:  strategyTotals(harvests),
	}
	for _, d := range deployments {
		report.Deployments = append(report.Deployments, deploymentRow(d))
	}
	for _, h := range harvests {
		report.Harvests = append(report.Harvests, harvestRow(h))
	}
	if vr != nil {
		report.Verification = verificationSection(vr)
	}
	return report, nil
}

// summarize computes run-wide counters. Block range spans both deployments
// and harvests.
func summarize(deployments []*domain.DeploymentRecord, harvests []*domain.HarvestOutcome) Summary {
	s := Summary{
		TotalProfitUnits: decimal.Zero,
		TotalLossUnits:   decimal.Zero,
	}
	blocks := make([]uint64, 0, len(deployments)+len(harvests))

	for _, d := range deployments {
		switch d.Path {
		case domain.PathStandard:
			s.StandardDeployments++
		case domain.PathPermissioned:
			s.PermissionedDeployments++
		}
		blocks = append(blocks, d.Block)
	}
	for _, h := range harvests {
		switch h.Class() {
		case domain.OutcomeProfit:
			s.ProfitHarvests++
		case domain.OutcomeLoss:
			s.LossHarvests++
		default:
			s.FlatHarvests++
		}
		if h.Swept {
			s.SettledHarvests++
		}
		if h.PreSyncError != "" {
			s.PreSyncFailures++
		}
		s.TotalProfitUnits = s.TotalProfitUnits.Add(h.ProfitUnits)
		s.TotalLossUnits = s.TotalLossUnits.Add(h.LossUnits)
		blocks = append(blocks, h.Block)
	}

	if len(blocks) > 0 {
		s.FirstBlock, s.LastBlock = blocks[0], blocks[0]
		for _, b := range blocks {
			if b < s.FirstBlock {
				s.FirstBlock = b
			}
			if b > s.LastBlock {
				s.LastBlock = b
			}
		}
	}
	return s
}

// strategyTotals groups harvests by strategy. Input order is preserved
// within a group, so LastBlock is the block of the latest harvest.
func strategyTotals(harvests []*domain.HarvestOutcome) []StrategyTotalRow {
	byStrategy := make(map[common.Address]*StrategyTotalRow)
	for _, h := range harvests {
		row, ok := byStrategy[h.Strategy]
		if !ok {
			row = &StrategyTotalRow{
				Vault:       h.Vault.Hex(),
				Strategy:    h.Strategy.Hex(),
				Kind:        h.Kind,
				ProfitUnits: decimal.Zero,
				LossUnits:   decimal.Zero,
			}
			byStrategy[h.Strategy] = row
		}
		row.Harvests++
		row.ProfitUnits = row.ProfitUnits.Add(h.ProfitUnits)
		row.LossUnits = row.LossUnits.Add(h.LossUnits)
		if h.Block > row.LastBlock {
			row.LastBlock = h.Block
		}
	}

	rows := make([]StrategyTotalRow, 0, len(byStrategy))
	for _, row := range byStrategy {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Vault != rows[j].Vault {
			return rows[i].Vault < rows[j].Vault
		}
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].Strategy < rows[j].Strategy
	})
	return rows
}

func deploymentRow(d *domain.DeploymentRecord) DeploymentRow {
	row := DeploymentRow{
		DeploymentID:   d.DeploymentID,
		Path:           string(d.Path),
		Vault:          d.Vault.Hex(),
		Name:           d.Name,
		Symbol:         d.Symbol,
		Gauge:          d.Gauge.Hex(),
		ConvexStrategy: optionalAddress(d.ConvexStrategy),
		CurveStrategy:  optionalAddress(d.CurveStrategy),
		Block:          d.Block,
	}
	if d.Pid != nil {
		row.Pid = strconv.FormatUint(*d.Pid, 10)
	}
	return row
}

func harvestRow(h *domain.HarvestOutcome) HarvestRow {
	row := HarvestRow{
		OutcomeID:       h.OutcomeID,
		Vault:           h.Vault.Hex(),
		Strategy:        h.Strategy.Hex(),
		Kind:            h.Kind,
		Block:           h.Block,
		Timestamp:       h.Timestamp,
		Class:           h.Class(),
		Profit:          wei(h.Profit),
		Loss:            wei(h.Loss),
		DebtPayment:     wei(h.DebtPayment),
		DebtOutstanding: wei(h.DebtOutstanding),
		ProfitUnits:     h.ProfitUnits,
		LossUnits:       h.LossUnits,
		Swept:           h.Swept,
		PreSyncError:    h.PreSyncError,
	}
	if h.Donated != nil {
		row.Donated = h.Donated.Dec()
	}
	return row
}

func verificationSection(vr *verification.VerificationReport) *VerificationSection {
	section := &VerificationSection{
		Rows:       make([]VerificationRow, 0, len(vr.Results)),
		AllMatched: vr.DivergentDeployments == 0,
	}
	for _, r := range vr.Results {
		section.Rows = append(section.Rows, VerificationRow{
			DeploymentID: r.DeploymentID,
			Vault:        r.Vault.Hex(),
			Checked:      r.Checked,
			Divergent:    len(r.Divergences),
			Match:        r.Match,
		})
		for _, d := range r.Divergences {
			section.Divergences = append(section.Divergences, r.Vault.Hex()+" "+d.String())
		}
	}
	return section
}

func optionalAddress(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func wei(a *uint256.Int) string {
	if a == nil {
		return "0"
	}
	return a.Dec()
}
