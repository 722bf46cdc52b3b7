package reporting

import (
	"fmt"
	"strings"
)

// RenderHarvestsCSV renders harvest outcomes as CSV string.
func RenderHarvestsCSV(rows []HarvestRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("outcome_id,vault,strategy,kind,block,timestamp,class,")
	sb.WriteString("profit,loss,debt_payment,debt_outstanding,profit_units,loss_units,")
	sb.WriteString("swept,donated,presync_error\n")

	// Rows
	for _, h := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%d,%d,%s,%s,%s,%s,%s,%s,%s,%t,%s,%s\n",
			h.OutcomeID,
			h.Vault,
			h.Strategy,
			h.Kind,
			h.Block,
			h.Timestamp,
			h.Class,
			h.Profit,
			h.Loss,
			h.DebtPayment,
			h.DebtOutstanding,
			h.ProfitUnits.String(),
			h.LossUnits.String(),
			h.Swept,
			h.Donated,
			csvField(h.PreSyncError),
		))
	}

	return sb.String()
}

// RenderDeploymentsCSV renders deployments as CSV string.
func RenderDeploymentsCSV(rows []DeploymentRow) string {
	var sb strings.Builder

	sb.WriteString("deployment_id,path,vault,name,symbol,gauge,convex_strategy,curve_strategy,pid,block\n")
	for _, d := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%s,%s,%d\n",
			d.DeploymentID,
			d.Path,
			d.Vault,
			csvField(d.Name),
			csvField(d.Symbol),
			d.Gauge,
			d.ConvexStrategy,
			d.CurveStrategy,
			d.Pid,
			d.Block,
		))
	}

	return sb.String()
}

// RenderStrategyTotalsCSV renders per-strategy totals as CSV string.
func RenderStrategyTotalsCSV(rows []StrategyTotalRow) string {
	var sb strings.Builder

	sb.WriteString("vault,strategy,kind,harvests,profit_units,loss_units,last_block\n")
	for _, s := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%d,%s,%s,%d\n",
			s.Vault, s.Strategy, s.Kind, s.Harvests,
			s.ProfitUnits.String(), s.LossUnits.String(), s.LastBlock))
	}

	return sb.String()
}

// csvField quotes free text that contains separators or quotes.
func csvField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
