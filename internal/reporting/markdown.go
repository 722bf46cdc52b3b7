package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Vault Factory Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Deployments: %d | Harvests: %d\n\n", r.DeploymentCount, r.HarvestCount))

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Standard Deployments | %d |\n", s.StandardDeployments))
	sb.WriteString(fmt.Sprintf("| Permissioned Deployments | %d |\n", s.PermissionedDeployments))
	sb.WriteString(fmt.Sprintf("| Profit Harvests | %d |\n", s.ProfitHarvests))
	sb.WriteString(fmt.Sprintf("| Loss Harvests | %d |\n", s.LossHarvests))
	sb.WriteString(fmt.Sprintf("| Flat Harvests | %d |\n", s.FlatHarvests))
	sb.WriteString(fmt.Sprintf("| Settled Harvests | %d |\n", s.SettledHarvests))
	sb.WriteString(fmt.Sprintf("| Pre-sync Failures | %d |\n", s.PreSyncFailures))
	sb.WriteString(fmt.Sprintf("| Total Profit | %s |\n", s.TotalProfitUnits.String()))
	sb.WriteString(fmt.Sprintf("| Total Loss | %s |\n", s.TotalLossUnits.String()))
	sb.WriteString(fmt.Sprintf("| Block Range | %d - %d |\n", s.FirstBlock, s.LastBlock))
	sb.WriteString("\n")

	// Parameter propagation
	sb.WriteString("## Parameter Propagation\n\n")
	if v := r.Verification; v != nil {
		sb.WriteString("| Deployment | Vault | Checked | Divergent | Status |\n")
		sb.WriteString("|------------|-------|---------|-----------|--------|\n")
		for _, row := range v.Rows {
			status := "FAIL"
			if row.Match {
				status = "PASS"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %s |\n",
				short(row.DeploymentID), row.Vault, row.Checked, row.Divergent, status))
		}
		sb.WriteString("\n")

		if v.AllMatched {
			sb.WriteString("**All deployments match the factory parameters.**\n\n")
		} else {
			sb.WriteString("### Divergences\n\n")
			for _, d := range v.Divergences {
				sb.WriteString(fmt.Sprintf("- %s\n", d))
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("Verification not performed.\n\n")
	}

	// Deployments
	sb.WriteString("## Deployments\n\n")
	if len(r.Deployments) > 0 {
		sb.WriteString("| Block | Path | Name | Symbol | Vault | Convex | Curve | Pid |\n")
		sb.WriteString("|-------|------|------|--------|-------|--------|-------|-----|\n")
		for _, d := range r.Deployments {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s | %s |\n",
				d.Block, d.Path, d.Name, d.Symbol, d.Vault,
				orDash(d.ConvexStrategy), orDash(d.CurveStrategy), orDash(d.Pid)))
		}
	} else {
		sb.WriteString("No deployments available.\n")
	}
	sb.WriteString("\n")

	// Harvests
	sb.WriteString("## Harvests\n\n")
	if len(r.Harvests) > 0 {
		sb.WriteString("| Block | Kind | Strategy | Class | Profit | Loss | Swept | Pre-sync |\n")
		sb.WriteString("|-------|------|----------|-------|--------|------|-------|----------|\n")
		for _, h := range r.Harvests {
			presync := "ok"
			if h.PreSyncError != "" {
				presync = "failed"
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %t | %s |\n",
				h.Block, h.Kind, h.Strategy, h.Class,
				h.ProfitUnits.String(), h.LossUnits.String(), h.Swept, presync))
		}
	} else {
		sb.WriteString("No harvests available.\n")
	}
	sb.WriteString("\n")

	// Strategy totals
	sb.WriteString("## Strategy Totals\n\n")
	if len(r.StrategyTotals) > 0 {
		sb.WriteString("| Vault | Kind | Strategy | Harvests | Profit | Loss | Last Block |\n")
		sb.WriteString("|-------|------|----------|----------|--------|------|------------|\n")
		for _, t := range r.StrategyTotals {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s | %s | %d |\n",
				t.Vault, t.Kind, t.Strategy, t.Harvests,
				t.ProfitUnits.String(), t.LossUnits.String(), t.LastBlock))
		}
	} else {
		sb.WriteString("No strategy totals available.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// short truncates a hex ID for table display.
func short(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
