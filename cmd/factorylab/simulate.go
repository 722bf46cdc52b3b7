package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"vault-factory-lab/internal/observability"
	"vault-factory-lab/internal/orchestrator"
)

func newSimulateCmd(a *app) *cobra.Command {
	var (
		skipPermissioned bool
		outputDir        string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Deploy the target vault on the simulated ledger, harvest it and write reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("output-dir") {
				a.cfg.Scenario.OutputDir = outputDir
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			result, err := a.simulate(ctx, observability.DefaultMetrics, !skipPermissioned)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipPermissioned, "skip-permissioned", false, "skip the permissioned FUD deployment")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "report directory (overrides scenario.output_dir)")
	return cmd
}

// simulate runs one scenario against freshly opened stores.
func (a *app) simulate(ctx context.Context, metrics *observability.Metrics, permissioned bool) (*orchestrator.RunResult, error) {
	st, err := openStores(ctx, a.cfg.Storage, a.log)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	opts := orchestrator.Options{
		DeploymentStore: st.deployments,
		HarvestStore:    st.harvests,
		Scenario:        a.cfg.Scenario,
		Logger:          a.log,
		Metrics:         metrics,
	}
	if permissioned {
		p := orchestrator.DefaultPermissioned
		opts.Permissioned = &p
	}
	return orchestrator.New(opts).Run(ctx)
}

func printResult(w io.Writer, r *orchestrator.RunResult) {
	fmt.Fprintf(w, "Scenario completed:\n")
	for _, d := range r.Deployments {
		fmt.Fprintf(w, "  %-12s %s %s (%s)\n", d.Path, d.Vault.Hex(), d.Name, d.Symbol)
	}
	if v := r.Verification; v != nil {
		fmt.Fprintf(w, "  Verification: %d/%d matched\n", v.MatchedDeployments, v.TotalDeployments)
	}
	fmt.Fprintf(w, "  Harvests: %d, total profit %s wei\n", len(r.Outcomes), r.TotalProfit().Dec())
	for _, s := range r.Statuses {
		fmt.Fprintf(w, "  %-6s %s assets %s, debt ratio %d\n", s.Kind, s.Strategy.Hex(), s.StrategyAssets.String(), s.DebtRatio)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  divergence: %s\n", e)
	}
	for _, f := range r.ReportFiles {
		fmt.Fprintf(w, "  wrote %s\n", f)
	}
	fmt.Fprintf(w, "  finished at %s\n", time.Now().UTC().Format(time.RFC3339))
}
