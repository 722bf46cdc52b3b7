package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"vault-factory-lab/internal/ethrpc"
)

// factoryClient dials the configured node and binds the configured factory.
func (a *app) factoryClient() (*ethrpc.FactoryClient, error) {
	if a.cfg.RPC.Factory == "" {
		return nil, fmt.Errorf("rpc.factory is not set")
	}
	client := ethrpc.NewClient(a.cfg.RPC.HTTPEndpoint,
		ethrpc.WithTimeout(a.cfg.RPC.Timeout),
		ethrpc.WithMaxRetries(a.cfg.RPC.Retries),
		ethrpc.WithLogger(a.log),
	)
	return ethrpc.NewFactoryClient(client, a.cfg.RPC.FactoryAddress()), nil
}

func newViewsCmd(a *app) *cobra.Command {
	var (
		gauge  string
		create bool
		name   string
		symbol string
	)

	cmd := &cobra.Command{
		Use:   "views",
		Short: "Read a deployed factory over JSON-RPC, optionally submitting a deployment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := a.factoryClient()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()

			n, err := f.NumVaults(ctx)
			if err != nil {
				return err
			}
			vaults, err := f.AllDeployedVaults(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "factory %s: %d vaults\n", f.Address().Hex(), n)
			for i, v := range vaults {
				fmt.Fprintf(out, "  %3d %s\n", i, v.Hex())
			}

			if gauge == "" {
				return nil
			}
			if !common.IsHexAddress(gauge) {
				return fmt.Errorf("gauge %q is not an address", gauge)
			}
			g := common.HexToAddress(gauge)

			permissionless, err := f.CanCreateVaultPermissionlessly(ctx, g)
			if err != nil {
				return err
			}
			hasGauge, err := f.DoesStrategyProxyHaveGauge(ctx, g)
			if err != nil {
				return err
			}
			latest, err := f.LatestStandardVaultFromGauge(ctx, g)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "gauge %s\n", g.Hex())
			fmt.Fprintf(out, "  permissionless:     %t\n", permissionless)
			fmt.Fprintf(out, "  proxy has gauge:    %t\n", hasGauge)
			fmt.Fprintf(out, "  latest std vault:   %s\n", latest.Hex())
			if pid, err := f.GetPid(ctx, g); err == nil {
				fmt.Fprintf(out, "  convex pid:         %s\n", pid.Dec())
			} else {
				fmt.Fprintf(out, "  convex pid:         none (%v)\n", err)
			}

			if !create {
				return nil
			}
			if a.cfg.RPC.From == "" {
				return fmt.Errorf("rpc.from is required to submit a deployment")
			}
			from := common.HexToAddress(a.cfg.RPC.From)
			var hash common.Hash
			if name != "" {
				hash, err = f.CreateNewVaultsAndStrategiesPermissioned(ctx, from, g, name, symbol)
			} else {
				hash, err = f.CreateNewVaultsAndStrategies(ctx, from, g)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "submitted %s\n", hash.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&gauge, "gauge", "", "gauge to inspect")
	cmd.Flags().BoolVar(&create, "create", false, "submit a deployment for --gauge from rpc.from")
	cmd.Flags().StringVar(&name, "name", "", "vault name; makes --create use the permissioned entry point")
	cmd.Flags().StringVar(&symbol, "symbol", "", "vault symbol for a permissioned deployment")
	return cmd
}
