package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vault-factory-lab/internal/ethrpc"
	"vault-factory-lab/internal/observability"
)

func newWatchCmd(a *app) *cobra.Command {
	var fromBlock int64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Store every NewAutomatedVault deployment of the configured factory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.RPC.Factory == "" {
				return fmt.Errorf("rpc.factory is not set")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.watch(ctx, fromBlock)
		},
	}
	cmd.Flags().Int64Var(&fromBlock, "from-block", -1, "backfill deployments from this block before following new ones")
	return cmd
}

func (a *app) watch(ctx context.Context, fromBlock int64) error {
	st, err := openStores(ctx, a.cfg.Storage, a.log)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := observability.DefaultMetrics
	client := ethrpc.NewClient(a.cfg.RPC.HTTPEndpoint,
		ethrpc.WithTimeout(a.cfg.RPC.Timeout),
		ethrpc.WithMaxRetries(a.cfg.RPC.Retries),
		ethrpc.WithLogger(a.log),
		ethrpc.WithMetrics(metrics),
	)
	ws, err := ethrpc.NewWSClient(ctx, a.cfg.RPC.WSEndpoint, nil,
		ethrpc.WithWSLogger(a.log),
		ethrpc.WithWSMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer ws.Close()

	w := ethrpc.NewWatcher(ethrpc.WatcherOptions{
		Subscriber: ws,
		Factory:    ethrpc.NewFactoryClient(client, a.cfg.RPC.FactoryAddress()),
		Store:      st.deployments,
		Logger:     a.log,
		Metrics:    metrics,
	})

	if fromBlock >= 0 {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		n, err := w.Backfill(ctx, uint64(fromBlock), head)
		if err != nil {
			return err
		}
		a.log.Info("backfilled deployments", zap.Int("stored", n), zap.Uint64("head", head))
	}

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
