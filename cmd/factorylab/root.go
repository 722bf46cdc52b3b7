package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vault-factory-lab/internal/config"
	"vault-factory-lab/internal/logging"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	configPath string
	cfg        config.Config
	log        *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "factorylab",
		Short:         "Deploy, harvest and audit automated Curve/Convex vaults",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.NewLoggerFromEnv(cfg.Log.Env)
			if cfg.Log.Level != "" {
				level, err := logging.ParseLevel(cfg.Log.Level)
				if err != nil {
					return fmt.Errorf("log level: %w", err)
				}
				a.log.SetLevel(level)
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				a.log.AtExit()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a TOML config file")

	root.AddCommand(
		newSimulateCmd(a),
		newServeCmd(a),
		newViewsCmd(a),
		newWatchCmd(a),
	)

	root.SetOut(os.Stdout)
	return root
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
