package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vault-factory-lab/internal/config"
	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/storage"
	chstore "vault-factory-lab/internal/storage/clickhouse"
	"vault-factory-lab/internal/storage/memory"
	"vault-factory-lab/internal/storage/migrations"
	pgstore "vault-factory-lab/internal/storage/postgres"
)

// stores are the backends selected by [storage].
type stores struct {
	deployments storage.DeploymentStore
	harvests    storage.HarvestStore
	closers     []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects and migrates the configured backends. With a
// ClickHouse DSN, harvest outcomes go to ClickHouse whatever the backend.
func openStores(ctx context.Context, cfg config.StorageConfig, log *logging.Logger) (*stores, error) {
	s := &stores{}

	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		log.Info("postgres ready", zap.Strings("applied", applied))

		s.deployments = pgstore.NewDeploymentStore(pool)
		s.harvests = pgstore.NewHarvestStore(pool)
	default:
		s.deployments = memory.NewDeploymentStore()
		s.harvests = memory.NewHarvestStore()
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		s.closers = append(s.closers, func() { conn.Close() })
		s.harvests = chstore.NewHarvestStore(conn)
		log.Info("clickhouse ready, harvest outcomes stored there")
	}

	log.Info("stores opened", zap.String("backend", cfg.Backend))
	return s, nil
}
