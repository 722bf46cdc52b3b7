package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/domain"
)

// DeploymentStore provides access to deployments storage.
type DeploymentStore interface {
	// Insert adds a new deployment. Returns ErrDuplicateKey if deployment_id
	// or vault exists.
	Insert(ctx context.Context, r *domain.DeploymentRecord) error

	// GetByVault retrieves the deployment that created vault. Returns ErrNotFound if not exists.
	GetByVault(ctx context.Context, vault common.Address) (*domain.DeploymentRecord, error)

	// GetByGauge retrieves all deployments for a gauge, ordered by block ASC.
	GetByGauge(ctx context.Context, gauge common.Address) ([]*domain.DeploymentRecord, error)

	// List retrieves all deployments, ordered by block ASC then deployment_id.
	List(ctx context.Context) ([]*domain.DeploymentRecord, error)
}

// HarvestStore provides access to harvest_outcomes storage.
type HarvestStore interface {
	// Insert adds a new outcome. Returns ErrDuplicateKey if outcome_id exists.
	Insert(ctx context.Context, o *domain.HarvestOutcome) error

	// InsertBulk adds multiple outcomes. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, outcomes []*domain.HarvestOutcome) error

	// GetByStrategy retrieves all outcomes for a strategy, ordered by block ASC.
	GetByStrategy(ctx context.Context, strategy common.Address) ([]*domain.HarvestOutcome, error)

	// List retrieves all outcomes, ordered by block ASC then outcome_id.
	List(ctx context.Context) ([]*domain.HarvestOutcome, error)
}
