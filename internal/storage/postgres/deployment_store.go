package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
)

// DeploymentStore implements storage.DeploymentStore using PostgreSQL.
type DeploymentStore struct {
	pool *Pool
}

// NewDeploymentStore creates a new DeploymentStore.
func NewDeploymentStore(pool *Pool) *DeploymentStore {
	return &DeploymentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DeploymentStore = (*DeploymentStore)(nil)

const deploymentColumns = `
	deployment_id, factory, vault, convex_strategy, curve_strategy, gauge, lp_token,
	pid, path, custom, name, symbol, block, block_time
`

// Insert adds a new deployment. Returns ErrDuplicateKey if deployment_id or vault exists.
func (s *DeploymentStore) Insert(ctx context.Context, r *domain.DeploymentRecord) error {
	if err := storage.ValidateDeployment(r); err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var pid *int64
	if r.Pid != nil {
		v := int64(*r.Pid)
		pid = &v
	}

	_, err := s.pool.Exec(ctx, query,
		r.DeploymentID,
		r.Factory.Hex(),
		r.Vault.Hex(),
		r.ConvexStrategy.Hex(),
		r.CurveStrategy.Hex(),
		r.Gauge.Hex(),
		r.LPToken.Hex(),
		pid,
		string(r.Path),
		r.Custom,
		r.Name,
		r.Symbol,
		int64(r.Block),
		r.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// GetByVault retrieves the deployment that created vault. Returns ErrNotFound if not exists.
func (s *DeploymentStore) GetByVault(ctx context.Context, vault common.Address) (*domain.DeploymentRecord, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE vault = $1`

	r, err := scanDeployment(s.pool.QueryRow(ctx, query, vault.Hex()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get deployment by vault: %w", err)
	}
	return r, nil
}

// GetByGauge retrieves all deployments for a gauge, ordered by block ASC.
func (s *DeploymentStore) GetByGauge(ctx context.Context, gauge common.Address) ([]*domain.DeploymentRecord, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE gauge = $1
		ORDER BY block ASC, deployment_id ASC
	`

	rows, err := s.pool.Query(ctx, query, gauge.Hex())
	if err != nil {
		return nil, fmt.Errorf("get deployments by gauge: %w", err)
	}
	defer rows.Close()

	return scanDeployments(rows)
}

// List retrieves all deployments, ordered by block ASC then deployment_id.
func (s *DeploymentStore) List(ctx context.Context) ([]*domain.DeploymentRecord, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		ORDER BY block ASC, deployment_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	return scanDeployments(rows)
}

func scanDeployment(row pgx.Row) (*domain.DeploymentRecord, error) {
	var r domain.DeploymentRecord
	var factory, vault, convex, curve, gauge, lpToken, path string
	var pid *int64
	var block int64
	err := row.Scan(
		&r.DeploymentID,
		&factory,
		&vault,
		&convex,
		&curve,
		&gauge,
		&lpToken,
		&pid,
		&path,
		&r.Custom,
		&r.Name,
		&r.Symbol,
		&block,
		&r.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	r.Factory = common.HexToAddress(factory)
	r.Vault = common.HexToAddress(vault)
	r.ConvexStrategy = common.HexToAddress(convex)
	r.CurveStrategy = common.HexToAddress(curve)
	r.Gauge = common.HexToAddress(gauge)
	r.LPToken = common.HexToAddress(lpToken)
	r.Path = domain.DeploymentPath(path)
	r.Block = uint64(block)
	if pid != nil {
		v := uint64(*pid)
		r.Pid = &v
	}
	return &r, nil
}

func scanDeployments(rows pgx.Rows) ([]*domain.DeploymentRecord, error) {
	var result []*domain.DeploymentRecord
	for rows.Next() {
		r, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return result, nil
}
