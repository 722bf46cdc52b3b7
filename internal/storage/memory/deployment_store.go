package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
)

// DeploymentStore is an in-memory implementation of storage.DeploymentStore.
type DeploymentStore struct {
	mu      sync.RWMutex
	data    map[string]*domain.DeploymentRecord // keyed by deployment_id
	byVault map[common.Address]string
}

// NewDeploymentStore creates a new in-memory deployment store.
func NewDeploymentStore() *DeploymentStore {
	return &DeploymentStore{
		data:    make(map[string]*domain.DeploymentRecord),
		byVault: make(map[common.Address]string),
	}
}

// Insert adds a new deployment. Returns ErrDuplicateKey if deployment_id or vault exists.
func (s *DeploymentStore) Insert(_ context.Context, r *domain.DeploymentRecord) error {
	if err := storage.ValidateDeployment(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.DeploymentID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byVault[r.Vault]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.DeploymentID] = copyDeployment(r)
	s.byVault[r.Vault] = r.DeploymentID
	return nil
}

// GetByVault retrieves the deployment that created vault. Returns ErrNotFound if not exists.
func (s *DeploymentStore) GetByVault(_ context.Context, vault common.Address) (*domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byVault[vault]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyDeployment(s.data[id]), nil
}

// GetByGauge retrieves all deployments for a gauge, ordered by block ASC.
func (s *DeploymentStore) GetByGauge(_ context.Context, gauge common.Address) ([]*domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DeploymentRecord
	for _, r := range s.data {
		if r.Gauge == gauge {
			result = append(result, copyDeployment(r))
		}
	}
	sortDeployments(result)
	return result, nil
}

// List retrieves all deployments, ordered by block ASC then deployment_id.
func (s *DeploymentStore) List(_ context.Context) ([]*domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.DeploymentRecord, 0, len(s.data))
	for _, r := range s.data {
		result = append(result, copyDeployment(r))
	}
	sortDeployments(result)
	return result, nil
}

func sortDeployments(rs []*domain.DeploymentRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Block != rs[j].Block {
			return rs[i].Block < rs[j].Block
		}
		return rs[i].DeploymentID < rs[j].DeploymentID
	})
}

func copyDeployment(r *domain.DeploymentRecord) *domain.DeploymentRecord {
	c := *r
	if r.Pid != nil {
		pid := *r.Pid
		c.Pid = &pid
	}
	return &c
}

// Verify interface compliance at compile time.
var _ storage.DeploymentStore = (*DeploymentStore)(nil)
