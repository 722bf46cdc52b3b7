package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
)

// HarvestStore is an in-memory implementation of storage.HarvestStore.
type HarvestStore struct {
	mu   sync.RWMutex
	data map[string]*domain.HarvestOutcome // keyed by outcome_id
}

// NewHarvestStore creates a new in-memory harvest store.
func NewHarvestStore() *HarvestStore {
	return &HarvestStore{
		data: make(map[string]*domain.HarvestOutcome),
	}
}

// Insert adds a new outcome. Returns ErrDuplicateKey if outcome_id exists.
func (s *HarvestStore) Insert(ctx context.Context, o *domain.HarvestOutcome) error {
	return s.InsertBulk(ctx, []*domain.HarvestOutcome{o})
}

// InsertBulk adds multiple outcomes atomically. Fails entire batch on any duplicate.
func (s *HarvestStore) InsertBulk(_ context.Context, outcomes []*domain.HarvestOutcome) error {
	for _, o := range outcomes {
		if err := storage.ValidateHarvest(o); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		if _, exists := s.data[o.OutcomeID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := seen[o.OutcomeID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[o.OutcomeID] = struct{}{}
	}

	for _, o := range outcomes {
		s.data[o.OutcomeID] = copyHarvest(o)
	}
	return nil
}

// GetByStrategy retrieves all outcomes for a strategy, ordered by block ASC.
func (s *HarvestStore) GetByStrategy(_ context.Context, strategy common.Address) ([]*domain.HarvestOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.HarvestOutcome
	for _, o := range s.data {
		if o.Strategy == strategy {
			result = append(result, copyHarvest(o))
		}
	}
	sortHarvests(result)
	return result, nil
}

// List retrieves all outcomes, ordered by block ASC then outcome_id.
func (s *HarvestStore) List(_ context.Context) ([]*domain.HarvestOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.HarvestOutcome, 0, len(s.data))
	for _, o := range s.data {
		result = append(result, copyHarvest(o))
	}
	sortHarvests(result)
	return result, nil
}

func sortHarvests(outs []*domain.HarvestOutcome) {
	sort.Slice(outs, func(i, j int) bool {
		if outs[i].Block != outs[j].Block {
			return outs[i].Block < outs[j].Block
		}
		return outs[i].OutcomeID < outs[j].OutcomeID
	})
}

func copyHarvest(o *domain.HarvestOutcome) *domain.HarvestOutcome {
	c := *o
	c.Profit = cloneAmount(o.Profit)
	c.Loss = cloneAmount(o.Loss)
	c.DebtPayment = cloneAmount(o.DebtPayment)
	c.DebtOutstanding = cloneAmount(o.DebtOutstanding)
	c.Donated = cloneAmount(o.Donated)
	return &c
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}

// Verify interface compliance at compile time.
var _ storage.HarvestStore = (*HarvestStore)(nil)
