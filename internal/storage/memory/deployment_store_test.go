package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
)

func deployment(id string, vault, gauge byte, block uint64) *domain.DeploymentRecord {
	pid := uint64(1)
	return &domain.DeploymentRecord{
		DeploymentID: id,
		Factory:      common.HexToAddress("0xfa"),
		Vault:        common.BytesToAddress([]byte{vault}),
		Gauge:        common.BytesToAddress([]byte{gauge}),
		Pid:          &pid,
		Path:         domain.PathStandard,
		Name:         "LP yVault",
		Symbol:       "yvLP",
		Block:        block,
	}
}

func TestDeploymentStore_InsertAndGet(t *testing.T) {
	store := NewDeploymentStore()
	ctx := context.Background()

	r := deployment("d1", 0x01, 0x10, 5)
	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByVault(ctx, r.Vault)
	if err != nil {
		t.Fatalf("GetByVault failed: %v", err)
	}
	if got.DeploymentID != "d1" || got.Symbol != "yvLP" || *got.Pid != 1 {
		t.Errorf("record mismatch: %+v", got)
	}

	_, err = store.GetByVault(ctx, common.HexToAddress("0xdead"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeploymentStore_DuplicateKey(t *testing.T) {
	store := NewDeploymentStore()
	ctx := context.Background()

	if err := store.Insert(ctx, deployment("d1", 0x01, 0x10, 5)); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	if err := store.Insert(ctx, deployment("d1", 0x02, 0x10, 6)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("same id: expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Insert(ctx, deployment("d2", 0x01, 0x10, 6)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("same vault: expected ErrDuplicateKey, got %v", err)
	}
}

func TestDeploymentStore_InvalidInput(t *testing.T) {
	store := NewDeploymentStore()
	r := deployment("", 0x01, 0x10, 5)
	if err := store.Insert(context.Background(), r); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestDeploymentStore_GetByGaugeOrdered(t *testing.T) {
	store := NewDeploymentStore()
	ctx := context.Background()

	for _, r := range []*domain.DeploymentRecord{
		deployment("c", 0x03, 0x10, 9),
		deployment("a", 0x01, 0x10, 4),
		deployment("b", 0x02, 0x20, 6),
	} {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByGauge(ctx, common.BytesToAddress([]byte{0x10}))
	if err != nil {
		t.Fatalf("GetByGauge failed: %v", err)
	}
	if len(got) != 2 || got[0].DeploymentID != "a" || got[1].DeploymentID != "c" {
		t.Errorf("unexpected order: %v", ids(got))
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].DeploymentID != "a" || all[1].DeploymentID != "b" || all[2].DeploymentID != "c" {
		t.Errorf("unexpected order: %v", ids(all))
	}
}

func TestDeploymentStore_CopyOnRead(t *testing.T) {
	store := NewDeploymentStore()
	ctx := context.Background()

	r := deployment("d1", 0x01, 0x10, 5)
	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	*r.Pid = 42

	got, _ := store.GetByVault(ctx, r.Vault)
	*got.Pid = 7
	got.Name = "mutated"

	again, _ := store.GetByVault(ctx, r.Vault)
	if *again.Pid != 1 || again.Name != "LP yVault" {
		t.Errorf("stored record was mutated: %+v", again)
	}
}

func ids(rs []*domain.DeploymentRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.DeploymentID
	}
	return out
}
