package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
)

var strategyA = common.HexToAddress("0xa1")

func outcome(id string, strategy common.Address, block uint64, profit uint64) *domain.HarvestOutcome {
	return &domain.HarvestOutcome{
		OutcomeID:       id,
		Strategy:        strategy,
		Kind:            "convex",
		Block:           block,
		Profit:          uint256.NewInt(profit),
		Loss:            uint256.NewInt(0),
		DebtPayment:     uint256.NewInt(0),
		DebtOutstanding: uint256.NewInt(0),
	}
}

func TestHarvestStore_InsertAndGet(t *testing.T) {
	store := NewHarvestStore()
	ctx := context.Background()

	for _, o := range []*domain.HarvestOutcome{
		outcome("h3", strategyA, 30, 3),
		outcome("h1", strategyA, 10, 1),
		outcome("x", common.HexToAddress("0xb2"), 20, 9),
	} {
		if err := store.Insert(ctx, o); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByStrategy(ctx, strategyA)
	if err != nil {
		t.Fatalf("GetByStrategy failed: %v", err)
	}
	if len(got) != 2 || got[0].OutcomeID != "h1" || got[1].OutcomeID != "h3" {
		t.Fatalf("unexpected outcomes: %+v", got)
	}
	if got[1].Profit.Uint64() != 3 {
		t.Errorf("Profit mismatch: got %s, want 3", got[1].Profit.Dec())
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[1].OutcomeID != "x" {
		t.Errorf("unexpected list order")
	}
}

func TestHarvestStore_InsertBulkAtomic(t *testing.T) {
	store := NewHarvestStore()
	ctx := context.Background()

	if err := store.Insert(ctx, outcome("h1", strategyA, 10, 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.HarvestOutcome{
		outcome("h2", strategyA, 20, 2),
		outcome("h1", strategyA, 10, 1),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	err = store.InsertBulk(ctx, []*domain.HarvestOutcome{
		outcome("h3", strategyA, 30, 3),
		outcome("h3", strategyA, 30, 3),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("intra-batch: expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByStrategy(ctx, strategyA)
	if len(got) != 1 {
		t.Errorf("failed batches must not persist anything, got %d outcomes", len(got))
	}
}

func TestHarvestStore_CopyOnRead(t *testing.T) {
	store := NewHarvestStore()
	ctx := context.Background()

	o := outcome("h1", strategyA, 10, 1)
	o.Donated = uint256.NewInt(5)
	if err := store.Insert(ctx, o); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	o.Profit.SetUint64(100)

	got, _ := store.GetByStrategy(ctx, strategyA)
	got[0].Donated.SetUint64(0)

	again, _ := store.GetByStrategy(ctx, strategyA)
	if again[0].Profit.Uint64() != 1 || again[0].Donated.Uint64() != 5 {
		t.Errorf("stored outcome was mutated: profit %s donated %s", again[0].Profit.Dec(), again[0].Donated.Dec())
	}
}
