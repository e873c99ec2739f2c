package escrowstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreInsertOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := Record{
		EscrowID:         42,
		ChainID:          31337,
		DepositorAddress: "0xaaa",
		RecipientAddress: "0xbbb",
		Amount:           "50000000000000000000",
		Status:           StatusPending,
		CreateTxHash:     "0xabc",
		AcceptDeadline:   time.Now().Add(24 * time.Hour),
	}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := rec
	dup.CreateTxHash = "0xother"
	if err := store.Insert(ctx, dup); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	got, err := store.ListByDepositor(ctx, "0xaaa", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	if got[0].CreateTxHash != "0xabc" {
		t.Fatalf("duplicate insert overwrote record: %+v", got[0])
	}
}

func TestMemoryStoreListFiltersDepositor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Insert(ctx, Record{EscrowID: 1, ChainID: 1, DepositorAddress: "0xaaa"})
	_ = store.Insert(ctx, Record{EscrowID: 2, ChainID: 1, DepositorAddress: "0xccc"})

	got, err := store.ListByDepositor(ctx, "0xccc", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].EscrowID != 2 {
		t.Fatalf("unexpected records: %+v", got)
	}
}
