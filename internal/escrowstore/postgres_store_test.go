package escrowstore

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	rec := Record{
		EscrowID:         time.Now().UnixNano(),
		ChainID:          31337,
		DepositorAddress: "0x1111111111111111111111111111111111111111",
		RecipientAddress: "0x2222222222222222222222222222222222222222",
		Amount:           "50000000000000000000",
		Status:           StatusPending,
		CreateTxHash:     "0xabc",
		AcceptDeadline:   time.Now().Add(24 * time.Hour).UTC(),
		Description:      "Strategy Session on 2026-09-01 at 10:00",
	}

	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	got, err := store.ListByDepositor(ctx, rec.DepositorAddress, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, r := range got {
		if r.EscrowID == rec.EscrowID {
			found = true
			if r.Status != StatusPending || r.Amount != rec.Amount {
				t.Fatalf("unexpected record: %+v", r)
			}
		}
	}
	if !found {
		t.Fatalf("inserted record not listed")
	}
}
