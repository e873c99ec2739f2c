package booking

import (
	"testing"
	"time"
)

func TestBuildFreeReceipt(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	slot := testSlot(0)
	sel := Selection{Slot: &slot, Date: "2026-09-02", Time: "14:00"}

	r := BuildFreeReceipt(sel, Recipient{ID: "p1", Name: "Ada"}, "abc", now)

	if r.ID != "FREE-abc" || r.Price != 0 {
		t.Fatalf("receipt: %+v", r)
	}
	if r.EscrowID != nil || r.TxHash != "" || r.DepositorAddress != "" {
		t.Fatalf("free receipt carries escrow fields: %+v", r)
	}
	if !r.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("expires at = %s", r.ExpiresAt)
	}
}

func TestBuildPaidReceipt(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	slot := testSlot(50)
	sel := Selection{Slot: &slot, Date: "2026-09-02", Time: "14:00"}

	r := BuildPaidReceipt(sel, Recipient{ID: "p1", Name: "Ada"}, ChainConfirmation{
		EscrowID:         42,
		TxHash:           "0xabc",
		DepositorAddress: "0x1111",
		RecipientAddress: "0x2222",
	}, now)

	if r.ID != "ESC-42" || r.EscrowID == nil || *r.EscrowID != 42 {
		t.Fatalf("receipt: %+v", r)
	}
	if r.TxHash != "0xabc" || r.Price != 50 {
		t.Fatalf("receipt: %+v", r)
	}
	if r.PersonName != "Ada" || r.Date != "2026-09-02" || r.Time != "14:00" {
		t.Fatalf("receipt: %+v", r)
	}
	if !r.ExpiresAt.Equal(now.Add(ReceiptTTL)) {
		t.Fatalf("expires at = %s", r.ExpiresAt)
	}
}
