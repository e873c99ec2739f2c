// Package escrowstore persists application-side records of on-chain
// escrows. Records are written best-effort after deposit confirmation; the
// on-chain escrow is the source of truth.
package escrowstore

import (
	"context"
	"sync"
	"time"
)

// StatusPending is the initial record status; acceptance and refunds are
// settled by the contract, outside this service.
const StatusPending = "pending"

// Record mirrors one created escrow. Addresses are stored lowercased.
type Record struct {
	EscrowID         int64     `json:"escrow_id"`
	ChainID          int64     `json:"chain_id"`
	DepositorAddress string    `json:"depositor_address"`
	RecipientAddress string    `json:"recipient_address"`
	Amount           string    `json:"amount"`
	Status           string    `json:"status"`
	CreateTxHash     string    `json:"create_tx_hash"`
	AcceptDeadline   time.Time `json:"accept_deadline"`
	Description      string    `json:"description"`
}

// Store abstracts escrow record persistence.
type Store interface {
	// Insert writes one record. Re-inserting an (escrow_id, chain_id)
	// pair is a no-op, keeping record creation at-most-once.
	Insert(ctx context.Context, rec Record) error
	ListByDepositor(ctx context.Context, depositor string, limit int) ([]Record, error)
}

type recordKey struct {
	escrowID int64
	chainID  int64
}

// MemoryStore is mostly for testing and keyless local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[recordKey]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[recordKey]Record)}
}

func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{escrowID: rec.EscrowID, chainID: rec.ChainID}
	if _, ok := m.data[key]; ok {
		return nil
	}
	m.data[key] = rec
	return nil
}

func (m *MemoryStore) ListByDepositor(_ context.Context, depositor string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.data {
		if rec.DepositorAddress != depositor {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
