package receipts

import (
	"fmt"
	"sync"
	"time"

	"github.com/intercomswap/swapcore/internal/tradefsm"
)

type record struct {
	snapshot *tradefsm.TradeState
	events   []Event
}

// MemoryStore is an in-memory Store, grounded on
// src/chainadapter/storage/memory.go's RWMutex-guarded map with
// deep-copy-on-read/write discipline. Suitable for tests and for an
// ephemeral single-process deployment that accepts losing receipts on
// crash.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*record)}
}

func (m *MemoryStore) UpsertTrade(tradeID string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[tradeID]
	if !ok {
		rec = &record{snapshot: tradefsm.Initial(tradeID)}
		m.records[tradeID] = rec
	}

	if patch.Snapshot != nil {
		rec.snapshot = patch.Snapshot.Clone()
	}
	if patch.LastError != nil {
		rec.snapshot.LastError = *patch.LastError
	}
	if patch.LNPaid != nil {
		rec.snapshot.LNPaid = *patch.LNPaid
	}
	if patch.ClaimTxSig != nil {
		rec.snapshot.ClaimTxSig = *patch.ClaimTxSig
	}
	if patch.RefundTxSig != nil {
		rec.snapshot.RefundTxSig = *patch.RefundTxSig
	}
	return nil
}

func (m *MemoryStore) AppendEvent(tradeID, kind string, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[tradeID]
	if !ok {
		rec = &record{snapshot: tradefsm.Initial(tradeID)}
		m.records[tradeID] = rec
	}
	rec.events = append(rec.events, Event{
		TradeID:   tradeID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	return nil
}

func (m *MemoryStore) Get(tradeID string) (*tradefsm.TradeState, []Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[tradeID]
	if !ok {
		return nil, nil, fmt.Errorf("receipts: no record for trade %q", tradeID)
	}
	eventsCopy := make([]Event, len(rec.events))
	copy(eventsCopy, rec.events)
	return rec.snapshot.Clone(), eventsCopy, nil
}

func (m *MemoryStore) ListByState(state tradefsm.State) ([]*tradefsm.TradeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*tradefsm.TradeState
	for _, rec := range m.records {
		if rec.snapshot.State == state {
			out = append(out, rec.snapshot.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
