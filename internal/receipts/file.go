package receipts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/intercomswap/swapcore/internal/tradefsm"
)

// logLine is one NDJSON record: either a full trade snapshot (an upsert)
// or an append-only event. Grounded on
// internal/services/audit/logger.go's AuditLogEntry/NDJSON shape,
// generalized from a single wallet-operation record to the two record
// kinds this store needs.
type logLine struct {
	Type    string               `json:"type"` // "trade" | "event"
	TradeID string               `json:"trade_id"`
	Trade   *tradefsm.TradeState `json:"trade,omitempty"`
	Event   *Event               `json:"event,omitempty"`
}

// FileStore is a durable append-only NDJSON Store, grounded on
// internal/services/audit/logger.go: O_APPEND|O_WRONLY, file.Sync() before
// returning from any write. State is rebuilt in memory by replaying the
// log at startup; every write appends a new line rather than rewriting
// history, so the file is a complete audit trail as well as a snapshot
// source.
//
// Replay recovers every exported TradeState field, but not the
// FSM-internal per-slot replay-hash bookkeeping (tradefsm.TradeState's
// `applied` map is unexported and encoding/json silently skips it) — a
// restarted engine re-derives idempotency from the next envelope it
// observes rather than from stored hashes — crash recovery resumes from
// chain state, not from the transport.
type FileStore struct {
	filePath string
	mu       sync.Mutex
	records  map[string]*record
}

// NewFileStore opens (creating if absent) the NDJSON file at filePath and
// replays it to rebuild the in-memory index.
func NewFileStore(filePath string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("receipts: create store directory: %w", err)
	}

	fs := &FileStore{filePath: filePath, records: make(map[string]*record)}
	if err := fs.replay(); err != nil {
		return nil, fmt.Errorf("receipts: replay log: %w", err)
	}
	return fs, nil
}

func (fs *FileStore) replay() error {
	file, err := os.OpenFile(fs.filePath, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ll logLine
		if err := json.Unmarshal(line, &ll); err != nil {
			continue // skip malformed lines, same tolerance as AuditLogger.ReadLog
		}
		rec, ok := fs.records[ll.TradeID]
		if !ok {
			rec = &record{snapshot: tradefsm.Initial(ll.TradeID)}
			fs.records[ll.TradeID] = rec
		}
		switch ll.Type {
		case "trade":
			if ll.Trade != nil {
				rec.snapshot = ll.Trade
			}
		case "event":
			if ll.Event != nil {
				rec.events = append(rec.events, *ll.Event)
			}
		}
	}
	return scanner.Err()
}

func (fs *FileStore) appendLine(ll logLine) error {
	file, err := os.OpenFile(fs.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("receipts: open store: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(ll)
	if err != nil {
		return fmt.Errorf("receipts: marshal record: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("receipts: write record: %w", err)
	}
	// Durability before return: the caller (e.g. the maker engine
	// persisting an escrow tx sig) must be able to broadcast the
	// dependent envelope only after this returns.
	return file.Sync()
}

func (fs *FileStore) UpsertTrade(tradeID string, patch Patch) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.records[tradeID]
	if !ok {
		rec = &record{snapshot: tradefsm.Initial(tradeID)}
		fs.records[tradeID] = rec
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

	return fs.appendLine(logLine{Type: "trade", TradeID: tradeID, Trade: rec.snapshot.Clone()})
}

func (fs *FileStore) AppendEvent(tradeID, kind string, payload map[string]interface{}) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.records[tradeID]
	if !ok {
		rec = &record{snapshot: tradefsm.Initial(tradeID)}
		fs.records[tradeID] = rec
	}
	event := Event{TradeID: tradeID, Kind: kind, Payload: payload, Timestamp: time.Now()}
	rec.events = append(rec.events, event)

	return fs.appendLine(logLine{Type: "event", TradeID: tradeID, Event: &event})
}

func (fs *FileStore) Get(tradeID string) (*tradefsm.TradeState, []Event, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.records[tradeID]
	if !ok {
		return nil, nil, fmt.Errorf("receipts: no record for trade %q", tradeID)
	}
	eventsCopy := make([]Event, len(rec.events))
	copy(eventsCopy, rec.events)
	return rec.snapshot.Clone(), eventsCopy, nil
}

func (fs *FileStore) ListByState(state tradefsm.State) ([]*tradefsm.TradeState, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []*tradefsm.TradeState
	for _, rec := range fs.records {
		if rec.snapshot.State == state {
			out = append(out, rec.snapshot.Clone())
		}
	}
	return out, nil
}

func (fs *FileStore) Close() error {
	return nil
}
