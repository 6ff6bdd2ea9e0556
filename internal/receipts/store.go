// Package receipts implements the C7 durable per-trade record store: a
// write-through upsert/append-event/get/query contract with two
// implementations, an in-memory store for tests and a durable NDJSON store
// for production use.
package receipts

import (
	"time"

	"github.com/intercomswap/swapcore/internal/tradefsm"
)

// Event is one append-only log line for a trade — an audit trail of
// engine-internal milestones (escrow submit, LN pay, etc), independent of
// the current TradeState snapshot. Applied envelopes are reflected in that
// snapshot through UpsertTrade, not logged as events one by one.
type Event struct {
	TradeID   string                 `json:"trade_id"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Patch merges into an existing trade record's mutable fields, or creates
// one if absent. Fields left nil are not modified; Snapshot, when set,
// replaces the whole record (the common case, since tradefsm.Apply already
// returns a full new TradeState). The finer-grained fields exist for
// engine-internal bookkeeping that doesn't flow through a state transition,
// e.g. recording LastError after a failed escrow submit that the state
// machine itself never sees.
type Patch struct {
	Snapshot    *tradefsm.TradeState
	LastError   *string
	LNPaid      *bool
	ClaimTxSig  *string
	RefundTxSig *string
}

// Store is the C7 contract: durable per-trade record with an append-only
// event log, plus a filtered query by state for the hygiene loop (C10).
type Store interface {
	UpsertTrade(tradeID string, patch Patch) error
	AppendEvent(tradeID, kind string, payload map[string]interface{}) error
	Get(tradeID string) (*tradefsm.TradeState, []Event, error)
	ListByState(state tradefsm.State) ([]*tradefsm.TradeState, error)
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

// sensitiveEventFields are stripped by Redact before any telemetry export:
// preimages, signing keys, and invite payloads must never leave the process
// unredacted.
var sensitiveEventFields = []string{"preimage", "signing_key", "private_key", "invite", "sk"}

// Redact returns a copy of payload with sensitive keys replaced by a
// fixed marker, safe to forward to a telemetry sink.
func Redact(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		redacted := false
		for _, s := range sensitiveEventFields {
			if k == s {
				redacted = true
				break
			}
		}
		if redacted {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}
