package receipts

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapcore/internal/tradefsm"
)

func testStores(t *testing.T) map[string]Store {
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "receipts.ndjson"))
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			snap := tradefsm.Initial("trade-1")
			snap.State = tradefsm.StateTerms
			require.NoError(t, store.UpsertTrade("trade-1", Patch{Snapshot: snap}))

			got, events, err := store.Get("trade-1")
			require.NoError(t, err)
			require.Empty(t, events)
			require.Equal(t, tradefsm.StateTerms, got.State)
		})
	}
}

func TestPartialPatchMergesWithoutClobberingSnapshot(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			snap := tradefsm.Initial("trade-2")
			snap.State = tradefsm.StateEscrow
			require.NoError(t, store.UpsertTrade("trade-2", Patch{Snapshot: snap}))

			lastErr := "claim retry pending"
			require.NoError(t, store.UpsertTrade("trade-2", Patch{LastError: &lastErr}))

			got, _, err := store.Get("trade-2")
			require.NoError(t, err)
			require.Equal(t, tradefsm.StateEscrow, got.State)
			require.Equal(t, lastErr, got.LastError)
		})
	}
}

func TestAppendEventAccumulates(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.AppendEvent("trade-3", "escrow_submitted", map[string]interface{}{"tx_sig": "abc"}))
			require.NoError(t, store.AppendEvent("trade-3", "ln_paid", map[string]interface{}{"preimage": "deadbeef"}))

			_, events, err := store.Get("trade-3")
			require.NoError(t, err)
			require.Len(t, events, 2)
			require.Equal(t, "escrow_submitted", events[0].Kind)
			require.Equal(t, "ln_paid", events[1].Kind)
		})
	}
}

func TestListByStateFiltersCorrectly(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			a := tradefsm.Initial("trade-a")
			a.State = tradefsm.StateEscrow
			b := tradefsm.Initial("trade-b")
			b.State = tradefsm.StateClaimed
			c := tradefsm.Initial("trade-c")
			c.State = tradefsm.StateEscrow

			require.NoError(t, store.UpsertTrade("trade-a", Patch{Snapshot: a}))
			require.NoError(t, store.UpsertTrade("trade-b", Patch{Snapshot: b}))
			require.NoError(t, store.UpsertTrade("trade-c", Patch{Snapshot: c}))

			escrowed, err := store.ListByState(tradefsm.StateEscrow)
			require.NoError(t, err)
			require.Len(t, escrowed, 2)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.ndjson")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	snap := tradefsm.Initial("trade-durable")
	snap.State = tradefsm.StateInvoice
	require.NoError(t, store.UpsertTrade("trade-durable", Patch{Snapshot: snap}))
	require.NoError(t, store.AppendEvent("trade-durable", "invoice_created", map[string]interface{}{"bolt11": "lnbc1..."}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	got, events, err := reopened.Get("trade-durable")
	require.NoError(t, err)
	require.Equal(t, tradefsm.StateInvoice, got.State)
	require.Len(t, events, 1)
}

func TestRedactStripsSensitiveFields(t *testing.T) {
	payload := map[string]interface{}{
		"tx_sig":      "abc123",
		"preimage":    "deadbeef",
		"signing_key": "should-not-leak",
	}
	redacted := Redact(payload)
	require.Equal(t, "abc123", redacted["tx_sig"])
	require.Equal(t, "[redacted]", redacted["preimage"])
	require.Equal(t, "[redacted]", redacted["signing_key"])
}
