// Package tradefsm implements the per-trade state machine (C3): a total
// function from (state, envelope) to either a new state or a classified
// rejection, converging two peers despite message loss, duplication and
// reordering.
package tradefsm

import (
	"encoding/json"

	"github.com/intercomswap/swapcore/internal/protocol"
)

// State is one of the closed set a trade moves through.
type State string

const (
	StateNew      State = "NEW"
	StateTerms    State = "TERMS"
	StateAccepted State = "ACCEPTED"
	StateInvoice  State = "INVOICE"
	StateEscrow   State = "ESCROW"
	StateClaimed  State = "CLAIMED"
	StateRefunded State = "REFUNDED"
	StateCanceled State = "CANCELED"
)

// terminal reports whether no further transitions are permitted from s.
func (s State) terminal() bool {
	switch s {
	case StateClaimed, StateRefunded, StateCanceled:
		return true
	default:
		return false
	}
}

// InvoiceSnapshot is the frozen ln_invoice record.
type InvoiceSnapshot struct {
	Bolt11         string
	PaymentHashHex string
	AmountMsat     int64
	ExpiresAtUnix  int64
}

// EscrowSnapshot is the frozen sol_escrow record.
type EscrowSnapshot struct {
	ProgramID       string
	EscrowPDA       string
	VaultATA        string
	Mint            string
	Amount          string
	RefundAfterUnix int64
	Recipient       string
	Refund          string
	TxSig           string
	PaymentHashHex  string
}

// TradeState is the per-trade_id record C3 owns. Once constructed by
// Initial, it is only ever advanced through Apply — callers must treat the
// value returned by Apply as the new record of truth and discard the old
// one, matching the "own per-trade task" cooperative scheduling model.
type TradeState struct {
	TradeID     string
	State       State
	Terms       *protocol.TermsBody
	TermsHash   string
	Invoice     *InvoiceSnapshot
	Escrow      *EscrowSnapshot
	LNPaid      bool
	ClaimTxSig  string
	RefundTxSig string
	LastError   string

	applied map[string]string // slot -> hex hash of the envelope last applied to that slot
}

// Initial returns the NEW state for a freshly observed trade_id.
func Initial(tradeID string) *TradeState {
	return &TradeState{
		TradeID: tradeID,
		State:   StateNew,
		applied: map[string]string{},
	}
}

func (ts *TradeState) clone() *TradeState {
	next := *ts
	next.applied = make(map[string]string, len(ts.applied))
	for k, v := range ts.applied {
		next.applied[k] = v
	}
	return &next
}

// Clone returns a deep copy safe to hand to a store that keeps its own
// snapshot (receipts.Store), mirroring clone()'s discipline for callers
// outside this package.
func (ts *TradeState) Clone() *TradeState {
	if ts == nil {
		return nil
	}
	return ts.clone()
}

// hashUnsigned computes the envelope's canonical hash, stripping signer/sig
// first since those are excluded from the canonical encoding anyway but
// this keeps the intent explicit at call sites.
func hashUnsigned(e *protocol.Envelope) (string, *protocol.SwapError) {
	unsigned := *e
	unsigned.Signer = ""
	unsigned.Sig = ""
	h, err := protocol.HashHex(&unsigned)
	if err != nil {
		return "", protocol.NewSwapError(protocol.ErrInternal, "hash envelope", protocol.Terminal, err)
	}
	return h, nil
}

// replayOutcome looks up whether `slot` was already applied. noop=true means
// "same envelope seen again, do nothing." conflict=true means a different
// envelope landed on an already-filled slot: conflicting_replay. Both false
// means the slot is still empty.
func (ts *TradeState) replayOutcome(slot, hash string) (noop bool, conflict bool) {
	prior, ok := ts.applied[slot]
	if !ok {
		return false, false
	}
	if prior == hash {
		return true, false
	}
	return false, true
}

// Apply applies envelope e to state ts, following the state machine's
// transition table. It never mutates ts; on success it returns a new
// *TradeState reflecting the transition (or the same contents, for a
// no-op replay).
func Apply(ts *TradeState, e *protocol.Envelope) (*TradeState, *protocol.SwapError) {
	hash, herr := hashUnsigned(e)
	if herr != nil {
		return ts, herr
	}

	switch e.Kind {
	case protocol.KindTerms:
		return applyTerms(ts, e, hash)
	case protocol.KindAccept:
		return applyAccept(ts, e, hash)
	case protocol.KindLNInvoice:
		return applyLNInvoice(ts, e, hash)
	case protocol.KindSolEscrowCreated:
		return applySolEscrowCreated(ts, e, hash)
	case protocol.KindStatus:
		return applyStatus(ts, e, hash)
	case protocol.KindCancel:
		return applyCancel(ts, hash)
	default:
		return ts, protocol.LocalDropf(protocol.ErrWrongState, "envelope kind %q is not a trade-state transition", e.Kind)
	}
}

func applyTerms(ts *TradeState, e *protocol.Envelope, hash string) (*TradeState, *protocol.SwapError) {
	if ts.State == StateNew {
		var body protocol.TermsBody
		if err := json.Unmarshal(e.Body, &body); err != nil {
			return ts, protocol.LocalDropf(protocol.ErrSchemaInvalid, "malformed terms body: %v", err)
		}
		next := ts.clone()
		next.State = StateTerms
		next.Terms = &body
		next.TermsHash = hash
		next.applied["TERMS"] = hash
		return next, nil
	}
	if noop, conflict := ts.replayOutcome("TERMS", hash); noop {
		return ts, nil
	} else if conflict {
		return ts, protocol.LocalDropf(protocol.ErrConflictingReplay, "terms already frozen with a different envelope")
	}
	return ts, protocol.LocalDropf(protocol.ErrWrongState, "TERMS not accepted from state %s", ts.State)
}

func applyAccept(ts *TradeState, e *protocol.Envelope, hash string) (*TradeState, *protocol.SwapError) {
	if ts.State == StateTerms {
		var body protocol.AcceptBody
		if err := json.Unmarshal(e.Body, &body); err != nil {
			return ts, protocol.LocalDropf(protocol.ErrSchemaInvalid, "malformed accept body: %v", err)
		}
		if body.TermsHash != ts.TermsHash {
			return ts, protocol.LocalDropf(protocol.ErrSchemaInvalid, "accept.terms_hash does not match frozen terms")
		}
		next := ts.clone()
		next.State = StateAccepted
		next.applied["ACCEPT"] = hash
		return next, nil
	}
	if noop, conflict := ts.replayOutcome("ACCEPT", hash); noop {
		return ts, nil
	} else if conflict {
		return ts, protocol.LocalDropf(protocol.ErrConflictingReplay, "accept already applied with a different envelope")
	}
	return ts, protocol.LocalDropf(protocol.ErrWrongState, "ACCEPT not accepted from state %s", ts.State)
}

func applyLNInvoice(ts *TradeState, e *protocol.Envelope, hash string) (*TradeState, *protocol.SwapError) {
	if ts.State == StateAccepted {
		var body protocol.LNInvoiceBody
		if err := json.Unmarshal(e.Body, &body); err != nil {
			return ts, protocol.LocalDropf(protocol.ErrSchemaInvalid, "malformed ln_invoice body: %v", err)
		}
		next := ts.clone()
		next.State = StateInvoice
		next.Invoice = &InvoiceSnapshot{
			Bolt11:         body.Bolt11,
			PaymentHashHex: body.PaymentHashHex,
			AmountMsat:     body.AmountMsat,
			ExpiresAtUnix:  body.ExpiresAtUnix,
		}
		next.applied["LN_INVOICE"] = hash
		return next, nil
	}
	if noop, conflict := ts.replayOutcome("LN_INVOICE", hash); noop {
		return ts, nil
	} else if conflict {
		return ts, protocol.LocalDropf(protocol.ErrConflictingReplay, "ln_invoice already applied with a different envelope")
	}
	return ts, protocol.LocalDropf(protocol.ErrWrongState, "LN_INVOICE not accepted from state %s", ts.State)
}

func applySolEscrowCreated(ts *TradeState, e *protocol.Envelope, hash string) (*TradeState, *protocol.SwapError) {
	if ts.State == StateInvoice {
		var body protocol.SolEscrowCreatedBody
		if err := json.Unmarshal(e.Body, &body); err != nil {
			return ts, protocol.LocalDropf(protocol.ErrSchemaInvalid, "malformed sol_escrow_created body: %v", err)
		}
		if ts.Invoice == nil || body.PaymentHashHex != ts.Invoice.PaymentHashHex {
			return ts, protocol.LocalDropf(protocol.ErrEscrowMismatch, "escrow payment_hash does not match the recorded invoice")
		}
		if ts.Terms == nil || body.Amount != ts.Terms.USDTAmount {
			return ts, protocol.LocalDropf(protocol.ErrEscrowMismatch, "escrow amount does not match agreed terms")
		}
		next := ts.clone()
		next.State = StateEscrow
		next.Escrow = &EscrowSnapshot{
			ProgramID:       body.ProgramID,
			EscrowPDA:       body.EscrowPDA,
			VaultATA:        body.VaultATA,
			Mint:            body.Mint,
			Amount:          body.Amount,
			RefundAfterUnix: body.RefundAfterUnix,
			Recipient:       body.Recipient,
			Refund:          body.Refund,
			TxSig:           body.TxSig,
			PaymentHashHex:  body.PaymentHashHex,
		}
		next.applied["SOL_ESCROW_CREATED"] = hash
		return next, nil
	}
	if noop, conflict := ts.replayOutcome("SOL_ESCROW_CREATED", hash); noop {
		return ts, nil
	} else if conflict {
		return ts, protocol.LocalDropf(protocol.ErrConflictingReplay, "sol_escrow_created already applied with a different envelope")
	}
	return ts, protocol.LocalDropf(protocol.ErrWrongState, "SOL_ESCROW_CREATED not accepted from state %s", ts.State)
}

func applyStatus(ts *TradeState, e *protocol.Envelope, hash string) (*TradeState, *protocol.SwapError) {
	var body protocol.StatusBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ts, protocol.LocalDropf(protocol.ErrSchemaInvalid, "malformed status body: %v", err)
	}

	switch {
	case body.Claimed:
		if ts.State == StateEscrow {
			next := ts.clone()
			next.State = StateClaimed
			next.ClaimTxSig = body.TxSig
			next.applied["STATUS_CLAIMED"] = hash
			return next, nil
		}
		if noop, conflict := ts.replayOutcome("STATUS_CLAIMED", hash); noop {
			return ts, nil
		} else if conflict {
			return ts, protocol.LocalDropf(protocol.ErrConflictingReplay, "claim status already applied with a different envelope")
		}
		return ts, protocol.LocalDropf(protocol.ErrWrongState, "STATUS{claimed} not accepted from state %s", ts.State)

	case body.Refunded:
		if ts.State == StateEscrow {
			next := ts.clone()
			next.State = StateRefunded
			next.RefundTxSig = body.TxSig
			next.applied["STATUS_REFUNDED"] = hash
			return next, nil
		}
		if noop, conflict := ts.replayOutcome("STATUS_REFUNDED", hash); noop {
			return ts, nil
		} else if conflict {
			return ts, protocol.LocalDropf(protocol.ErrConflictingReplay, "refund status already applied with a different envelope")
		}
		return ts, protocol.LocalDropf(protocol.ErrWrongState, "STATUS{refunded} not accepted from state %s", ts.State)

	case body.LNPaid:
		if ts.State == StateEscrow {
			next := ts.clone()
			next.LNPaid = true
			next.applied["STATUS_LN_PAID"] = hash
			return next, nil
		}
		if noop, conflict := ts.replayOutcome("STATUS_LN_PAID", hash); noop {
			return ts, nil
		} else if conflict {
			return ts, protocol.LocalDropf(protocol.ErrConflictingReplay, "ln_paid status already applied with a different envelope")
		}
		return ts, protocol.LocalDropf(protocol.ErrWrongState, "STATUS{ln_paid} not accepted from state %s", ts.State)

	default:
		return ts, protocol.LocalDropf(protocol.ErrSchemaInvalid, "status body carries no recognized flag")
	}
}

func applyCancel(ts *TradeState, hash string) (*TradeState, *protocol.SwapError) {
	switch ts.State {
	case StateNew, StateTerms, StateAccepted:
		next := ts.clone()
		next.State = StateCanceled
		next.applied["CANCEL"] = hash
		return next, nil
	case StateCanceled:
		if noop, conflict := ts.replayOutcome("CANCEL", hash); noop {
			return ts, nil
		} else if conflict {
			return ts, protocol.LocalDropf(protocol.ErrConflictingReplay, "cancel already applied with a different envelope")
		}
		return ts, protocol.LocalDropf(protocol.ErrWrongState, "unreachable")
	default:
		// ESCROW, CLAIMED, REFUNDED: CANCEL is pre-escrow-only (Open
		// Question (a), pinned). Never silently accepted post-escrow.
		return ts, protocol.LocalDropf(protocol.ErrWrongState, "CANCEL not accepted once escrow is visible (state %s)", ts.State)
	}
}

// IsTerminal reports whether no further transitions are permitted.
func IsTerminal(ts *TradeState) bool {
	return ts.State.terminal()
}
