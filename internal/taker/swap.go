package taker

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/intercomswap/swapcore/internal/escrow"
	"github.com/intercomswap/swapcore/internal/protocol"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/tradefsm"
	"github.com/intercomswap/swapcore/internal/utils"
)

// HandleSwapChannelEnvelope dispatches an inbound envelope observed on
// swap:{trade_id}, applying it to the trade's state machine and driving the
// resulting side effects.
func (eng *Engine) HandleSwapChannelEnvelope(ctx context.Context, tradeID string, e *protocol.Envelope) error {
	eng.mu.Lock()
	ts, ok := eng.trades[tradeID]
	if !ok {
		ts = tradefsm.Initial(tradeID)
		eng.trades[tradeID] = ts
	}
	eng.mu.Unlock()

	wasTerms := ts.State == tradefsm.StateTerms

	next, serr := tradefsm.Apply(ts, e)
	if serr != nil {
		if protocol.IsLocalDrop(serr) {
			return nil
		}
		return serr
	}

	eng.mu.Lock()
	eng.trades[tradeID] = next
	eng.mu.Unlock()

	if err := eng.store.UpsertTrade(tradeID, receipts.Patch{Snapshot: next}); err != nil {
		return fmt.Errorf("taker: persist trade %s: %w", tradeID, err)
	}

	switch e.Kind {
	case protocol.KindTerms:
		if !wasTerms && next.State == tradefsm.StateTerms {
			eng.clearWaitingTerms(tradeID)
			return eng.onTerms(ctx, tradeID, next)
		}
	case protocol.KindSolEscrowCreated:
		if next.State == tradefsm.StateEscrow {
			return eng.onEscrowCreated(ctx, tradeID, next)
		}
	}
	return nil
}

// onTerms validates the frozen terms against this taker's caps and, if
// acceptable, signs and sends ACCEPT. An out-of-bounds TERMS is never
// ACCEPTed: the taker records a taker_abandoned event, sends a best-effort
// CANCEL on the swap channel and leaves it.
func (eng *Engine) onTerms(ctx context.Context, tradeID string, ts *tradefsm.TradeState) error {
	terms := ts.Terms
	if terms == nil {
		return fmt.Errorf("taker: trade %s reached TERMS state with a nil snapshot", tradeID)
	}

	if terms.AppHash != eng.cfg.AppHash ||
		terms.SolMint != eng.cfg.SolMint ||
		terms.SolRecipient != eng.cfg.SolRecipient ||
		terms.PlatformFeeBps > eng.cfg.MaxPlatformFeeBps ||
		terms.TradeFeeBps > eng.cfg.MaxTradeFeeBps ||
		terms.PlatformFeeBps+terms.TradeFeeBps > eng.cfg.MaxTotalFeeBps {
		return eng.abandon(ctx, tradeID, "terms_out_of_caps")
	}
	refundWindow := terms.SolRefundAfterUnix - time.Now().Unix()
	if refundWindow < eng.cfg.MinSolRefundWindowSec || refundWindow > eng.cfg.MaxSolRefundWindowSec {
		return eng.abandon(ctx, tradeID, "refund_window_out_of_caps")
	}

	// ts.TermsHash was set by tradefsm.applyTerms from the actual received
	// TERMS envelope; ACCEPT must reference exactly that hash.
	acceptBody := protocol.AcceptBody{TermsHash: ts.TermsHash}
	nonce, nerr := utils.GenerateSecureUUID()
	if nerr != nil {
		return fmt.Errorf("taker: generate accept nonce: %w", nerr)
	}
	unsigned, uerr := protocol.Unsigned(protocol.KindAccept, tradeID, time.Now().UnixMilli(), nonce, acceptBody)
	if uerr != nil {
		return fmt.Errorf("taker: build accept: %w", uerr)
	}
	signed, serr := eng.signAndAttach(unsigned)
	if serr != nil {
		return fmt.Errorf("taker: sign accept: %w", serr)
	}

	// The taker applies its own ACCEPT to its trade view before broadcasting
	// it, exactly as an inbound envelope would be applied — otherwise the
	// maker's later LN_INVOICE would find the taker still in TERMS and
	// reject it as wrong_state.
	if _, aerr := eng.applyOwnEnvelope(tradeID, ts, signed); aerr != nil {
		return fmt.Errorf("taker: apply own accept: %w", aerr)
	}

	return eng.transport.Send(ctx, swapChannelFor(tradeID), signed, signed.Nonce)
}

// applyOwnEnvelope applies an envelope this engine itself just signed to its
// own trade view and persists the result, exactly as an inbound envelope
// would be applied. A taker that only ever sends an envelope without
// applying it locally would never observe its own state transition, and
// would reject the maker's replies to it, or never reach a terminal state
// itself, as wrong_state.
func (eng *Engine) applyOwnEnvelope(tradeID string, ts *tradefsm.TradeState, signed *protocol.Envelope) (*tradefsm.TradeState, error) {
	eng.mu.Lock()
	next, serr := tradefsm.Apply(ts, signed)
	if serr != nil {
		eng.mu.Unlock()
		return nil, serr
	}
	eng.trades[tradeID] = next
	eng.mu.Unlock()

	if err := eng.store.UpsertTrade(tradeID, receipts.Patch{Snapshot: next}); err != nil {
		return nil, fmt.Errorf("taker: persist trade %s: %w", tradeID, err)
	}
	return next, nil
}

// onEscrowCreated verifies the announced escrow against chain state before
// ever paying the Lightning invoice — the taker's one irrevocable action —
// then pays, and on preimage reveal submits the claim.
func (eng *Engine) onEscrowCreated(ctx context.Context, tradeID string, ts *tradefsm.TradeState) error {
	terms, esc := ts.Terms, ts.Escrow
	if terms == nil || esc == nil {
		return fmt.Errorf("taker: trade %s reached ESCROW with missing terms/escrow snapshot", tradeID)
	}

	paymentHash, err := escrow.PaymentHashFromHex(esc.PaymentHashHex)
	if err != nil {
		return fmt.Errorf("taker: decode payment hash: %w", err)
	}
	programID, err := solana.PublicKeyFromBase58(esc.ProgramID)
	if err != nil {
		return fmt.Errorf("taker: parse program_id: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(esc.Mint)
	if err != nil {
		return fmt.Errorf("taker: parse mint: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(esc.Recipient)
	if err != nil {
		return fmt.Errorf("taker: parse recipient: %w", err)
	}
	refund, err := solana.PublicKeyFromBase58(esc.Refund)
	if err != nil {
		return fmt.Errorf("taker: parse refund: %w", err)
	}
	netAmount, err := parseUint64(esc.Amount)
	if err != nil {
		return fmt.Errorf("taker: parse amount: %w", err)
	}

	_, swerr := eng.escrowCli.VerifyEscrowOnChain(ctx, escrow.ExpectedEscrow{
		ProgramID:       programID,
		Mint:            mint,
		Recipient:       recipient,
		Refund:          refund,
		PaymentHash:     paymentHash,
		RefundAfterUnix: esc.RefundAfterUnix,
		NetAmount:       netAmount,
	})
	if swerr != nil {
		_ = eng.store.AppendEvent(tradeID, "escrow_verify_failed", map[string]interface{}{"reason": swerr.Message})
		return eng.cancelSwapChannel(ctx, tradeID, "escrow_mismatch")
	}
	if err := eng.store.AppendEvent(tradeID, "escrow_verified", map[string]interface{}{"escrow_pda": esc.EscrowPDA}); err != nil {
		return err
	}

	payResult, perr := eng.lnCli.Pay(ctx, ts.Invoice.Bolt11)
	if perr != nil {
		lastErr := perr.Error()
		_ = eng.store.UpsertTrade(tradeID, receipts.Patch{LastError: &lastErr})
		return fmt.Errorf("taker: pay invoice: %w", perr)
	}

	// Preimage reveal is evidence of payment; persist before
	// submitting claim so a crash here is recoverable by re-deriving the
	// claim from the stored preimage on restart.
	if err := eng.store.AppendEvent(tradeID, "ln_paid", map[string]interface{}{"preimage": payResult.PaymentPreimage}); err != nil {
		return err
	}
	lnPaid := true
	if err := eng.store.UpsertTrade(tradeID, receipts.Patch{LNPaid: &lnPaid}); err != nil {
		return err
	}

	return eng.submitClaim(ctx, tradeID, ts, payResult.PaymentPreimage)
}

func (eng *Engine) submitClaim(ctx context.Context, tradeID string, ts *tradefsm.TradeState, preimageHex string) error {
	esc := ts.Escrow
	preimage, err := escrow.PaymentHashFromHex(preimageHex)
	if err != nil {
		return fmt.Errorf("taker: decode preimage: %w", err)
	}
	paymentHash, err := escrow.PaymentHashFromHex(esc.PaymentHashHex)
	if err != nil {
		return fmt.Errorf("taker: decode payment hash: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(esc.Mint)
	if err != nil {
		return fmt.Errorf("taker: parse mint: %w", err)
	}
	recipientTokenAccount, err := solana.PublicKeyFromBase58(eng.cfg.RecipientTokenAccount)
	if err != nil {
		return fmt.Errorf("taker: parse recipient_token_account: %w", err)
	}
	platformCollector, err := solana.PublicKeyFromBase58(ts.Terms.PlatformFeeCollector)
	if err != nil {
		return fmt.Errorf("taker: parse platform fee collector: %w", err)
	}
	tradeCollector, err := solana.PublicKeyFromBase58(ts.Terms.TradeFeeCollector)
	if err != nil {
		return fmt.Errorf("taker: parse trade fee collector: %w", err)
	}

	result, cerr := eng.escrowCli.ClaimEscrowTx(ctx, escrow.ClaimEscrowRequest{
		RecipientSigner:       eng.sk,
		RecipientTokenAccount: recipientTokenAccount,
		Mint:                  mint,
		PaymentHash:           paymentHash,
		Preimage:              preimage,
		PlatformFeeCollector:  platformCollector,
		TradeFeeCollector:     tradeCollector,
	})
	if cerr != nil {
		// Valid preimage, failed submit: retried by the claim-retry ticker
		// until refund_after_unix.
		eng.mu.Lock()
		eng.claimRetry[tradeID] = preimageHex
		eng.mu.Unlock()
		lastErr := cerr.Error()
		return eng.store.UpsertTrade(tradeID, receipts.Patch{LastError: &lastErr})
	}

	eng.mu.Lock()
	delete(eng.claimRetry, tradeID)
	delete(eng.lastClaimAttemptMs, tradeID)
	eng.mu.Unlock()

	statusBody := protocol.StatusBody{Claimed: true, TxSig: result.Signature.String()}
	nonce, nerr := utils.GenerateSecureUUID()
	if nerr != nil {
		return fmt.Errorf("taker: generate status nonce: %w", nerr)
	}
	unsigned, uerr := protocol.Unsigned(protocol.KindStatus, tradeID, time.Now().UnixMilli(), nonce, statusBody)
	if uerr != nil {
		return fmt.Errorf("taker: build status: %w", uerr)
	}
	signed, serr := eng.signAndAttach(unsigned)
	if serr != nil {
		return fmt.Errorf("taker: sign status: %w", serr)
	}

	// The taker applies its own STATUS{claimed} to its trade view before
	// broadcasting it, exactly as an inbound envelope would be applied —
	// otherwise this peer's own FSM would never reach CLAIMED, and the
	// hygiene controller would never see the swap channel as untracked.
	if _, aerr := eng.applyOwnEnvelope(tradeID, ts, signed); aerr != nil {
		return fmt.Errorf("taker: apply own claimed status: %w", aerr)
	}

	if err := eng.transport.Send(ctx, swapChannelFor(tradeID), signed, signed.Nonce); err != nil {
		return err
	}

	txSig := result.Signature.String()
	return eng.store.UpsertTrade(tradeID, receipts.Patch{ClaimTxSig: &txSig})
}

func (eng *Engine) abandon(ctx context.Context, tradeID, reason string) error {
	if err := eng.store.AppendEvent(tradeID, "taker_abandoned", map[string]interface{}{"reason": reason}); err != nil {
		return err
	}
	return eng.cancelSwapChannel(ctx, tradeID, reason)
}

func (eng *Engine) cancelSwapChannel(ctx context.Context, tradeID, reason string) error {
	eng.mu.Lock()
	ts := eng.trades[tradeID]
	eng.mu.Unlock()

	if ts != nil && !tradefsm.IsTerminal(ts) {
		cancelBody := protocol.CancelBody{Reason: reason}
		nonce, err := utils.GenerateSecureUUID()
		if err == nil {
			unsigned, uerr := protocol.Unsigned(protocol.KindCancel, tradeID, time.Now().UnixMilli(), nonce, cancelBody)
			if uerr == nil {
				if signed, serr := eng.signAndAttach(unsigned); serr == nil {
					_ = eng.transport.Send(ctx, swapChannelFor(tradeID), signed, signed.Nonce)
				}
			}
		}
	}
	return eng.transport.Leave(ctx, swapChannelFor(tradeID))
}

func parseUint64(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
