package maker

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

// onAccept runs the "on ACCEPT" side effects: create the Lightning
// invoice, submit the on-chain escrow, and only then broadcast
// SOL_ESCROW_CREATED — each step persisted to the receipts store before
// the next begins, a write-before-broadcast ordering guarantee.
func (eng *Engine) onAccept(ctx context.Context, tradeID string, ts *tradefsm.TradeState) error {
	if ts.Terms == nil {
		return fmt.Errorf("maker: accepted trade %s has no frozen terms", tradeID)
	}
	terms := ts.Terms
	swapChannel := swapChannelFor(tradeID)

	amountMsat := terms.BTCSats * 1000
	inv, err := eng.lnCli.Invoice(ctx, amountMsat, tradeID, "intercomswap:"+tradeID, eng.cfg.SwapTimeoutSec)
	if err != nil {
		lastErr := err.Error()
		_ = eng.store.UpsertTrade(tradeID, receipts.Patch{LastError: &lastErr})
		return fmt.Errorf("maker: create invoice: %w", err)
	}
	if err := eng.store.AppendEvent(tradeID, "ln_invoice_created", map[string]interface{}{"payment_hash": inv.PaymentHash}); err != nil {
		return err
	}

	invoiceBody := protocol.LNInvoiceBody{
		Bolt11:         inv.Bolt11,
		PaymentHashHex: inv.PaymentHash,
		AmountMsat:     amountMsat,
		ExpiresAtUnix:  time.Now().Unix() + eng.cfg.SwapTimeoutSec,
	}
	invNonce, err := utils.GenerateSecureUUID()
	if err != nil {
		return fmt.Errorf("maker: generate invoice nonce: %w", err)
	}
	invUnsigned, err := protocol.Unsigned(protocol.KindLNInvoice, tradeID, time.Now().UnixMilli(), invNonce, invoiceBody)
	if err != nil {
		return fmt.Errorf("maker: build ln_invoice: %w", err)
	}
	signedInv, err := eng.signAndAttach(invUnsigned)
	if err != nil {
		return fmt.Errorf("maker: sign ln_invoice: %w", err)
	}

	// The maker applies its own LN_INVOICE to its trade view before
	// broadcasting it, exactly as an inbound envelope would be applied —
	// otherwise the maker's own FSM would stay in ACCEPTED and later reject
	// its own SOL_ESCROW_CREATED as wrong_state.
	ts, err = eng.applyOwnEnvelope(tradeID, ts, signedInv)
	if err != nil {
		return fmt.Errorf("maker: apply own ln_invoice: %w", err)
	}

	if err := eng.transport.Send(ctx, swapChannel, signedInv, signedInv.Nonce); err != nil {
		return fmt.Errorf("maker: send ln_invoice: %w", err)
	}

	paymentHash, err := escrow.PaymentHashFromHex(inv.PaymentHash)
	if err != nil {
		return fmt.Errorf("maker: decode payment hash: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(terms.SolMint)
	if err != nil {
		return fmt.Errorf("maker: parse mint: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(terms.SolRecipient)
	if err != nil {
		return fmt.Errorf("maker: parse recipient: %w", err)
	}
	refund, err := solana.PublicKeyFromBase58(terms.SolRefund)
	if err != nil {
		return fmt.Errorf("maker: parse refund: %w", err)
	}
	platformCollector, err := solana.PublicKeyFromBase58(terms.PlatformFeeCollector)
	if err != nil {
		return fmt.Errorf("maker: parse platform fee collector: %w", err)
	}
	tradeCollector, err := solana.PublicKeyFromBase58(terms.TradeFeeCollector)
	if err != nil {
		return fmt.Errorf("maker: parse trade fee collector: %w", err)
	}
	payerTokenAccount, err := solana.PublicKeyFromBase58(eng.cfg.PayerTokenAccount)
	if err != nil {
		return fmt.Errorf("maker: parse payer token account: %w", err)
	}

	netAmount, err := parseUint64(terms.USDTAmount)
	if err != nil {
		return fmt.Errorf("maker: parse usdt_amount: %w", err)
	}

	result, err := eng.escrowCli.CreateEscrowTx(ctx, escrow.CreateEscrowRequest{
		Payer:                eng.sk,
		PayerTokenAccount:    payerTokenAccount,
		Mint:                 mint,
		PaymentHash:          paymentHash,
		Recipient:            recipient,
		Refund:               refund,
		RefundAfterUnix:      terms.SolRefundAfterUnix,
		NetAmount:            netAmount,
		PlatformFeeBps:       uint16(terms.PlatformFeeBps),
		TradeFeeBps:          uint16(terms.TradeFeeBps),
		PlatformFeeCollector: platformCollector,
		TradeFeeCollector:    tradeCollector,
	})
	if err != nil {
		lastErr := err.Error()
		_ = eng.store.UpsertTrade(tradeID, receipts.Patch{LastError: &lastErr})
		// On-chain create_escrow failure: roll the RFQ lock back to quoted.
		eng.rollbackLockToQuoted(tradeID)
		return fmt.Errorf("maker: submit escrow: %w", err)
	}

	// Durability before broadcast: the escrow tx signature must be
	// persisted before SOL_ESCROW_CREATED is sent, so a crash here is
	// recoverable by reading payment_hash_hex back and querying chain
	// state on restart.
	if err := eng.store.AppendEvent(tradeID, "escrow_submitted", map[string]interface{}{
		"tx_sig":        result.Signature.String(),
		"escrow_pda":    result.EscrowPDA.String(),
		"vault_ata":     result.VaultATA.String(),
		"payment_hash":  inv.PaymentHash,
	}); err != nil {
		return fmt.Errorf("maker: persist escrow submission: %w", err)
	}

	escrowBody := protocol.SolEscrowCreatedBody{
		ProgramID:       eng.cfg.ProgramID,
		EscrowPDA:       result.EscrowPDA.String(),
		VaultATA:        result.VaultATA.String(),
		Mint:            terms.SolMint,
		PaymentHashHex:  inv.PaymentHash,
		Amount:          terms.USDTAmount,
		RefundAfterUnix: terms.SolRefundAfterUnix,
		Recipient:       terms.SolRecipient,
		Refund:          terms.SolRefund,
		TxSig:           result.Signature.String(),
	}
	escNonce, err := utils.GenerateSecureUUID()
	if err != nil {
		return fmt.Errorf("maker: generate escrow nonce: %w", err)
	}
	escUnsigned, err := protocol.Unsigned(protocol.KindSolEscrowCreated, tradeID, time.Now().UnixMilli(), escNonce, escrowBody)
	if err != nil {
		return fmt.Errorf("maker: build sol_escrow_created: %w", err)
	}
	signedEsc, err := eng.signAndAttach(escUnsigned)
	if err != nil {
		return fmt.Errorf("maker: sign sol_escrow_created: %w", err)
	}

	// The maker applies its own SOL_ESCROW_CREATED to its trade view before
	// broadcasting it, reaching ESCROW — otherwise the maker would never
	// record the taker's later STATUS{ln_paid|claimed|refunded}, all of
	// which require the maker to already be in ESCROW.
	if _, err := eng.applyOwnEnvelope(tradeID, ts, signedEsc); err != nil {
		return fmt.Errorf("maker: apply own sol_escrow_created: %w", err)
	}

	return eng.transport.Send(ctx, swapChannel, signedEsc, signedEsc.Nonce)
}

// applyOwnEnvelope applies an envelope this engine itself just signed to its
// own trade view and persists the result, exactly as an inbound envelope
// would be applied. A maker (or taker) that only ever sends an envelope
// without applying it locally would never observe its own state transition,
// and would reject its own later envelopes, or the counterparty's replies
// to them, as wrong_state.
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
		return nil, fmt.Errorf("maker: persist trade %s: %w", tradeID, err)
	}
	return next, nil
}

func (eng *Engine) rollbackLockToQuoted(tradeID string) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	for _, lock := range eng.locks {
		if lock.TradeID == tradeID {
			lock.State = LockQuoted
			lock.QuoteValidUntilUnix = 0 // force a fresh quote on next RFQ
		}
	}
}

func parseUint64(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
