package maker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/intercomswap/swapcore/internal/protocol"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/sidechannel"
	"github.com/intercomswap/swapcore/internal/tradefsm"
	"github.com/intercomswap/swapcore/internal/utils"
)

func nowMs() int64 { return time.Now().UnixMilli() }

func (eng *Engine) handleRFQ(ctx context.Context, e *protocol.Envelope) error {
	var body protocol.RFQBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return nil // malformed: validator already should have dropped this
	}

	if !eng.limiter.AllowAttempt(e.Signer) {
		return nil // RFQ-flood throttle: drop silently
	}

	if body.AppHash != eng.cfg.AppHash {
		return nil
	}
	now := time.Now().Unix()
	if body.ValidUntilUnix <= now {
		return nil
	}
	if eng.cfg.SolRefund == "" || body.SolRecipient == "" {
		return nil
	}
	if eng.cfg.PlatformFeeBps > body.MaxPlatformFeeBps || eng.cfg.TradeFeeBps > body.MaxTradeFeeBps {
		return nil
	}
	if eng.cfg.PlatformFeeBps+eng.cfg.TradeFeeBps > body.MaxTotalFeeBps {
		return nil
	}
	if eng.cfg.SolRefundWindowSec < body.MinSolRefundWindowSec || eng.cfg.SolRefundWindowSec > body.MaxSolRefundWindowSec {
		return nil
	}

	key := computeLockKey(e.Signer, decodeRFQKeyFields(e, body))

	eng.mu.Lock()
	defer eng.mu.Unlock()

	if lock, ok := eng.locks[key]; ok {
		switch lock.State {
		case LockQuoted:
			if lock.QuoteValidUntilUnix > now {
				return eng.sendRFQChannel(ctx, lock.SignedQuote)
			}
			// expired: fall through and re-quote
		case LockAccepting, LockSwapping:
			return nil // repost during an in-flight acceptance: drop silently
		}
	}

	quoteValidUntil := now + eng.cfg.QuoteValidSec
	refundAfter := now + eng.cfg.SolRefundWindowSec

	quoteBody := protocol.QuoteBody{
		RFQID:                mustHash(e),
		AppHash:              eng.cfg.AppHash,
		Pair:                 body.Pair,
		Direction:            body.Direction,
		BTCSats:              body.BTCSats,
		USDTAmount:           body.USDTAmount,
		USDTDecimals:         body.USDTDecimals,
		PlatformFeeBps:       eng.cfg.PlatformFeeBps,
		PlatformFeeCollector: eng.cfg.PlatformFeeCollector,
		TradeFeeBps:          eng.cfg.TradeFeeBps,
		TradeFeeCollector:    eng.cfg.TradeFeeCollector,
		SolRefundAfterUnix:   refundAfter,
		ValidUntilUnix:       quoteValidUntil,
	}

	nonce, err := utils.GenerateSecureUUID()
	if err != nil {
		return fmt.Errorf("maker: generate quote nonce: %w", err)
	}
	unsigned, err := protocol.Unsigned(protocol.KindQuote, e.TradeID, time.Now().UnixMilli(), nonce, quoteBody)
	if err != nil {
		return fmt.Errorf("maker: build quote envelope: %w", err)
	}
	signed, err := eng.signAndAttach(unsigned)
	if err != nil {
		return fmt.Errorf("maker: sign quote: %w", err)
	}
	quoteID := mustHash(signed)

	eng.locks[key] = &rfqLock{
		State:               LockQuoted,
		TradeID:             e.TradeID,
		RFQSigner:           e.Signer,
		RFQ:                 body,
		QuoteID:             quoteID,
		Quote:               quoteBody,
		SignedQuote:         signed,
		QuoteValidUntilUnix: quoteValidUntil,
		CreatedAtMs:         nowMs(),
		LastSeenMs:          nowMs(),
	}

	return eng.sendRFQChannel(ctx, signed)
}

func (eng *Engine) handleQuoteAccept(ctx context.Context, e *protocol.Envelope) error {
	var body protocol.QuoteAcceptBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return nil
	}

	eng.mu.Lock()
	var lock *rfqLock
	var key rfqLockKey
	for k, l := range eng.locks {
		if l.QuoteID == body.QuoteID {
			lock, key = l, k
			break
		}
	}
	if lock == nil {
		eng.mu.Unlock()
		return nil // no matching quote; drop
	}
	if e.Signer != lock.RFQSigner {
		eng.mu.Unlock()
		return nil // quote-hijacking guard
	}

	if lock.State == LockSwapping {
		invite, terms := lock.SignedInvite, lock.SignedTerms
		eng.mu.Unlock()
		return eng.resendAcceptedSwap(ctx, lock.TradeID, invite, terms)
	}

	lock.State = LockAccepting
	lock.InviteePubKey = e.Signer
	swapChannel := swapChannelFor(lock.TradeID)
	lock.SwapChannel = swapChannel
	lock.LockDeadlineMs = nowMs() + eng.cfg.SwapTimeoutSec*1000
	eng.locks[key] = lock
	eng.mu.Unlock()

	now := time.Now().Unix()
	invitePayload := protocol.InvitePayload{
		InviteePubKey: e.Signer,
		InviterPubKey: eng.selfPub(),
		ExpiresAt:     now + eng.cfg.InviteValiditySec,
	}
	inviteBody := protocol.SwapInviteBody{SwapChannel: swapChannel, Invite: invitePayload}

	inviteNonce, err := utils.GenerateSecureUUID()
	if err != nil {
		return fmt.Errorf("maker: generate invite nonce: %w", err)
	}
	inviteUnsigned, err := protocol.Unsigned(protocol.KindSwapInvite, lock.TradeID, time.Now().UnixMilli(), inviteNonce, inviteBody)
	if err != nil {
		return fmt.Errorf("maker: build swap_invite: %w", err)
	}
	signedInvite, err := eng.signAndAttach(inviteUnsigned)
	if err != nil {
		return fmt.Errorf("maker: sign swap_invite: %w", err)
	}
	if err := eng.sendRFQChannel(ctx, signedInvite); err != nil {
		return err
	}

	if err := eng.transport.Join(ctx, swapChannel, &sidechannel.Invite{Payload: invitePayload, Signer: signedInvite.Signer, Sig: signedInvite.Sig}); err != nil {
		return fmt.Errorf("maker: join swap channel: %w", err)
	}
	if err := eng.transport.Subscribe(ctx, []string{swapChannel}); err != nil {
		return fmt.Errorf("maker: subscribe swap channel: %w", err)
	}

	termsBody := protocol.TermsBody{
		Pair:                 lock.RFQ.Pair,
		Direction:            lock.RFQ.Direction,
		AppHash:              eng.cfg.AppHash,
		BTCSats:              lock.RFQ.BTCSats,
		USDTAmount:           lock.RFQ.USDTAmount,
		USDTDecimals:         lock.RFQ.USDTDecimals,
		SolMint:              eng.cfg.SolMint,
		SolRecipient:         lock.RFQ.SolRecipient,
		SolRefund:            eng.cfg.SolRefund,
		SolRefundAfterUnix:   lock.Quote.SolRefundAfterUnix,
		PlatformFeeBps:       eng.cfg.PlatformFeeBps,
		PlatformFeeCollector: eng.cfg.PlatformFeeCollector,
		TradeFeeBps:          eng.cfg.TradeFeeBps,
		TradeFeeCollector:    eng.cfg.TradeFeeCollector,
		LNReceiverPeer:       eng.selfPub(),
		LNPayerPeer:          e.Signer,
		TermsValidUntilUnix:  now + eng.cfg.TermsValidSec,
	}
	termsNonce, err := utils.GenerateSecureUUID()
	if err != nil {
		return fmt.Errorf("maker: generate terms nonce: %w", err)
	}
	termsUnsigned, err := protocol.Unsigned(protocol.KindTerms, lock.TradeID, time.Now().UnixMilli(), termsNonce, termsBody)
	if err != nil {
		return fmt.Errorf("maker: build terms: %w", err)
	}
	signedTerms, err := eng.signAndAttach(termsUnsigned)
	if err != nil {
		return fmt.Errorf("maker: sign terms: %w", err)
	}

	// The maker applies its own TERMS to its trade view before broadcasting
	// it, exactly as an inbound envelope would be applied — otherwise the
	// taker's later ACCEPT would find the maker still in NEW and reject it
	// as wrong_state.
	eng.mu.Lock()
	ts, ok := eng.trades[lock.TradeID]
	if !ok {
		ts = tradefsm.Initial(lock.TradeID)
	}
	nextTS, serr := tradefsm.Apply(ts, signedTerms)
	if serr != nil {
		eng.mu.Unlock()
		return fmt.Errorf("maker: apply own terms: %w", serr)
	}
	eng.trades[lock.TradeID] = nextTS
	eng.mu.Unlock()

	if err := eng.store.UpsertTrade(lock.TradeID, receipts.Patch{Snapshot: nextTS}); err != nil {
		return fmt.Errorf("maker: persist terms: %w", err)
	}

	eng.resendMu.Lock()
	if _, seen := eng.tradeStart[lock.TradeID]; !seen {
		eng.tradeStart[lock.TradeID] = time.Now()
	}
	eng.lastSeen[lock.TradeID] = time.Now()
	eng.resendMu.Unlock()

	if err := eng.transport.Send(ctx, swapChannel, signedTerms, signedTerms.Nonce); err != nil {
		return fmt.Errorf("maker: send terms: %w", err)
	}

	eng.mu.Lock()
	lock.State = LockSwapping
	lock.SignedInvite = signedInvite
	lock.SignedTerms = signedTerms
	eng.locks[key] = lock
	eng.mu.Unlock()

	return eng.store.AppendEvent(lock.TradeID, "terms_sent", map[string]interface{}{"quote_id": lock.QuoteID})
}

// resendAcceptedSwap re-sends the stored invite+terms when a QUOTE_ACCEPT
// replay arrives for an already-swapping lock, subject to
// retry_resend_min_ms (floor 5s).
func (eng *Engine) resendAcceptedSwap(ctx context.Context, tradeID string, invite, terms *protocol.Envelope) error {
	minGap := time.Duration(eng.cfg.RetryResendMinMs) * time.Millisecond
	if minGap < 5*time.Second {
		minGap = 5 * time.Second
	}
	eng.resendMu.Lock()
	last, seen := eng.lastResend[tradeID+":accept"]
	if seen && time.Since(last) < minGap {
		eng.resendMu.Unlock()
		return nil
	}
	eng.lastResend[tradeID+":accept"] = time.Now()
	eng.resendMu.Unlock()

	if err := eng.sendRFQChannel(ctx, invite); err != nil {
		return err
	}
	return eng.transport.Send(ctx, swapChannelFor(tradeID), terms, terms.Nonce)
}

// resendTerms re-sends the stored TERMS envelope for tradeID when a taker's
// STATUS arrives before it has observed TERMS — the "taker joined before
// seeing TERMS" convergence case.
func (eng *Engine) resendTerms(ctx context.Context, tradeID string, ts *tradefsm.TradeState) error {
	eng.mu.Lock()
	var terms *protocol.Envelope
	for _, lock := range eng.locks {
		if lock.TradeID == tradeID && lock.SignedTerms != nil {
			terms = lock.SignedTerms
			break
		}
	}
	eng.mu.Unlock()
	if terms == nil {
		return nil
	}
	return eng.transport.Send(ctx, swapChannelFor(tradeID), terms, terms.Nonce)
}

func (eng *Engine) sendRFQChannel(ctx context.Context, e *protocol.Envelope) error {
	return eng.transport.Send(ctx, RFQChannel, e, e.Nonce)
}

func mustHash(e *protocol.Envelope) string {
	h, err := protocol.HashHex(e)
	if err != nil {
		return ""
	}
	return h
}
