package taker

import (
	"context"
	"time"

	"github.com/intercomswap/swapcore/internal/tradefsm"
)

// Run starts the waiting-terms ping ticker. It blocks until ctx is
// canceled.
func (eng *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.waitingTermsTick(ctx)
			eng.claimRetryTick(ctx)
		}
	}
}

// claimRetryTick resubmits claim_escrow_tx for trades whose preimage is
// known but whose last submit failed, throttled to claim_retry_interval_ms
// and abandoned once refund_after_unix has passed — past that point the
// maker can refund, and a racing claim would only waste a submit.
func (eng *Engine) claimRetryTick(ctx context.Context) {
	eng.mu.Lock()
	type retry struct {
		tradeID  string
		preimage string
		ts       *tradefsm.TradeState
	}
	var due []retry
	var escalated []string
	now := time.Now()
	for tradeID, preimage := range eng.claimRetry {
		last, attempted := eng.lastClaimAttemptMs[tradeID]
		if attempted && now.UnixMilli()-last < eng.cfg.ClaimRetryIntervalMs {
			continue
		}
		ts, ok := eng.trades[tradeID]
		if !ok || ts.Escrow == nil {
			continue
		}
		if now.Unix() >= ts.Escrow.RefundAfterUnix {
			delete(eng.claimRetry, tradeID)
			delete(eng.lastClaimAttemptMs, tradeID)
			escalated = append(escalated, tradeID)
			continue
		}
		eng.lastClaimAttemptMs[tradeID] = now.UnixMilli()
		due = append(due, retry{tradeID, preimage, ts})
	}
	eng.mu.Unlock()

	for _, tradeID := range escalated {
		// LN already paid, SPL never claimed, refund window now closed: the
		// operator-visible worst case, surfaced as a fatal event rather
		// than silently dropped.
		_ = eng.store.AppendEvent(tradeID, "claim_fatal_refund_window_passed", nil)
	}
	for _, r := range due {
		_ = eng.submitClaim(ctx, r.tradeID, r.ts, r.preimage)
	}
}

// waitingTermsTick implements the waiting_terms recovery: after
// QUOTE_ACCEPT has been sent but before TERMS has been observed, the taker
// periodically re-asserts itself in case the maker missed the original
// accept, up to waiting_terms_max_pings, and gives up entirely after
// waiting_terms_max_wait_ms.
func (eng *Engine) waitingTermsTick(ctx context.Context) {
	eng.mu.Lock()
	var due []*pendingTrade
	now := time.Now().UnixMilli()
	for _, pend := range eng.pending {
		if pend.Abandoned || pend.SignedAccept == nil {
			continue
		}
		// Gated on TERMS not yet observed, not on pend.Joined: Joined flips
		// true the moment SWAP_INVITE arrives, before TERMS does, and the
		// replay must keep firing across that gap so the maker's
		// resendAcceptedSwap has a QUOTE_ACCEPT to react to.
		if ts, ok := eng.trades[pend.TradeID]; ok && ts.State != tradefsm.StateNew {
			continue // TERMS already observed through some other path
		}
		due = append(due, pend)
	}
	eng.mu.Unlock()

	for _, pend := range due {
		eng.maybeResendAccept(ctx, pend, now)
	}
}

func (eng *Engine) maybeResendAccept(ctx context.Context, pend *pendingTrade, nowMs int64) {
	eng.mu.Lock()
	waitElapsed := nowMs - pend.WaitStartMs
	if waitElapsed >= eng.cfg.WaitingTermsMaxWaitMs {
		pend.Abandoned = true
		eng.mu.Unlock()
		if eng.cfg.WaitingTermsLeaveOnTimeout {
			_ = eng.abandon(ctx, pend.TradeID, "waiting_terms_timeout")
		} else {
			_ = eng.store.AppendEvent(pend.TradeID, "waiting_terms_timeout", nil)
		}
		return
	}
	if pend.PingCount >= eng.cfg.WaitingTermsMaxPings {
		eng.mu.Unlock()
		return
	}
	if nowMs-pend.LastPingMs < eng.cfg.WaitingTermsPingCooldownMs {
		eng.mu.Unlock()
		return
	}
	pend.LastPingMs = nowMs
	pend.PingCount++
	accept := pend.SignedAccept
	tradeID := pend.TradeID
	eng.mu.Unlock()

	// Replays only ever the latest accept for this trade_id (never an
	// older one): pend.SignedAccept is overwritten wholesale whenever a
	// fresh QUOTE_ACCEPT is issued, so there is nothing stale to read here.
	if err := eng.transport.Send(ctx, RFQChannel, accept, accept.Nonce); err != nil {
		return // best-effort ping; the next tick retries
	}
	_ = eng.store.AppendEvent(tradeID, "waiting_terms_ping", map[string]interface{}{"attempt": pend.PingCount})
}

func (eng *Engine) clearWaitingTerms(tradeID string) {
	eng.mu.Lock()
	delete(eng.pending, tradeID)
	eng.mu.Unlock()
}
