package maker

import (
	"context"
	"time"

	"github.com/intercomswap/swapcore/internal/protocol"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/tradefsm"
	"github.com/intercomswap/swapcore/internal/utils"
)

// Run starts the two background tasks the engine relies on: the per-swap
// resend cadence and the ~5s RFQ-lock pruning sweep. It blocks until ctx is
// canceled.
func (eng *Engine) Run(ctx context.Context) {
	resendTicker := time.NewTicker(time.Second)
	defer resendTicker.Stop()
	pruneTicker := time.NewTicker(time.Duration(eng.cfg.LockPrunePeriodMs) * time.Millisecond)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resendTicker.C:
			eng.resendTick(ctx)
		case <-pruneTicker.C:
			eng.pruneLocks()
		}
	}
}

// resendTick implements the bounded-cooperative resend task: TERMS is
// resent on a 10s baseline, widened to 20-25s once the peer has been
// silent for 30s; the trade is canceled once swap_timeout_sec elapses.
func (eng *Engine) resendTick(ctx context.Context) {
	eng.mu.Lock()
	snapshot := make(map[string]*tradefsm.TradeState, len(eng.trades))
	for id, ts := range eng.trades {
		snapshot[id] = ts
	}
	eng.mu.Unlock()

	now := time.Now()
	for tradeID, ts := range snapshot {
		if tradefsm.IsTerminal(ts) {
			continue
		}

		eng.resendMu.Lock()
		start, hasStart := eng.tradeStart[tradeID]
		eng.resendMu.Unlock()
		if !hasStart {
			continue
		}
		deadline := start.Add(time.Duration(eng.cfg.SwapTimeoutSec) * time.Second)
		if now.After(deadline) {
			eng.timeoutTrade(ctx, tradeID, ts)
			continue
		}

		if ts.State == tradefsm.StateTerms {
			eng.maybeResendTerms(ctx, tradeID)
		}
	}
}

func (eng *Engine) maybeResendTerms(ctx context.Context, tradeID string) {
	eng.resendMu.Lock()
	lastSeen := eng.lastSeen[tradeID]
	last, sent := eng.lastResend[tradeID+":terms"]
	interval := time.Duration(eng.cfg.ResendBaselineMs) * time.Millisecond
	if time.Since(lastSeen) > time.Duration(eng.cfg.ResendWidenAfterMs)*time.Millisecond {
		interval = time.Duration(eng.cfg.ResendWidenedMs) * time.Millisecond
	}
	due := !sent || time.Since(last) >= interval
	if due {
		eng.lastResend[tradeID+":terms"] = time.Now()
	}
	eng.resendMu.Unlock()

	if !due {
		return
	}

	eng.mu.Lock()
	ts := eng.trades[tradeID]
	eng.mu.Unlock()
	if ts != nil {
		_ = eng.resendTerms(ctx, tradeID, ts)
	}
}

// timeoutTrade emits a best-effort CANCEL (only ever accepted pre-escrow,
// so a timeout past ESCROW is a no-op on the wire but still stops resends
// locally), persists the terminal reason, and leaves the swap channel.
func (eng *Engine) timeoutTrade(ctx context.Context, tradeID string, ts *tradefsm.TradeState) {
	swapChannel := swapChannelFor(tradeID)

	if !tradefsm.IsTerminal(ts) {
		cancelBody := protocol.CancelBody{Reason: "swap_timeout"}
		nonce, err := utils.GenerateSecureUUID()
		if err == nil {
			unsigned, uerr := protocol.Unsigned(protocol.KindCancel, tradeID, time.Now().UnixMilli(), nonce, cancelBody)
			if uerr == nil {
				if signed, serr := eng.signAndAttach(unsigned); serr == nil {
					_ = eng.transport.Send(ctx, swapChannel, signed, signed.Nonce)
				}
			}
		}
	}

	lastErr := "swap_timeout"
	_ = eng.store.UpsertTrade(tradeID, receipts.Patch{LastError: &lastErr})
	_ = eng.store.AppendEvent(tradeID, "swap_timeout", nil)
	_ = eng.transport.Leave(ctx, swapChannel)

	eng.mu.Lock()
	delete(eng.trades, tradeID)
	eng.mu.Unlock()

	eng.resendMu.Lock()
	delete(eng.tradeStart, tradeID)
	delete(eng.lastSeen, tradeID)
	delete(eng.lastResend, tradeID+":terms")
	delete(eng.lastResend, tradeID+":accept")
	eng.resendMu.Unlock()
}

// pruneLocks drops quoted locks past their quote validity and
// accepting/swapping locks past their lock deadline, the periodic RFQ-lock
// pruning task.
func (eng *Engine) pruneLocks() {
	now := time.Now().Unix()
	nowMillis := time.Now().UnixMilli()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	for key, lock := range eng.locks {
		switch lock.State {
		case LockQuoted:
			if lock.QuoteValidUntilUnix > 0 && lock.QuoteValidUntilUnix < now {
				delete(eng.locks, key)
			}
		case LockAccepting, LockSwapping:
			if lock.LockDeadlineMs > 0 && lock.LockDeadlineMs < nowMillis {
				delete(eng.locks, key)
			}
		}
	}
}
