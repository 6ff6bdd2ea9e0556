package maker

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/intercomswap/swapcore/internal/escrow"
	"github.com/intercomswap/swapcore/internal/lightning"
	"github.com/intercomswap/swapcore/internal/protocol"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/services/ratelimit"
	"github.com/intercomswap/swapcore/internal/sidechannel"
	"github.com/intercomswap/swapcore/internal/tradefsm"
)

// RFQChannel is the well-known public channel name a maker listens on.
const RFQChannel = "0000intercomswapbtcusdt"

// Transport is the subset of *sidechannel.Client the maker engine drives,
// narrowed to an interface so tests can substitute a fake pub/sub.
type Transport interface {
	Join(ctx context.Context, channel string, invite *sidechannel.Invite) error
	Leave(ctx context.Context, channel string) error
	Subscribe(ctx context.Context, channels []string) error
	Send(ctx context.Context, channel string, envelope *protocol.Envelope, messageID string) error
}

// swapChannelFor derives the invite-gated per-trade channel name:
// `swap:{trade_id}`.
func swapChannelFor(tradeID string) string {
	return "swap:" + tradeID
}

// Engine is the C8 maker: RFQ ingress, QUOTE emission, swap-channel-driven
// side effects (LN invoice, escrow submission), resend cadence, and RFQ
// lock pruning. Scheduling follows a single-threaded cooperative model
// per trade — Engine itself synchronizes only the shared
// lock/trade maps, not individual trade processing.
type Engine struct {
	cfg       Config
	sk        solana.PrivateKey
	transport Transport
	escrowCli escrow.Client
	lnCli     lightning.Client
	store     receipts.Store
	limiter   *ratelimit.RateLimiter

	mu     sync.Mutex
	locks  map[rfqLockKey]*rfqLock
	trades map[string]*tradefsm.TradeState

	resendMu    sync.Mutex
	lastResend  map[string]time.Time // tradeID[:suffix] -> last resend time
	lastSeen    map[string]time.Time // tradeID -> last inbound envelope time
	tradeStart  map[string]time.Time // tradeID -> first observed time
}

// NewEngine wires the maker's dependencies. The rate limiter is the
// teacher's sliding-window ratelimit.RateLimiter
// (internal/services/ratelimit/limiter.go), repurposed from password-attempt
// throttling to RFQ-flood throttling keyed by RFQ signer.
func NewEngine(cfg Config, sk solana.PrivateKey, transport Transport, escrowCli escrow.Client, lnCli lightning.Client, store receipts.Store) *Engine {
	return &Engine{
		cfg:         cfg,
		sk:          sk,
		transport:   transport,
		escrowCli:   escrowCli,
		lnCli:       lnCli,
		store:       store,
		limiter:     ratelimit.NewRateLimiter(cfg.RFQRateLimitCount, cfg.RFQRateLimitWindow),
		locks:       make(map[rfqLockKey]*rfqLock),
		trades:      make(map[string]*tradefsm.TradeState),
		lastResend:  make(map[string]time.Time),
		lastSeen:    make(map[string]time.Time),
		tradeStart:  make(map[string]time.Time),
	}
}

func (eng *Engine) selfPub() string {
	return hex.EncodeToString(eng.sk.PublicKey().Bytes())
}

func (eng *Engine) signAndAttach(e *protocol.Envelope) (*protocol.Envelope, error) {
	return protocol.SignAndAttach(e, eng.sk)
}

// HandleRFQChannelEnvelope dispatches an inbound, already-validated
// envelope observed on the public RFQ channel. The caller
// (the wiring in cmd/maker) has already dropped self-echoes via
// sidechannel.FilterSelf and schema/signature failures via
// protocol.Validate before this is called.
func (eng *Engine) HandleRFQChannelEnvelope(ctx context.Context, e *protocol.Envelope) error {
	switch e.Kind {
	case protocol.KindRFQ:
		return eng.handleRFQ(ctx, e)
	case protocol.KindQuoteAccept:
		return eng.handleQuoteAccept(ctx, e)
	case protocol.KindSvcAnnounce:
		return nil // another maker's presence broadcast; nothing to do
	default:
		// QUOTE/SWAP_INVITE on this channel are this maker's own emissions
		// echoed by other listeners' perspective, not inbound work.
		return nil
	}
}

// HandleSwapChannelEnvelope dispatches an inbound envelope observed on
// swap:{trade_id}, applying it to the trade's state machine and driving
// the resulting side effects.
func (eng *Engine) HandleSwapChannelEnvelope(ctx context.Context, tradeID string, e *protocol.Envelope) error {
	eng.mu.Lock()
	ts, ok := eng.trades[tradeID]
	if !ok {
		ts = tradefsm.Initial(tradeID)
		eng.trades[tradeID] = ts
	}
	eng.mu.Unlock()

	eng.resendMu.Lock()
	eng.lastSeen[tradeID] = time.Now()
	if _, ok := eng.tradeStart[tradeID]; !ok {
		eng.tradeStart[tradeID] = time.Now()
	}
	eng.resendMu.Unlock()

	// A taker who joined before observing TERMS re-announces itself as
	// STATUS while the trade is still in TERMS; the maker must converge by
	// resending TERMS.
	if e.Kind == protocol.KindStatus && ts.State == tradefsm.StateTerms {
		return eng.resendTerms(ctx, tradeID, ts)
	}

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
		return fmt.Errorf("maker: persist trade %s: %w", tradeID, err)
	}

	if e.Kind == protocol.KindAccept && next.State == tradefsm.StateAccepted {
		return eng.onAccept(ctx, tradeID, next)
	}
	return nil
}

// TrackedChannels reports which swap:{trade_id} channels this engine still
// considers live (non-terminal), for the hygiene controller (C10) to diff
// against actual transport membership.
func (eng *Engine) TrackedChannels() map[string]struct{} {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	out := make(map[string]struct{}, len(eng.trades))
	for tradeID, ts := range eng.trades {
		if tradefsm.IsTerminal(ts) {
			continue
		}
		out[swapChannelFor(tradeID)] = struct{}{}
	}
	return out
}

func decodeRFQKeyFields(e *protocol.Envelope, body protocol.RFQBody) rfqKeyFields {
	return rfqKeyFields{
		TradeID:               e.TradeID,
		Pair:                  body.Pair,
		Direction:             body.Direction,
		BTCSats:               body.BTCSats,
		USDTAmount:            body.USDTAmount,
		MaxPlatformFeeBps:     body.MaxPlatformFeeBps,
		MaxTradeFeeBps:        body.MaxTradeFeeBps,
		MaxTotalFeeBps:        body.MaxTotalFeeBps,
		MinSolRefundWindowSec: body.MinSolRefundWindowSec,
		MaxSolRefundWindowSec: body.MaxSolRefundWindowSec,
		SolRecipient:          body.SolRecipient,
		SolMint:               body.SolMint,
		AppHash:               body.AppHash,
	}
}
