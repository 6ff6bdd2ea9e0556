package taker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/intercomswap/swapcore/internal/escrow"
	"github.com/intercomswap/swapcore/internal/lightning"
	"github.com/intercomswap/swapcore/internal/protocol"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/sidechannel"
	"github.com/intercomswap/swapcore/internal/tradefsm"
	"github.com/intercomswap/swapcore/internal/utils"
)

// RFQChannel is the well-known public channel name a taker posts RFQs on.
const RFQChannel = "0000intercomswapbtcusdt"

func swapChannelFor(tradeID string) string { return "swap:" + tradeID }

// Transport is the subset of *sidechannel.Client the taker engine drives.
type Transport interface {
	Join(ctx context.Context, channel string, invite *sidechannel.Invite) error
	Leave(ctx context.Context, channel string) error
	Subscribe(ctx context.Context, channels []string) error
	Send(ctx context.Context, channel string, envelope *protocol.Envelope, messageID string) error
}

// pendingTrade is the taker-side negotiation bookkeeping from the moment an
// RFQ is posted until it either converges into a joined swap channel or is
// abandoned.
type pendingTrade struct {
	TradeID       string
	RFQ           protocol.RFQBody
	SignedRFQ     *protocol.Envelope
	QuoteID       string
	SignedAccept  *protocol.Envelope
	SwapChannel   string
	Joined        bool
	WaitStartMs   int64
	LastPingMs    int64
	PingCount     int
	Abandoned     bool
}

// Engine is the C9 taker: RFQ emission, QUOTE_ACCEPT, waiting-terms
// recovery, TERMS validation, on-chain escrow verification, Lightning
// payment, and claim submission. Mirrors internal/maker's single-engine,
// mutex-guarded-map shape and cooperative-per-trade scheduling model.
type Engine struct {
	cfg       Config
	sk        solana.PrivateKey
	transport Transport
	escrowCli escrow.Client
	lnCli     lightning.Client
	store     receipts.Store

	mu         sync.Mutex
	pending    map[string]*pendingTrade // trade_id -> waiting-terms bookkeeping
	trades     map[string]*tradefsm.TradeState
	quoteIdx   map[string]string // quote_id -> trade_id, to match inbound QUOTE
	claimRetry map[string]string // trade_id -> revealed preimage hex, awaiting a successful claim submit
	lastClaimAttemptMs map[string]int64
}

// NewEngine wires the taker's dependencies.
func NewEngine(cfg Config, sk solana.PrivateKey, transport Transport, escrowCli escrow.Client, lnCli lightning.Client, store receipts.Store) *Engine {
	return &Engine{
		cfg:                cfg,
		sk:                 sk,
		transport:          transport,
		escrowCli:          escrowCli,
		lnCli:              lnCli,
		store:              store,
		pending:            make(map[string]*pendingTrade),
		trades:             make(map[string]*tradefsm.TradeState),
		quoteIdx:           make(map[string]string),
		claimRetry:         make(map[string]string),
		lastClaimAttemptMs: make(map[string]int64),
	}
}

func (eng *Engine) selfPub() string {
	return hex.EncodeToString(eng.sk.PublicKey().Bytes())
}

func (eng *Engine) signAndAttach(e *protocol.Envelope) (*protocol.Envelope, error) {
	return protocol.SignAndAttach(e, eng.sk)
}

// PostRFQ builds, signs, and broadcasts a fresh RFQ, generating a new
// trade_id: an opaque ASCII identifier unique per negotiation, minted
// by the taker since the RFQ is the first envelope of a negotiation.
func (eng *Engine) PostRFQ(ctx context.Context, body protocol.RFQBody) (string, error) {
	tradeID, err := utils.GenerateSecureUUID()
	if err != nil {
		return "", fmt.Errorf("taker: generate trade_id: %w", err)
	}
	nonce, err := utils.GenerateSecureUUID()
	if err != nil {
		return "", fmt.Errorf("taker: generate rfq nonce: %w", err)
	}
	unsigned, err := protocol.Unsigned(protocol.KindRFQ, tradeID, time.Now().UnixMilli(), nonce, body)
	if err != nil {
		return "", fmt.Errorf("taker: build rfq: %w", err)
	}
	signed, err := eng.signAndAttach(unsigned)
	if err != nil {
		return "", fmt.Errorf("taker: sign rfq: %w", err)
	}
	if err := eng.transport.Send(ctx, RFQChannel, signed, signed.Nonce); err != nil {
		return "", fmt.Errorf("taker: send rfq: %w", err)
	}

	eng.mu.Lock()
	eng.pending[tradeID] = &pendingTrade{TradeID: tradeID, RFQ: body, SignedRFQ: signed}
	eng.mu.Unlock()
	return tradeID, nil
}

// HandleRFQChannelEnvelope dispatches an inbound, already-validated
// envelope observed on the public RFQ channel. As with the maker, the
// caller has already dropped self-echoes and schema/signature failures.
func (eng *Engine) HandleRFQChannelEnvelope(ctx context.Context, e *protocol.Envelope) error {
	switch e.Kind {
	case protocol.KindQuote:
		return eng.handleQuote(ctx, e)
	case protocol.KindSwapInvite:
		return eng.handleSwapInvite(ctx, e)
	default:
		return nil // RFQ/QUOTE_ACCEPT/SVC_ANNOUNCE on this channel are not this taker's inbound work
	}
}

func (eng *Engine) handleQuote(ctx context.Context, e *protocol.Envelope) error {
	eng.mu.Lock()
	pend, ok := eng.pending[e.TradeID]
	eng.mu.Unlock()
	if !ok || pend.Abandoned {
		return nil // not our RFQ, or already given up
	}

	var quote protocol.QuoteBody
	if err := json.Unmarshal(e.Body, &quote); err != nil {
		return nil
	}
	if quote.AppHash != eng.cfg.AppHash {
		return nil
	}
	// Fee/refund-window caps are validated against TERMS, not QUOTE: TERMS
	// is the binding economic snapshot, QUOTE is only indicative.

	quoteID, err := protocol.HashHex(e)
	if err != nil {
		return fmt.Errorf("taker: hash quote: %w", err)
	}

	acceptBody := protocol.QuoteAcceptBody{QuoteID: quoteID, SolRecipient: eng.cfg.SolRecipient}
	nonce, err := utils.GenerateSecureUUID()
	if err != nil {
		return fmt.Errorf("taker: generate accept nonce: %w", err)
	}
	unsigned, err := protocol.Unsigned(protocol.KindQuoteAccept, e.TradeID, time.Now().UnixMilli(), nonce, acceptBody)
	if err != nil {
		return fmt.Errorf("taker: build quote_accept: %w", err)
	}
	signed, err := eng.signAndAttach(unsigned)
	if err != nil {
		return fmt.Errorf("taker: sign quote_accept: %w", err)
	}
	if err := eng.transport.Send(ctx, RFQChannel, signed, signed.Nonce); err != nil {
		return fmt.Errorf("taker: send quote_accept: %w", err)
	}

	eng.mu.Lock()
	pend.QuoteID = quoteID
	pend.SignedAccept = signed
	pend.WaitStartMs = time.Now().UnixMilli()
	pend.LastPingMs = pend.WaitStartMs
	pend.PingCount = 0
	eng.quoteIdx[quoteID] = e.TradeID
	eng.mu.Unlock()

	return eng.store.AppendEvent(e.TradeID, "quote_accepted", map[string]interface{}{"quote_id": quoteID})
}

// TrackedChannels reports which swap:{trade_id} channels this engine still
// considers live, for the hygiene controller (C10) to diff against actual
// transport membership. A joined-but-not-yet-terminal pending trade counts
// even before any swap-channel envelope has created a trades entry.
func (eng *Engine) TrackedChannels() map[string]struct{} {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	out := make(map[string]struct{}, len(eng.pending))
	for tradeID, pend := range eng.pending {
		if pend.Abandoned || !pend.Joined {
			continue
		}
		if ts, ok := eng.trades[tradeID]; ok && tradefsm.IsTerminal(ts) {
			continue
		}
		out[swapChannelFor(tradeID)] = struct{}{}
	}
	// Once TERMS arrives the pending entry is cleared, so a trade past that
	// point stays tracked through its non-terminal state machine entry.
	for tradeID, ts := range eng.trades {
		if !tradefsm.IsTerminal(ts) {
			out[swapChannelFor(tradeID)] = struct{}{}
		}
	}
	return out
}

func (eng *Engine) handleSwapInvite(ctx context.Context, e *protocol.Envelope) error {
	var body protocol.SwapInviteBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return nil
	}
	if body.Invite.InviteePubKey != eng.selfPub() {
		return nil // addressed to some other taker
	}
	if body.Invite.ExpiresAt < time.Now().Unix() {
		return nil // stale invite
	}

	eng.mu.Lock()
	pend, ok := eng.pending[e.TradeID]
	if ok {
		pend.SwapChannel = body.SwapChannel
		pend.Joined = true
	}
	eng.mu.Unlock()
	if !ok {
		return nil // invite for a trade_id we never RFQ'd
	}

	if err := eng.transport.Join(ctx, body.SwapChannel, &sidechannel.Invite{Payload: body.Invite, Signer: e.Signer, Sig: e.Sig}); err != nil {
		return fmt.Errorf("taker: join swap channel: %w", err)
	}
	return eng.transport.Subscribe(ctx, []string{body.SwapChannel})
}
