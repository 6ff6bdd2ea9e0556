package taker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapcore/internal/escrow"
	"github.com/intercomswap/swapcore/internal/lightning"
	"github.com/intercomswap/swapcore/internal/protocol"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/sidechannel"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  map[string][]*protocol.Envelope
	joins []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: map[string][]*protocol.Envelope{}}
}

func (f *fakeTransport) Join(ctx context.Context, channel string, invite *sidechannel.Invite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, channel)
	return nil
}

func (f *fakeTransport) Leave(ctx context.Context, channel string) error { return nil }

func (f *fakeTransport) Subscribe(ctx context.Context, channels []string) error { return nil }

func (f *fakeTransport) Send(ctx context.Context, channel string, envelope *protocol.Envelope, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[channel] = append(f.sent[channel], envelope)
	return nil
}

func (f *fakeTransport) last(channel string) *protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[channel]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) count(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[channel])
}

type fakeEscrow struct {
	verifyErr *protocol.SwapError
}

func (f *fakeEscrow) CreateEscrowTx(ctx context.Context, req escrow.CreateEscrowRequest) (*escrow.SubmitResult, error) {
	return nil, nil
}

func (f *fakeEscrow) ClaimEscrowTx(ctx context.Context, req escrow.ClaimEscrowRequest) (*escrow.SubmitResult, error) {
	return &escrow.SubmitResult{Signature: solana.Signature{9, 9, 9}}, nil
}

func (f *fakeEscrow) RefundEscrowTx(ctx context.Context, req escrow.RefundEscrowRequest) (*escrow.SubmitResult, error) {
	return nil, nil
}

func (f *fakeEscrow) GetEscrowState(ctx context.Context, paymentHashHex string) (*escrow.EscrowAccount, error) {
	return nil, nil
}

func (f *fakeEscrow) VerifyEscrowOnChain(ctx context.Context, want escrow.ExpectedEscrow) (*escrow.EscrowAccount, *protocol.SwapError) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &escrow.EscrowAccount{}, nil
}

type fakeLightning struct{}

func (fakeLightning) Invoice(ctx context.Context, amountMsat int64, label, description string, expirySec int64) (*lightning.Invoice, error) {
	return nil, nil
}

func (fakeLightning) Pay(ctx context.Context, bolt11 string) (*lightning.PayResult, error) {
	sum := sha256.Sum256([]byte(bolt11))
	return &lightning.PayResult{PaymentPreimage: hex.EncodeToString(sum[:])}, nil
}

func (fakeLightning) DecodeBolt11(bolt11 string) (*lightning.Decoded, error) {
	return &lightning.Decoded{}, nil
}

func testConfig(sk solana.PrivateKey) Config {
	cfg := DefaultConfig()
	cfg.Pair = "BTC/USDT"
	cfg.Direction = "btc_to_usdt"
	cfg.AppHash = "app-hash"
	program, _ := solana.NewRandomPrivateKey()
	cfg.ProgramID = program.PublicKey().String()
	mint, _ := solana.NewRandomPrivateKey()
	cfg.SolMint = mint.PublicKey().String()
	recipient, _ := solana.NewRandomPrivateKey()
	cfg.SolRecipient = recipient.PublicKey().String()
	tokenAcct, _ := solana.NewRandomPrivateKey()
	cfg.RecipientTokenAccount = tokenAcct.PublicKey().String()
	cfg.WaitingTermsPingCooldownMs = 0
	cfg.ClaimRetryIntervalMs = 0
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, solana.PrivateKey, *fakeTransport, *fakeEscrow) {
	t.Helper()
	sk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	cfg := testConfig(sk)
	transport := newFakeTransport()
	esc := &fakeEscrow{}
	eng := NewEngine(cfg, sk, transport, esc, fakeLightning{}, receipts.NewMemoryStore())
	return eng, sk, transport, esc
}

func signedBy(t *testing.T, sk solana.PrivateKey, kind protocol.EnvelopeKind, tradeID, nonce string, body interface{}) *protocol.Envelope {
	t.Helper()
	e, err := protocol.Unsigned(kind, tradeID, time.Now().UnixMilli(), nonce, body)
	require.NoError(t, err)
	signed, err := protocol.SignAndAttach(e, sk)
	require.NoError(t, err)
	return signed
}

func termsBodyFor(cfg Config) protocol.TermsBody {
	feeCollector1, _ := solana.NewRandomPrivateKey()
	feeCollector2, _ := solana.NewRandomPrivateKey()
	return protocol.TermsBody{
		Pair:                 cfg.Pair,
		Direction:            cfg.Direction,
		AppHash:              cfg.AppHash,
		BTCSats:              100_000,
		USDTAmount:           "1000000",
		USDTDecimals:         6,
		SolMint:              cfg.SolMint,
		SolRecipient:         cfg.SolRecipient,
		SolRefund:            cfg.SolRecipient, // arbitrary distinct-enough value for the test
		SolRefundAfterUnix:   time.Now().Unix() + 3600,
		PlatformFeeBps:       cfg.MaxPlatformFeeBps - 10,
		PlatformFeeCollector: feeCollector1.PublicKey().String(),
		TradeFeeBps:          cfg.MaxTradeFeeBps - 10,
		TradeFeeCollector:    feeCollector2.PublicKey().String(),
		LNReceiverPeer:       "maker",
		LNPayerPeer:          "taker",
		TermsValidUntilUnix:  time.Now().Unix() + 120,
	}
}

func TestPostRFQSendsSignedRFQ(t *testing.T) {
	eng, _, transport, _ := newTestEngine(t)
	tradeID, err := eng.PostRFQ(context.Background(), protocol.RFQBody{
		Pair: eng.cfg.Pair, Direction: eng.cfg.Direction, AppHash: eng.cfg.AppHash,
		BTCSats: 100_000, USDTAmount: "1000000", USDTDecimals: 6,
		SolMint: eng.cfg.SolMint, SolRecipient: eng.cfg.SolRecipient,
		ValidUntilUnix: time.Now().Unix() + 60,
	})
	require.NoError(t, err)
	require.NotEmpty(t, tradeID)
	require.Equal(t, 1, transport.count(RFQChannel))
	assert.Equal(t, protocol.KindRFQ, transport.last(RFQChannel).Kind)
}

func TestHandleQuoteSendsAccept(t *testing.T) {
	eng, makerSK, transport, _ := newTestEngine(t)
	tradeID, err := eng.PostRFQ(context.Background(), protocol.RFQBody{AppHash: eng.cfg.AppHash, ValidUntilUnix: time.Now().Unix() + 60})
	require.NoError(t, err)

	quote := signedBy(t, makerSK, protocol.KindQuote, tradeID, "q1", protocol.QuoteBody{AppHash: eng.cfg.AppHash})
	require.NoError(t, eng.HandleRFQChannelEnvelope(context.Background(), quote))

	require.Equal(t, 2, transport.count(RFQChannel)) // RFQ then QUOTE_ACCEPT
	accept := transport.last(RFQChannel)
	assert.Equal(t, protocol.KindQuoteAccept, accept.Kind)

	var acceptBody protocol.QuoteAcceptBody
	require.NoError(t, json.Unmarshal(accept.Body, &acceptBody))
	expectedQuoteID, err := protocol.HashHex(quote)
	require.NoError(t, err)
	assert.Equal(t, expectedQuoteID, acceptBody.QuoteID)
}

func TestHandleSwapInviteJoinsOnlyWhenAddressedToSelf(t *testing.T) {
	eng, makerSK, transport, _ := newTestEngine(t)
	tradeID, err := eng.PostRFQ(context.Background(), protocol.RFQBody{AppHash: eng.cfg.AppHash, ValidUntilUnix: time.Now().Unix() + 60})
	require.NoError(t, err)

	other, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	wrongInvite := signedBy(t, makerSK, protocol.KindSwapInvite, tradeID, "i1", protocol.SwapInviteBody{
		SwapChannel: swapChannelFor(tradeID),
		Invite:      protocol.InvitePayload{InviteePubKey: hex.EncodeToString(other.PublicKey().Bytes()), ExpiresAt: time.Now().Unix() + 60},
	})
	require.NoError(t, eng.HandleRFQChannelEnvelope(context.Background(), wrongInvite))
	assert.Empty(t, transport.joins)

	rightInvite := signedBy(t, makerSK, protocol.KindSwapInvite, tradeID, "i2", protocol.SwapInviteBody{
		SwapChannel: swapChannelFor(tradeID),
		Invite:      protocol.InvitePayload{InviteePubKey: eng.selfPub(), ExpiresAt: time.Now().Unix() + 60},
	})
	require.NoError(t, eng.HandleRFQChannelEnvelope(context.Background(), rightInvite))
	require.Len(t, transport.joins, 1)
	assert.Equal(t, swapChannelFor(tradeID), transport.joins[0])
}

func TestOnTermsSendsAcceptWhenWithinCaps(t *testing.T) {
	eng, makerSK, transport, _ := newTestEngine(t)
	tradeID := "trade-terms-1"
	terms := signedBy(t, makerSK, protocol.KindTerms, tradeID, "t1", termsBodyFor(eng.cfg))

	require.NoError(t, eng.HandleSwapChannelEnvelope(context.Background(), tradeID, terms))

	swapChannel := swapChannelFor(tradeID)
	accept := transport.last(swapChannel)
	require.NotNil(t, accept)
	assert.Equal(t, protocol.KindAccept, accept.Kind)

	var acceptBody protocol.AcceptBody
	require.NoError(t, json.Unmarshal(accept.Body, &acceptBody))
	termsHash, err := protocol.HashHex(terms)
	require.NoError(t, err)
	assert.Equal(t, termsHash, acceptBody.TermsHash)
}

func TestOnTermsAbandonsWhenFeesExceedCaps(t *testing.T) {
	eng, makerSK, transport, _ := newTestEngine(t)
	tradeID := "trade-terms-2"
	body := termsBodyFor(eng.cfg)
	body.PlatformFeeBps = eng.cfg.MaxPlatformFeeBps + 50
	terms := signedBy(t, makerSK, protocol.KindTerms, tradeID, "t1", body)

	require.NoError(t, eng.HandleSwapChannelEnvelope(context.Background(), tradeID, terms))

	swapChannel := swapChannelFor(tradeID)
	require.Equal(t, 1, transport.count(swapChannel)) // no ACCEPT, only the best-effort CANCEL
	assert.Equal(t, protocol.KindCancel, transport.last(swapChannel).Kind)
}

func TestFullHappyPathThroughClaim(t *testing.T) {
	eng, makerSK, transport, _ := newTestEngine(t)
	tradeID := "trade-happy-1"
	terms := signedBy(t, makerSK, protocol.KindTerms, tradeID, "t1", termsBodyFor(eng.cfg))
	require.NoError(t, eng.HandleSwapChannelEnvelope(context.Background(), tradeID, terms))

	sum := sha256.Sum256([]byte("payment-hash-seed"))
	paymentHashHex := hex.EncodeToString(sum[:])

	invoice := signedBy(t, makerSK, protocol.KindLNInvoice, tradeID, "n2", protocol.LNInvoiceBody{
		Bolt11: "lnbc1fake", PaymentHashHex: paymentHashHex, AmountMsat: 100_000_000, ExpiresAtUnix: time.Now().Unix() + 600,
	})
	require.NoError(t, eng.HandleSwapChannelEnvelope(context.Background(), tradeID, invoice))

	escrowBody := protocol.SolEscrowCreatedBody{
		ProgramID:       eng.cfg.ProgramID,
		EscrowPDA:       "EscrowPDA11111111111111111111111111111111",
		VaultATA:        "VaultATA111111111111111111111111111111111",
		Mint:            eng.cfg.SolMint,
		PaymentHashHex:  paymentHashHex,
		Amount:          "1000000",
		RefundAfterUnix: time.Now().Unix() + 3600,
		Recipient:       eng.cfg.SolRecipient,
		Refund:          eng.cfg.SolRecipient,
		TxSig:           "Sig1111111111111111111111111111111111111111111111111111111111111111111111111111111",
	}
	escrowCreated := signedBy(t, makerSK, protocol.KindSolEscrowCreated, tradeID, "n3", escrowBody)
	require.NoError(t, eng.HandleSwapChannelEnvelope(context.Background(), tradeID, escrowCreated))

	swapChannel := swapChannelFor(tradeID)
	var sawStatus bool
	for _, msg := range transport.sent[swapChannel] {
		if msg.Kind == protocol.KindStatus {
			sawStatus = true
			var statusBody protocol.StatusBody
			require.NoError(t, json.Unmarshal(msg.Body, &statusBody))
			assert.True(t, statusBody.Claimed)
		}
	}
	assert.True(t, sawStatus, "expected a STATUS{claimed:true} on the swap channel")

	_, events, err := eng.store.Get(tradeID)
	require.NoError(t, err)
	var sawPaid bool
	for _, ev := range events {
		if ev.Kind == "ln_paid" {
			sawPaid = true
		}
	}
	assert.True(t, sawPaid, "ln_paid event must be persisted before claim is submitted")
}

func TestEscrowMismatchCancelsAndLeaves(t *testing.T) {
	eng, makerSK, transport, esc := newTestEngine(t)
	esc.verifyErr = protocol.NewSwapError(protocol.ErrEscrowMismatch, "mismatch", protocol.Terminal, nil)

	tradeID := "trade-mismatch-1"
	terms := signedBy(t, makerSK, protocol.KindTerms, tradeID, "t1", termsBodyFor(eng.cfg))
	require.NoError(t, eng.HandleSwapChannelEnvelope(context.Background(), tradeID, terms))

	sum := sha256.Sum256([]byte("mismatch-seed"))
	paymentHashHex := hex.EncodeToString(sum[:])
	invoice := signedBy(t, makerSK, protocol.KindLNInvoice, tradeID, "n2", protocol.LNInvoiceBody{
		Bolt11: "lnbc1fake", PaymentHashHex: paymentHashHex, AmountMsat: 100_000_000, ExpiresAtUnix: time.Now().Unix() + 600,
	})
	require.NoError(t, eng.HandleSwapChannelEnvelope(context.Background(), tradeID, invoice))

	escrowCreated := signedBy(t, makerSK, protocol.KindSolEscrowCreated, tradeID, "n3", protocol.SolEscrowCreatedBody{
		ProgramID: eng.cfg.ProgramID, EscrowPDA: "x", VaultATA: "y", Mint: eng.cfg.SolMint,
		PaymentHashHex: paymentHashHex, Amount: "1000000", RefundAfterUnix: time.Now().Unix() + 3600,
		Recipient: eng.cfg.SolRecipient, Refund: eng.cfg.SolRecipient, TxSig: "sig",
	})
	require.NoError(t, eng.HandleSwapChannelEnvelope(context.Background(), tradeID, escrowCreated))

	swapChannel := swapChannelFor(tradeID)
	var sawCancel, sawStatus bool
	for _, msg := range transport.sent[swapChannel] {
		switch msg.Kind {
		case protocol.KindCancel:
			sawCancel = true
		case protocol.KindStatus:
			sawStatus = true
		}
	}
	assert.True(t, sawCancel, "an on-chain mismatch must emit CANCEL")
	assert.False(t, sawStatus, "a mismatched escrow must never be paid")
}
