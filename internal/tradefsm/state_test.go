package tradefsm

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/intercomswap/swapcore/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedEnvelope(t *testing.T, kind protocol.EnvelopeKind, tradeID string, nonce string, body interface{}) *protocol.Envelope {
	t.Helper()
	sk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	e, err := protocol.Unsigned(kind, tradeID, 1_700_000_000_000, nonce, body)
	require.NoError(t, err)
	signed, err := protocol.SignAndAttach(e, sk)
	require.NoError(t, err)
	return signed
}

func termsBody() protocol.TermsBody {
	return protocol.TermsBody{
		Pair:                "BTC/USDT",
		Direction:           "btc_to_usdt",
		AppHash:             "ap",
		BTCSats:             10000,
		USDTAmount:          "1000000",
		USDTDecimals:        6,
		SolMint:             "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
		SolRecipient:        "4gRGbYDm4TttmhRXmjyiw3NMZzxUnbfWSiDmfQ3Zqmgr",
		SolRefund:           "4gRGbYDm4TttmhRXmjyiw3NMZzxUnbfWSiDmfQ3Zqmgz",
		SolRefundAfterUnix:  1_700_003_600,
		PlatformFeeBps:      50,
		PlatformFeeCollector: "feeCollector1",
		TradeFeeBps:          50,
		TradeFeeCollector:    "feeCollector2",
		LNReceiverPeer:       "maker",
		LNPayerPeer:          "taker",
		TermsValidUntilUnix:  1_700_003_600,
	}
}

// TestApplyIdempotence verifies apply(apply(s,e1),e2) = apply(s,e1)
// whenever e1 == e2: replaying a byte-identical envelope is a no-op.
func TestApplyIdempotence(t *testing.T) {
	ts := Initial("trade-1")
	terms := signedEnvelope(t, protocol.KindTerms, "trade-1", "n1", termsBody())

	once, err := Apply(ts, terms)
	require.Nil(t, err)
	require.Equal(t, StateTerms, once.State)

	twice, err := Apply(once, terms)
	require.Nil(t, err)
	assert.Equal(t, once.State, twice.State)
	assert.Equal(t, once.TermsHash, twice.TermsHash)
}

func TestApplyConflictingReplayRejected(t *testing.T) {
	ts := Initial("trade-1")
	terms := signedEnvelope(t, protocol.KindTerms, "trade-1", "n1", termsBody())
	once, err := Apply(ts, terms)
	require.Nil(t, err)

	other := termsBody()
	other.BTCSats = 99999
	differentTerms := signedEnvelope(t, protocol.KindTerms, "trade-1", "n2", other)

	_, cerr := Apply(once, differentTerms)
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrConflictingReplay, cerr.Code)
}

func TestApplyOutOfOrderRejectedAsWrongState(t *testing.T) {
	ts := Initial("trade-1")
	status := signedEnvelope(t, protocol.KindStatus, "trade-1", "n1", protocol.StatusBody{LNPaid: true})

	_, err := Apply(ts, status)
	require.NotNil(t, err)
	assert.Equal(t, protocol.ErrWrongState, err.Code)
	assert.Equal(t, StateNew, ts.State, "state must not change on a rejected transition")
}

func TestTransitionTableHappyPath(t *testing.T) {
	ts := Initial("trade-1")

	terms := signedEnvelope(t, protocol.KindTerms, "trade-1", "n1", termsBody())
	ts, err := Apply(ts, terms)
	require.Nil(t, err)
	require.Equal(t, StateTerms, ts.State)

	accept := signedEnvelope(t, protocol.KindAccept, "trade-1", "n2", protocol.AcceptBody{TermsHash: ts.TermsHash})
	ts, err = Apply(ts, accept)
	require.Nil(t, err)
	require.Equal(t, StateAccepted, ts.State)

	preimage := make([]byte, 32)
	paymentHash := sha256.Sum256(preimage)
	paymentHashHex := hex.EncodeToString(paymentHash[:])

	invoice := signedEnvelope(t, protocol.KindLNInvoice, "trade-1", "n3", protocol.LNInvoiceBody{
		Bolt11:         "lnbc1...",
		PaymentHashHex: paymentHashHex,
		AmountMsat:     10_000_000,
		ExpiresAtUnix:  1_700_003_600,
	})
	ts, err = Apply(ts, invoice)
	require.Nil(t, err)
	require.Equal(t, StateInvoice, ts.State)

	escrow := signedEnvelope(t, protocol.KindSolEscrowCreated, "trade-1", "n4", protocol.SolEscrowCreatedBody{
		ProgramID:       "Program111111111111111111111111111111111",
		EscrowPDA:       "pda1",
		VaultATA:        "vault1",
		Mint:            termsBody().SolMint,
		PaymentHashHex:  paymentHashHex,
		Amount:          "1000000",
		RefundAfterUnix: 1_700_003_600,
		Recipient:       termsBody().SolRecipient,
		Refund:          termsBody().SolRefund,
		TxSig:           "sig1",
	})
	ts, err = Apply(ts, escrow)
	require.Nil(t, err)
	require.Equal(t, StateEscrow, ts.State)

	claimed := signedEnvelope(t, protocol.KindStatus, "trade-1", "n5", protocol.StatusBody{Claimed: true, TxSig: "claimSig"})
	ts, err = Apply(ts, claimed)
	require.Nil(t, err)
	require.Equal(t, StateClaimed, ts.State)
	assert.True(t, IsTerminal(ts))
}

func TestCancelRejectedPostEscrow(t *testing.T) {
	ts := Initial("trade-1")
	ts.State = StateEscrow
	cancel := signedEnvelope(t, protocol.KindCancel, "trade-1", "n1", protocol.CancelBody{Reason: "changed my mind"})

	_, err := Apply(ts, cancel)
	require.NotNil(t, err)
	assert.Equal(t, protocol.ErrWrongState, err.Code)
	assert.Equal(t, StateEscrow, ts.State)
}

func TestEnvelopeRoundTripVerify(t *testing.T) {
	sk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	e, err := protocol.Unsigned(protocol.KindRFQ, "trade-1", 1700000000000, "n1", protocol.RFQBody{BTCSats: 1})
	require.NoError(t, err)

	sigHex, err := protocol.Sign(e, sk)
	require.NoError(t, err)
	pubHex := hex.EncodeToString(sk.PublicKey().Bytes())
	signed := protocol.Attach(e, pubHex, sigHex)

	assert.True(t, protocol.Verify(signed))
}

func TestHashInjectiveOverDistinctEnvelopes(t *testing.T) {
	a, err := protocol.Unsigned(protocol.KindRFQ, "trade-1", 1, "n1", protocol.RFQBody{BTCSats: 1})
	require.NoError(t, err)
	b, err := protocol.Unsigned(protocol.KindRFQ, "trade-1", 1, "n2", protocol.RFQBody{BTCSats: 1})
	require.NoError(t, err)

	ha, err := protocol.HashHex(a)
	require.NoError(t, err)
	hb, err := protocol.HashHex(b)
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}
