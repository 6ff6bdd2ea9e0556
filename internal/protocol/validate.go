package protocol

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"time"
)

// MaxFeeBps is the protocol ceiling for any *_bps field (100%).
const MaxFeeBps = 10000

// EnvelopeTTLFloor is the minimum slack a TERMS sol_refund_after_unix must
// carry past the signer's ts to be accepted (guards against a
// technically-future timestamp that is already practically expired by the
// time it is received).
const EnvelopeTTLFloor = 2 * time.Second

type validatorFunc func(*Envelope) *SwapError

// validators dispatches per-kind structural and value-range checks. Kept as
// a map rather than a type switch so C8/C9 can ask "is this kind
// recognized at all" without a sentinel default case drifting out of sync.
var validators = map[EnvelopeKind]validatorFunc{
	KindRFQ:              validateRFQ,
	KindQuote:            validateQuote,
	KindQuoteAccept:      validateQuoteAccept,
	KindSwapInvite:       validateSwapInvite,
	KindTerms:            validateTerms,
	KindAccept:           validateAccept,
	KindLNInvoice:        validateLNInvoice,
	KindSolEscrowCreated: validateSolEscrowCreated,
	KindStatus:           validateStatus,
	KindCancel:           validateCancel,
	KindSvcAnnounce:      validateSvcAnnounce,
}

// Validate runs shape, required-field, value-range and signature checks on
// an envelope. It does not perform the cross-envelope coherence checks
// (rfq_id/quote_id/terms_hash linkage, "mutual coherence" across envelopes) — those
// require the referenced prior envelope and live in coherence.go, called by
// the engine once it has looked the prior envelope up by trade_id.
func Validate(e *Envelope) *SwapError {
	if e.V != ProtocolVersion {
		return LocalDropf(ErrSchemaInvalid, "unsupported protocol version %d", e.V)
	}
	if e.TradeID == "" {
		return LocalDropf(ErrSchemaInvalid, "missing trade_id")
	}
	if e.Nonce == "" {
		return LocalDropf(ErrSchemaInvalid, "missing nonce")
	}
	if !isHex(e.Signer, 64) {
		return LocalDropf(ErrSchemaInvalid, "signer must be 64-hex")
	}
	if !isHex(e.Sig, 128) {
		return LocalDropf(ErrSchemaInvalid, "sig must be 128-hex")
	}
	if !Verify(e) {
		return LocalDropf(ErrSignatureInvalid, "signature does not verify against signer")
	}
	fn, ok := validators[e.Kind]
	if !ok {
		return LocalDropf(ErrSchemaInvalid, "unrecognized envelope kind %q", e.Kind)
	}
	return fn(e)
}

func isHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// nonNegativeInteger checks usdt_amount-style net amounts: a non-negative
// base-10 integer string, no sign, no decimal point.
func nonNegativeInteger(s string) bool {
	if s == "" || strings.ContainsAny(s, "+- .") {
		return false
	}
	n, ok := new(big.Int).SetString(s, 10)
	return ok && n.Sign() >= 0
}

func validBps(v int) bool {
	return v >= 0 && v <= MaxFeeBps
}

func decodeBody(e *Envelope, v interface{}) *SwapError {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return LocalDropf(ErrSchemaInvalid, "malformed body: %v", err)
	}
	return nil
}

func validateRFQ(e *Envelope) *SwapError {
	var b RFQBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if b.BTCSats < 1 {
		return LocalDropf(ErrSchemaInvalid, "btc_sats must be >= 1")
	}
	if !nonNegativeInteger(b.USDTAmount) {
		return LocalDropf(ErrSchemaInvalid, "usdt_amount must be a non-negative integer string")
	}
	if !validBps(b.MaxPlatformFeeBps) || !validBps(b.MaxTradeFeeBps) || !validBps(b.MaxTotalFeeBps) {
		return LocalDropf(ErrSchemaInvalid, "fee cap bps out of range")
	}
	if b.MinSolRefundWindowSec <= 0 || b.MaxSolRefundWindowSec < b.MinSolRefundWindowSec {
		return LocalDropf(ErrSchemaInvalid, "invalid refund window bounds")
	}
	if b.AppHash == "" {
		return LocalDropf(ErrSchemaInvalid, "missing app_hash")
	}
	if b.ValidUntilUnix*1000 < e.Ts {
		return LocalDropf(ErrExpiredEnvelope, "rfq already expired at send time")
	}
	return nil
}

func validateQuote(e *Envelope) *SwapError {
	var b QuoteBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if !isHex(b.RFQID, 64) {
		return LocalDropf(ErrSchemaInvalid, "rfq_id must be a 32-byte hex hash")
	}
	if !nonNegativeInteger(b.USDTAmount) {
		return LocalDropf(ErrSchemaInvalid, "usdt_amount must be a non-negative integer string")
	}
	if !validBps(b.PlatformFeeBps) || !validBps(b.TradeFeeBps) {
		return LocalDropf(ErrSchemaInvalid, "fee bps out of range")
	}
	if b.ValidUntilUnix*1000 < e.Ts {
		return LocalDropf(ErrExpiredEnvelope, "quote already expired at send time")
	}
	return nil
}

func validateQuoteAccept(e *Envelope) *SwapError {
	var b QuoteAcceptBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if !isHex(b.QuoteID, 64) {
		return LocalDropf(ErrSchemaInvalid, "quote_id must be a 32-byte hex hash")
	}
	return nil
}

func validateSwapInvite(e *Envelope) *SwapError {
	var b SwapInviteBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if !strings.HasPrefix(b.SwapChannel, "swap:") {
		return LocalDropf(ErrSchemaInvalid, "swap_channel must be swap:{trade_id}")
	}
	if b.Invite.InviteePubKey == "" || b.Invite.InviterPubKey == "" {
		return LocalDropf(ErrSchemaInvalid, "invite missing pubkeys")
	}
	if b.Invite.ExpiresAt*1000 < e.Ts {
		return LocalDropf(ErrInviteExpired, "invite already expired at send time")
	}
	return nil
}

func validateTerms(e *Envelope) *SwapError {
	var b TermsBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if b.BTCSats < 1 {
		return LocalDropf(ErrSchemaInvalid, "btc_sats must be >= 1")
	}
	if !nonNegativeInteger(b.USDTAmount) {
		return LocalDropf(ErrSchemaInvalid, "usdt_amount must be a non-negative integer string")
	}
	if !validBps(b.PlatformFeeBps) || !validBps(b.TradeFeeBps) {
		return LocalDropf(ErrSchemaInvalid, "fee bps out of range")
	}
	if b.SolRecipient == "" || b.SolRefund == "" || b.SolMint == "" {
		return LocalDropf(ErrSchemaInvalid, "missing sol recipient/refund/mint")
	}
	floor := e.Ts + EnvelopeTTLFloor.Milliseconds()
	if b.SolRefundAfterUnix*1000 < floor {
		return LocalDropf(ErrRefundWindowViolated, "refund_after_unix not sufficiently in the future")
	}
	if b.TermsValidUntilUnix*1000 < e.Ts {
		return LocalDropf(ErrExpiredEnvelope, "terms already expired at send time")
	}
	return nil
}

func validateAccept(e *Envelope) *SwapError {
	var b AcceptBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if !isHex(b.TermsHash, 64) {
		return LocalDropf(ErrSchemaInvalid, "terms_hash must be a 32-byte hex hash")
	}
	return nil
}

func validateLNInvoice(e *Envelope) *SwapError {
	var b LNInvoiceBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if !isHex(b.PaymentHashHex, 64) {
		return LocalDropf(ErrSchemaInvalid, "payment_hash_hex must be a 32-byte hex hash")
	}
	if b.AmountMsat <= 0 {
		return LocalDropf(ErrSchemaInvalid, "amount_msat must be positive")
	}
	if b.Bolt11 == "" {
		return LocalDropf(ErrSchemaInvalid, "missing bolt11")
	}
	return nil
}

func validateSolEscrowCreated(e *Envelope) *SwapError {
	var b SolEscrowCreatedBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if !isHex(b.PaymentHashHex, 64) {
		return LocalDropf(ErrSchemaInvalid, "payment_hash_hex must be a 32-byte hex hash")
	}
	if !nonNegativeInteger(b.Amount) {
		return LocalDropf(ErrSchemaInvalid, "amount must be a non-negative integer string")
	}
	if b.EscrowPDA == "" || b.VaultATA == "" || b.TxSig == "" {
		return LocalDropf(ErrSchemaInvalid, "missing escrow_pda/vault_ata/tx_sig")
	}
	return nil
}

func validateStatus(e *Envelope) *SwapError {
	var b StatusBody
	if err := decodeBody(e, &b); err != nil {
		return err
	}
	if b.Claimed && b.Refunded {
		return LocalDropf(ErrSchemaInvalid, "status cannot claim and refund simultaneously")
	}
	if (b.Claimed || b.Refunded) && b.TxSig == "" {
		return LocalDropf(ErrSchemaInvalid, "terminal status missing tx_sig")
	}
	return nil
}

func validateCancel(e *Envelope) *SwapError {
	var b CancelBody
	return decodeBody(e, &b)
}

func validateSvcAnnounce(e *Envelope) *SwapError {
	var b SvcAnnounceBody
	return decodeBody(e, &b)
}
