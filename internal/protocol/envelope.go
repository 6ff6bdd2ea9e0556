// Package protocol defines the signed envelope wire format shared by the
// maker and taker engines, and the canonical encoding/signing rules that
// let two peers converge on the same bytes despite an unreliable
// transport.
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
)

// EnvelopeKind is the closed set of message kinds an envelope can carry.
type EnvelopeKind string

const (
	KindRFQ              EnvelopeKind = "RFQ"
	KindQuote            EnvelopeKind = "QUOTE"
	KindQuoteAccept      EnvelopeKind = "QUOTE_ACCEPT"
	KindSwapInvite       EnvelopeKind = "SWAP_INVITE"
	KindTerms            EnvelopeKind = "TERMS"
	KindAccept           EnvelopeKind = "ACCEPT"
	KindLNInvoice        EnvelopeKind = "LN_INVOICE"
	KindSolEscrowCreated EnvelopeKind = "SOL_ESCROW_CREATED"
	KindStatus           EnvelopeKind = "STATUS"
	KindCancel           EnvelopeKind = "CANCEL"
	KindSvcAnnounce      EnvelopeKind = "SVC_ANNOUNCE"
)

// ProtocolVersion is the current `v` carried by every envelope this engine emits.
const ProtocolVersion = 1

// Envelope is the inter-peer message exchanged over the transport. It is a value
// object: once constructed it must not be mutated, only replaced.
type Envelope struct {
	V       int             `json:"v"`
	Kind    EnvelopeKind    `json:"kind"`
	TradeID string          `json:"trade_id"`
	Ts      int64           `json:"ts"`
	Nonce   string          `json:"nonce"`
	Body    json.RawMessage `json:"body"`
	Signer  string          `json:"signer"`
	Sig     string          `json:"sig"`
}

// unsignedFields is exactly the set of fields the canonical encoding and
// signature cover. Listing it explicitly keeps `signer`/`sig` out of the
// hash input by construction instead of by convention.
type unsignedFields struct {
	V       int             `json:"v"`
	Kind    EnvelopeKind    `json:"kind"`
	TradeID string          `json:"trade_id"`
	Ts      int64           `json:"ts"`
	Nonce   string          `json:"nonce"`
	Body    json.RawMessage `json:"body"`
}

// Unsigned builds the canonical (unsigned) form of an envelope.
func Unsigned(kind EnvelopeKind, tradeID string, ts int64, nonce string, body interface{}) (*Envelope, error) {
	raw, err := canonicalBody(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode body: %w", err)
	}
	return &Envelope{
		V:       ProtocolVersion,
		Kind:    kind,
		TradeID: tradeID,
		Ts:      ts,
		Nonce:   nonce,
		Body:    raw,
	}, nil
}

// canonicalBody re-marshals a body through a sorted-key encoder so unknown
// or reordered struct fields never change the hash. Declared fields only:
// a body value must be a struct (or map) whose json tags are the complete,
// intended field set.
func canonicalBody(body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return canonicalMarshal(generic)
}

// canonicalMarshal renders a decoded JSON value with map keys sorted, so
// that the same logical document always produces the same bytes regardless
// of field declaration order.
func canonicalMarshal(v interface{}) (json.RawMessage, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte{'['}
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := canonicalMarshal(elem)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// canonicalEncoding returns the exact byte sequence that is hashed and signed.
func canonicalEncoding(e *Envelope) ([]byte, error) {
	u := unsignedFields{
		V:       e.V,
		Kind:    e.Kind,
		TradeID: e.TradeID,
		Ts:      e.Ts,
		Nonce:   e.Nonce,
		Body:    e.Body,
	}
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return canonicalMarshal(generic)
}

// Hash returns the 32-byte canonical digest of the unsigned envelope. It is
// used both as the signing input's fingerprint and as `rfq_id`/`quote_id`/
// `terms_hash` when a later envelope must reference this one.
func Hash(e *Envelope) ([32]byte, error) {
	enc, err := canonicalEncoding(e)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(enc), nil
}

// HashHex is Hash with lowercase hex formatting, the wire representation
// used in `rfq_id`/`quote_id`/`terms_hash` fields.
func HashHex(e *Envelope) (string, error) {
	h, err := Hash(e)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// Sign produces the lowercase-hex signature over the canonical encoding of
// the unsigned envelope, using the peer's Solana Ed25519 keypair.
func Sign(e *Envelope, sk solana.PrivateKey) (string, error) {
	enc, err := canonicalEncoding(e)
	if err != nil {
		return "", err
	}
	sig, err := sk.Sign(enc)
	if err != nil {
		return "", fmt.Errorf("protocol: sign: %w", err)
	}
	return hex.EncodeToString(sig[:]), nil
}

// Attach returns a new, signed envelope; the input is never mutated.
func Attach(e *Envelope, signerPubHex, sigHex string) *Envelope {
	signed := *e
	signed.Signer = signerPubHex
	signed.Sig = sigHex
	return &signed
}

// SignAndAttach is the common Sign+Attach sequence for a local peer signing
// its own outbound envelope.
func SignAndAttach(e *Envelope, sk solana.PrivateKey) (*Envelope, error) {
	sigHex, err := Sign(e, sk)
	if err != nil {
		return nil, err
	}
	pubHex := hex.EncodeToString(sk.PublicKey().Bytes())
	return Attach(e, pubHex, sigHex), nil
}

// Verify cryptographically checks `sig` against `signer` over the canonical
// encoding of the envelope's unsigned fields. It does not perform schema or
// value-range validation — that is the Validator's job (validate.go).
func Verify(e *Envelope) bool {
	if len(e.Signer) != 64 || len(e.Sig) != 128 {
		return false
	}
	pubBytes, err := hex.DecodeString(e.Signer)
	if err != nil || len(pubBytes) != 32 {
		return false
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != 64 {
		return false
	}
	enc, err := canonicalEncoding(e)
	if err != nil {
		return false
	}
	var pub solana.PublicKey
	copy(pub[:], pubBytes)
	var sig solana.Signature
	copy(sig[:], sigBytes)
	return sig.Verify(pub, enc)
}
