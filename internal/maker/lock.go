package maker

import "github.com/intercomswap/swapcore/internal/protocol"

// LockState is one of the three states a "Quote / RFQ lock" record can be in.
type LockState string

const (
	LockQuoted    LockState = "quoted"
	LockAccepting LockState = "accepting"
	LockSwapping  LockState = "swapping"
)

// rfqLock serializes concurrent acceptances on the same RFQ and enables
// idempotent re-emission of an already-issued quote.
type rfqLock struct {
	State               LockState
	TradeID             string
	RFQSigner           string
	RFQ                 protocol.RFQBody
	QuoteID             string
	Quote               protocol.QuoteBody
	SignedQuote         *protocol.Envelope
	QuoteValidUntilUnix int64
	SwapChannel         string
	InviteePubKey       string
	SignedInvite        *protocol.Envelope
	SignedTerms         *protocol.Envelope
	LockDeadlineMs      int64
	CreatedAtMs         int64
	LastSeenMs          int64
}
