package protocol

// Body types for each envelope kind in the closed set of message kinds.
// These are the "declared fields" canonicalBody marshals through when
// Unsigned builds an envelope, so an outbound body carries exactly these
// fields. A received envelope is hashed and verified over its body as
// received: unknown fields in it are not stripped and do change the hash.

// RFQBody is the body of a request-for-quote on the public RFQ channel.
type RFQBody struct {
	Pair                  string `json:"pair"`
	Direction             string `json:"direction"`
	AppHash               string `json:"app_hash"`
	BTCSats               int64  `json:"btc_sats"`
	USDTAmount            string `json:"usdt_amount"`
	USDTDecimals          int    `json:"usdt_decimals"`
	SolMint               string `json:"sol_mint"`
	SolRecipient          string `json:"sol_recipient"`
	MaxPlatformFeeBps     int    `json:"max_platform_fee_bps"`
	MaxTradeFeeBps        int    `json:"max_trade_fee_bps"`
	MaxTotalFeeBps        int    `json:"max_total_fee_bps"`
	MinSolRefundWindowSec int64  `json:"min_sol_refund_window_sec"`
	MaxSolRefundWindowSec int64  `json:"max_sol_refund_window_sec"`
	ValidUntilUnix        int64  `json:"valid_until_unix"`
}

// QuoteBody is the maker's response to an RFQ.
type QuoteBody struct {
	RFQID                string `json:"rfq_id"`
	AppHash              string `json:"app_hash"`
	Pair                 string `json:"pair"`
	Direction            string `json:"direction"`
	BTCSats              int64  `json:"btc_sats"`
	USDTAmount           string `json:"usdt_amount"`
	USDTDecimals         int    `json:"usdt_decimals"`
	PlatformFeeBps       int    `json:"platform_fee_bps"`
	PlatformFeeCollector string `json:"platform_fee_collector"`
	TradeFeeBps          int    `json:"trade_fee_bps"`
	TradeFeeCollector    string `json:"trade_fee_collector"`
	SolRefundAfterUnix   int64  `json:"sol_refund_after_unix"`
	ValidUntilUnix       int64  `json:"valid_until_unix"`
}

// QuoteAcceptBody is the taker's acceptance of a QUOTE.
type QuoteAcceptBody struct {
	QuoteID      string `json:"quote_id"`
	SolRecipient string `json:"sol_recipient"`
}

// InvitePayload gates entry to a private swap:{trade_id} channel.
type InvitePayload struct {
	InviteePubKey string `json:"inviteePubKey"`
	InviterPubKey string `json:"inviterPubKey"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// SwapInviteBody carries the signed invite onto the public RFQ channel.
type SwapInviteBody struct {
	SwapChannel string        `json:"swap_channel"`
	Invite      InvitePayload `json:"invite"`
}

// TermsBody is the binding, signed snapshot of economically material
// parameters, matching the TradeState.Terms fields 1:1.
type TermsBody struct {
	Pair                 string `json:"pair"`
	Direction            string `json:"direction"`
	AppHash              string `json:"app_hash"`
	BTCSats              int64  `json:"btc_sats"`
	USDTAmount           string `json:"usdt_amount"`
	USDTDecimals         int    `json:"usdt_decimals"`
	SolMint              string `json:"sol_mint"`
	SolRecipient         string `json:"sol_recipient"`
	SolRefund            string `json:"sol_refund"`
	SolRefundAfterUnix   int64  `json:"sol_refund_after_unix"`
	PlatformFeeBps       int    `json:"platform_fee_bps"`
	PlatformFeeCollector string `json:"platform_fee_collector"`
	TradeFeeBps          int    `json:"trade_fee_bps"`
	TradeFeeCollector    string `json:"trade_fee_collector"`
	LNReceiverPeer       string `json:"ln_receiver_peer"`
	LNPayerPeer          string `json:"ln_payer_peer"`
	TermsValidUntilUnix  int64  `json:"terms_valid_until_unix"`
}

// AcceptBody is the taker's acceptance of TERMS.
type AcceptBody struct {
	TermsHash string `json:"terms_hash"`
}

// LNInvoiceBody carries a freshly created Lightning invoice.
type LNInvoiceBody struct {
	Bolt11          string `json:"bolt11"`
	PaymentHashHex  string `json:"payment_hash_hex"`
	AmountMsat      int64  `json:"amount_msat"`
	ExpiresAtUnix   int64  `json:"expires_at_unix"`
}

// SolEscrowCreatedBody announces a confirmed on-chain escrow.
type SolEscrowCreatedBody struct {
	ProgramID       string `json:"program_id"`
	EscrowPDA       string `json:"escrow_pda"`
	VaultATA        string `json:"vault_ata"`
	Mint            string `json:"mint"`
	PaymentHashHex  string `json:"payment_hash_hex"`
	Amount          string `json:"amount"`
	RefundAfterUnix int64  `json:"refund_after_unix"`
	Recipient       string `json:"recipient"`
	Refund          string `json:"refund"`
	TxSig           string `json:"tx_sig"`
}

// StatusBody carries ln_paid/claimed/refunded progress updates on the swap
// channel. Only one of Claimed/Refunded is ever true on a given envelope.
type StatusBody struct {
	LNPaid    bool   `json:"ln_paid,omitempty"`
	Claimed   bool   `json:"claimed,omitempty"`
	Refunded  bool   `json:"refunded,omitempty"`
	TxSig     string `json:"tx_sig,omitempty"`
}

// CancelBody carries an optional human-readable reason.
type CancelBody struct {
	Reason string `json:"reason,omitempty"`
}

// SvcAnnounceBody advertises a maker's presence and capabilities on the
// public RFQ channel.
type SvcAnnounceBody struct {
	Pair    string `json:"pair"`
	AppHash string `json:"app_hash"`
	Uptime  int64  `json:"uptime_sec"`
}
