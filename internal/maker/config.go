// Package maker implements the C8 maker engine: the RFQ->quote->invite->
// terms->invoice->escrow loop a market maker runs on the public RFQ channel
// and each private swap:{trade_id} channel it opens.
package maker

import (
	"strconv"
	"time"
)

// Config carries every tunable the engine's externally described knobs
// name, so its JSON shape is a direct transliteration of those knobs
// rather than an invented structure.
type Config struct {
	Pair                 string `json:"pair"`
	Direction            string `json:"direction"`
	AppHash              string `json:"app_hash"`
	ProgramID            string `json:"program_id"`
	SolMint              string `json:"sol_mint"`
	// SolRefund is the maker's own refund address: the escrow's refund
	// authority, reclaiming the vault if the taker never claims. The
	// escrow's recipient is always the taker's RFQ.SolRecipient — the
	// maker never quotes its own receiving address as "recipient".
	SolRefund            string `json:"sol_refund"`
	PayerTokenAccount    string `json:"payer_token_account"`
	PlatformFeeBps       int    `json:"platform_fee_bps"`
	PlatformFeeCollector string `json:"platform_fee_collector"`
	TradeFeeBps          int    `json:"trade_fee_bps"`
	TradeFeeCollector    string `json:"trade_fee_collector"`

	QuoteValidSec       int64 `json:"quote_valid_sec"`
	SolRefundWindowSec  int64 `json:"sol_refund_window_sec"`
	SwapTimeoutSec      int64 `json:"swap_timeout_sec"`
	TermsValidSec       int64 `json:"terms_valid_sec"`
	InviteValiditySec   int64 `json:"invite_validity_sec"`

	ResendBaselineMs    int64 `json:"resend_baseline_ms"`
	ResendWidenedMs     int64 `json:"resend_widened_ms"`
	ResendWidenAfterMs  int64 `json:"resend_widen_after_ms"`
	RetryResendMinMs    int64 `json:"retry_resend_min_ms"`
	LockPrunePeriodMs   int64 `json:"lock_prune_period_ms"`

	RFQRateLimitCount  int           `json:"rfq_rate_limit_count"`
	RFQRateLimitWindow time.Duration `json:"rfq_rate_limit_window"`
}

// DefaultConfig matches the documented floors/defaults (retry_resend_min_ms
// floor 5s; resend baseline 10s widened to 20-25s after 30s silence; lock
// pruning every ~5s).
func DefaultConfig() Config {
	return Config{
		QuoteValidSec:      60,
		SolRefundWindowSec: 3600,
		SwapTimeoutSec:     600,
		TermsValidSec:      120,
		InviteValiditySec:  300,

		ResendBaselineMs:   10_000,
		ResendWidenedMs:    22_000,
		ResendWidenAfterMs: 30_000,
		RetryResendMinMs:   5_000,
		LockPrunePeriodMs:  5_000,

		RFQRateLimitCount:  20,
		RFQRateLimitWindow: time.Minute,
	}
}

// rfqLockKey is the canonical tuple identifying a "Quote / RFQ lock"
// record, serialized to a plain string so it can key a Go map.
type rfqLockKey string

func computeLockKey(signer string, body rfqKeyFields) rfqLockKey {
	return rfqLockKey(signer + "|" + body.TradeID + "|" + body.Pair + "|" + body.Direction + "|" +
		itoa64(body.BTCSats) + "|" + body.USDTAmount + "|" +
		itoa(body.MaxPlatformFeeBps) + "|" + itoa(body.MaxTradeFeeBps) + "|" + itoa(body.MaxTotalFeeBps) + "|" +
		itoa64(body.MinSolRefundWindowSec) + "|" + itoa64(body.MaxSolRefundWindowSec) + "|" +
		body.SolRecipient + "|" + body.SolMint + "|" + body.AppHash)
}

// rfqKeyFields is the subset of RFQBody (plus the envelope's trade_id) that
// participates in the lock key.
type rfqKeyFields struct {
	TradeID               string
	Pair                  string
	Direction             string
	BTCSats               int64
	USDTAmount            string
	MaxPlatformFeeBps     int
	MaxTradeFeeBps        int
	MaxTotalFeeBps        int
	MinSolRefundWindowSec int64
	MaxSolRefundWindowSec int64
	SolRecipient          string
	SolMint               string
	AppHash               string
}

func itoa64(i int64) string {
	return strconv.FormatInt(i, 10)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
