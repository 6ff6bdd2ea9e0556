// Package taker implements the C9 taker engine: the invite-gated
// join->accept-terms->pay->claim loop a peer runs after posting an RFQ and
// receiving a SWAP_INVITE addressed to it, plus the waiting-terms recovery
// bookkeeping.
package taker

// Config carries every taker-side cap and timing knob the engine enforces.
type Config struct {
	Pair      string `json:"pair"`
	Direction string `json:"direction"`
	AppHash   string `json:"app_hash"`
	ProgramID string `json:"program_id"`
	SolMint   string `json:"sol_mint"`
	// SolRecipient is this taker's own address: where SPL tokens must be
	// delivered on claim. SolRefund is the maker's reclaim address and is
	// read back from TERMS, never configured locally.
	SolRecipient       string `json:"sol_recipient"`
	RecipientTokenAccount string `json:"recipient_token_account"`

	MaxPlatformFeeBps     int   `json:"max_platform_fee_bps"`
	MaxTradeFeeBps        int   `json:"max_trade_fee_bps"`
	MaxTotalFeeBps        int   `json:"max_total_fee_bps"`
	MinSolRefundWindowSec int64 `json:"min_sol_refund_window_sec"`
	MaxSolRefundWindowSec int64 `json:"max_sol_refund_window_sec"`

	WaitingTermsPingCooldownMs  int64 `json:"waiting_terms_ping_cooldown_ms"`
	WaitingTermsMaxPings        int   `json:"waiting_terms_max_pings"`
	WaitingTermsMaxWaitMs       int64 `json:"waiting_terms_max_wait_ms"`
	WaitingTermsLeaveOnTimeout  bool  `json:"waiting_terms_leave_on_timeout"`

	// ClaimRetryIntervalMs governs how often a failed claim (valid preimage,
	// submit error) is retried before refund_after_unix.
	ClaimRetryIntervalMs int64 `json:"claim_retry_interval_ms"`
}

// DefaultConfig matches the protocol's documented fee ceilings and timing floors.
func DefaultConfig() Config {
	return Config{
		MaxPlatformFeeBps:     100,
		MaxTradeFeeBps:        100,
		MaxTotalFeeBps:        200,
		MinSolRefundWindowSec: 600,
		MaxSolRefundWindowSec: 7200,

		WaitingTermsPingCooldownMs: 5_000,
		WaitingTermsMaxPings:       6,
		WaitingTermsMaxWaitMs:      60_000,
		WaitingTermsLeaveOnTimeout: true,

		ClaimRetryIntervalMs: 10_000,
	}
}
