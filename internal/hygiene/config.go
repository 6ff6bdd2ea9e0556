// Package hygiene implements the leave controller: a periodic sweep that
// leaves swap:{trade_id} channels neither engine tracks any longer.
package hygiene

// Config carries the hygiene loop's two timing knobs.
type Config struct {
	IntervalMs      int64 `json:"hygiene_interval_ms"`
	LeaveCooldownMs int64 `json:"swap_auto_leave_cooldown_ms"`
}

// DefaultConfig leaves stale channels briskly but not so eagerly that a
// flapping Stats() snapshot causes join/leave thrash.
func DefaultConfig() Config {
	return Config{
		IntervalMs:      1_000,
		LeaveCooldownMs: 30_000,
	}
}
