package metrics

import "time"

// Status levels mirror the teacher's three-tier chain adapter health
// status, generalized from "is this chain RPC/transaction pipeline
// healthy" to "is this operation healthy" — the same thresholds (success
// rate, latency, recency) now apply to escrow submission and Lightning
// payment instead of Build/Sign/Broadcast.
const (
	OK       = "OK"
	Degraded = "Degraded"
	Down     = "Down"
)

// HealthStatus reports whether an operation is healthy, along with why
// not when it isn't.
type HealthStatus struct {
	Status    string
	Message   string
	CheckedAt time.Time

	LowSuccessRate  bool
	HighLatency     bool
	NoRecentSuccess bool
}

func (h HealthStatus) IsHealthy() bool  { return h.Status == OK }
func (h HealthStatus) IsDegraded() bool { return h.Status == Degraded }
func (h HealthStatus) IsDown() bool     { return h.Status == Down }
