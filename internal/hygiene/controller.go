package hygiene

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/intercomswap/swapcore/internal/sidechannel"
)

// Transport is the subset of *sidechannel.Client the hygiene controller
// drives: periodic membership enumeration plus leave.
type Transport interface {
	Stats() []sidechannel.ChannelStats
	Leave(ctx context.Context, channel string) error
}

// Tracker reports the swap:{trade_id} channels an engine still considers
// live. Both internal/maker.Engine and internal/taker.Engine implement
// this so the controller can run against either or both.
type Tracker interface {
	TrackedChannels() map[string]struct{}
}

// Controller is the C10 hygiene/leave loop: on hygiene_interval_ms,
// enumerate subscribed channels via the transport and leave every swap:*
// channel no tracker still claims — covering trade-terminal, invite-expired
// (the taker's pending bookkeeping drops an expired invite before ever
// joining, so it is simply absent from TrackedChannels), and waiting-terms
// timeout cases alike, without needing to know which case applies.
//
// Grounded on internal/services/ratelimit.RateLimiter's sliding-window,
// per-key timestamp map: this controller uses the same map[string]time.Time
// + mutex shape, simplified from a counted window to a single-cooldown
// gate, since a leave only ever needs "not twice within the cooldown",
// never a rate count.
type Controller struct {
	cfg       Config
	transport Transport
	trackers  []Tracker

	mu        sync.Mutex
	lastLeave map[string]time.Time
}

// NewController wires the hygiene loop against one or more trackers (a
// maker engine, a taker engine, or both, depending on which the process
// runs).
func NewController(cfg Config, transport Transport, trackers ...Tracker) *Controller {
	return &Controller{
		cfg:       cfg,
		transport: transport,
		trackers:  trackers,
		lastLeave: make(map[string]time.Time),
	}
}

// Run blocks until ctx is canceled, sweeping every hygiene_interval_ms.
func (c *Controller) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs a single pass: leave every swap:* channel that appears in the
// transport's membership but in none of the trackers' live sets, subject
// to per-channel leave cooldown.
func (c *Controller) Sweep(ctx context.Context) {
	tracked := make(map[string]struct{})
	for _, t := range c.trackers {
		for ch := range t.TrackedChannels() {
			tracked[ch] = struct{}{}
		}
	}

	now := time.Now()
	for _, stat := range c.transport.Stats() {
		if !strings.HasPrefix(stat.Channel, "swap:") {
			continue // the public RFQ channel is never hygiene's concern
		}
		if _, live := tracked[stat.Channel]; live {
			continue
		}
		if c.onCooldown(stat.Channel, now) {
			continue
		}
		_ = c.transport.Leave(ctx, stat.Channel) // best-effort, same as every other transport op
	}
}

func (c *Controller) onCooldown(channel string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cooldown := time.Duration(c.cfg.LeaveCooldownMs) * time.Millisecond
	if last, ok := c.lastLeave[channel]; ok && now.Sub(last) < cooldown {
		return true
	}
	c.lastLeave[channel] = now
	return false
}
