// Package sidechannel implements the C6 transport adapter: a best-effort
// pub/sub client over a reconnecting WebSocket connection, generalized from
// the teacher's JSON-RPC request/response client
// (src/chainadapter/rpc/websocket.go) to join/leave/subscribe/send/stats
// plus an inbound event stream.
package sidechannel

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intercomswap/swapcore/internal/protocol"
)

// Event is a single inbound delivery: {channel, message, seq}. The
// transport is best-effort — Seq is a hint for transport-level delivery
// bookkeeping and dedup, never a correctness guarantee the state machine
// relies on.
type Event struct {
	Channel string
	Message *protocol.Envelope
	Seq     uint64
}

// ChannelStats is one entry of Stats()'s output.
type ChannelStats struct {
	Channel      string
	JoinedAtUnix int64
	LastSeenUnix int64
}

// Invite gates membership in a private swap:{trade_id} channel.
type Invite struct {
	Payload protocol.InvitePayload
	Signer  string
	Sig     string
}

// outboundFrame is the wire envelope this client speaks, generalized from
// the teacher's "jsonrpc" request/response frame
// (rpc/websocket.go's rpcReq map) to a pub/sub control frame.
type outboundFrame struct {
	Op          string             `json:"op"` // join | leave | subscribe | send
	Channel     string             `json:"channel,omitempty"`
	Channels    []string           `json:"channels,omitempty"`
	Message     *protocol.Envelope `json:"message,omitempty"`
	Invite      *Invite            `json:"invite,omitempty"`
	MessageID   string             `json:"message_id,omitempty"`
	SequenceNum uint64             `json:"sequence_num,omitempty"`
}

type inboundFrame struct {
	Op      string             `json:"op"` // event | stats | ack
	Channel string             `json:"channel,omitempty"`
	Message *protocol.Envelope `json:"message,omitempty"`
	Seq     uint64             `json:"seq,omitempty"`
	Stats   []ChannelStats     `json:"stats,omitempty"`
}

// Client is a best-effort pub/sub client over a single reconnecting
// WebSocket connection. Safe for concurrent use; outbound sends are
// serialized per the teacher's connMu discipline.
type Client struct {
	url    string
	selfPub string

	connMu sync.RWMutex
	conn   *websocket.Conn

	sendMu sync.Mutex // serializes outbound writes, one per channel's ordering

	events chan Event

	closed       atomic.Bool
	closeChan    chan struct{}
	reconnecting atomic.Bool

	reconnectBackoff     time.Duration
	maxReconnectInterval time.Duration

	seqCounter atomic.Uint64

	statsMu sync.RWMutex
	stats   map[string]ChannelStats
}

// NewClient dials url and starts the background read loop. selfPub is this
// peer's signer pubkey, used by the caller (not this package — see
// FilterSelf) to drop echoed self-broadcasts.
func NewClient(url, selfPub string) (*Client, error) {
	c := &Client{
		url:                  url,
		selfPub:              selfPub,
		events:               make(chan Event, 256),
		closeChan:            make(chan struct{}),
		reconnectBackoff:     1 * time.Second,
		maxReconnectInterval: 60 * time.Second,
		stats:                make(map[string]ChannelStats),
	}
	if err := c.connect(); err != nil {
		return nil, protocol.NewSwapError(protocol.ErrTransportUnavailable, "initial dial failed", protocol.Retryable, err)
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// Events returns the inbound delivery stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Join enters a channel, optionally presenting a signed invite for
// invite-gated swap:{trade_id} channels.
func (c *Client) Join(ctx context.Context, channel string, invite *Invite) error {
	c.statsMu.Lock()
	c.stats[channel] = ChannelStats{Channel: channel, JoinedAtUnix: time.Now().Unix(), LastSeenUnix: time.Now().Unix()}
	c.statsMu.Unlock()
	return c.writeFrame(ctx, outboundFrame{Op: "join", Channel: channel, Invite: invite})
}

// Leave exits a channel. The channel is dropped from local Stats before the
// leave frame is sent, so leaving an already-left channel is harmless; a
// failed wire send is returned as an error.
func (c *Client) Leave(ctx context.Context, channel string) error {
	c.statsMu.Lock()
	delete(c.stats, channel)
	c.statsMu.Unlock()
	return c.writeFrame(ctx, outboundFrame{Op: "leave", Channel: channel})
}

// Subscribe begins delivering inbound events for the given channels.
func (c *Client) Subscribe(ctx context.Context, channels []string) error {
	return c.writeFrame(ctx, outboundFrame{Op: "subscribe", Channels: channels})
}

// Send publishes a signed envelope on channel. message_id/sequence_num are
// transport-level delivery bookkeeping (dedup hints for the far side),
// mirrored from klingdex's SwapMessage fields — not a protocol field, the
// Envelope shape itself is untouched.
func (c *Client) Send(ctx context.Context, channel string, envelope *protocol.Envelope, messageID string) error {
	seq := c.seqCounter.Add(1)
	return c.writeFrame(ctx, outboundFrame{
		Op:          "send",
		Channel:     channel,
		Message:     envelope,
		MessageID:   messageID,
		SequenceNum: seq,
	})
}

// Stats returns a snapshot of locally tracked channel membership, used by
// the hygiene controller (C10) to find stale swap:* channels to leave.
func (c *Client) Stats() []ChannelStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	out := make([]ChannelStats, 0, len(c.stats))
	for _, s := range c.stats {
		out = append(out, s)
	}
	return out
}

// FilterSelf reports whether an inbound envelope was echoed back by the
// transport from this peer's own broadcast.
func (c *Client) FilterSelf(e *protocol.Envelope) bool {
	return e.Signer == c.selfPub
}

func (c *Client) writeFrame(ctx context.Context, frame outboundFrame) error {
	if c.closed.Load() {
		return protocol.NewSwapError(protocol.ErrTransportUnavailable, "sidechannel client is closed", protocol.Retryable, nil)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return protocol.NewSwapError(protocol.ErrTransportUnavailable, "not connected", protocol.Retryable, nil)
	}

	deadline, ok := ctx.Deadline()
	if ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(frame); err != nil {
		go c.reconnect()
		return protocol.NewSwapError(protocol.ErrTransportUnavailable, "write failed", protocol.Retryable, err)
	}
	return nil
}

// reconnect retries the dial with exponential backoff, grounded on
// rpc/websocket.go's reconnect loop.
func (c *Client) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	backoff := c.reconnectBackoff
	for {
		select {
		case <-c.closeChan:
			return
		case <-time.After(backoff):
			if err := c.connect(); err != nil {
				backoff *= 2
				if backoff > c.maxReconnectInterval {
					backoff = c.maxReconnectInterval
				}
				continue
			}
			go c.readLoop()
			return
		}
	}
}

func (c *Client) readLoop() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-c.closeChan:
			return
		default:
			var raw json.RawMessage
			if err := conn.ReadJSON(&raw); err != nil {
				go c.reconnect()
				return
			}
			var frame inboundFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}
			switch frame.Op {
			case "event":
				if frame.Message == nil {
					continue
				}
				c.statsMu.Lock()
				if s, ok := c.stats[frame.Channel]; ok {
					s.LastSeenUnix = time.Now().Unix()
					c.stats[frame.Channel] = s
				}
				c.statsMu.Unlock()
				select {
				case c.events <- Event{Channel: frame.Channel, Message: frame.Message, Seq: frame.Seq}:
				default:
					// Event backlog full: drop, consistent with the
					// transport's best-effort contract.
				}
			case "stats":
				c.statsMu.Lock()
				for _, s := range frame.Stats {
					c.stats[s.Channel] = s
				}
				c.statsMu.Unlock()
			}
		}
	}
}

// Close performs a best-effort shutdown of the underlying connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closeChan)
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
