package sidechannel

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapcore/internal/protocol"
)

// echoServer accepts one connection and echoes every "send" frame back as
// an "event" frame, simulating a relay that fans a broadcast back to all
// channel members (including the sender, exercising FilterSelf).
func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var frame outboundFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Op == "send" {
				_ = conn.WriteJSON(inboundFrame{
					Op:      "event",
					Channel: frame.Channel,
					Message: frame.Message,
					Seq:     frame.SequenceNum,
				})
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestJoinSendReceivesEcho(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	sk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	pub := hex.EncodeToString(sk.PublicKey().Bytes())

	client, err := NewClient(wsURL(srv.URL), pub)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Join(ctx, "swap:trade-1", nil))

	env, err := protocol.Unsigned(protocol.KindCancel, "trade-1", time.Now().Unix(), "n1", protocol.CancelBody{Reason: "test"})
	require.NoError(t, err)
	signed, err := protocol.SignAndAttach(env, sk)
	require.NoError(t, err)

	require.NoError(t, client.Send(ctx, "swap:trade-1", signed, "msg-1"))

	select {
	case evt := <-client.Events():
		require.Equal(t, "swap:trade-1", evt.Channel)
		require.Equal(t, signed.Signer, evt.Message.Signer)
		require.True(t, client.FilterSelf(evt.Message))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed event")
	}
}

func TestStatsTracksJoinedChannels(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	client, err := NewClient(wsURL(srv.URL), "self-pub")
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Join(ctx, "swap:trade-a", nil))
	require.NoError(t, client.Join(ctx, "swap:trade-b", nil))

	stats := client.Stats()
	require.Len(t, stats, 2)

	require.NoError(t, client.Leave(ctx, "swap:trade-a"))
	stats = client.Stats()
	require.Len(t, stats, 1)
	require.Equal(t, "swap:trade-b", stats[0].Channel)
}

func TestFilterSelfDistinguishesPeers(t *testing.T) {
	client := &Client{selfPub: "AAA"}
	mine := &protocol.Envelope{Signer: "AAA"}
	theirs := &protocol.Envelope{Signer: "BBB"}
	require.True(t, client.FilterSelf(mine))
	require.False(t, client.FilterSelf(theirs))
}
