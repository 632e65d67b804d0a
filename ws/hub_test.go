package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"claimServer/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type    string       `json:"type"`
	Channel string       `json:"channel"`
	Data    events.Event `json:"data"`
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg received
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, data map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "subscribe", "data": data}))
	ack := readMsg(t, conn)
	require.Equal(t, "subscribed", ack.Type)
}

func TestHubDeliversToPlayerChannel(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, map[string]interface{}{"fid": 100})

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, events.Event{Kind: events.KindCommitted, FID: 200, TxHash: "0x2"}))
	require.NoError(t, hub.Publish(ctx, events.Event{Kind: events.KindCommitted, FID: 100, TxHash: "0x1"}))

	msg := readMsg(t, conn)
	assert.Equal(t, "claim_committed", msg.Type)
	assert.Equal(t, int64(100), msg.Data.FID)
	assert.Equal(t, "0x1", msg.Data.TxHash)
}

func TestHubAllClaimsChannel(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, map[string]interface{}{"channel": ChannelAll})

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, events.Event{Kind: events.KindCommitted, FID: 7, TxHash: "0x7"}))
	require.NoError(t, hub.Publish(ctx, events.Event{Kind: events.KindCommitted, FID: 8, TxHash: "0x8"}))

	first := readMsg(t, conn)
	second := readMsg(t, conn)
	assert.Equal(t, "claim_committed", first.Type)
	assert.Equal(t, int64(7), first.Data.FID)
	assert.Equal(t, "claim_committed", second.Type)
	assert.Equal(t, int64(8), second.Data.FID)
}

func TestHubForwardsOnlyCommittedClaims(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, map[string]interface{}{"channel": ChannelAll})

	signer := "0x00000000000000000000000000000000000000a1"
	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, events.Event{Kind: events.KindFailed, FID: 7, Signer: signer, Reason: "nonce too low: next nonce 8, tx nonce 7"}))
	require.NoError(t, hub.Publish(ctx, events.Event{Kind: events.KindReconcile, FID: 8, Signer: signer, TxHash: "0x8", Reason: "dial tcp 10.0.0.4:8545: i/o timeout"}))
	require.NoError(t, hub.Publish(ctx, events.Event{Kind: events.KindCommitted, FID: 9, Signer: signer, TxHash: "0x9", Reason: "ledger commit failed"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), signer)
	assert.NotContains(t, string(raw), "ledger commit failed")

	var msg received
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "claim_committed", msg.Type)
	assert.Equal(t, int64(9), msg.Data.FID)
	assert.Equal(t, "0x9", msg.Data.TxHash)
	assert.Empty(t, msg.Data.Signer)
	assert.Empty(t, msg.Data.Reason)
}

func TestHubRejectsBadMessages(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "error", readMsg(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "subscribe"}))
	assert.Equal(t, "error", readMsg(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "dance"}))
	assert.Equal(t, "error", readMsg(t, conn).Type)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, map[string]interface{}{"fid": 1})
	assert.Equal(t, 1, hub.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
