package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"claimServer/events"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Every claim event
	ChannelAll = "claims"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// FIDChannel is the per-player channel name
func FIDChannel(fid int64) string {
	return fmt.Sprintf("fid:%d", fid)
}

// Client is one connected websocket with its subscriptions
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn

	mu            sync.RWMutex
	subscriptions map[string]bool

	send chan []byte
}

// ClientMessage is what clients send us
type ClientMessage struct {
	Type string `json:"type"`
	Data struct {
		Channel string `json:"channel,omitempty"`
		FID     int64  `json:"fid,omitempty"`
	} `json:"data"`
}

// Hub fans claim events out to websocket subscribers. It implements
// events.Publisher.
type Hub struct {
	upgrader websocket.Upgrader

	clientsMutex sync.RWMutex
	clients      map[*Client]bool

	unregister chan *Client
	done       chan struct{}

	clientIDCounter atomic.Int64
}

var _ events.Publisher = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the unregister loop. It returns when ctx is done, after
// disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	logrus.Info("🚀 Claim event hub started")

	for {
		select {
		case client := <-h.unregister:
			h.clientsMutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.clientsMutex.Unlock()
			logrus.Debugf("👋 Client unregistered: %s (Total: %d)", client.ID, total)

		case <-ctx.Done():
			h.clientsMutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			close(h.done)
			h.clientsMutex.Unlock()
			logrus.Info("🛑 Claim event hub stopped")
			return
		}
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Publish pushes a committed claim to subscribers of the player's channel and
// of the all-claims channel. The feed is unauthenticated, so failures and
// reconcile notices are not forwarded and signer and reason are stripped.
// Slow clients drop messages.
func (h *Hub) Publish(ctx context.Context, ev events.Event) error {
	if ev.Kind != events.KindCommitted {
		return nil
	}
	ev.Signer = ""
	ev.Reason = ""

	data, err := json.Marshal(map[string]interface{}{
		"type": "claim_" + string(ev.Kind),
		"data": ev,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal claim event: %w", err)
	}

	fidChannel := FIDChannel(ev.FID)

	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()

	for client := range h.clients {
		if !client.subscribed(ChannelAll) && !client.subscribed(fidChannel) {
			continue
		}
		select {
		case client.send <- data:
		default:
			logrus.Warnf("⚠️  Client %s send buffer full, skipping message", client.ID)
		}
	}
	return nil
}

// ServeWS upgrades the request and registers the client
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("❌ WebSocket upgrade failed")
		return
	}

	client := &Client{
		ID:            fmt.Sprintf("client-%d", h.clientIDCounter.Add(1)),
		hub:           h,
		conn:          conn,
		subscriptions: make(map[string]bool),
		send:          make(chan []byte, sendBuffer),
	}
	logrus.Debugf("📥 WebSocket connection from %s as %s", r.RemoteAddr, client.ID)

	if !h.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) add(client *Client) bool {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[client] = true
	logrus.Debugf("✅ Client registered: %s (Total: %d)", client.ID, len(h.clients))
	return true
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[channel]
}

// writePump sends queued messages and keepalive pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.Debugf("❌ Write error for client %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles subscription requests until the connection drops
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Debugf("❌ Read error for client %s: %v", c.ID, err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(map[string]interface{}{"type": "error", "error": "invalid message"})
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	channel := msg.Data.Channel
	if msg.Data.FID > 0 {
		channel = FIDChannel(msg.Data.FID)
	}

	switch msg.Type {
	case "subscribe":
		if channel == "" {
			c.reply(map[string]interface{}{"type": "error", "error": "fid or channel is required"})
			return
		}
		c.mu.Lock()
		c.subscriptions[channel] = true
		c.mu.Unlock()
		logrus.Debugf("📡 Client %s subscribed to: %s", c.ID, channel)
		c.reply(map[string]interface{}{"type": "subscribed", "channel": channel})

	case "unsubscribe":
		c.mu.Lock()
		delete(c.subscriptions, channel)
		c.mu.Unlock()
		c.reply(map[string]interface{}{"type": "unsubscribed", "channel": channel})

	default:
		c.reply(map[string]interface{}{"type": "error", "error": "unknown message type"})
	}
}

// reply queues a direct response through the hub's lock so it cannot race
// with the channel being closed
func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	c.hub.clientsMutex.RLock()
	defer c.hub.clientsMutex.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
