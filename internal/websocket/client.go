package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	// A peer that misses a keepalive for this long is considered gone.
	idleTimeout       = 60 * time.Second
	keepaliveInterval = idleTimeout * 9 / 10
	maxInboundBytes   = 4096
	sendBufferSize    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Ranklists are public; the updates carry no member data.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one browser connection watching zero or more ranklists
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a request sent by the browser
type ClientMessage struct {
	Type       string `json:"type"`
	RankListID int64  `json:"ranklist_id,omitempty"`
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With("client_id", id),
	}
}

// ServeWs upgrades the request and attaches the connection to the hub
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	go client.writeLoop()
	go client.readLoop()

	client.logger.Debug("new websocket connection")
}

// readLoop handles requests until the peer goes away, then detaches from the hub.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}

		var req ClientMessage
		if err := json.Unmarshal(raw, &req); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			c.fail("invalid message format")
			continue
		}
		c.handleMessage(req)
	}
}

func (c *Client) handleMessage(req ClientMessage) {
	switch req.Type {
	case MessageTypeSubscribe:
		if req.RankListID <= 0 {
			c.fail("ranklist_id required for subscribe")
			return
		}
		c.hub.Subscribe(c, req.RankListID)
		c.reply("subscribed", req.RankListID, ack)

	case MessageTypeUnsubscribe:
		if req.RankListID <= 0 {
			return
		}
		c.hub.Unsubscribe(c, req.RankListID)
		c.reply("unsubscribed", req.RankListID, ack)

	case MessageTypePing:
		c.reply(MessageTypePong, 0, nil)

	default:
		c.logger.Debug("unknown message type", "type", req.Type)
	}
}

var ack = map[string]string{"status": "ok"}

func (c *Client) fail(reason string) {
	c.reply(MessageTypeError, 0, map[string]string{"error": reason})
}

// reply queues a message for this client only. It is dropped when the send
// buffer is full; a slow reader gets its next ranklist update instead.
func (c *Client) reply(kind string, rankListID int64, data interface{}) {
	payload, err := json.Marshal(Message{
		Type:       kind,
		RankListID: rankListID,
		Data:       data,
		Timestamp:  time.Now(),
	})
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("client buffer full, dropping reply", "type", kind)
	}
}

// writeLoop owns all writes to the connection. Each queued payload goes out as
// its own text frame so every frame is a single JSON document.
func (c *Client) writeLoop() {
	keepalive := time.NewTicker(keepaliveInterval)
	defer func() {
		keepalive.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind    = websocket.TextMessage
			payload []byte
		)
		select {
		case msg, open := <-c.send:
			if !open {
				kind = websocket.CloseMessage
			}
			payload = msg
		case <-keepalive.C:
			kind = websocket.PingMessage
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(kind, payload); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}
