package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message types
const (
	MessageTypeRankListUpdate = "ranklist_update"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeUnsubscribe    = "unsubscribe"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypeError          = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type       string      `json:"type"`
	RankListID int64       `json:"ranklist_id,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// RankListUpdate tells subscribers why a ranklist changed
type RankListUpdate struct {
	Reason string `json:"reason"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by ranklist ID
	clients map[int64]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client     *Client
	rankListID int64
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[int64]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for id, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, id)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.rankListID]; !ok {
				h.clients[req.rankListID] = make(map[*Client]bool)
			}
			h.clients[req.rankListID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "ranklist_id", req.rankListID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.rankListID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.rankListID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "ranklist_id", req.rankListID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the subscribers of its ranklist, or to everyone
// when the message carries no ranklist.
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.RankListID != 0 {
		targets = h.clients[message.RankListID]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastRankListUpdate notifies the subscribers of a ranklist that it changed
func (h *Hub) BroadcastRankListUpdate(rankListID int64, reason string) {
	message := &Message{
		Type:       MessageTypeRankListUpdate,
		RankListID: rankListID,
		Data:       RankListUpdate{Reason: reason},
		Timestamp:  time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "ranklist_id", rankListID)
	}
}

// Register adds a client to the hub. Like the other hub calls it returns
// without effect once the hub has stopped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a ranklist subscription
func (h *Hub) Subscribe(client *Client, rankListID int64) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, rankListID: rankListID}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a ranklist subscription
func (h *Hub) Unsubscribe(client *Client, rankListID int64) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, rankListID: rankListID}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a ranklist
func (h *Hub) GetSubscriberCount(rankListID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[rankListID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
