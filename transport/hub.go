package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chorus/chat-service/protocol"
	"chorus/chat-service/utils"
)

// Client is one push connection attached to the hub
type Client interface {
	ID() string
	UserID() string
	Send(data []byte) error
	Close() error
}

// Hub fans events out to every attached websocket client. There is a single
// shared room.
type Hub struct {
	clients map[string]Client
	mu      sync.RWMutex
	logger  *utils.Logger
}

func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		clients: make(map[string]Client),
		logger:  logger,
	}
}

func (h *Hub) Register(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Push client connected", "client_id", c.ID(), "user_id", c.UserID(), "clients", count)
}

func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID()]
	delete(h.clients, c.ID())
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("Push client disconnected", "client_id", c.ID(), "user_id", c.UserID(), "clients", count)
	}
}

// Send implements Dispatcher. Directed events reach only the recipient's
// connections.
func (h *Hub) Send(_ context.Context, event protocol.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Kind, err)
	}
	h.Deliver(event.To, data)
	return nil
}

// Broadcast writes an encoded event to all clients
func (h *Hub) Broadcast(data []byte) {
	h.Deliver(protocol.Everyone, data)
}

// Deliver writes an encoded event to the clients of userID, or to all clients
// when userID is protocol.Everyone. Clients whose buffer is full are dropped.
func (h *Hub) Deliver(userID string, data []byte) {
	var failed []Client

	h.mu.RLock()
	for _, c := range h.clients {
		if userID != protocol.Everyone && c.UserID() != userID {
			continue
		}
		if err := c.Send(data); err != nil {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()

	if len(failed) > 0 {
		h.drop(failed)
	}
}

// drop unregisters and closes clients. A client already removed by a
// concurrent delivery is left alone, so each client is closed once.
func (h *Hub) drop(clients []Client) {
	removed := make([]Client, 0, len(clients))

	h.mu.Lock()
	for _, c := range clients {
		if current, ok := h.clients[c.ID()]; ok && current == c {
			delete(h.clients, c.ID())
			removed = append(removed, c)
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	for _, c := range removed {
		c.Close()
		h.logger.Warn("Dropped slow push client", "client_id", c.ID(), "user_id", c.UserID(), "clients", count)
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
