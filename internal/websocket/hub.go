package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a real-time change notification scoped to one household.
type Message struct {
	Type       string           `json:"type"`
	Collection string           `json:"collection,omitempty"`
	Action     string           `json:"action,omitempty"`
	ID         string           `json:"id,omitempty"`
	Doc        map[string]any   `json:"doc,omitempty"`
	Docs       []map[string]any `json:"docs,omitempty"`
}

// NewMessage creates a change Message with the Type derived from collection
// and action.
func NewMessage(collection, action, id string, doc map[string]any) Message {
	return Message{
		Type:       fmt.Sprintf("%s_%s", collection, action),
		Collection: collection,
		Action:     action,
		ID:         id,
		Doc:        doc,
	}
}

// SnapshotMessage creates the initial state message sent to a client right
// after it joins a room.
func SnapshotMessage(collection string, docs []map[string]any) Message {
	return Message{
		Type:       "snapshot",
		Collection: collection,
		Docs:       docs,
	}
}

// Hub maintains active WebSocket clients grouped into per-household rooms.
// Broadcasts reach only the room for the affected household.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client to its household's room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.householdID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.householdID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from its room and closes its send channel.
// Empty rooms are deleted.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if room, ok := h.rooms[c.householdID]; ok {
		if _, ok := room[c]; ok {
			delete(room, c)
			close(c.send)
		}
		if len(room) == 0 {
			delete(h.rooms, c.householdID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends a message to every client in the given household's room.
func (h *Hub) Broadcast(householdID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[householdID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// ClientCount returns the number of connected clients across all rooms.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// RoomCount returns the number of households with at least one client.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
