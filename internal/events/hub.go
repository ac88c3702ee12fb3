package events

import (
	"sync"

	"github.com/rs/zerolog"

	"abyss-chat-backend/internal/chat"
)

// Hub fans session events out to the sockets subscribed to each session.
// OnEvent never blocks: a client whose buffer is full is dropped.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]struct{}
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{}), log: log}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.sessionID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.sessionID] = room
	}
	room[c] = struct{}{}
	h.log.Debug().Str("session", c.sessionID).Int("clients", len(room)).Msg("client subscribed")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	room, ok := h.rooms[c.sessionID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.sessionID)
	}
	h.log.Debug().Str("session", c.sessionID).Msg("client unsubscribed")
}

// OnEvent implements chat.Listener.
func (h *Hub) OnEvent(e chat.Event) {
	data, err := NewEventMessage(e)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(e.Type)).Msg("encode event")
		return
	}
	h.Publish(e.SessionID, data)
}

// Publish queues a raw frame for every subscriber of a session.
func (h *Hub) Publish(sessionID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[sessionID] {
		select {
		case c.send <- data:
		default:
			h.log.Warn().Str("session", sessionID).Msg("slow client dropped")
			h.removeLocked(c)
		}
	}
}

// Subscribers returns the number of sockets attached to a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[sessionID])
}

// CloseSession disconnects every socket of a session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[sessionID] {
		h.removeLocked(c)
	}
}
