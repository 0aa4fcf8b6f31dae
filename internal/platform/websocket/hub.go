// Package websocket carries live video-room traffic. Each connection belongs
// to exactly one room; the Hub fans room events out to the connections of
// that room and, when a relay is configured, to other server instances.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Frame is an outbound message written to a browser.
type Frame struct {
	Event     string      `json:"event"`
	RoomID    uuid.UUID   `json:"room_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// InboundFrame is a message read from a browser.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Relay forwards encoded frames to the other instances serving the same
// rooms. connID is empty for room-wide frames.
type Relay interface {
	Publish(ctx context.Context, roomID uuid.UUID, connID string, payload []byte) error
}

// Client is a single websocket connection bound to a room.
type Client struct {
	ID     string
	RoomID uuid.UUID
	UserID uuid.UUID
	Role   string
	Send   chan []byte
}

// NewClient creates a client with a fresh connection id.
func NewClient(roomID, userID uuid.UUID, role string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		RoomID: roomID,
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, 256),
	}
}

// Hub tracks connected clients per room. It implements videoconf.Emitter.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[string]*Client
	relay  Relay
	logger zerolog.Logger
	now    func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]*Client),
		logger: logger.With().Str("component", "ws-hub").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetRelay enables cross-instance delivery.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Register adds a client to its room.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.rooms[client.RoomID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.rooms[client.RoomID] = conns
	}
	conns[client.ID] = client
}

// Unregister removes a client and closes its Send channel. Unregistering a
// client twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.rooms[client.RoomID]
	if !ok {
		return
	}
	if _, ok := conns[client.ID]; !ok {
		return
	}
	delete(conns, client.ID)
	if len(conns) == 0 {
		delete(h.rooms, client.RoomID)
	}
	close(client.Send)
}

// EmitRoom sends an event to every connection in the room.
func (h *Hub) EmitRoom(roomID uuid.UUID, event string, data interface{}) {
	payload, ok := h.encode(roomID, event, data)
	if !ok {
		return
	}
	h.DeliverLocal(roomID, "", payload)
	h.forward(roomID, "", payload)
}

// EmitTo sends an event to a single connection. When the connection is not
// held by this instance the frame is handed to the relay.
func (h *Hub) EmitTo(roomID uuid.UUID, connID string, event string, data interface{}) {
	payload, ok := h.encode(roomID, event, data)
	if !ok {
		return
	}
	if h.DeliverLocal(roomID, connID, payload) == 0 {
		h.forward(roomID, connID, payload)
	}
}

// Send writes an event to one local client without touching the relay.
func (h *Hub) Send(client *Client, event string, data interface{}) {
	payload, ok := h.encode(client.RoomID, event, data)
	if !ok {
		return
	}
	h.DeliverLocal(client.RoomID, client.ID, payload)
}

// DeliverLocal queues an encoded frame for local clients of the room, or for
// one client when connID is set. It returns the number of clients reached.
// Clients with a full buffer are skipped.
func (h *Hub) DeliverLocal(roomID uuid.UUID, connID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.rooms[roomID]
	if connID != "" {
		c, ok := conns[connID]
		if !ok {
			return 0
		}
		return offer(c, payload)
	}

	n := 0
	for _, c := range conns {
		n += offer(c, payload)
	}
	return n
}

func offer(c *Client, payload []byte) int {
	select {
	case c.Send <- payload:
		return 1
	default:
		return 0
	}
}

func (h *Hub) encode(roomID uuid.UUID, event string, data interface{}) ([]byte, bool) {
	payload, err := json.Marshal(Frame{
		Event:     event,
		RoomID:    roomID,
		Data:      data,
		Timestamp: h.now(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to encode frame")
		return nil, false
	}
	return payload, true
}

func (h *Hub) forward(roomID uuid.UUID, connID string, payload []byte) {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Publish(ctx, roomID, connID, payload); err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID.String()).Msg("relay publish failed")
	}
}

// ClientCount returns the number of local connections across all rooms.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.rooms {
		n += len(conns)
	}
	return n
}

// RoomCount returns the number of local connections in a room.
func (h *Hub) RoomCount(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
