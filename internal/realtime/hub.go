package realtime

import (
	"encoding/json"
	"strings"
	"sync"

	"chatflow/backend/internal/metrics"
	"chatflow/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Delivery sends one event to every member of Room except the connection
// named by Exclude.
type Delivery struct {
	Room    string   `json:"room"`
	Exclude string   `json:"exclude,omitempty"`
	Event   Envelope `json:"event"`
}

// Client is one live connection as the hub sees it. Frames queued for it
// are written in order by a single writer draining Send.
type Client struct {
	ID   string
	Role models.Role

	// Visitor connections
	TenantCode string
	// Dashboard connections
	Actor *models.Actor

	send   chan []byte
	rooms  map[string]struct{}
	closed bool
}

// NewClient creates a client with a send queue of the given size.
func NewClient(id string, role models.Role, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		ID:    id,
		Role:  role,
		send:  make(chan []byte, buffer),
		rooms: make(map[string]struct{}),
	}
}

// Send is drained by the connection's writer. It is closed on Unregister.
func (c *Client) Send() <-chan []byte { return c.send }

// Hub is the process-wide room registry.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Client
	clients map[string]*Client

	metrics *metrics.Metrics
	logger  Logger
}

// NewHub creates an empty Hub.
func NewHub(m *metrics.Metrics, logger Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]*Client),
		clients: make(map[string]*Client),
		metrics: m,
		logger:  logger,
	}
}

// Register adds a connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.metrics.ConnectionOpened(string(c.Role))
}

// Unregister removes a connection from every room and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c.ID)
	c.closed = true
	close(c.send)
	h.metrics.ConnectionClosed(string(c.Role))
}

// Close unregisters every connection. Their writers send a close frame and
// exit, which ends the matching readers.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

// Join adds c to room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, room)
}

// Leave removes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// JoinChat moves a visitor connection into the chat's room, leaving any
// chat room it was in before.
func (h *Hub) JoinChat(c *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	target := ChatRoom(chatID)
	for room := range c.rooms {
		if room != target && strings.HasPrefix(room, "chat:") {
			h.leaveLocked(c, room)
		}
	}
	h.joinLocked(c, target)
}

// CurrentChat returns the chat a visitor connection is in, if any.
func (h *Hub) CurrentChat(c *Client) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for room := range c.rooms {
		if id, ok := strings.CutPrefix(room, "chat:"); ok {
			return id, true
		}
	}
	return "", false
}

func (h *Hub) joinLocked(c *Client, room string) {
	if c.closed {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Deliver queues the delivery's event for each local member of its room.
func (h *Hub) Deliver(d Delivery) {
	frame, err := json.Marshal(d.Event)
	if err != nil {
		h.logger.Error("failed to encode event", "room", d.Room, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[d.Room] {
		if id == d.Exclude {
			continue
		}
		h.enqueueLocked(c, frame)
	}
}

// SendTo queues an event for one connection.
func (h *Hub) SendTo(c *Client, e Envelope) {
	frame, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("failed to encode event", "conn_id", c.ID, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.enqueueLocked(c, frame)
}

// enqueueLocked never blocks; a full queue drops the frame.
func (h *Hub) enqueueLocked(c *Client, frame []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.metrics.Dropped()
		h.logger.Warn("send queue full, dropping event", "conn_id", c.ID)
	}
}

// Members reports how many local connections are in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Connections reports how many connections are registered.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
