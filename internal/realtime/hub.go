// Package realtime pushes scheduling events to connected browsers over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wolfman30/immigration-casework/internal/caller"
	"github.com/wolfman30/immigration-casework/internal/events"
	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

// Message is the frame written to subscribers.
type Message struct {
	Type          string                  `json:"type"`
	EventID       string                  `json:"event_id"`
	AppointmentID string                  `json:"appointment_id"`
	OccurredAt    time.Time               `json:"occurred_at"`
	Data          scheduling.EventPayload `json:"data"`
}

type outbound struct {
	msg  Message
	body []byte
}

// Hub tracks subscribers and fans events out to the ones allowed to see them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	logger     *logging.Logger
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a hub. Call Run in a goroutine before serving connections.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("realtime: subscriber connected", "user_id", c.who.UserID, "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("realtime: subscriber disconnected", "user_id", c.who.UserID, "total", total)

		case out := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.canSee(out.msg.Data) {
					continue
				}
				select {
				case c.send <- out.body:
				default:
					// Slow consumer; drop it rather than stall everyone else.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues msg for delivery. It never blocks.
func (h *Hub) Publish(msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("realtime: encode message", "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{msg: msg, body: body}:
	default:
		h.logger.Warn("realtime: broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Handle implements events.DeliveryHandler. Push is best effort and never fails delivery.
func (h *Hub) Handle(_ context.Context, entry events.OutboxEntry) error {
	env, err := entry.Envelope()
	if err != nil {
		h.logger.Warn("realtime: skipping malformed outbox entry", "error", err, "outbox_id", entry.ID)
		return nil
	}
	var payload scheduling.EventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.logger.Warn("realtime: skipping undecodable payload", "error", err, "event_id", env.EventID)
		return nil
	}
	h.Publish(Message{
		Type:          env.EventType,
		EventID:       env.EventID.String(),
		AppointmentID: payload.AppointmentID,
		OccurredAt:    env.OccurredAt(),
		Data:          payload,
	})
	return nil
}

// Register adds a client to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one authenticated subscriber.
type Client struct {
	who  caller.Caller
	send chan []byte
}

// NewClient creates a subscriber for who.
func NewClient(who caller.Caller) *Client {
	return &Client{who: who, send: make(chan []byte, 64)}
}

// Send returns the channel the hub writes frames to.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// canSee applies the same party rules as the read endpoints.
func (c *Client) canSee(p scheduling.EventPayload) bool {
	if c.who.IsAdmin() {
		return true
	}
	if c.who.UserID == "" {
		return false
	}
	return c.who.UserID == p.ClientUserID || c.who.UserID == p.StaffID
}

var _ events.DeliveryHandler = (*Hub)(nil)
