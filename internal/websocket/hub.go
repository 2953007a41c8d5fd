// Package websocket streams activity events to connected clients. Clients
// subscribe to feed topics such as challenge:<id> or auction:<id>.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/legends-of-valor/internal/domain"
)

// Message types
const (
	MessageTypeActivity     = "activity"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message is a frame sent to clients
type Message struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ValidTopic reports whether clients may subscribe to topic
func ValidTopic(topic string) bool {
	for _, prefix := range []string{"challenge:", "auction:"} {
		if id, ok := strings.CutPrefix(topic, prefix); ok && id != "" {
			return true
		}
	}
	return false
}

// History serves recent events of a topic, newest first
type History interface {
	Feed(ctx context.Context, topic string, limit int) ([]domain.ActivityEvent, error)
}

type subscription struct {
	client *Client
	topic  string
	add    bool
}

// Hub routes activity events to the clients subscribed to their topic.
// Membership changes and fan-out are serialized through Run.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	subs       chan subscription
	broadcast  chan Message

	history History
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subs:       make(chan subscription, 64),
		broadcast:  make(chan Message, 256),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetHistory enables replay of recent events on subscribe
func (h *Hub) SetHistory(history History) { h.history = history }

// Run processes membership changes and broadcasts until Stop is called
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.drop(c)
		case s := <-h.subs:
			h.applySubscription(s)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for topic, members := range h.topics {
		delete(members, c)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	close(c.send)
}

func (h *Hub) applySubscription(s subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s.client]; !ok {
		return
	}
	members := h.topics[s.topic]
	if s.add {
		if members == nil {
			members = make(map[*Client]struct{})
			h.topics[s.topic] = members
		}
		members[s.client] = struct{}{}
		return
	}
	delete(members, s.client)
	if len(members) == 0 {
		delete(h.topics, s.topic)
	}
}

func (h *Hub) fanOut(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[msg.Topic] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", c.id, "topic", msg.Topic)
		}
	}
}

// BroadcastEvent forwards an activity event to the subscribers of its topic
func (h *Hub) BroadcastEvent(event domain.ActivityEvent) {
	select {
	case h.broadcast <- activityMessage(event):
	default:
		h.logger.Warn("broadcast channel full, dropping message", "topic", event.Topic)
	}
}

func (h *Hub) recent(ctx context.Context, topic string, n int) ([]domain.ActivityEvent, error) {
	if h.history == nil {
		return nil, nil
	}
	return h.history.Feed(ctx, topic, n)
}

// Register adds a client to the hub
func (h *Hub) Register(c *Client) { h.send(h.register, c) }

// Unregister removes a client from the hub
func (h *Hub) Unregister(c *Client) { h.send(h.unregister, c) }

// Subscribe adds a client to a topic subscription
func (h *Hub) Subscribe(c *Client, topic string) {
	select {
	case h.subs <- subscription{client: c, topic: topic, add: true}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a topic subscription
func (h *Hub) Unsubscribe(c *Client, topic string) {
	select {
	case h.subs <- subscription{client: c, topic: topic}:
	case <-h.ctx.Done():
	}
}

// send hands a client to the run loop unless the hub has stopped
func (h *Hub) send(ch chan<- *Client, c *Client) {
	select {
	case ch <- c:
	case <-h.ctx.Done():
	}
}

// SubscriberCount returns the number of subscribers of a topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
