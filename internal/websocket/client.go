package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/legends-of-valor/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// maxTopics bounds the subscriptions of one connection
	maxTopics = 16
	// maxReplay bounds the history sent on subscribe
	maxReplay = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one websocket connection following a set of feed topics
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// topics is owned by the read loop
	topics map[string]struct{}
}

// ClientMessage is a request sent by a connected client. Topics may be
// used instead of Topic to follow several feeds at once; Replay asks for
// up to that many recent events of each newly subscribed topic.
type ClientMessage struct {
	Type   string   `json:"type"`
	Topic  string   `json:"topic,omitempty"`
	Topics []string `json:"topics,omitempty"`
	Replay int      `json:"replay,omitempty"`
}

func (m *ClientMessage) topicList() []string {
	if m.Topic == "" {
		return m.Topics
	}
	return append([]string{m.Topic}, m.Topics...)
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger.With("client_id", id),
		topics: make(map[string]struct{}),
	}
}

// ServeWs upgrades the request and starts the connection loops
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

	client.logger.Debug("websocket connected", "remote", r.RemoteAddr)
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": "invalid message format"}})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		for _, topic := range msg.topicList() {
			c.subscribe(topic, msg.Replay)
		}
	case MessageTypeUnsubscribe:
		for _, topic := range msg.topicList() {
			if _, ok := c.topics[topic]; !ok {
				continue
			}
			delete(c.topics, topic)
			c.hub.Unsubscribe(c, topic)
			c.reply(Message{Type: MessageTypeUnsubscribed, Topic: topic})
		}
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	default:
		c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": "unknown message type " + msg.Type}})
	}
}

func (c *Client) subscribe(topic string, replay int) {
	switch {
	case !ValidTopic(topic):
		c.reply(Message{Type: MessageTypeError, Topic: topic, Data: map[string]string{"error": "topic must be challenge:<id> or auction:<id>"}})
		return
	case len(c.topics) >= maxTopics:
		c.reply(Message{Type: MessageTypeError, Topic: topic, Data: map[string]string{"error": "too many subscriptions"}})
		return
	}

	if _, ok := c.topics[topic]; !ok {
		c.topics[topic] = struct{}{}
		c.hub.Subscribe(c, topic)
	}
	c.reply(Message{Type: MessageTypeSubscribed, Topic: topic})

	if replay > 0 {
		c.replay(topic, min(replay, maxReplay))
	}
}

// replay sends recent history oldest first. Live events may overlap with
// it; clients dedupe on the event id.
func (c *Client) replay(topic string, n int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := c.hub.recent(ctx, topic, n)
	if err != nil {
		c.logger.Warn("history replay failed", "topic", topic, "error", err)
		return
	}
	for i := len(events) - 1; i >= 0; i-- {
		c.reply(activityMessage(events[i]))
	}
}

func activityMessage(event domain.ActivityEvent) Message {
	return Message{
		Type:      MessageTypeActivity,
		Topic:     event.Topic,
		Data:      event,
		Timestamp: event.Timestamp,
	}
}

// reply queues a message for this client only, dropping it when the
// client is backed up
func (c *Client) reply(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal reply", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, dropping reply", "type", msg.Type)
	}
}

// writeLoop writes one frame per message and keeps the connection alive
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
