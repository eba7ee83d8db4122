// Package livefeed pushes committed domain events to connected browsers over
// websockets. The Hub is an outbox sink: the relay hands it each event after
// the unit of work that produced it has committed.
package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/outbox"
)

// TopicAll receives every event.
const TopicAll = "all"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message is what subscribers receive for one domain event.
type Message struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ClientMessage is sent by clients to change their subscriptions.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected subscriber.
type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]bool
}

// NewClient returns a client with an empty subscription set.
func NewClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, sendBuffer), topics: make(map[string]bool)}
}

// Hub tracks clients and the topics they follow.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[string]map[string]*Client
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]*Client),
		logger:  logger.With().Str("component", "livefeed").Logger(),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister drops a client and its subscriptions and closes its channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeLocked(topic, c.ID)
	}
	delete(h.clients, c.ID)
	close(c.Send)
}

// Subscribe adds topics to a registered client.
func (h *Hub) Subscribe(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[string]*Client)
		}
		h.topics[topic][c.ID] = c
		c.topics[topic] = true
	}
}

// Unsubscribe removes topics from a client.
func (h *Hub) Unsubscribe(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(topic, c.ID)
		delete(c.topics, topic)
	}
}

func (h *Hub) removeLocked(topic, clientID string) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// ProcessMessage applies a subscribe or unsubscribe request.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics...)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics...)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCount returns the number of clients following topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// TopicsFor lists the topics an event is delivered on: its type, its
// aggregate type, the aggregate itself, the ward it touched if the payload
// names one, and TopicAll.
func TopicsFor(e *outbox.Event) []string {
	topics := []string{
		e.EventType,
		e.AggregateType,
		e.AggregateType + ":" + e.AggregateID.String(),
	}
	var body struct {
		WardID string `json:"ward_id"`
	}
	if len(e.Payload) > 0 && json.Unmarshal(e.Payload, &body) == nil && body.WardID != "" {
		topics = append(topics, "ward:"+body.WardID)
	}
	return append(topics, TopicAll)
}

// Name implements outbox.Sink.
func (h *Hub) Name() string { return "livefeed" }

// Publish implements outbox.Sink. A client following several matching topics
// gets the event once. Slow clients whose buffer is full miss the event;
// delivery to browsers is best effort and never fails the relay.
func (h *Hub) Publish(_ context.Context, e *outbox.Event) error {
	data, err := json.Marshal(Message{
		EventID:       e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		OccurredAt:    e.CreatedAt,
		Payload:       e.Payload,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := make(map[string]bool)
	for _, topic := range TopicsFor(e) {
		for id, c := range h.topics[topic] {
			if delivered[id] {
				continue
			}
			delivered[id] = true
			select {
			case c.Send <- data:
			default:
				h.logger.Warn().Str("client_id", id).Str("event_type", e.EventType).Msg("client buffer full, event dropped")
			}
		}
	}
	return nil
}

// Handler upgrades HTTP requests into feed connections.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler accepts connections from the given origins; "*" or an empty
// list allows any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	anyOrigin := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || allowed[origin]
			},
		},
	}
}

// Connect is the GET handler. Initial topics come from the comma separated
// "topics" query parameter.
func (h *Handler) Connect(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.NewString())
	h.hub.Register(client)
	if q := c.QueryParam("topics"); q != "" {
		h.hub.Subscribe(client, strings.Split(q, ",")...)
	}
	h.hub.logger.Debug().Str("client_id", client.ID).Msg("client connected")

	go h.writePump(conn, client)
	h.readPump(conn, client)
	return nil
}

func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.hub.logger.Warn().Err(err).Str("client_id", client.ID).Msg("unexpected close")
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
