package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/clawdops/outreach-desk/internal/metrics"
	"github.com/clawdops/outreach-desk/internal/store"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Subscriber is the pub/sub side of store.Cache.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *store.Subscription
}

// allTopics subscribes a client to every platform.
const allTopics = "*"

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	source     Subscriber
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
	done       chan struct{}

	idleTimeout time.Duration
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool

	lastActive atomic.Int64
}

// Message is the frame sent to websocket clients.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// WSSubscriptionRequest selects platforms ("x", "reddit", ...) or "*".
type WSSubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

func NewHub(source Subscriber, allowedOrigins []string, logger *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger:      logger,
		metrics:     m,
		done:        make(chan struct{}),
		idleTimeout: 2 * time.Minute,
	}
}

// originChecker allows listed origins and same-origin requests.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Run serves the hub until ctx ends. It must only be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.startSubscription(ctx)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.IncrementConnections(ctx)
			h.logger.Debugw("Client registered", "remote", client.conn.RemoteAddr().String())

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()
			h.logger.Debugw("Client unregistered", "remote", client.conn.RemoteAddr().String())
		}
	}
}

// dropLocked removes c once; the caller holds h.mu.
func (h *Hub) dropLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.DecrementConnections(context.Background())
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) startSubscription(ctx context.Context) {
	sub := h.source.Subscribe(ctx, drafts.EventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				h.logger.Warnw("Draft event subscription closed")
				return
			}
			h.handleMessage(msg)
		}
	}
}

func (h *Hub) handleMessage(msg *store.Message) {
	var ev drafts.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		h.logger.Warnw("Dropping malformed draft event", "channel", msg.Channel, "error", err)
		return
	}

	frame, err := json.Marshal(Message{
		Type:      string(ev.Type),
		Topic:     string(ev.Platform),
		Data:      json.RawMessage(msg.Payload),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
		return
	}
	h.broadcastToClients(frame, string(ev.Platform))
}

func (h *Hub) broadcastToClients(message []byte, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.isSubscribed(topic) {
			continue
		}
		select {
		case client.send <- message:
		default:
			// slow or gone
			h.dropLocked(client)
		}
	}
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients(time.Now())
		}
	}
}

func (h *Hub) cleanupInactiveClients(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-h.idleTimeout).UnixNano()
	for client := range h.clients {
		if client.lastActive.Load() < cutoff {
			h.dropLocked(client)
			h.logger.Debugw("Cleaned up inactive client")
		}
	}
}

// HandleWebSocket upgrades the request. Clients start subscribed to every
// platform unless ?platforms= narrows it.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}
	client.touch()
	for _, t := range parsePlatforms(r) {
		client.topics[t] = true
	}
	if len(client.topics) == 0 {
		client.topics[allTopics] = true
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var sub WSSubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Debugw("Invalid subscription message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch sub.Type {
	case "subscribe":
		// an explicit subscription replaces the default of everything
		delete(c.topics, allTopics)
		for _, topic := range sub.Topics {
			c.topics[topic] = true
		}
	case "unsubscribe":
		for _, topic := range sub.Topics {
			delete(c.topics, topic)
		}
	}
	c.hub.logger.Debugw("Client topics updated", "type", sub.Type, "topics", sub.Topics)
}

func (c *Client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[allTopics] || c.topics[topic]
}
