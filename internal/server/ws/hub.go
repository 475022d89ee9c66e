package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channels are the bus channels the hub relays to clients.
var Channels = []string{domain.ChannelAnomalies, domain.ChannelJobs}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope wraps every frame sent to clients. Payload is the bus message
// verbatim.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is what a client sends to change its subscriptions:
// {"action":"subscribe","channels":["jobs"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub fans bus messages out to connected WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run subscribes to the bus and serves clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.Error("ws: subscribe failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		go h.relay(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case env := <-h.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(env.Type) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			if !json.Valid(data) {
				data, _ = json.Marshal(string(data))
			}
			select {
			case h.broadcast <- Envelope{Type: channel, Payload: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}

	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendStatus lets clients mark the connection healthy before any event
// arrives.
func (c *client) sendStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
		"channels":       Channels,
	})
	if err != nil {
		return
	}
	msg, err := json.Marshal(Envelope{Type: "status", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
