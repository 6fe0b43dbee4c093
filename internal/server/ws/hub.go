package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayBatch bounds how many stream entries one replay request returns.
	replayBatch = 100
)

// Envelope types sent to clients.
const (
	TypeStatus     = "status"
	TypeEvent      = "event"
	TypeReplay     = "replay"
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// envelope is the JSON frame every client message travels in.
type envelope struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Channels []string        `json:"channels,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	subs   map[string]bool // subscribed channels
	closed bool
	mu     sync.RWMutex
}

// clientMsg is the JSON message a client sends to manage subscriptions or
// replay missed events.
//
//	{"action":"subscribe","channels":["ch:listing:0xab..."]}
//	{"action":"unsubscribe","channels":["ch:events"]}
//	{"action":"replay","since":"0"}
type clientMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Since    string   `json:"since"`
}

// Hub fans protocol events out to connected WebSocket clients. Events reach
// it from the signal bus in full mode and through Publish in node mode.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	cfg        Config
}

// broadcastMsg carries an encoded event and the channels it belongs to, so
// the hub routes it only to clients subscribed to one of them.
type broadcastMsg struct {
	channels []string
	data     []byte
}

// Config captures runtime metadata reported in the status frame sent to
// clients on connect.
type Config struct {
	Mode    string
	ChainID uint64
	// Head reports the chain head when set.
	Head func() (number, timestamp uint64)
	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string
	StartedAt      time.Time
}

// NewHub creates a hub. bus may be nil, in which case events arrive only
// through Publish and replay is unavailable.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}

	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		cfg:        cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.cfg.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting, and returns when ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.subscribeToEvents(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channels...) && !c.enqueue(msg.data) {
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish routes one event to subscribed clients without blocking. It is
// safe to call from a chain commit hook; when the hub is saturated the
// event is dropped and clients can recover it with a replay or a read.
func (h *Hub) Publish(rec domain.EventRecord) {
	msg, err := eventMessage(rec)
	if err != nil {
		h.logger.Error("ws: encode event", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws: hub saturated, dropping event", slog.Uint64("seq", rec.Seq))
	}
}

// subscribeToEvents forwards every record published on the global event
// channel. Per-listing routing is derived from the record itself.
func (h *Hub) subscribeToEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.ChannelEvents)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", domain.ChannelEvents),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.ChannelEvents))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", domain.ChannelEvents),
				)
				return
			}
			var rec domain.EventRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			msg, err := eventMessage(rec)
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// channelsOf lists the channels a record is delivered on.
func channelsOf(rec domain.EventRecord) []string {
	channels := []string{domain.ChannelEvents}
	if rec.ListingID != "" {
		channels = append(channels, domain.ListingChannel(rec.ListingID))
	}
	return channels
}

func eventMessage(rec domain.EventRecord) (broadcastMsg, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return broadcastMsg{}, err
	}
	channels := channelsOf(rec)
	data, err := json.Marshal(envelope{Type: TypeEvent, Channels: channels, Payload: payload})
	if err != nil {
		return broadcastMsg{}, err
	}
	return broadcastMsg{channels: channels, data: data}, nil
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. New clients receive the global event channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{domain.ChannelEvents: true},
	}

	h.register <- c
	c.sendInitialStatus()

	go c.writePump()
	go c.readPump()
}

// readPump reads control messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(envelope{Type: TypeError, Error: "invalid message"})
			continue
		}
		switch msg.Action {
		case "subscribe", "unsubscribe":
			c.reply(envelope{Type: TypeSubscribed, Channels: c.handleSubscription(msg)})
		case "replay":
			c.replay(msg.Since)
		default:
			c.reply(envelope{Type: TypeError, Error: "unknown action " + msg.Action})
		}
	}
}

// handleSubscription applies a subscribe or unsubscribe request and returns
// the resulting subscriptions.
func (c *client) handleSubscription(msg clientMsg) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range msg.Channels {
		if msg.Action == "subscribe" {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// replay sends the durable stream entries after since that match the
// client's subscriptions. The last frame's id is the cursor for the next
// request.
func (c *client) replay(since string) {
	if c.hub.bus == nil {
		c.reply(envelope{Type: TypeError, Error: "replay unavailable without the signal bus"})
		return
	}
	if since == "" {
		since = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	entries, err := c.hub.bus.StreamRead(ctx, domain.StreamEvents, since, replayBatch)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		c.reply(envelope{Type: TypeError, Error: "replay failed"})
		return
	}
	for _, e := range entries {
		var rec domain.EventRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			continue
		}
		channels := channelsOf(rec)
		if !c.isSubscribed(channels...) {
			continue
		}
		c.reply(envelope{Type: TypeReplay, ID: e.ID, Channels: channels, Payload: e.Payload})
	}
}

func (c *client) reply(env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// sendInitialStatus pushes a small JSON envelope so clients can immediately
// mark the connection as healthy even when no events are flowing yet.
func (c *client) sendInitialStatus() {
	cfg := c.hub.cfg
	uptime := max(int64(time.Since(cfg.StartedAt).Seconds()), 0)
	status := map[string]any{
		"mode":           cfg.Mode,
		"chain_id":       cfg.ChainID,
		"uptime_seconds": uptime,
		"replay":         c.hub.bus != nil,
	}
	if cfg.Head != nil {
		number, ts := cfg.Head()
		status["head_block"] = number
		status["head_time"] = ts
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	c.reply(envelope{Type: TypeStatus, Payload: payload})
}

// enqueue queues data for the write pump. It reports false when the client
// is closed or its buffer is full.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// isSubscribed reports whether the client is subscribed to any of channels.
// A trailing "*" subscribes to every channel with that prefix.
func (c *client) isSubscribed(channels ...string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, channel := range channels {
		if c.subs[channel] {
			return true
		}
		for sub := range c.subs {
			if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
				return true
			}
		}
	}
	return false
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
