package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/petlibro-bridge/internal/host"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/config"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/logging"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeEntities    = "entities"
	WSTypeSet         = "set"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// wsSendBufferSize is the per-client outbound queue length. Events for
	// a client whose queue is full are dropped.
	wsSendBufferSize = 256

	defaultMaxMessageSize = 8192
	defaultPingInterval   = 30 // seconds
	defaultPongTimeout    = 10 // seconds
)

// wsChannels are the entity event channels published by the host platform.
var wsChannels = []string{host.EventRegistered, host.EventRemoved, host.EventStateChanged}

// WSMessage is an outbound frame. Inbound requests use the same envelope.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is an inbound frame with its payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSSetPayload is the payload of a set request.
type WSSetPayload struct {
	EntityID       string          `json:"entity_id"`
	Characteristic string          `json:"characteristic"`
	Value          json.RawMessage `json:"value"`
}

// unknownChannels returns the entries of channels that are not event channels.
func unknownChannels(channels []string) []string {
	var unknown []string
	for _, ch := range channels {
		if !slices.Contains(wsChannels, ch) {
			unknown = append(unknown, ch)
		}
	}
	return unknown
}

// keepalive holds the connection timings derived from the websocket config.
type keepalive struct {
	pingEvery time.Duration
	pongWait  time.Duration
	readLimit int64
}

func (k keepalive) readDeadline() time.Time  { return time.Now().Add(k.pingEvery + k.pongWait) }
func (k keepalive) writeDeadline() time.Time { return time.Now().Add(k.pongWait) }

// Hub fans entity events out to connected clients. It implements
// host.Broadcaster.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The hub lock is taken before a client lock, never the reverse.
type Hub struct {
	cfg    config.WebSocketConfig
	ka     keepalive
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	closed  bool
}

// NewHub creates a hub. Zero settings take the defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg: cfg,
		ka: keepalive{
			pingEvery: time.Duration(cfg.PingInterval) * time.Second,
			pongWait:  time.Duration(cfg.PongTimeout) * time.Second,
			readLimit: int64(cfg.MaxMessageSize),
		},
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client. Clients
// registered afterwards are closed immediately.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
	h.logger.Debug("websocket hub stopped", "disconnected", len(clients))
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its queue. Repeated calls are
// no-ops.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast queues an event for every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range targets {
		if !c.enqueue(frame) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket event dropped for slow clients", "channel", channel, "dropped", dropped)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// upgrader accepts any origin; the CORS middleware has already run.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSClient is one connected socket and its channel subscriptions.
type WSClient struct {
	hub  *Hub
	srv  *Server
	conn *websocket.Conn

	mu       sync.RWMutex
	send     chan []byte
	closed   bool
	channels map[string]struct{}
}

func newWSClient(hub *Hub, srv *Server, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:      hub,
		srv:      srv,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the connection. Channels listed in
// ?channels=a,b are subscribed on connect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "websocket hub not running")
		return
	}

	var initial []string
	for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			initial = append(initial, ch)
		}
	}
	if unknown := unknownChannels(initial); len(unknown) > 0 {
		writeBadRequest(w, "unknown channels: "+strings.Join(unknown, ","))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, s, conn)
	c.subscribe(initial)
	s.hub.Register(c)

	go c.writePump()
	go c.readPump()
}

// close closes the send queue once.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// enqueue queues a frame. It reports false only when the queue is full;
// frames for a closed client are discarded silently.
func (c *WSClient) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *WSClient) subscribe(channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *WSClient) unsubscribe(channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
	c.mu.Unlock()
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// readPump dispatches inbound requests until the connection fails.
func (c *WSClient) readPump() {
	ka := c.hub.ka
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(ka.readLimit)
	c.conn.SetReadDeadline(ka.readDeadline()) //nolint:errcheck // a failed deadline surfaces on read
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(ka.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Application messages count as liveness too; some browsers never
		// answer protocol pings.
		c.conn.SetReadDeadline(ka.readDeadline()) //nolint:errcheck // a failed deadline surfaces on read
		c.dispatch(data)
	}
}

// writePump drains the send queue and keeps the connection alive.
func (c *WSClient) writePump() {
	ka := c.hub.ka
	ping := time.NewTicker(ka.pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(ka.writeDeadline()) //nolint:errcheck // a failed deadline surfaces on write
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck // connection is going away
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(ka.writeDeadline()) //nolint:errcheck // a failed deadline surfaces on write
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound request.
func (c *WSClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil || len(p.Channels) == 0 {
			c.replyError(req.ID, "payload.channels is required")
			return
		}
		if unknown := unknownChannels(p.Channels); len(unknown) > 0 {
			c.replyError(req.ID, "unknown channels: "+strings.Join(unknown, ","))
			return
		}
		if req.Type == WSTypeSubscribe {
			c.subscribe(p.Channels)
			c.hub.logger.Debug("websocket client subscribed", "channels", p.Channels)
			c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": p.Channels})
			return
		}
		c.unsubscribe(p.Channels)
		c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": p.Channels})
	case WSTypeEntities:
		c.reply(req.ID, WSTypeResponse, map[string]any{"entities": c.srv.entityResponses()})
	case WSTypeSet:
		c.handleSet(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

// handleSet writes a characteristic. The write runs on its own goroutine
// so a slow feed does not hold up the read loop; the reply follows when
// it completes.
func (c *WSClient) handleSet(req wsRequest) {
	var p WSSetPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.replyError(req.ID, "invalid set payload")
		return
	}
	le, ok := c.srv.reconciler.Entity(p.EntityID)
	if !ok {
		c.replyError(req.ID, "entity not found")
		return
	}
	ch, ok := le.Driver.Characteristic(p.Characteristic)
	if !ok {
		c.replyError(req.ID, "characteristic not found")
		return
	}

	go func() {
		if err := setCharacteristic(context.Background(), ch, p.Value); err != nil {
			c.replyError(req.ID, err.Error())
			return
		}
		c.srv.logger.Info("characteristic written via websocket",
			"entity_id", p.EntityID, "characteristic", p.Characteristic)
		c.reply(req.ID, WSTypeResponse, map[string]any{
			"entity_id":      p.EntityID,
			"characteristic": p.Characteristic,
			"value":          ch.Value(),
		})
	}()
}

func (c *WSClient) reply(id, msgType string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		c.hub.logger.Error("failed to encode websocket reply", "error", err)
		return
	}
	c.enqueue(frame)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
