package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/casedesk/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 32
)

// Message is the JSON envelope delivered to subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Option customises a Hub.
type Option func(*Hub)

// WithStreams restricts subscriptions to the named streams.
func WithStreams(streams ...string) Option {
	return func(h *Hub) {
		for _, stream := range uniqueStreams(streams) {
			h.streams[stream] = struct{}{}
		}
	}
}

// WithAllowedOrigins accepts cross-origin upgrades from the listed hosts in
// addition to same-origin and loopback ones.
func WithAllowedOrigins(hosts ...string) Option {
	return func(h *Hub) {
		for _, host := range hosts {
			if host = strings.ToLower(hostWithoutPort(host)); host != "" {
				h.origins[host] = struct{}{}
			}
		}
	}
}

// WithBufferSize sets the per-connection outbound queue length.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// Hub fans out stream events to the websocket connections of subscribed users.
// A connection whose queue is full is dropped rather than blocking publishers.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]map[*connection]struct{}

	streams  map[string]struct{}
	origins  map[string]struct{}
	buffer   int
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscriptions: make(map[string]map[string]map[*connection]struct{}),
		streams:       make(map[string]struct{}),
		origins:       make(map[string]struct{}),
		buffer:        defaultBufferSize,
		log:           logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Allowed reports whether clients may subscribe to stream.
func (h *Hub) Allowed(stream string) bool {
	if len(h.streams) == 0 {
		return true
	}
	_, ok := h.streams[normalizeStream(stream)]
	return ok
}

// Serve upgrades the request and subscribes the connection to streams. It
// blocks until the connection closes.
func (h *Hub) Serve(userID string, streams []string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := &connection{
		hub:    h,
		socket: socket,
		userID: userID,
		send:   make(chan Message, h.buffer),
		done:   make(chan struct{}),
	}
	h.subscribe(client, streams)

	go client.writeLoop()
	client.readLoop()
}

// BroadcastToUser delivers a message to every connection of userID subscribed to stream.
func (h *Hub) BroadcastToUser(stream, userID string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" || userID == "" {
		return
	}
	message.Stream = stream

	h.mu.RLock()
	var slow []*connection
	for client := range h.subscriptions[stream][userID] {
		if !client.offer(message) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	h.drop(slow)
}

// BroadcastToUsers delivers a message to each listed user.
func (h *Hub) BroadcastToUsers(stream string, userIDs []string, message Message) {
	for _, userID := range userIDs {
		h.BroadcastToUser(stream, userID, message)
	}
}

// BroadcastStream delivers a message to every subscriber of stream.
func (h *Hub) BroadcastStream(stream string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}
	message.Stream = stream

	h.mu.RLock()
	var slow []*connection
	for _, clients := range h.subscriptions[stream] {
		for client := range clients {
			if !client.offer(message) {
				slow = append(slow, client)
			}
		}
	}
	h.mu.RUnlock()

	h.drop(slow)
}

// Subscribers counts the connections subscribed to stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.subscriptions[normalizeStream(stream)] {
		total += len(clients)
	}
	return total
}

func (h *Hub) drop(clients []*connection) {
	for _, client := range clients {
		h.log.Warn("dropping slow subscriber", zap.String("user_id", client.userID))
		client.close()
	}
}

func (h *Hub) subscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		if !h.Allowed(stream) {
			h.log.Debug("ignoring unknown stream", zap.String("stream", stream), zap.String("user_id", client.userID))
			continue
		}
		if client.streams == nil {
			client.streams = make(map[string]struct{})
		}
		byUser := h.subscriptions[stream]
		if byUser == nil {
			byUser = make(map[string]map[*connection]struct{})
			h.subscriptions[stream] = byUser
		}
		if byUser[client.userID] == nil {
			byUser[client.userID] = make(map[*connection]struct{})
		}
		byUser[client.userID][client] = struct{}{}
		client.streams[stream] = struct{}{}
	}
}

func (h *Hub) unsubscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.removeLocked(client, stream)
	}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range client.streams {
		h.removeLocked(client, stream)
	}
}

func (h *Hub) removeLocked(client *connection, stream string) {
	delete(client.streams, stream)

	byUser := h.subscriptions[stream]
	clients := byUser[client.userID]
	if clients == nil {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(byUser, client.userID)
	}
	if len(byUser) == 0 {
		delete(h.subscriptions, stream)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originHost := strings.ToLower(hostWithoutPort(origin))
	if originHost == strings.ToLower(hostWithoutPort(r.Host)) || isLoopback(originHost) {
		return true
	}
	_, ok := h.origins[originHost]
	return ok
}

type connection struct {
	hub     *Hub
	socket  *websocket.Conn
	userID  string
	streams map[string]struct{}
	send    chan Message
	done    chan struct{}
	once    sync.Once
}

// offer queues message without blocking. It reports false when the queue is full.
func (c *connection) offer(message Message) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.hub.subscribe(c, ctrl.Streams)
		case "unsubscribe":
			c.hub.unsubscribe(c, ctrl.Streams)
		case "ping":
			c.offer(Message{Event: "pong"})
		default:
			c.hub.log.Debug("unsupported control action", zap.String("action", ctrl.Action), zap.String("user_id", c.userID))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if strings.Contains(host, "://") {
		if parsed, err := url.Parse(host); err == nil {
			host = parsed.Host
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	var out []string
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		if _, ok := seen[stream]; ok {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
