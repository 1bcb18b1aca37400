package realtime

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/metrics"
)

// Message is the JSON envelope written to subscribers.
type Message struct {
	Stream string `json:"stream"`
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
}

// SubscriptionAck answers every subscribe request, listing the streams the caller is
// now attached to and those it asked for but may not read.
type SubscriptionAck struct {
	Streams []string `json:"streams"`
	Denied  []string `json:"denied,omitempty"`
}

// subscribers indexes live connections by stream, then by user id.
type subscribers map[string]map[string]map[*connection]struct{}

// Hub fans out ledger and task events to websocket subscribers.
type Hub struct {
	mu       sync.RWMutex
	streams  subscribers
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a realtime hub. allowedOrigins lists browser origins permitted to connect
// in addition to same-host and loopback origins; "*" allows any origin.
func NewHub(allowedOrigins ...string) *Hub {
	h := &Hub{
		streams: make(subscribers),
		log:     logger.WithModule("realtime"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Serve upgrades the request and attaches the client to the streams it may read. A nil
// allowed set permits every stream. It returns when the connection closes.
func (h *Hub) Serve(userID string, streams []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := newConnection(h, socket, userID, allowed)
	metrics.RealtimeConnections.Inc()
	defer metrics.RealtimeConnections.Dec()

	if requested := uniqueStreams(streams); len(requested) > 0 {
		client.enqueue(Message{Event: EventSubscribed, Data: h.subscribe(client, requested)})
	}

	go client.writeLoop()
	client.readLoop()
}

// BroadcastToUser delivers message to each of userID's connections on stream.
func (h *Hub) BroadcastToUser(stream, userID string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" || userID == "" {
		return
	}
	message.Stream = stream

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.streams[stream][userID] {
		client.enqueue(message)
	}
}

// BroadcastStream delivers message to every connection on stream.
func (h *Hub) BroadcastStream(stream string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}
	message.Stream = stream

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, byUser := range h.streams[stream] {
		for client := range byUser {
			client.enqueue(message)
		}
	}
}

// Subscribers reports how many connections listen on stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, byUser := range h.streams[normalizeStream(stream)] {
		n += len(byUser)
	}
	return n
}

func (h *Hub) subscribe(client *connection, requested []string) SubscriptionAck {
	h.mu.Lock()
	defer h.mu.Unlock()

	var denied []string
	for _, stream := range uniqueStreams(requested) {
		if !client.mayRead(stream) {
			denied = append(denied, stream)
			continue
		}
		byUser := h.streams[stream]
		if byUser == nil {
			byUser = make(map[string]map[*connection]struct{})
			h.streams[stream] = byUser
		}
		if byUser[client.userID] == nil {
			byUser[client.userID] = make(map[*connection]struct{})
		}
		byUser[client.userID][client] = struct{}{}
		client.streams[stream] = struct{}{}
	}
	if len(denied) > 0 {
		h.log.Debug("denied streams", zap.String("user_id", client.userID), zap.Strings("streams", denied))
	}

	return SubscriptionAck{Streams: client.streamList(), Denied: denied}
}

func (h *Hub) unsubscribe(client *connection, streams []string) SubscriptionAck {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.detachLocked(client, stream)
	}
	return SubscriptionAck{Streams: client.streamList()}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range client.streams {
		h.detachLocked(client, stream)
	}
}

func (h *Hub) detachLocked(client *connection, stream string) {
	delete(client.streams, stream)

	byUser := h.streams[stream]
	if byUser == nil {
		return
	}
	delete(byUser[client.userID], client)
	if len(byUser[client.userID]) == 0 {
		delete(byUser, client.userID)
	}
	if len(byUser) == 0 {
		delete(h.streams, stream)
	}
}

// originChecker accepts requests without an Origin header, listed origins, the API's own
// host and loopback origins.
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	_, wildcard := allowed["*"]

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		host := hostOnly(origin)
		return host == hostOnly(r.Host) || isLoopback(host)
	}
}

func hostOnly(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil {
			raw = u.Host
		}
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		return host
	}
	return raw
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
