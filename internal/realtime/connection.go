package realtime

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// controlMessage is what clients send to change their subscriptions.
type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

type connection struct {
	hub     *Hub
	socket  *websocket.Conn
	userID  string
	allowed map[string]struct{}

	// streams is guarded by hub.mu.
	streams map[string]struct{}

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(hub *Hub, socket *websocket.Conn, userID string, allowed map[string]struct{}) *connection {
	return &connection{
		hub:     hub,
		socket:  socket,
		userID:  userID,
		allowed: allowed,
		streams: make(map[string]struct{}),
		send:    make(chan Message, sendBuffer),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks. A client whose buffer is full is disconnected.
func (c *connection) enqueue(message Message) {
	select {
	case <-c.done:
	case c.send <- message:
	default:
		c.hub.log.Warn("disconnecting slow realtime client", zap.String("user_id", c.userID))
		go c.close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("realtime client closed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if len(payload) > 0 {
			c.handleControl(payload)
		}
	}
}

func (c *connection) handleControl(payload []byte) {
	var ctrl controlMessage
	if err := json.Unmarshal(payload, &ctrl); err != nil {
		c.enqueue(Message{Event: EventError, Data: "control messages must be JSON"})
		return
	}

	switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
	case "subscribe":
		c.enqueue(Message{Event: EventSubscribed, Data: c.hub.subscribe(c, ctrl.Streams)})
	case "unsubscribe":
		c.enqueue(Message{Event: EventUnsubscribed, Data: c.hub.unsubscribe(c, ctrl.Streams)})
	case "ping":
		c.enqueue(Message{Event: EventPong})
	default:
		c.enqueue(Message{Event: EventError, Data: "unknown action " + ctrl.Action})
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.socket.WriteJSON(message)
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.socket.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.socket.Close()
	})
}

func (c *connection) mayRead(stream string) bool {
	if c.allowed == nil {
		return true
	}
	_, ok := c.allowed[stream]
	return ok
}

// streamList must be called with hub.mu held.
func (c *connection) streamList() []string {
	list := make([]string, 0, len(c.streams))
	for stream := range c.streams {
		list = append(list, stream)
	}
	sort.Strings(list)
	return list
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
		if _, dup := seen[stream]; dup {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
