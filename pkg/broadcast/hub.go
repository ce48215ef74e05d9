// Package broadcast promotes the teacher's indirect gorilla/websocket
// dependency to a direct one, implementing C8: fan-out notification of
// "new_requests" and "dispatched" events to connected observers
// (spec.md §4.8), using gorilla/websocket's own hub/client pattern.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Group names the two event streams spec.md §4.8 defines.
type Group string

const (
	GroupNewRequests Group = "new_requests"
	GroupDispatched  Group = "dispatched"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is the JSON payload pushed to every client in a Group.
type Event struct {
	Group     Group       `json:"group"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans events out to every client registered under a Group.
type Hub struct {
	log *logrus.Logger

	mu      sync.RWMutex
	clients map[Group]map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan Event
}

type client struct {
	group Group
	conn  *websocket.Conn
	send  chan []byte
}

// NewHub constructs an un-started Hub; call Run in its own goroutine.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    map[Group]map[*client]bool{GroupNewRequests: {}, GroupDispatched: {}},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, 256),
	}
}

// Run drains registrations and broadcasts until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.group][c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.group][c]; ok {
				delete(h.clients[c.group], c)
				close(c.send)
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.WithError(err).Warn("failed to marshal broadcast event")
				continue
			}

			h.mu.RLock()
			for c := range h.clients[event.Group] {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients[event.Group], c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues event for delivery to every client in event.Group.
// It never blocks the caller on a slow hub: callers that cannot afford
// to drop an event should size h.broadcast accordingly at construction.
func (h *Hub) Publish(group Group, eventType string, payload interface{}) {
	select {
	case h.broadcast <- Event{Group: group, Type: eventType, Payload: payload, Timestamp: timeNow()}:
	default:
		h.log.WithField("group", group).Warn("broadcast buffer full, dropping event")
	}
}

var timeNow = time.Now

// ServeWS upgrades r to a WebSocket connection and registers it under
// group, serving until the connection is closed by the peer.
func (h *Hub) ServeWS(group Group, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{group: group, conn: conn, send: make(chan []byte, 32)}
	h.register <- c

	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// ClientCount reports how many connections are registered under group,
// used by pkg/metrics.
func (h *Hub) ClientCount(group Group) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[group])
}
