package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	syncpkg "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/uuid"
)

// Event types sent over the WebSocket.
const (
	EventNotification        = "notification"
	EventConnectivityChanged = "connectivity.changed"
	EventSurveyCaptured      = "survey.captured"
	EventSyncStarted         = string(syncpkg.SyncEventStarted)
	EventSyncProgress        = string(syncpkg.SyncEventProgress)
	EventSyncCompleted       = string(syncpkg.SyncEventCompleted)
	EventSyncFailed          = string(syncpkg.SyncEventFailed)
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
)

// Envelope wraps all WebSocket messages.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.Mutex
	subscriptions map[string]bool
}

// wants reports whether the client subscribed to eventType. A client with
// no subscriptions receives everything.
func (c *client) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[eventType]
}

type message struct {
	eventType string
	payload   []byte
}

// Hub maintains active UI connections and broadcasts messages to them.
// It implements sync.Notifier and sync.SyncEventHandler.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[string]*client
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	closeOnce  sync.Once

	mu    sync.RWMutex
	count int
}

// NewHub creates a hub accepting upgrades from allowedOrigins ("*" allows
// any). With no origins only same-host and localhost pages may connect.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	go h.run()
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host || u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1"
	}
}

// run manages client connections and broadcasts.
func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.setCount(0)
			return

		case c := <-h.register:
			h.clients[c.id] = c
			h.setCount(len(h.clients))
			logging.Debug("websocket client connected", map[string]interface{}{"client_id": c.id, "total": len(h.clients)})

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.setCount(len(h.clients))
			logging.Debug("websocket client disconnected", map[string]interface{}{"client_id": c.id, "total": len(h.clients)})

		case msg := <-h.broadcast:
			for id, c := range h.clients {
				if !c.wants(msg.eventType) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Slow client; drop it rather than stall every other one.
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast queues a message for all subscribed clients. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	payload, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logging.Warn("failed to marshal websocket message", map[string]interface{}{"error": err.Error()})
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- message{eventType: eventType, payload: payload}:
	default:
		logging.Warn("websocket broadcast queue full, dropping message", map[string]interface{}{"type": eventType})
	}
}

// Notify broadcasts a pass summary.
func (h *Hub) Notify(ctx context.Context, n syncpkg.Notification) error {
	h.Broadcast(EventNotification, n)
	return nil
}

// OnSyncEvent broadcasts live sync progress.
func (h *Hub) OnSyncEvent(event syncpkg.SyncEvent) {
	h.Broadcast(string(event.Type), event)
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, clientSendBuffer),
		hub:           h,
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump handles client control messages until the connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("websocket read error", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var msg struct {
			Action string   `json:"action"`
			Events []string `json:"events"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})
		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()
		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply queues a direct response; it is dropped when the buffer is full
// or the client is already gone.
func (c *client) reply(body map[string]interface{}) {
	body["timestamp"] = time.Now().Unix()
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	defer func() {
		// send may have been closed by the hub.
		_ = recover()
	}()
	select {
	case c.send <- payload:
	default:
	}
}

// writePump writes queued messages and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
