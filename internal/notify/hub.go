package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// Message types exchanged with client windows.
const (
	MessageNotification = "notification"
	MessageFocus        = "focus"
	MessageOpen         = "open"
	// MessageLocation is sent by a window when its URL changes.
	MessageLocation = "location"
)

// ErrClientGone is returned when sending to a window that disconnected.
var ErrClientGone = errors.New("client window disconnected")

// Message is one frame on the client channel.
type Message struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	URL          string        `json:"url,omitempty"`
}

// ClientInfo describes a connected window.
type ClientInfo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message

	mu  sync.Mutex
	url string
}

func (c *client) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{ID: c.id, URL: c.url}
}

// Hub tracks connected client windows. Windows connect with a websocket and
// report their current URL.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	order   []string
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and serves the window until it disconnects.
// The window's initial URL is taken from the "url" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Client window upgrade failed", "error", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Message, sendBuffer),
		url:  r.URL.Query().Get("url"),
	}
	h.register(c)
	defer h.unregister(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.order = append(h.order, c.id)
	slog.Debug("Client window connected", "id", c.id, "url", c.url)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	for i, id := range h.order {
		if id == c.id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	close(c.send)
	slog.Debug("Client window disconnected", "id", c.id)
}

func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Client window read failed", "id", c.id, "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed client message", "id", c.id, "error", err)
			continue
		}
		if msg.Type == MessageLocation {
			c.mu.Lock()
			c.url = msg.URL
			c.mu.Unlock()
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
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("Client window write failed", "id", c.id, "error", err)
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

// Clients lists connected windows in connection order.
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]ClientInfo, 0, len(h.order))
	for _, id := range h.order {
		infos = append(infos, h.clients[id].info())
	}
	return infos
}

// Send queues msg for one window.
func (h *Hub) Send(id string, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok {
		return ErrClientGone
	}
	select {
	case c.send <- msg:
		return nil
	default:
		slog.Warn("Client window send buffer full, dropping message", "id", id, "type", msg.Type)
		return ErrClientGone
	}
}

// Broadcast queues msg for every window and returns how many accepted it.
func (h *Hub) Broadcast(msg Message) int {
	n := 0
	for _, info := range h.Clients() {
		if h.Send(info.ID, msg) == nil {
			n++
		}
	}
	return n
}
