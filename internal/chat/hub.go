package chat

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512
)

// client serialises writes; gorilla connections allow one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub keeps the open chat sockets and fans every new message out to them.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	// A peer that sends no frame or pong within pongWait is dropped; pings
	// go out every pingPeriod.
	pongWait   time.Duration
	pingPeriod time.Duration

	mu      sync.RWMutex
	clients map[*client]uint64 // -> user id
}

func NewHub(allowOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	return &Hub{
		upgrader:   websocket.Upgrader{CheckOrigin: allowOrigin},
		log:        log,
		pongWait:   pongWait,
		pingPeriod: pongWait * 9 / 10,
		clients:    make(map[*client]uint64),
	}
}

// Serve upgrades the request and blocks until the peer goes away. Clients
// only listen; anything they send other than "ping" is ignored.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uint64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}

	h.mu.Lock()
	h.clients[c] = userID
	h.mu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	go h.keepAlive(conn, done)

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		if msg.Type == "ping" {
			_ = c.write([]byte(`{"type":"pong"}`))
		}
	}
}

// keepAlive pings the peer until done is closed. WriteControl may run
// concurrently with the other writers.
func (h *Hub) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Broadcast sends v as a {"type":"message","data":v} frame to every client.
func (h *Hub) Broadcast(v interface{}) {
	b, err := json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"data"`
	}{"message", v})
	if err != nil {
		h.log.Error("encode chat frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(b); err != nil {
			h.log.Debug("drop chat frame", zap.Error(err))
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
