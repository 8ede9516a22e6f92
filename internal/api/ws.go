package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipeed/agentclaw/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
				return true
			}
		}
		logger.WarnCF("ws", "rejected websocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// wsEvent is the envelope every feed message is wrapped in.
type wsEvent struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans MailBus events out to connected WebSocket clients.
type WSHub struct {
	server     *Server
	clients    map[*wsClient]bool
	broadcast  chan wsEvent
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

func newWSHub(server *Server) *WSHub {
	return &WSHub{
		server:     server,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan wsEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logger.DebugC("ws", "client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			logger.DebugC("ws", "client disconnected")

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast enqueues an event for delivery to every connected client.
// Non-blocking: a full channel drops the event rather than stall the
// publishing goroutine.
func (h *WSHub) Broadcast(eventType string, data interface{}) {
	ev := wsEvent{Type: eventType, Timestamp: time.Now().UTC().Format(time.RFC3339), Data: data}
	select {
	case h.broadcast <- ev:
	default:
	}
}

// HandleWebSocket upgrades the connection and spawns its read/write pumps.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 256), hub: h}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
