package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bizgenie/bizgenie/internal/logging"
	"github.com/bizgenie/bizgenie/internal/state"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// MessageTypeState carries a full state snapshot.
const MessageTypeState = "state"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is a server-to-client push
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketHub fans state snapshots out to connected views. Each client
// only ever receives snapshots newer than the last one it was sent.
type WebSocketHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	log     *logging.Logger
}

type wsClient struct {
	hub     *WebSocketHub
	conn    *websocket.Conn
	send    chan []byte
	version uint64
}

// NewWebSocketHub creates an empty hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients: make(map[*wsClient]struct{}),
		log:     logging.Component("ws"),
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastState queues snap for every client that has not yet seen a
// newer version. Clients whose buffer is full are disconnected.
func (h *WebSocketHub) BroadcastState(snap state.Snapshot) {
	data, err := encodeState(snap)
	if err != nil {
		h.log.WithError(err).Error("encoding state")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for c := range h.clients {
		if snap.Version <= c.version {
			continue
		}
		select {
		case c.send <- data:
			c.version = snap.Version
		default:
			h.log.Warn("dropping slow websocket client")
			h.removeLocked(c)
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// add registers a connection and queues the current snapshot as its first
// message. current is called under the hub lock so no broadcast can fall
// between the snapshot and the registration.
func (h *WebSocketHub) add(conn *websocket.Conn, current func() state.Snapshot) (*wsClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}

	snap := current()
	data, err := encodeState(snap)
	if err != nil {
		h.log.WithError(err).Error("encoding state")
		return nil, false
	}
	c := &wsClient{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		version: snap.Version,
	}
	c.send <- data
	h.clients[c] = struct{}{}
	return c, true
}

func (h *WebSocketHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *WebSocketHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func encodeState(snap state.Snapshot) ([]byte, error) {
	return json.Marshal(WebSocketMessage{
		Type:      MessageTypeState,
		Data:      snap,
		Timestamp: time.Now(),
	})
}

// handleWebSocket upgrades the connection and starts streaming snapshots,
// beginning with the current one.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c, ok := s.wsHub.add(conn, s.sync.Snapshot)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	s.log.WithField("clients", s.wsHub.ClientCount()).Debug("websocket client connected")

	go c.writePump()
	go c.readPump()
}

// readPump discards client frames; it exists to process pongs and notice
// disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
