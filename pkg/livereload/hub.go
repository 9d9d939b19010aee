// Package livereload pushes reload notifications to browsers over a
// websocket when templates change.
package livereload

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Path is where the hub is conventionally mounted.
const Path = "/ws/reload"

// Message is the JSON frame sent to clients.
type Message struct {
	Type      string   `json:"type"`
	Templates []string `json:"templates,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(m)
}

// Hub tracks connected browsers.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			// Development only: any origin may subscribe.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and keeps the client registered until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()
	h.logger.Debug("live reload client connected", "remote", r.RemoteAddr)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("live reload client error", "error", err)
			}
			return
		}
		switch msg.Type {
		case "HELLO":
			if err := c.write(Message{Type: "ACK"}); err != nil {
				return
			}
		default:
			h.logger.Debug("unknown live reload message", "type", msg.Type)
		}
	}
}

// Broadcast sends a RELOAD message naming the changed templates to every
// client and returns the number of clients reached.
func (h *Hub) Broadcast(templates []string) int {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if err := c.write(Message{Type: "RELOAD", Templates: templates}); err != nil {
			h.logger.Debug("failed to notify client", "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Script is the client snippet that reloads the page on a RELOAD message.
func Script(path string) string {
	return `<script>(function(){` +
		`var p=location.protocol==="https:"?"wss://":"ws://";` +
		`var ws=new WebSocket(p+location.host+"` + path + `");` +
		`ws.onopen=function(){ws.send(JSON.stringify({type:"HELLO"}))};` +
		`ws.onmessage=function(e){if(JSON.parse(e.data).type==="RELOAD"){location.reload()}};` +
		`})();</script>`
}

// Inject inserts script before the closing body tag of page, or appends it
// when there is none.
func Inject(page []byte, script string) []byte {
	i := lastIndexFold(page, "</body>")
	if i < 0 {
		return append(page, script...)
	}
	var b strings.Builder
	b.Grow(len(page) + len(script))
	b.Write(page[:i])
	b.WriteString(script)
	b.Write(page[i:])
	return []byte(b.String())
}

// lastIndexFold is bytes.LastIndex with case folding. It works on the
// original bytes so the offset is valid in page.
func lastIndexFold(page []byte, sep string) int {
	for i := len(page) - len(sep); i >= 0; i-- {
		if bytes.EqualFold(page[i:i+len(sep)], []byte(sep)) {
			return i
		}
	}
	return -1
}
