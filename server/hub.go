package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/inkfold/inkfold/notify"
)

// Hub broadcasts notify events to connected websocket clients. It implements
// notify.Sink, so it is wired into the pipeline with a notify.Fanout next to
// the sequencing Bus. A client that fails a write is dropped.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Publish implements notify.Sink by broadcasting the event as JSON.
func (h *Hub) Publish(e notify.Event) notify.Event {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("hub: marshal event", "error", err)
		return e
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("hub: client write failed, dropping", "error", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
	return e
}

// Register adds a client and starts a read loop whose only job is to detect
// the peer closing the connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("hub: client connected", "clients", n)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister(conn)
				return
			}
		}
	}()
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("hub: client disconnected", "clients", n)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
