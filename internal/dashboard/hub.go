// Package dashboard pushes sync status updates to WebSocket clients.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

const writeTimeout = 5 * time.Second

// MessageType tags a dashboard message.
type MessageType string

const (
	// MessageStatus carries a sync status snapshot.
	MessageStatus MessageType = "status"
	// MessageSyncComplete is sent after each full sync the daemon runs.
	MessageSyncComplete MessageType = "sync_complete"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Hub tracks connected clients and fans messages out to them. The zero
// value is not usable; call NewHub.
type Hub struct {
	logger *slog.Logger
	// current returns the payload sent to every client right after it connects.
	current func() any

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	broadcast chan Message
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewHub starts the broadcast loop. current may be nil.
func NewHub(logger *slog.Logger, current func() any) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:    logger,
		current:   current,
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

// Publish queues v for every connected client. Messages are dropped when
// the hub falls behind.
func (h *Hub) Publish(typ MessageType, v any) {
	msg, err := newMessage(typ, v)
	if err != nil {
		h.logger.Warn("failed to encode dashboard message", "type", typ, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("dashboard broadcast channel full, dropping message", "type", typ)
	}
}

func newMessage(typ MessageType, v any) (Message, error) {
	msg := Message{Type: typ, Timestamp: time.Now()}
	if v == nil {
		return msg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	msg.Data = data
	return msg, nil
}

func (h *Hub) loop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("failed to marshal dashboard message", "error", err)
				continue
			}
			for _, conn := range h.snapshot() {
				if err := h.write(conn, data); err != nil {
					h.logger.Debug("dashboard client write failed", "error", err)
					h.remove(conn)
				}
			}
		}
	}
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	return conns
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	if h.current != nil {
		msg, err := newMessage(MessageStatus, h.current())
		if err == nil {
			if data, err := json.Marshal(msg); err == nil {
				_ = h.write(conn, data)
			}
		}
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("dashboard client connected", "clients", count)

	// Clients never send anything; reading only detects the close.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.Read(h.ctx); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("dashboard client disconnected", "clients", count)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the broadcast loop.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	conns := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
	for conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
