package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// EventType defines the type of portal event pushed to clients.
type EventType string

const (
	// EventProjectStatus indicates a project's sync status changed.
	EventProjectStatus EventType = "project_status"

	// EventConfigChanged indicates a project's group configuration changed.
	EventConfigChanged EventType = "config_changed"
)

// Event is one websocket broadcast message.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ProjectStatusData carries a status transition.
type ProjectStatusData struct {
	ProjectID int64  `json:"projectId"`
	Status    string `json:"status"`
}

// Hub manages websocket clients and fans portal events out to them.
// Clients poll project status over HTTP as well; the hub just saves them
// the polling latency.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewHub creates a hub. Call Start before mounting its handler.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start launches the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop disconnects all clients and waits for the loop to exit.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues an event for all connected clients. Dropped when the
// queue is full rather than blocking a caller.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.ctx.Done():
	default:
		h.logger.Println("Warning: event queue full, dropping event")
	}
}

// ProjectStatusChanged implements syncer.Notifier.
func (h *Hub) ProjectStatusChanged(projectID int64, status review.ProjectStatus) {
	data, err := json.Marshal(ProjectStatusData{ProjectID: projectID, Status: string(status)})
	if err != nil {
		return
	}
	h.Broadcast(Event{Type: EventProjectStatus, Data: data})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case ev := <-h.broadcast:
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and parks it in a read loop.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Printf("WebSocket client connected (total: %d)", n)

	go h.readLoop(conn)
}

// readLoop drains (and ignores) client messages until disconnect.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
	}
	n := len(h.clients)
	h.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("WebSocket client disconnected (total: %d)", n)
	}
}
