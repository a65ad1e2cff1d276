package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/branchbot/prsweep/internal/sweep"
)

// Hub manages WebSocket connections and broadcasts sweep events to clients.
type Hub struct {
	clients map[string]*wsClient
	mu      sync.RWMutex
	nextID  int
}

type wsClient struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex // serializes writes
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*wsClient)}
}

// HandleWS is the HTTP handler for the /events endpoint. It upgrades the
// connection and holds it open until the client disconnects. Clients only
// listen; anything they send is discarded.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local tool, any origin may subscribe
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	h.nextID++
	id := fmt.Sprintf("client-%d", h.nextID)
	client := &wsClient{conn: c, ctx: ctx}
	h.clients[id] = client
	h.mu.Unlock()

	slog.Info("watch client connected", "id", id, "remote", r.RemoteAddr)

	h.readLoop(ctx, id, client)
}

func (h *Hub) readLoop(ctx context.Context, id string, client *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		client.conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("watch client disconnected", "id", id)
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return // client disconnected
		}
	}
}

// Broadcast sends an event to all connected clients. Failed writes are
// ignored; the client's read loop notices the broken connection and
// unregisters it.
func (h *Hub) Broadcast(ev sweep.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.Write(c.ctx, websocket.MessageText, data)
		c.mu.Unlock()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
