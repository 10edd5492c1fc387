package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AdminStreamConn pushes observability snapshots to one connected dashboard
// client. It never touches gameplay state or the UDP path.
type AdminStreamConn struct {
	ws   *websocket.Conn
	send chan []byte
}

func newAdminStreamConn(ws *websocket.Conn) *AdminStreamConn {
	return &AdminStreamConn{ws: ws, send: make(chan []byte, 8)}
}

// Enqueue queues a frame, dropping it if the client is too slow to drain
// rather than blocking the broadcaster.
func (c *AdminStreamConn) Enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

func (c *AdminStreamConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// drainReads discards any client input; the stream is push-only, but the
// read loop is what notices the client going away.
func (c *AdminStreamConn) drainReads(hub *AdminStreamHub) {
	defer func() {
		hub.remove(c)
		close(c.send)
	}()
	c.ws.SetReadLimit(1 << 10)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// AdminStreamHub fans a periodic registry snapshot out to every connected
// dashboard (SPEC_FULL.md §2.3).
type AdminStreamHub struct {
	mu       sync.Mutex
	conns    map[*AdminStreamConn]struct{}
	registry *Registry
	dispatcher *Dispatcher
}

func NewAdminStreamHub(registry *Registry, dispatcher *Dispatcher) *AdminStreamHub {
	return &AdminStreamHub{conns: make(map[*AdminStreamConn]struct{}), registry: registry, dispatcher: dispatcher}
}

func (h *AdminStreamHub) add(c *AdminStreamConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *AdminStreamHub) remove(c *AdminStreamConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Run pushes a fresh snapshot to every connected dashboard at interval until
// stop is closed.
func (h *AdminStreamHub) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.broadcastSnapshot()
		}
	}
}

func (h *AdminStreamHub) broadcastSnapshot() {
	frame, err := json.Marshal(BuildRegistrySnapshot(h.registry, h.dispatcher))
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.Enqueue(frame)
	}
}

var adminStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleAdminStream upgrades GET /admin/stream into a read-only push feed of
// match/player snapshots. It never parses gameplay traffic; that stays on
// the UDP-only path in dispatcher.go.
func (h *AdminStreamHub) HandleAdminStream(w http.ResponseWriter, r *http.Request) {
	ws, err := adminStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("admin stream upgrade failed", "err", err)
		return
	}
	conn := newAdminStreamConn(ws)
	h.add(conn)
	go conn.writePump()
	go conn.drainReads(h)
}
