package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/dashrender/internal/events"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	clientBuffer = 16
)

// EventMessage is the JSON frame pushed to websocket clients.
type EventMessage struct {
	Type        string    `json:"type"`
	DashboardID string    `json:"dashboard_id"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data"`
}

func messageType(evt events.Lifecycle) string {
	switch evt.(type) {
	case events.RenderQueued:
		return "queued"
	case events.RenderStarted:
		return "started"
	case events.RenderSkipped:
		return "skipped"
	case events.ArtifactPublished:
		return "published"
	case events.RenderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type client struct {
	dashboard string // empty receives every dashboard
	send      chan EventMessage
}

// hub fans lifecycle events out to websocket clients. A client that cannot
// keep up is disconnected rather than slowing the others down.
type hub struct {
	bus     *events.Bus
	mu      sync.Mutex
	clients map[*client]struct{}
	stop    func()
	done    chan struct{}
	once    sync.Once
}

func newHub(bus *events.Bus) *hub {
	return &hub{bus: bus, clients: make(map[*client]struct{}), done: make(chan struct{})}
}

func (h *hub) start() {
	ch, unsubscribe := events.Subscribe[events.Lifecycle](h.bus, 64)
	h.stop = unsubscribe
	go func() {
		for evt := range ch {
			h.broadcast(EventMessage{
				Type:        messageType(evt),
				DashboardID: evt.Dashboard(),
				Timestamp:   evt.At(),
				Data:        evt,
			})
		}
	}()
}

func (h *hub) broadcast(msg EventMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.dashboard != "" && c.dashboard != msg.DashboardID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) close() {
	h.once.Do(func() {
		if h.stop != nil {
			h.stop()
		}
		h.mu.Lock()
		close(h.done)
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Displays on the local network connect without an Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams lifecycle events over a websocket. The optional
// dashboard query parameter limits the stream to one dashboard.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.Error(w, r, errors.NotFoundError("event stream is not enabled").Build())
		return
	}
	dashboard := r.URL.Query().Get("dashboard")
	if dashboard != "" {
		if _, _, err := s.deps.Layouts.Get(dashboard); err != nil {
			s.Error(w, r, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Debug("Websocket upgrade failed", logfields.Error(err))
		return
	}

	c := &client{dashboard: dashboard, send: make(chan EventMessage, clientBuffer)}
	if !s.hub.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go writePump(conn, c)
	readPump(conn)
	s.hub.unregister(c)
}

// readPump discards client frames and returns when the peer goes away.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Websocket client closed", logfields.Error(err))
			}
			return
		}
	}
}

// writePump delivers queued messages and keeps the connection alive. It
// owns all writes to conn.
func writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Warn("Failed to encode websocket message", logfields.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
