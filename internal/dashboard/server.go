// Package dashboard implements the local dashboard server: static
// file HTTP on one port, live event WebSocket on the next. Grounded on
// internal/gateway/ws_control_plane.go for the per-connection
// read/write loop and non-blocking send-queue idiom, and directly on
// original_source/server.py for the typed inbound message catalogue
// (get_stats, get_memory, save_memory, send_task, kill, update_config).
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tarsline/agentrt/internal/agentmemory"
	"github.com/tarsline/agentrt/internal/eventbus"
	"github.com/tarsline/agentrt/pkg/models"
)

const (
	maxPayloadBytes  = 1 << 20
	sendQueueLen     = 64
	pongWait         = 45 * time.Second
	writeWait        = 10 * time.Second
	pingInterval     = 15 * time.Second
)

// clientFrame is one inbound message from a dashboard socket.
type clientFrame struct {
	Type    string          `json:"type"`
	Task    string          `json:"task,omitempty"`
	Field   string          `json:"field,omitempty"`
	Content string          `json:"content,omitempty"`
	Key     string          `json:"key,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// serverFrame is one outbound event: a {type, ts, data} shape.
type serverFrame struct {
	Type string         `json:"type"`
	TS   time.Time      `json:"ts"`
	Data map[string]any `json:"data,omitempty"`
}

// Hooks lets the dashboard bridge into the brain/memory without importing
// them directly (avoids an import cycle — the brain itself may want to
// surface dashboard status).
type Hooks struct {
	GetStats     func() map[string]agentmemory.AgentStats
	GetMemory    func() string
	SaveMemory   func(field, content string)
	SendTask     func(task string)
	UpdateConfig func(key string, value json.RawMessage)
	Kill         func()
}

// Server owns the two listeners and bridges the event bus to every
// connected dashboard socket.
type Server struct {
	bus      *eventbus.Bus
	hooks    Hooks
	staticDir string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	killed   atomic.Bool
}

// New builds a dashboard server. staticDir is served verbatim with
// no-cache headers; hooks bridge inbound commands to the brain.
func New(bus *eventbus.Bus, staticDir string, hooks Hooks, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bus: bus, hooks: hooks, staticDir: staticDir, logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize: 8192, WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// IsKilled reports the process-wide cooperative cancellation flag, for
// agent loops to poll between steps.
func (s *Server) IsKilled() bool { return s.killed.Load() }

// HTTPHandler serves static UI files with Cache-Control: no-cache.
func (s *Server) HTTPHandler() http.Handler {
	fileServer := http.FileServer(http.Dir(s.staticDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		fileServer.ServeHTTP(w, r)
	})
}

// WSHandler upgrades and runs one dashboard connection.
func (s *Server) WSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess := &session{server: s, conn: conn, send: make(chan []byte, sendQueueLen), id: uuid.NewString()}
		sess.run()
	})
}

type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	id     string
	closed atomic.Bool
}

func (sess *session) run() {
	defer sess.close()
	go sess.writeLoop()
	sess.sendSnapshot()

	unsubscribe := sess.server.bus.SubscribeStream(func(ev models.Event) bool {
		return sess.enqueue(serverFrame{Type: ev.Type, TS: ev.TS, Data: ev.Data})
	})
	defer unsubscribe()

	sess.readLoop()
}

func (sess *session) close() {
	if sess.closed.CompareAndSwap(false, true) {
		close(sess.send)
	}
	_ = sess.conn.Close()
}

// sendSnapshot delivers the bus history snapshot immediately on connect,
// before live events are subscribed.
func (sess *session) sendSnapshot() {
	for _, ev := range sess.server.bus.History() {
		sess.enqueue(serverFrame{Type: ev.Type, TS: ev.TS, Data: ev.Data})
	}
}

func (sess *session) readLoop() {
	sess.conn.SetReadLimit(maxPayloadBytes)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		sess.handle(frame)
	}
}

func (sess *session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				return
			}
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue attempts a non-blocking send; a full queue drops the frame
// silently (the bus history snapshot means a dropped live event is never
// the client's only chance to see it).
func (sess *session) enqueue(frame serverFrame) bool {
	raw, err := json.Marshal(frame)
	if err != nil {
		return true
	}
	select {
	case sess.send <- raw:
		return true
	default:
		return false
	}
}

// handle dispatches one typed inbound client message.
func (sess *session) handle(frame clientFrame) {
	h := sess.server.hooks
	switch frame.Type {
	case "get_stats":
		if h.GetStats != nil {
			sess.enqueue(serverFrame{Type: "stats", TS: time.Now(), Data: map[string]any{"agents": h.GetStats()}})
		}
	case "get_memory":
		if h.GetMemory != nil {
			sess.enqueue(serverFrame{Type: "memory", TS: time.Now(), Data: map[string]any{"content": h.GetMemory()}})
		}
	case "save_memory":
		if h.SaveMemory != nil {
			h.SaveMemory(frame.Field, frame.Content)
		}
	case "send_task":
		if h.SendTask != nil {
			go h.SendTask(frame.Task)
		}
	case "kill":
		sess.server.killed.Store(true)
		if h.Kill != nil {
			h.Kill()
		}
	case "update_config":
		if h.UpdateConfig != nil {
			h.UpdateConfig(frame.Key, frame.Value)
		}
	}
}
