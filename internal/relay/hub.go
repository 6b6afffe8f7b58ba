package relay

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarsline/agentrt/internal/auth"
	"github.com/tarsline/agentrt/pkg/models"
)

const historyRingSize = 200

// Hub is the remote relay server: one agent tunnel route, N dashboard
// routes, a bounded replay ring. Grounded on relay/server.py's RelayState.
type Hub struct {
	sharedSecret string
	jwt          *auth.JWTService
	startedAt    time.Time

	mu         sync.RWMutex
	tunnel     *websocket.Conn
	dashboards map[*websocket.Conn]struct{}
	history    []Frame
}

// NewHub builds a relay hub. sharedSecret authenticates the agent tunnel
// route; jwtService issues and validates dashboard tokens.
func NewHub(sharedSecret string, jwtService *auth.JWTService) *Hub {
	return &Hub{
		sharedSecret: sharedSecret, jwt: jwtService, startedAt: time.Now(),
		dashboards: make(map[*websocket.Conn]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize: 8192, WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeAuth handles POST /api/auth: {passphrase} -> {token} or 401.
func (h *Hub) ServeAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Passphrase), []byte(h.sharedSecret)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	token, err := h.jwt.Generate(&models.User{ID: "dashboard"})
	if err != nil {
		http.Error(w, "token generation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ServeHealth handles GET /api/health.
func (h *Hub) ServeHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"tunnel_connected":  h.tunnel != nil,
		"dashboard_clients": len(h.dashboards),
		"events_buffered":   len(h.history),
		"uptime":            time.Since(h.startedAt).Seconds(),
	})
}

// ServeTunnel handles WS /tunnel?token=SHARED — the one agent connection.
func (h *Hub) ServeTunnel(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("token")), []byte(h.sharedSecret)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.tunnel = conn
	h.mu.Unlock()
	h.broadcastStatus(true)

	defer func() {
		h.mu.Lock()
		if h.tunnel == conn {
			h.tunnel = nil
		}
		h.mu.Unlock()
		h.broadcastStatus(false)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		h.appendHistory(frame)
		h.broadcast(frame)
	}
}

// ServeDashboard handles WS /ws?token=JWT — one of N dashboard connections.
func (h *Hub) ServeDashboard(w http.ResponseWriter, r *http.Request) {
	if _, err := h.jwt.Validate(r.URL.Query().Get("token")); err != nil {
		w.WriteHeader(4001)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.dashboards[conn] = struct{}{}
	history := append([]Frame(nil), h.history...)
	connected := h.tunnel != nil
	h.mu.Unlock()

	for _, frame := range history {
		_ = writeFrame(conn, frame)
	}
	_ = writeFrame(conn, Frame{Type: "tunnel_status", TS: time.Now(), Data: map[string]any{"connected": connected}})

	defer func() {
		h.mu.Lock()
		delete(h.dashboards, conn)
		h.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		h.forwardToTunnel(conn, frame)
	}
}

// forwardToTunnel relays a dashboard-originated frame to the agent
// tunnel; if no tunnel is connected, replies an error event to the sender.
func (h *Hub) forwardToTunnel(from *websocket.Conn, frame Frame) {
	h.mu.RLock()
	tunnel := h.tunnel
	h.mu.RUnlock()

	if tunnel == nil {
		_ = writeFrame(from, Frame{Type: "error", TS: time.Now(), Data: map[string]any{"message": "no agent connected"}})
		return
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = tunnel.WriteMessage(websocket.TextMessage, raw)
}

func (h *Hub) appendHistory(frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, frame)
	if len(h.history) > historyRingSize {
		h.history = h.history[len(h.history)-historyRingSize:]
	}
}

// broadcast fans a tunnel frame out to every dashboard, pruning dead ones.
func (h *Hub) broadcast(frame Frame) {
	h.mu.Lock()
	dead := []*websocket.Conn{}
	for conn := range h.dashboards {
		if err := writeFrame(conn, frame); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		delete(h.dashboards, conn)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcastStatus(connected bool) {
	h.broadcast(Frame{Type: "tunnel_status", TS: time.Now(), Data: map[string]any{"connected": connected}})
}

func writeFrame(conn *websocket.Conn, frame Frame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
