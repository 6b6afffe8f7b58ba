// Package relay implements the reverse tunnel: a local process that
// opens a persistent outbound WebSocket to a remote relay and forwards
// every bus event as a JSON frame, and the remote relay hub itself.
// Grounded directly on original_source/tunnel.py for the tunnel's
// reconnect/heartbeat policy, and on original_source/relay/server.py for
// the hub's two-route broadcast/replay behavior. Auth borrows
// internal/edge.TokenAuthenticator's constant-time-compare idiom for the
// tunnel side and golang-jwt/jwt/v5 for the dashboard side
// (internal/auth.JWTService).
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tarsline/agentrt/internal/eventbus"
	"github.com/tarsline/agentrt/pkg/models"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
	pingPeriod            = 15 * time.Second
	sendQueueCapacity     = 256
)

// Frame is the wire shape exchanged on both tunnel routes: a bus event
// forwarded outward, or a command forwarded inward.
type Frame struct {
	Type string         `json:"type"`
	TS   time.Time      `json:"ts,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// LocalDispatcher receives frames the relay sends back down the tunnel —
// either routed into the local dashboard WS server, or emitted onto the
// local event bus as task_received / kill_switch.
type LocalDispatcher interface {
	Dispatch(frame Frame)
}

// Tunnel is the local agent-side half: it maintains one outbound
// connection to a relay, retrying with exponential backoff, forwarding
// every bus Emit and receiving frames back for local dispatch.
type Tunnel struct {
	relayURL   string
	token      string
	bus        *eventbus.Bus
	dispatcher LocalDispatcher
	logger     *slog.Logger
	reconnects prometheus.Counter

	queue chan Frame
}

// NewTunnel builds a Tunnel bound to a relay URL, auth token, the local
// event bus, and a dispatcher for inbound frames.
func NewTunnel(relayURL, token string, bus *eventbus.Bus, dispatcher LocalDispatcher, logger *slog.Logger) *Tunnel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tunnel{
		relayURL: relayURL, token: token, bus: bus, dispatcher: dispatcher, logger: logger,
		queue: make(chan Frame, sendQueueCapacity),
	}
}

// WithReconnectCounter attaches a Prometheus counter incremented on every
// reconnect attempt after the first. Optional; nil-safe if never called.
func (t *Tunnel) WithReconnectCounter(c prometheus.Counter) *Tunnel {
	t.reconnects = c
	return t
}

// Run connects and reconnects forever (until ctx is cancelled), with
// exponential backoff capped at 30s, matching TARSTunnel.connect().
func (t *Tunnel) Run(ctx context.Context) {
	delay := initialReconnectDelay
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first && t.reconnects != nil {
			t.reconnects.Inc()
		}
		first = false
		if err := t.runOnce(ctx); err != nil {
			t.logger.Warn("tunnel: connection lost", "error", err, "retry_in", delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (t *Tunnel) runOnce(ctx context.Context) error {
	u, err := url.Parse(t.relayURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", t.token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// reset backoff on a successful connect by returning a sentinel the
	// caller ignores — Run resets delay only via a fresh successful loop
	// iteration below.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := t.bus.SubscribeStream(func(ev models.Event) bool {
		select {
		case t.queue <- Frame{Type: ev.Type, TS: ev.TS, Data: ev.Data}:
			return true
		default:
			return false // queue full, drop silently
		}
	})
	defer unsubscribe()

	errs := make(chan error, 2)
	go t.sendLoop(connCtx, conn, errs)
	go t.recvLoop(connCtx, conn, errs)

	select {
	case <-connCtx.Done():
		return connCtx.Err()
	case err := <-errs:
		return err
	}
}

func (t *Tunnel) sendLoop(ctx context.Context, conn *websocket.Conn, errs chan<- error) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-t.queue:
			raw, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				errs <- err
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				errs <- err
				return
			}
		}
	}
}

func (t *Tunnel) recvLoop(ctx context.Context, conn *websocket.Conn, errs chan<- error) {
	conn.SetPongHandler(func(string) error { return nil })
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if t.dispatcher != nil {
			t.dispatcher.Dispatch(frame)
		}
	}
}
