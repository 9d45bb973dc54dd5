package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/cortexuvula/roomrelay/internal/chat"
	"github.com/cortexuvula/roomrelay/internal/config"
	"github.com/cortexuvula/roomrelay/internal/metrics"
	"github.com/cortexuvula/roomrelay/internal/security"
	"github.com/google/uuid"
)

// Client→server event names.
const (
	eventJoin            = "join"
	eventSendRoomMessage = "send-room-message"
	eventSendAIMessage   = "send-ai-message"
)

type joinPayload struct {
	RoomID string `json:"roomId"`
}

type roomMessagePayload struct {
	Text            string `json:"text"`
	ReplyTo         string `json:"replyTo"`
	ReplyToUsername string `json:"replyToUsername"`
}

type aiMessagePayload struct {
	Text string `json:"text"`
}

// Handler accepts WebSocket connections on /ws and bridges them to the
// chat coordinator.
type Handler struct {
	Config      *config.Config
	Coordinator *chat.Coordinator
	Tracker     *Tracker
	RateLimiter *security.RateLimiter
	Metrics     *metrics.Metrics // optional, nil if metrics disabled
	ShutdownCtx context.Context  // cancelled on server shutdown

	// drainCtx is cancelled when the server begins draining connections.
	// Active connections watch this to send graceful close frames.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	// mu protects Config during hot-reload
	mu sync.RWMutex
}

// NewHandler creates a new chat handler.
func NewHandler(cfg *config.Config, coord *chat.Coordinator, tracker *Tracker, rl *security.RateLimiter, shutdownCtx context.Context) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())
	return &Handler{
		Config:      cfg,
		Coordinator: coord,
		Tracker:     tracker,
		RateLimiter: rl,
		ShutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
	}
}

// StartDrain signals all active connections to begin graceful shutdown.
// Each connection's drain watcher will send a WebSocket close frame.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Config
}

// UpdateConfig swaps the config (called on SIGHUP).
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Config = cfg
}

// Routes returns the chat listener's mux: the WebSocket endpoint plus
// the public occupancy snapshot.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/api/occupancy", h.handleOccupancy)
	return mux
}

func (h *Handler) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Coordinator.Occupancy())
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()

	// 1. Parse client IP (needed for auth logging, rate limiting, and connection tracking)
	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		slog.Error("failed to parse remote address", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// 2. Optional auth token check (header first, query param fallback —
	// browsers cannot set headers on WebSocket upgrades)
	if cfg.Security.AuthToken != "" {
		token := security.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !security.TokenMatch(token, cfg.Security.AuthToken) {
			slog.Warn("rejected invalid auth token", "client_ip", clientIP)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	// 3. Rate limit check
	if cfg.Security.RateLimit.Enabled && h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		slog.Warn("rate limit exceeded", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// 4. Connection limits (atomic check-and-increment to prevent TOCTOU race)
	if reason := h.Tracker.TryAcquire(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if reason == "max_connections" {
			slog.Warn("max connections reached", "current", h.Tracker.ActiveConnections(), "max", cfg.Security.MaxConnections)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Tracker.ConnectionsForIP(clientIP))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	}

	// 5. Accept the WebSocket connection. Browser pages always send an
	// Origin header on upgrade; allowed_origins controls which page
	// hosts may connect (default any).
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		h.Tracker.Release(clientIP)
		if h.Metrics != nil {
			h.Metrics.ActiveConnections.Dec()
			h.Metrics.ErrorsTotal.WithLabelValues("accept_failure").Inc()
		}
		slog.Error("failed to accept WebSocket", "error", err)
		return
	}
	conn.SetReadLimit(cfg.Server.MaxMessageSize)

	connID := uuid.NewString()
	slog.Info("connection established", "conn", connID, "client_ip", clientIP)

	// Use ShutdownCtx (not r.Context()) as the parent: when ServeHTTP
	// returns, r.Context() cancellation races with connection teardown.
	sessCtx, sessCancel := context.WithCancel(h.ShutdownCtx)
	defer sessCancel()

	sess := newSession(connID, conn, cfg.Server.SendQueueSize, cfg.Server.WriteTimeout)
	h.Coordinator.Connect(connID, sess)

	// Guard the close call — context cancellation can trigger internal
	// closes in coder/websocket concurrently with our cleanup.
	var closeOnce sync.Once
	closeConn := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() { conn.Close(code, reason) })
	}

	// Drain watcher: when the server starts draining, send a graceful
	// close frame. Read below then returns, triggering normal teardown.
	go func() {
		select {
		case <-h.drainCtx.Done():
			closeConn(websocket.StatusGoingAway, "server shutting down")
		case <-sessCtx.Done():
			// Connection already closing for another reason
		}
	}()

	// Keepalive pings detect dead connections. Ping must run
	// concurrently with Read per coder/websocket docs.
	if cfg.Server.PingInterval > 0 {
		go h.keepAlive(sessCtx, conn, sessCancel)
	}

	go sess.writeLoop(sessCtx, sessCancel)

	h.readLoop(sessCtx, sess, conn)

	h.Coordinator.Disconnect(connID)
	sessCancel()
	closeConn(websocket.StatusNormalClosure, "")
	h.Tracker.Release(clientIP)
	if h.Metrics != nil {
		h.Metrics.ActiveConnections.Dec()
	}
	slog.Info("connection closed", "conn", connID, "client_ip", clientIP)
}

// readLoop reads client envelopes and dispatches them to the
// coordinator until the connection or context ends.
func (h *Handler) readLoop(ctx context.Context, sess *session, conn *websocket.Conn) {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("read stopped", "conn", sess.id, "reason", err)
			return
		}
		h.Tracker.IncrementMessages()

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			slog.Debug("malformed frame", "conn", sess.id, "error", err)
			sess.Enqueue(chat.EventError, chat.ErrorEvent{Code: "bad-request", Message: "malformed message"})
			continue
		}
		h.dispatch(sess, env)
	}
}

func (h *Handler) dispatch(sess *session, env envelope) {
	switch env.Event {
	case eventJoin:
		var p joinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
			sess.Enqueue(chat.EventError, chat.ErrorEvent{Code: "bad-request", Message: "join requires a roomId"})
			return
		}
		h.Coordinator.Join(sess.id, p.RoomID)
	case eventSendRoomMessage:
		var p roomMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.Enqueue(chat.EventError, chat.ErrorEvent{Code: "bad-request", Message: "malformed message"})
			return
		}
		h.Coordinator.SendRoomMessage(sess.id, p.Text, p.ReplyTo, p.ReplyToUsername)
	case eventSendAIMessage:
		var p aiMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.Enqueue(chat.EventError, chat.ErrorEvent{Code: "bad-request", Message: "malformed message"})
			return
		}
		h.Coordinator.SendAIMessage(sess.id, p.Text)
	default:
		slog.Debug("unknown event", "conn", sess.id, "event", env.Event)
		sess.Enqueue(chat.EventError, chat.ErrorEvent{Code: "unknown-event", Message: "unknown event: " + sanitizeEventName(env.Event)})
	}
}

// keepAlive sends periodic WebSocket pings to detect dead connections.
// If a ping fails or times out, it sends a close frame and cancels the session.
func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, onFail context.CancelFunc) {
	cfg := h.GetConfig()
	ticker := time.NewTicker(cfg.Server.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Server.PongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

// sanitizeEventName keeps error echoes short and printable.
func sanitizeEventName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 32 || r > 126 {
			return -1
		}
		return r
	}, name)
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
