//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/cortexuvula/roomrelay/internal/chat"
	"github.com/cortexuvula/roomrelay/internal/completion"
	"github.com/cortexuvula/roomrelay/internal/config"
	"github.com/cortexuvula/roomrelay/internal/identity"
	"github.com/cortexuvula/roomrelay/internal/logring"
	"github.com/cortexuvula/roomrelay/internal/ops"
	"github.com/cortexuvula/roomrelay/internal/rooms"
	"github.com/cortexuvula/roomrelay/internal/security"
	"github.com/cortexuvula/roomrelay/internal/server"
	"github.com/cortexuvula/roomrelay/internal/store"
	"golang.org/x/time/rate"
)

// stubProvider serves an OpenAI-compatible chat completion endpoint
// that always replies with the given content.
func stubProvider(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type relay struct {
	srv     *httptest.Server
	opsSrv  *httptest.Server
	handler *server.Handler
	tracker *server.Tracker
}

// newRelay assembles the full stack: config, rooms, pebble store,
// history, completion gateway against a stub provider, coordinator,
// chat handler and ops handler.
func newRelay(t *testing.T, modCfg func(*config.Config)) *relay {
	t.Helper()

	provider := stubProvider(t, "toot noted.")

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.PingInterval = 0
	cfg.Security.RateLimit.Enabled = false
	cfg.Completion.BaseURL = provider.URL + "/v1"
	cfg.Completion.APIKey = "test-key"
	cfg.Store.Path = t.TempDir()

	if modCfg != nil {
		modCfg(cfg)
	}

	dir, err := rooms.LoadFile(cfg.Chat.RoomsFile)
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}

	var chatStore chat.Store
	if cfg.Store.Path != "" {
		ps, err := store.Open(cfg.Store.Path)
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		t.Cleanup(func() { ps.Close() })
		chatStore = ps
	}

	history := chat.NewHistory(cfg.Chat.UserHistory, cfg.Chat.AIHistory, chatStore)
	t.Cleanup(history.Close)

	coord := chat.NewCoordinator(chat.Options{
		Registry:     chat.NewRegistry(identity.New(nil)),
		History:      history,
		Rooms:        dir,
		Completer:    completion.New(cfg.Completion, dir),
		FallbackText: cfg.Completion.FallbackText,
		MaxTextLen:   cfg.Chat.MaxMessageText,
	})

	var rl *security.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
		rl = security.NewRateLimiter(r, cfg.Security.RateLimit.ConnectionsPerMinute)
		t.Cleanup(rl.Stop)
	}

	tracker := server.NewTracker()
	handler := server.NewHandler(cfg, coord, tracker, rl, context.Background())
	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)

	o := ops.New(ops.Dependencies{
		Tracker:     tracker,
		Coordinator: coord,
		RingBuffer:  logring.NewRingBuffer(64),
		ProviderURL: provider.URL,
		Version:     "test",
		StartTime:   time.Now(),
		Detailed:    true,
	})
	opsSrv := httptest.NewServer(o.Handler(false, ""))
	t.Cleanup(opsSrv.Close)

	return &relay{srv: srv, opsSrv: opsSrv, handler: handler, tracker: tracker}
}

func (rl *relay) dial(t *testing.T, ctx context.Context, opts *websocket.DialOptions) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(rl.srv.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func send(t *testing.T, ctx context.Context, c *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := c.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func waitEvent(t *testing.T, ctx context.Context, c *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	for {
		_, payload, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for %s: %v", want, err)
		}
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Event == want {
			return env.Data
		}
	}
}

func TestRelayConversation(t *testing.T) {
	r := newRelay(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := r.dial(t, ctx, nil)
	bob := r.dial(t, ctx, nil)

	// Alice joins first and gets an empty room.
	send(t, ctx, alice, "join", map[string]string{"roomId": "silent-but-deadly"})
	var info chat.RoomInfo
	if err := json.Unmarshal(waitEvent(t, ctx, alice, "room-info"), &info); err != nil {
		t.Fatalf("decode room-info: %v", err)
	}
	if info.MemberCount != 1 {
		t.Errorf("memberCount = %d, want 1", info.MemberCount)
	}

	// Bob joins: Alice sees user-joined, Bob sees count 2.
	send(t, ctx, bob, "join", map[string]string{"roomId": "silent-but-deadly"})
	var joined chat.Presence
	if err := json.Unmarshal(waitEvent(t, ctx, alice, "user-joined"), &joined); err != nil {
		t.Fatalf("decode user-joined: %v", err)
	}
	if joined.MemberCount != 2 {
		t.Errorf("user-joined memberCount = %d, want 2", joined.MemberCount)
	}
	if joined.Identity == "" {
		t.Error("user-joined carried no identity")
	}
	if err := json.Unmarshal(waitEvent(t, ctx, bob, "room-info"), &info); err != nil {
		t.Fatalf("decode bob room-info: %v", err)
	}
	if info.MemberCount != 2 {
		t.Errorf("bob memberCount = %d, want 2", info.MemberCount)
	}

	// Alice talks; both see the same message.
	send(t, ctx, alice, "send-room-message", map[string]string{"text": "who dealt it?"})
	var fromAlice, fromBob chat.Message
	if err := json.Unmarshal(waitEvent(t, ctx, alice, "new-room-message"), &fromAlice); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(waitEvent(t, ctx, bob, "new-room-message"), &fromBob); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fromAlice.ID != fromBob.ID || fromAlice.Text != "who dealt it?" {
		t.Errorf("fan-out mismatch: %+v vs %+v", fromAlice, fromBob)
	}
	if fromAlice.Author == "" {
		t.Error("message carried no author identity")
	}

	// Bob asks the persona; the echo and the provider reply both arrive.
	send(t, ctx, bob, "send-ai-message", map[string]string{"text": "was it you?"})
	var echo, reply chat.Message
	if err := json.Unmarshal(waitEvent(t, ctx, bob, "new-ai-message"), &echo); err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if err := json.Unmarshal(waitEvent(t, ctx, bob, "new-ai-message"), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if echo.Origin != chat.OriginUser || echo.Text != "was it you?" {
		t.Errorf("echo = %+v", echo)
	}
	if reply.Origin != chat.OriginAI || reply.Text != "toot noted." {
		t.Errorf("reply = %+v", reply)
	}
}

func TestRelayHistoryDeliveredToLateJoiner(t *testing.T) {
	r := newRelay(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	early := r.dial(t, ctx, nil)
	send(t, ctx, early, "join", map[string]string{"roomId": "the-shart"})
	waitEvent(t, ctx, early, "room-info")
	send(t, ctx, early, "send-room-message", map[string]string{"text": "close call today"})
	waitEvent(t, ctx, early, "new-room-message")

	late := r.dial(t, ctx, nil)
	send(t, ctx, late, "join", map[string]string{"roomId": "the-shart"})
	var info chat.RoomInfo
	if err := json.Unmarshal(waitEvent(t, ctx, late, "room-info"), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(info.RecentMessages) != 1 || info.RecentMessages[0].Text != "close call today" {
		t.Errorf("recentMessages = %v", info.RecentMessages)
	}
}

func TestRelayAuthToken(t *testing.T) {
	r := newRelay(t, func(cfg *config.Config) {
		cfg.Security.AuthToken = "test-secret"
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"

	// Without token — should fail
	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("expected error without auth token")
	}

	// With correct token via header
	c, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer test-secret"}},
	})
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	c.CloseNow()

	// With correct token via query param
	c2, _, err := websocket.Dial(ctx, wsURL+"?token=test-secret", nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	c2.CloseNow()
}

func TestRelayConnectionLimits(t *testing.T) {
	r := newRelay(t, func(cfg *config.Config) {
		cfg.Security.MaxConnections = 2
		cfg.Security.MaxConnectionsPerIP = 2
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		c, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conns = append(conns, c)
	}

	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("expected error when max connections reached")
	}

	conns[0].CloseNow()
	time.Sleep(50 * time.Millisecond) // let cleanup run

	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial after close: %v", err)
	}
	c.CloseNow()
	conns[1].CloseNow()
}

func TestRelayRateLimiting(t *testing.T) {
	r := newRelay(t, func(cfg *config.Config) {
		cfg.Security.RateLimit.Enabled = true
		cfg.Security.RateLimit.ConnectionsPerMinute = 2
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"

	// First two connections should succeed (burst)
	c1, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("first connection: %v", err)
	}
	c1.CloseNow()

	c2, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("second connection: %v", err)
	}
	c2.CloseNow()

	// Third should be rate limited
	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("expected rate limit error")
	}
}

func TestRelayOccupancyEndpoint(t *testing.T) {
	r := newRelay(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := r.dial(t, ctx, nil)
	send(t, ctx, c, "join", map[string]string{"roomId": "crop-duster"})
	waitEvent(t, ctx, c, "room-info")

	resp, err := http.Get(r.srv.URL + "/api/occupancy")
	if err != nil {
		t.Fatalf("occupancy: %v", err)
	}
	defer resp.Body.Close()

	var counts map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if counts["crop-duster"] != 1 {
		t.Errorf("occupancy = %v, want crop-duster:1", counts)
	}
}

func TestRelayHealthEndpoint(t *testing.T) {
	r := newRelay(t, nil)

	resp, err := http.Get(r.opsSrv.URL + "/health")
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	var hr struct {
		Status            string `json:"status"`
		ProviderReachable bool   `json:"provider_reachable"`
		Version           string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hr.Status != "ok" {
		t.Errorf("health status = %q, want ok", hr.Status)
	}
	if !hr.ProviderReachable {
		t.Error("provider_reachable = false with live stub")
	}
	if hr.Version != "test" {
		t.Errorf("version = %q, want test", hr.Version)
	}
}
