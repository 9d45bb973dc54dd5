package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/cortexuvula/roomrelay/internal/chat"
	"github.com/cortexuvula/roomrelay/internal/logring"
	"github.com/cortexuvula/roomrelay/internal/metrics"
	"github.com/cortexuvula/roomrelay/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds everything the ops listener reports on.
type Dependencies struct {
	Tracker     *server.Tracker
	Coordinator *chat.Coordinator
	RingBuffer  *logring.RingBuffer
	Metrics     *metrics.Metrics // optional, nil if metrics disabled

	// ProviderURL is probed for reachability on /health. Empty skips
	// the probe and reports the provider as reachable.
	ProviderURL string

	Version   string
	BuildTime string
	GitCommit string
	StartTime time.Time
	Detailed  bool
}

// Ops serves the loopback operations endpoints: health, status, logs
// and (optionally) Prometheus metrics.
type Ops struct {
	deps Dependencies
}

// New creates an Ops instance.
func New(deps Dependencies) *Ops {
	return &Ops{deps: deps}
}

// Handler returns the ops mux. metricsEndpoint is mounted only when
// metricsEnabled is true.
func (o *Ops) Handler(metricsEnabled bool, metricsEndpoint string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", o.handleHealth)
	mux.HandleFunc("/api/status", o.handleStatus)
	mux.HandleFunc("/api/logs", o.handleLogs)
	if metricsEnabled {
		mux.Handle(metricsEndpoint, promhttp.Handler())
	}
	return mux
}

// healthResponse is the JSON response from the /health endpoint.
type healthResponse struct {
	Status            string         `json:"status"`
	Uptime            string         `json:"uptime"`
	ActiveConnections int            `json:"active_connections"`
	ProviderReachable bool           `json:"provider_reachable"`
	Version           string         `json:"version"`
	Timestamp         string         `json:"timestamp"`
	Details           *healthDetails `json:"details,omitempty"`
}

type healthDetails struct {
	TotalConnections int64   `json:"total_connections"`
	TotalMessages    int64   `json:"total_messages"`
	MemoryMB         float64 `json:"memory_mb"`
}

// handleHealth serves liveness for systemd, Prometheus and local
// monitoring. The ops listener binds to loopback, separate from the
// chat listener.
func (o *Ops) handleHealth(w http.ResponseWriter, r *http.Request) {
	providerOK := o.checkProvider()

	if o.deps.Metrics != nil {
		if providerOK {
			o.deps.Metrics.ProviderReachable.Set(1)
		} else {
			o.deps.Metrics.ProviderReachable.Set(0)
		}
	}

	status := "ok"
	httpCode := http.StatusOK
	if !providerOK {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := healthResponse{
		Status:            status,
		Uptime:            time.Since(o.deps.StartTime).Round(time.Second).String(),
		ActiveConnections: o.deps.Tracker.ActiveConnections(),
		ProviderReachable: providerOK,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if o.deps.Detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = o.deps.Version
		resp.Details = &healthDetails{
			TotalConnections: o.deps.Tracker.TotalConnections(),
			TotalMessages:    o.deps.Tracker.TotalMessages(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	writeJSON(w, httpCode, resp)
}

// statusResponse is the JSON body for GET /api/status.
type statusResponse struct {
	Uptime            string         `json:"uptime"`
	UptimeSeconds     float64        `json:"uptime_seconds"`
	ActiveConnections int            `json:"active_connections"`
	TotalConnections  int64          `json:"total_connections"`
	TotalMessages     int64          `json:"total_messages"`
	RoomOccupancy     map[string]int `json:"room_occupancy"`
	MemoryMB          float64        `json:"memory_mb"`
	Goroutines        int            `json:"goroutines"`
	Version           string         `json:"version"`
	BuildTime         string         `json:"build_time"`
	GitCommit         string         `json:"git_commit"`
}

func (o *Ops) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(o.deps.StartTime)

	resp := statusResponse{
		Uptime:            uptime.Round(time.Second).String(),
		UptimeSeconds:     uptime.Seconds(),
		ActiveConnections: o.deps.Tracker.ActiveConnections(),
		TotalConnections:  o.deps.Tracker.TotalConnections(),
		TotalMessages:     o.deps.Tracker.TotalMessages(),
		RoomOccupancy:     o.deps.Coordinator.Occupancy(),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
		Version:           o.deps.Version,
		BuildTime:         o.deps.BuildTime,
		GitCommit:         o.deps.GitCommit,
	}

	writeJSON(w, http.StatusOK, resp)
}

// logEntryResponse mirrors logring.LogEntry for JSON serialization.
type logEntryResponse struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (o *Ops) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if o.deps.RingBuffer == nil {
		writeJSON(w, http.StatusOK, []logEntryResponse{})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if v := r.URL.Query().Get("level"); v != "" {
		switch v {
		case "debug":
			minLevel = slog.LevelDebug
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			since = t
		}
	}

	entries := o.deps.RingBuffer.Entries(limit, minLevel, since)
	resp := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = logEntryResponse{
			Time:    e.Time.Format(time.RFC3339Nano),
			Level:   e.Level.String(),
			Message: e.Message,
			Attrs:   e.Attrs,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// checkProvider verifies the completion provider is reachable. A plain
// HTTP request is enough; any response (even 4xx) means it is alive.
// noRedirectClient refuses redirects to prevent SSRF amplification.
var noRedirectClient = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func (o *Ops) checkProvider() bool {
	if o.deps.ProviderURL == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.deps.ProviderURL, nil)
	if err != nil {
		slog.Debug("provider health check request creation failed", "error", err)
		return false
	}

	resp, err := noRedirectClient.Do(req)
	if err != nil {
		slog.Debug("provider unreachable", "url", o.deps.ProviderURL, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
