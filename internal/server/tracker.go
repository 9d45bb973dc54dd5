package server

import (
	"sync"
	"sync/atomic"
)

// Tracker counts active connections globally and per client IP.
type Tracker struct {
	activeConnections atomic.Int64
	totalConnections  atomic.Int64
	totalMessages     atomic.Int64

	ipConnections map[string]int
	ipMu          sync.Mutex
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ipConnections: make(map[string]int),
	}
}

// ActiveConnections returns the current number of open connections.
func (t *Tracker) ActiveConnections() int {
	return int(t.activeConnections.Load())
}

// ConnectionsForIP returns the active connection count for one IP.
func (t *Tracker) ConnectionsForIP(ip string) int {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()
	return t.ipConnections[ip]
}

// TryAcquire atomically checks both limits and claims a connection slot.
// Returns "" on success, or a reason string if a limit was hit.
func (t *Tracker) TryAcquire(ip string, maxGlobal, maxPerIP int) string {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()

	// Read the atomic under the lock to prevent TOCTOU
	current := int(t.activeConnections.Load())
	if current >= maxGlobal {
		return "max_connections"
	}

	if t.ipConnections[ip] >= maxPerIP {
		return "max_connections_per_ip"
	}

	t.activeConnections.Add(1)
	t.totalConnections.Add(1)
	t.ipConnections[ip]++
	return ""
}

// Release frees a connection slot claimed by TryAcquire.
func (t *Tracker) Release(ip string) {
	t.activeConnections.Add(-1)
	t.ipMu.Lock()
	t.ipConnections[ip]--
	if t.ipConnections[ip] <= 0 {
		delete(t.ipConnections, ip)
	}
	t.ipMu.Unlock()
}

// IncrementMessages increments the inbound message counter.
func (t *Tracker) IncrementMessages() {
	t.totalMessages.Add(1)
}

// TotalConnections returns the total number of connections accepted since start.
func (t *Tracker) TotalConnections() int64 {
	return t.totalConnections.Load()
}

// TotalMessages returns the total number of client messages read since start.
func (t *Tracker) TotalMessages() int64 {
	return t.totalMessages.Load()
}
