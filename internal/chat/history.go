package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the optional durable message store. In-memory state is
// authoritative for connected clients; the store is a best-effort
// durability layer consulted only to hydrate history after a restart.
type Store interface {
	Insert(ctx context.Context, msg Message) error
	QueryRecent(ctx context.Context, roomID string, origin Origin, limit int) ([]Message, error)
	DeleteExcept(ctx context.Context, roomID string, origin Origin, keepIDs []string) error
}

// History holds each room's bounded recent-message window. User and AI
// messages are retained independently: trimming one origin never
// discards the other. Thread-safe via sync.RWMutex.
type History struct {
	mu        sync.RWMutex
	rooms     map[string]*roomHistory
	userLimit int
	aiLimit   int

	store   Store // optional, nil disables persistence
	ops     chan storeOp
	stopped chan struct{}
	stop    context.CancelFunc
}

type roomHistory struct {
	user []Message
	ai   []Message
}

// storeOp is a queued persistence side effect. Writes never block or
// gate the in-memory append path.
type storeOp struct {
	insert *Message
	trim   *trimOp
}

type trimOp struct {
	roomID  string
	origin  Origin
	keepIDs []string
}

// NewHistory creates a History retaining up to userLimit user-origin
// and aiLimit ai-origin messages per room. store may be nil.
func NewHistory(userLimit, aiLimit int, store Store) *History {
	h := &History{
		rooms:     make(map[string]*roomHistory),
		userLimit: userLimit,
		aiLimit:   aiLimit,
		store:     store,
	}
	if store != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.ops = make(chan storeOp, 256)
		h.stopped = make(chan struct{})
		h.stop = cancel
		go h.persistLoop(ctx)
	}
	return h
}

// Append adds a message to its room's window, evicting the oldest
// excess messages of the same origin. Persistence is dispatched
// asynchronously; the caller never waits on the store.
func (h *History) Append(msg Message) {
	h.mu.Lock()
	rh, ok := h.rooms[msg.RoomID]
	if !ok {
		rh = &roomHistory{}
		h.rooms[msg.RoomID] = rh
	}

	var evicted int
	if msg.Origin == OriginAI {
		rh.ai = append(rh.ai, msg)
		if len(rh.ai) > h.aiLimit {
			evicted = len(rh.ai) - h.aiLimit
			rh.ai = rh.ai[evicted:]
		}
	} else {
		rh.user = append(rh.user, msg)
		if len(rh.user) > h.userLimit {
			evicted = len(rh.user) - h.userLimit
			rh.user = rh.user[evicted:]
		}
	}

	var trim *trimOp
	if evicted > 0 && h.store != nil {
		if msg.Origin == OriginAI {
			trim = keepListTrim(msg.RoomID, OriginAI, rh.ai)
		} else {
			trim = keepListTrim(msg.RoomID, OriginUser, rh.user)
		}
	}
	h.mu.Unlock()

	if h.store != nil {
		h.enqueue(storeOp{insert: &msg})
		if trim != nil {
			h.enqueue(storeOp{trim: trim})
		}
	}
}

// SetLimits applies reloaded retention bounds, immediately trimming
// any room whose window now exceeds them. Trims reach the store the
// same way append-time evictions do.
func (h *History) SetLimits(userLimit, aiLimit int) {
	h.mu.Lock()
	h.userLimit = userLimit
	h.aiLimit = aiLimit

	var trims []*trimOp
	for roomID, rh := range h.rooms {
		if n := len(rh.user) - userLimit; n > 0 {
			rh.user = rh.user[n:]
			if h.store != nil {
				trims = append(trims, keepListTrim(roomID, OriginUser, rh.user))
			}
		}
		if n := len(rh.ai) - aiLimit; n > 0 {
			rh.ai = rh.ai[n:]
			if h.store != nil {
				trims = append(trims, keepListTrim(roomID, OriginAI, rh.ai))
			}
		}
	}
	h.mu.Unlock()

	for _, trim := range trims {
		h.enqueue(storeOp{trim: trim})
	}
}

func keepListTrim(roomID string, origin Origin, kept []Message) *trimOp {
	ids := make([]string, len(kept))
	for i, m := range kept {
		ids[i] = m.ID
	}
	return &trimOp{roomID: roomID, origin: origin, keepIDs: ids}
}

// Recent returns the room's retained messages merged in chronological
// order. The result is a copy.
func (h *History) Recent(roomID string) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rh, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	return mergeByTime(rh.user, rh.ai)
}

// Empty reports whether the room has no retained messages.
func (h *History) Empty(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rh, ok := h.rooms[roomID]
	return !ok || (len(rh.user) == 0 && len(rh.ai) == 0)
}

// Hydrate loads a room's recent history from the durable store into
// memory. Called at join time when the in-memory window is empty
// (e.g. after a process restart). A store failure falls back to an
// empty history; it never fails the join.
func (h *History) Hydrate(ctx context.Context, roomID string) {
	if h.store == nil {
		return
	}
	h.mu.RLock()
	userLimit, aiLimit := h.userLimit, h.aiLimit
	h.mu.RUnlock()

	user, err := h.store.QueryRecent(ctx, roomID, OriginUser, userLimit)
	if err != nil {
		slog.Warn("history hydrate failed", "room", roomID, "origin", OriginUser, "error", err)
		return
	}
	ai, err := h.store.QueryRecent(ctx, roomID, OriginAI, aiLimit)
	if err != nil {
		slog.Warn("history hydrate failed", "room", roomID, "origin", OriginAI, "error", err)
		return
	}
	if len(user) == 0 && len(ai) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	rh, ok := h.rooms[roomID]
	if !ok {
		rh = &roomHistory{}
		h.rooms[roomID] = rh
	}
	// Only seed windows that are still empty; a concurrent append wins.
	if len(rh.user) == 0 {
		rh.user = append(rh.user, user...)
	}
	if len(rh.ai) == 0 {
		rh.ai = append(rh.ai, ai...)
	}
}

// Close flushes and stops the persistence queue. Safe when no store is
// configured.
func (h *History) Close() {
	if h.store == nil {
		return
	}
	close(h.ops)
	<-h.stopped
	h.stop()
}

func (h *History) enqueue(op storeOp) {
	select {
	case h.ops <- op:
	default:
		// Queue full: drop the side effect, in-memory state stays
		// authoritative.
		slog.Warn("persistence queue full, dropping store write")
	}
}

func (h *History) persistLoop(ctx context.Context) {
	defer close(h.stopped)
	for op := range h.ops {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		switch {
		case op.insert != nil:
			if err := h.store.Insert(opCtx, *op.insert); err != nil {
				slog.Warn("store insert failed", "room", op.insert.RoomID, "id", op.insert.ID, "error", err)
			}
		case op.trim != nil:
			if err := h.store.DeleteExcept(opCtx, op.trim.roomID, op.trim.origin, op.trim.keepIDs); err != nil {
				slog.Warn("store trim failed", "room", op.trim.roomID, "origin", op.trim.origin, "error", err)
			}
		}
		cancel()
	}
}

// mergeByTime merges two chronologically ordered slices into one.
func mergeByTime(a, b []Message) []Message {
	out := make([]Message, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Before(b[j]) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
