package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cortexuvula/roomrelay/internal/metrics"
	"github.com/cortexuvula/roomrelay/internal/rooms"
)

// Server→client event names. The names are the wire protocol; the
// browser client listens for them verbatim.
const (
	EventRoomInfo       = "room-info"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventNewRoomMessage = "new-room-message"
	EventNewAIMessage   = "new-ai-message"
	EventRoomOccupancy  = "room-occupancy"
	EventError          = "error"
)

// AIAuthor is the display identity of persona replies.
const AIAuthor = "AI"

// Subscriber delivers server events to one connection. Enqueue must
// not block; it reports false when the event was dropped (slow client).
type Subscriber interface {
	Enqueue(event string, payload any) bool
}

// Completer produces one persona reply for a room.
type Completer interface {
	Complete(ctx context.Context, roomID, userText string) (string, error)
}

// RoomInfo is sent privately to a connection when it joins.
type RoomInfo struct {
	MemberCount    int       `json:"memberCount"`
	RecentMessages []Message `json:"recentMessages"`
}

// Presence announces a member joining or leaving a room.
type Presence struct {
	Identity    string `json:"username"`
	MemberCount int    `json:"memberCount"`
}

// ErrorEvent is sent privately when a client request is rejected.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Options configures a Coordinator.
type Options struct {
	Registry     *Registry
	History      *History
	Rooms        *rooms.Directory
	Completer    Completer
	Metrics      *metrics.Metrics // optional
	FallbackText string
	MaxTextLen   int
	Clock        func() time.Time // optional, defaults to time.Now
	NewID        func() string    // optional, defaults to NewMessageID
}

// Coordinator is the session state machine. It owns the connection →
// subscriber map and drives the registry, history and completion
// gateway. A single mutex serializes all state mutation and broadcast
// enqueueing, which makes append order the delivery order within each
// room+channel. Completion calls run outside the mutex.
type Coordinator struct {
	mu        sync.Mutex
	subs      map[string]Subscriber
	registry  *Registry
	history   *History
	rooms     *rooms.Directory
	completer Completer
	metrics   *metrics.Metrics

	fallback   string
	maxTextLen int
	clock      func() time.Time
	newID      func() string

	// aiLocks bounds in-flight completions to one per room, so a slow
	// provider call never piles up concurrent requests for the same
	// persona or blocks other rooms.
	aiMu    sync.Mutex
	aiLocks map[string]*sync.Mutex
}

// NewCoordinator creates a Coordinator from opts.
func NewCoordinator(opts Options) *Coordinator {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = NewMessageID
	}
	return &Coordinator{
		subs:       make(map[string]Subscriber),
		registry:   opts.Registry,
		history:    opts.History,
		rooms:      opts.Rooms,
		completer:  opts.Completer,
		metrics:    opts.Metrics,
		fallback:   opts.FallbackText,
		maxTextLen: opts.MaxTextLen,
		clock:      clock,
		newID:      newID,
		aiLocks:    make(map[string]*sync.Mutex),
	}
}

// UpdateLimits applies reloaded message bounds and the fallback line.
// Replies already in flight keep the fallback they started with.
func (c *Coordinator) UpdateLimits(fallbackText string, maxTextLen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = fallbackText
	c.maxTextLen = maxTextLen
}

// Connect registers a connection in the Unjoined state.
func (c *Coordinator) Connect(connID string, sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[connID] = sub
	slog.Debug("connection registered", "conn", connID)
}

// Join moves a connection into a room. An unknown room id rejects the
// join with an error event. A join while already joined performs an
// implicit leave of the old room first.
func (c *Coordinator) Join(connID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[connID]
	if !ok {
		return
	}
	if _, known := c.rooms.Get(roomID); !known {
		slog.Warn("join rejected: unknown room", "conn", connID, "room", roomID)
		sub.Enqueue(EventError, ErrorEvent{Code: "room-not-found", Message: "that room does not exist"})
		return
	}

	m, prior := c.registry.Join(connID, roomID)
	if prior != nil && prior.RoomID != "" {
		c.broadcastRoomLocked(prior.RoomID, connID, EventUserLeft, Presence{
			Identity:    prior.Identity,
			MemberCount: c.registry.MemberCount(prior.RoomID),
		})
	}

	// First join of this room since startup: pull recent history from
	// the durable store, if one is configured.
	if c.history.Empty(roomID) {
		c.history.Hydrate(context.Background(), roomID)
	}

	count := c.registry.MemberCount(roomID)
	c.broadcastRoomLocked(roomID, connID, EventUserJoined, Presence{Identity: m.Identity, MemberCount: count})

	recent := c.history.Recent(roomID)
	if recent == nil {
		recent = []Message{}
	}
	sub.Enqueue(EventRoomInfo, RoomInfo{MemberCount: count, RecentMessages: recent})

	c.broadcastAllLocked(EventRoomOccupancy, c.registry.CountsByRoom())

	slog.Info("user joined room", "identity", m.Identity, "room", roomID)
}

// SendRoomMessage appends a user message to the room-chat channel and
// fans it out to all room members, including the sender. A message
// from an unjoined connection is silently dropped.
func (c *Coordinator) SendRoomMessage(connID, text, replyTo, replyToAuthor string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.registry.Get(connID)
	if !ok {
		slog.Debug("room message dropped: connection not joined", "conn", connID)
		return
	}
	text = c.sanitize(text)
	if text == "" {
		return
	}

	msg := Message{
		ID:            c.newID(),
		Text:          text,
		Author:        m.Identity,
		RoomID:        m.RoomID,
		Origin:        OriginUser,
		Channel:       ChannelRoom,
		ReplyTo:       replyTo,
		ReplyToAuthor: replyToAuthor,
		Timestamp:     c.clock(),
	}
	c.history.Append(msg)
	c.broadcastRoomLocked(m.RoomID, "", EventNewRoomMessage, msg)
	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(string(ChannelRoom)).Inc()
	}
}

// SendAIMessage appends a user message to the ai-chat channel, fans it
// out, then asks the completion gateway for a persona reply
// asynchronously. Exactly one AI message follows: the reply, or the
// fallback line when the provider fails.
func (c *Coordinator) SendAIMessage(connID, text string) {
	c.mu.Lock()

	m, ok := c.registry.Get(connID)
	if !ok {
		c.mu.Unlock()
		slog.Debug("ai message dropped: connection not joined", "conn", connID)
		return
	}
	text = c.sanitize(text)
	if text == "" {
		c.mu.Unlock()
		return
	}

	msg := Message{
		ID:        c.newID(),
		Text:      text,
		Author:    m.Identity,
		RoomID:    m.RoomID,
		Origin:    OriginUser,
		Channel:   ChannelAI,
		Timestamp: c.clock(),
	}
	c.history.Append(msg)
	c.broadcastRoomLocked(m.RoomID, "", EventNewAIMessage, msg)
	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(string(ChannelAI)).Inc()
	}
	roomID := m.RoomID
	c.mu.Unlock()

	go c.completeAI(roomID, text)
}

// completeAI performs the provider call and delivers the reply. The
// per-room lock admits one provider call per room at a time without
// blocking other rooms or non-AI traffic; each reply is appended and
// broadcast atomically, though two rapid questions may resolve in
// either order. The reply is room-scoped: it is delivered to whoever
// is subscribed when it resolves, even if the asking connection is
// gone.
func (c *Coordinator) completeAI(roomID, userText string) {
	lock := c.roomAILock(roomID)
	lock.Lock()
	defer lock.Unlock()

	reply, err := c.completer.Complete(context.Background(), roomID, userText)
	if err != nil {
		// The raw provider error is for operators, not chat users.
		slog.Error("completion failed", "room", roomID, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	outcome := "ok"
	if err != nil {
		reply = c.fallback
		outcome = "fallback"
	}
	if c.metrics != nil {
		c.metrics.CompletionsTotal.WithLabelValues(outcome).Inc()
	}
	msg := Message{
		ID:        c.newID(),
		Text:      reply,
		Author:    AIAuthor,
		RoomID:    roomID,
		Origin:    OriginAI,
		Channel:   ChannelAI,
		Timestamp: c.clock(),
	}
	c.history.Append(msg)
	c.broadcastRoomLocked(roomID, "", EventNewAIMessage, msg)
	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(string(ChannelAI)).Inc()
	}
}

// Disconnect removes a connection, notifying its room if it was
// joined. No-op for connections that never joined.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subs, connID)
	m, ok := c.registry.Leave(connID)
	if !ok {
		return
	}
	c.broadcastRoomLocked(m.RoomID, connID, EventUserLeft, Presence{
		Identity:    m.Identity,
		MemberCount: c.registry.MemberCount(m.RoomID),
	})
	c.broadcastAllLocked(EventRoomOccupancy, c.registry.CountsByRoom())
	slog.Info("user left room", "identity", m.Identity, "room", m.RoomID)
}

// Occupancy returns a snapshot of non-zero room member counts.
func (c *Coordinator) Occupancy() map[string]int {
	return c.registry.CountsByRoom()
}

// broadcastRoomLocked enqueues an event to every member of a room,
// excluding excludeConn when non-empty. Caller holds c.mu.
func (c *Coordinator) broadcastRoomLocked(roomID, excludeConn, event string, payload any) {
	for _, connID := range c.registry.Connections(roomID) {
		if connID == excludeConn {
			continue
		}
		if sub, ok := c.subs[connID]; ok {
			if !sub.Enqueue(event, payload) {
				slog.Debug("event dropped for slow client", "conn", connID, "event", event)
			}
		}
	}
}

// broadcastAllLocked enqueues an event to every connection, joined or
// not, so lobby views can track occupancy. Caller holds c.mu.
func (c *Coordinator) broadcastAllLocked(event string, payload any) {
	for connID, sub := range c.subs {
		if !sub.Enqueue(event, payload) {
			slog.Debug("event dropped for slow client", "conn", connID, "event", event)
		}
	}
}

func (c *Coordinator) roomAILock(roomID string) *sync.Mutex {
	c.aiMu.Lock()
	defer c.aiMu.Unlock()
	lock, ok := c.aiLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		c.aiLocks[roomID] = lock
	}
	return lock
}

func (c *Coordinator) sanitize(text string) string {
	text = strings.TrimSpace(text)
	if c.maxTextLen > 0 && len(text) > c.maxTextLen {
		text = text[:c.maxTextLen]
		// Keep the cut on a rune boundary.
		for len(text) > 0 && !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
	}
	return text
}
