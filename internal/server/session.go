package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// envelope is the wire frame for both directions: an event name and an
// event-specific payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// session is the per-connection write side. Events are enqueued onto a
// bounded channel and drained by a single writer goroutine, so the
// coordinator never blocks on a slow client.
type session struct {
	id           string
	conn         *websocket.Conn
	queue        chan outEnvelope
	writeTimeout time.Duration
}

func newSession(id string, conn *websocket.Conn, queueSize int, writeTimeout time.Duration) *session {
	return &session{
		id:           id,
		conn:         conn,
		queue:        make(chan outEnvelope, queueSize),
		writeTimeout: writeTimeout,
	}
}

// Enqueue implements chat.Subscriber. It never blocks; a full queue
// drops the event and reports false.
func (s *session) Enqueue(event string, payload any) bool {
	select {
	case s.queue <- outEnvelope{Event: event, Data: payload}:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue onto the connection until ctx is
// cancelled. A write failure cancels the whole connection via onFail.
func (s *session) writeLoop(ctx context.Context, onFail context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.queue:
			payload, err := json.Marshal(e)
			if err != nil {
				slog.Error("event encoding failed", "conn", s.id, "event", e.Event, "error", err)
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, s.writeTimeout)
			err = s.conn.Write(writeCtx, websocket.MessageText, payload)
			writeCancel()
			if err != nil {
				slog.Debug("write failed", "conn", s.id, "reason", err)
				onFail()
				return
			}
		}
	}
}
