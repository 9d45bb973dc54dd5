package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Origin identifies who authored a message.
type Origin string

const (
	OriginUser Origin = "user"
	OriginAI   Origin = "ai"
)

// Channel identifies which of a room's two message streams a message
// belongs to. Room chat and AI chat share a room id but are
// independent streams; delivery never crosses channels.
type Channel string

const (
	ChannelRoom Channel = "room"
	ChannelAI   Channel = "ai"
)

// Message is an immutable chat record. Created once, never mutated.
type Message struct {
	ID            string
	Text          string
	Author        string
	RoomID        string
	Origin        Origin
	Channel       Channel
	ReplyTo       string
	ReplyToAuthor string
	Timestamp     time.Time
}

// wireMessage is the JSON shape shared with the browser client and the
// durable store. The isAI/isAiChat booleans are the legacy encoding of
// Origin and Channel; internally both are typed.
type wireMessage struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Username      string    `json:"username"`
	RoomID        string    `json:"roomId"`
	IsAI          bool      `json:"isAI"`
	IsAIChat      bool      `json:"isAiChat,omitempty"`
	ReplyTo       string    `json:"replyTo,omitempty"`
	ReplyToUser   string    `json:"replyToUsername,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// MarshalJSON encodes the message in the legacy wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:          m.ID,
		Text:        m.Text,
		Username:    m.Author,
		RoomID:      m.RoomID,
		IsAI:        m.Origin == OriginAI,
		IsAIChat:    m.Channel == ChannelAI,
		ReplyTo:     m.ReplyTo,
		ReplyToUser: m.ReplyToAuthor,
		Timestamp:   m.Timestamp,
	})
}

// UnmarshalJSON decodes the legacy wire shape back into typed fields.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.ID = w.ID
	m.Text = w.Text
	m.Author = w.Username
	m.RoomID = w.RoomID
	m.Origin = OriginUser
	if w.IsAI {
		m.Origin = OriginAI
	}
	m.Channel = ChannelRoom
	if w.IsAIChat || w.IsAI {
		m.Channel = ChannelAI
	}
	m.ReplyTo = w.ReplyTo
	m.ReplyToAuthor = w.ReplyToUser
	m.Timestamp = w.Timestamp
	return nil
}

// NewMessageID returns a unique, creation-time-ordered identifier.
// UUIDv7 encodes a millisecond timestamp in its high bits, so ids sort
// chronologically as strings.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// Before reports whether m was created before other, using the
// timestamp and breaking ties with the time-ordered id.
func (m Message) Before(other Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}
