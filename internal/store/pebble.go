package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"

	"github.com/cortexuvula/roomrelay/internal/chat"
)

// PebbleStore persists chat messages in a PebbleDB key-value store.
// Keys are "msg/<roomID>/<origin>/<messageID>"; message ids are
// time-ordered (UUIDv7), so iteration order within a room+origin
// prefix is chronological.
type PebbleStore struct {
	db *pebble.DB
}

// Open creates or opens a store at dir.
func Open(dir string) (*PebbleStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Insert writes one message.
func (s *PebbleStore) Insert(ctx context.Context, msg chat.Message) error {
	val, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := s.db.Set(msgKey(msg.RoomID, msg.Origin, msg.ID), val, pebble.Sync); err != nil {
		return fmt.Errorf("store set: %w", err)
	}
	return nil
}

// QueryRecent returns up to limit messages of one origin for a room,
// oldest first. Iterates the prefix backwards so only the newest limit
// records are decoded.
func (s *PebbleStore) QueryRecent(ctx context.Context, roomID string, origin chat.Origin, limit int) ([]chat.Message, error) {
	lower := originPrefix(roomID, origin)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return nil, fmt.Errorf("store iterator: %w", err)
	}
	defer func() { _ = it.Close() }()

	var newest []chat.Message
	for ok := it.Last(); ok && (limit <= 0 || len(newest) < limit); ok = it.Prev() {
		var m chat.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			// Skip records that no longer decode rather than failing
			// the whole hydration.
			continue
		}
		newest = append(newest, m)
	}

	// Reverse into chronological order.
	out := make([]chat.Message, len(newest))
	for i, m := range newest {
		out[len(newest)-1-i] = m
	}
	return out, nil
}

// DeleteExcept removes every stored message of one origin for a room
// whose id is not in keepIDs. Used to enforce the retention window on
// disk after in-memory eviction.
func (s *PebbleStore) DeleteExcept(ctx context.Context, roomID string, origin chat.Origin, keepIDs []string) error {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	lower := originPrefix(roomID, origin)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return fmt.Errorf("store iterator: %w", err)
	}
	defer func() { _ = it.Close() }()

	batch := s.db.NewBatch()
	for ok := it.First(); ok; ok = it.Next() {
		id := string(it.Key()[len(lower):])
		if _, keepIt := keep[id]; !keepIt {
			key := append([]byte(nil), it.Key()...)
			if err := batch.Delete(key, nil); err != nil {
				_ = batch.Close()
				return fmt.Errorf("store delete: %w", err)
			}
		}
	}
	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		_ = batch.Close()
		return fmt.Errorf("store apply: %w", err)
	}
	return batch.Close()
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func msgKey(roomID string, origin chat.Origin, id string) []byte {
	return []byte("msg/" + roomID + "/" + string(origin) + "/" + id)
}

func originPrefix(roomID string, origin chat.Origin) []byte {
	return []byte("msg/" + roomID + "/" + string(origin) + "/")
}

// keyUpperBound returns the smallest key greater than every key with
// the given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}
