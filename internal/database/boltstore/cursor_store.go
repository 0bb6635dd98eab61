package boltstore

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// StreamCursor is the resume point of a timeline stream.
type StreamCursor struct {
	Cursor    int64     `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CursorStore persists stream cursors so a restarted consumer resumes where
// it stopped instead of replaying or skipping events.
type CursorStore struct {
	db *bolt.DB
}

// Load returns the cursor saved for key, or 0 when there is none.
func (s *CursorStore) Load(key string) (int64, error) {
	var c StreamCursor

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketStreamCursors)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor %q: %w", key, err)
	}

	return c.Cursor, nil
}

// Save persists cursor for key.
func (s *CursorStore) Save(key string, cursor int64) error {
	data, err := json.Marshal(StreamCursor{Cursor: cursor, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketStreamCursors)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketStreamCursors)
		}
		return bucket.Put([]byte(key), data)
	})
}

// Delete removes the cursor for key.
func (s *CursorStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketStreamCursors)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}
