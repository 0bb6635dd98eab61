package boltstore

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// KeyBeingEditedMsgID holds the id of the draft open in the message editor.
const KeyBeingEditedMsgID = "being_edited_msg_id"

// PrefStore provides persistent storage for small preferences.
type PrefStore struct {
	db *bolt.DB
}

// GetInt64 returns the value stored under key, or 0 when there is none.
func (s *PrefStore) GetInt64(key string) (int64, error) {
	var v int64

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketPreferences)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("preference %q is not an int64", key)
		}
		v = int64(binary.BigEndian.Uint64(data))
		return nil
	})

	return v, err
}

// PutInt64 stores v under key. Storing 0 removes the key.
func (s *PrefStore) PutInt64(key string, v int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketPreferences)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketPreferences)
		}

		if v == 0 {
			return bucket.Delete([]byte(key))
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v))
		return bucket.Put([]byte(key), buf)
	})
}
