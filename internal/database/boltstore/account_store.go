package boltstore

import (
	"encoding/json"
	"fmt"
	"time"

	"andstatus/internal/models"

	bolt "go.etcd.io/bbolt"
)

// AccountRecord is a registered account with its registration time.
type AccountRecord struct {
	models.Account
	RegisteredAt time.Time `json:"registered_at"`
}

// AccountStore provides persistent storage for the configured accounts.
type AccountStore struct {
	db *bolt.DB
}

// Register adds or replaces an account. The first registration time is kept.
func (s *AccountStore) Register(account models.Account) error {
	if !account.IsValid() {
		return fmt.Errorf("invalid account %q", account.Name)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAccounts)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketAccounts)
		}

		rec := AccountRecord{Account: account, RegisteredAt: time.Now()}
		if existing := bucket.Get([]byte(account.Name)); existing != nil {
			var prev AccountRecord
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.RegisteredAt.IsZero() {
				rec.RegisteredAt = prev.RegisteredAt
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		return bucket.Put([]byte(account.Name), data)
	})
}

// Unregister removes an account by name.
func (s *AccountStore) Unregister(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAccounts)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(name))
	})
}

// Get returns an account by name, or nil if it is not registered.
func (s *AccountStore) Get(name string) (*AccountRecord, error) {
	var rec *AccountRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAccounts)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte(name))
		if data == nil {
			return nil
		}

		rec = &AccountRecord{}
		if err := json.Unmarshal(data, rec); err != nil {
			return fmt.Errorf("failed to unmarshal account %q: %w", name, err)
		}
		return nil
	})

	return rec, err
}

// List returns all registered accounts ordered by name.
func (s *AccountStore) List() ([]AccountRecord, error) {
	var accounts []AccountRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAccounts)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var rec AccountRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal account %q: %w", k, err)
			}
			accounts = append(accounts, rec)
			return nil
		})
	})

	return accounts, err
}

// Count returns the number of registered accounts.
func (s *AccountStore) Count() int {
	var count int

	s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAccounts)
		if bucket == nil {
			return nil
		}

		count = bucket.Stats().KeyN
		return nil
	})

	return count
}
