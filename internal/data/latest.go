package data

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"andstatus/internal/database"
)

// UserMsg says that user UserID has message MsgID dated Date.
type UserMsg struct {
	UserID int64
	MsgID  int64
	Date   time.Time
}

// LatestUserMessages accumulates, per user, the newest message seen during
// one batch. Save writes the survivors once the batch is done.
type LatestUserMessages struct {
	mu     sync.Mutex
	latest map[int64]UserMsg
}

func NewLatestUserMessages() *LatestUserMessages {
	return &LatestUserMessages{latest: make(map[int64]UserMsg)}
}

// OnNewUserMsg keeps um if it is newer than what is held for its user.
// On equal dates the first seen wins.
func (l *LatestUserMessages) OnNewUserMsg(um UserMsg) {
	if um.UserID == 0 || um.MsgID == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.latest[um.UserID]; ok && !um.Date.After(held.Date) {
		return
	}
	l.latest[um.UserID] = um
}

// Get returns what is held for a user.
func (l *LatestUserMessages) Get(userID int64) (UserMsg, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	um, ok := l.latest[userID]
	return um, ok
}

func (l *LatestUserMessages) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.latest)
}

// Save writes every held message in ascending user id order and empties the
// accumulator. All users are attempted; the errors are joined.
func (l *LatestUserMessages) Save(ctx context.Context, store database.Store) error {
	l.mu.Lock()
	pending := make([]UserMsg, 0, len(l.latest))
	for _, um := range l.latest {
		pending = append(pending, um)
	}
	l.latest = make(map[int64]UserMsg)
	l.mu.Unlock()

	slices.SortFunc(pending, func(a, b UserMsg) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})

	var errs []error
	for _, um := range pending {
		if err := store.UpdateLatestMessage(ctx, um.UserID, um.MsgID, um.Date); err != nil {
			errs = append(errs, fmt.Errorf("latest message of user %d: %w", um.UserID, err))
		}
	}
	return errors.Join(errs...)
}
