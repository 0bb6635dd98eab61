// Package editor saves, loads, sends and discards message drafts. Saves and
// loads of one message id are serialized by a per-id lock.
package editor

import (
	"context"
	"errors"
	"sync"

	"andstatus/internal/metrics"
)

// ErrSameOperationInProgress is returned by Acquire when the same intent for
// the same message id is already held.
var ErrSameOperationInProgress = errors.New("the same operation is in progress")

// Intent is what a lock holder is about to do.
type Intent int

const (
	IntentLoad Intent = iota
	IntentSave
)

func (i Intent) String() string {
	if i == IntentSave {
		return "save"
	}
	return "load"
}

type holder struct {
	intent Intent
	done   chan struct{}
}

// Locks is a set of locks keyed by message id. The zero value is ready to use.
type Locks struct {
	mu   sync.Mutex
	held map[int64]*holder
}

// Lock is a held lock. Release it when done.
type Lock struct {
	locks *Locks
	msgID int64
	h     *holder
	once  sync.Once
}

// Acquire takes the lock of msgID. A holder with the same intent makes it
// fail fast with ErrSameOperationInProgress; a holder with the other intent
// is waited for until it releases or ctx is done.
func (l *Locks) Acquire(ctx context.Context, intent Intent, msgID int64) (*Lock, error) {
	for {
		l.mu.Lock()
		if l.held == nil {
			l.held = make(map[int64]*holder)
		}
		h, busy := l.held[msgID]
		if !busy {
			h = &holder{intent: intent, done: make(chan struct{})}
			l.held[msgID] = h
			l.mu.Unlock()
			metrics.EditorLockAcquisitionsTotal.WithLabelValues(intent.String(), "acquired").Inc()
			return &Lock{locks: l, msgID: msgID, h: h}, nil
		}
		l.mu.Unlock()

		if h.intent == intent {
			metrics.EditorLockAcquisitionsTotal.WithLabelValues(intent.String(), "busy").Inc()
			return nil, ErrSameOperationInProgress
		}

		select {
		case <-h.done:
		case <-ctx.Done():
			metrics.EditorLockAcquisitionsTotal.WithLabelValues(intent.String(), "canceled").Inc()
			return nil, ctx.Err()
		}
	}
}

// Held reports whether msgID is locked.
func (l *Locks) Held(msgID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[msgID]
	return ok
}

// Release frees the lock. Calling it more than once is harmless.
func (k *Lock) Release() {
	if k == nil {
		return
	}
	k.once.Do(func() {
		k.locks.mu.Lock()
		if k.locks.held[k.msgID] == k.h {
			delete(k.locks.held, k.msgID)
		}
		k.locks.mu.Unlock()
		close(k.h.done)
	})
}
