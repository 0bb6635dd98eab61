// Package sync runs sync commands: it fetches timeline batches from a Source
// and feeds them through the upsert pipeline, retrying a batch whose fetch
// failed with a connection error.
package sync

import (
	"context"
	"errors"
	"fmt"

	"andstatus/internal/models"
)

// ErrMaxAttempts is returned when a batch still fails after the configured
// number of attempts.
var ErrMaxAttempts = errors.New("max attempts reached")

// Batch is one page of a timeline.
type Batch struct {
	Messages []*models.Message
	Users    []*models.User
	// Cursor is passed to the next Fetch when More is set.
	Cursor string
	More   bool
}

// IsEmpty reports whether the batch carries nothing to upsert.
func (b Batch) IsEmpty() bool {
	return len(b.Messages) == 0 && len(b.Users) == 0
}

// Source fetches timeline pages. An empty cursor asks for the first page.
type Source interface {
	Fetch(ctx context.Context, account models.Account, timeline models.TimelineType, cursor string) (Batch, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, account models.Account, timeline models.TimelineType, cursor string) (Batch, error)

func (f SourceFunc) Fetch(ctx context.Context, account models.Account, timeline models.TimelineType, cursor string) (Batch, error) {
	return f(ctx, account, timeline, cursor)
}

// ConnectionError marks a network or protocol failure. The batch that hit it
// may be fetched again.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
