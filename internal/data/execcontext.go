// Package data upserts fetched messages and users into the store: oid
// resolution, user and message merge rules, per-account annotations and the
// latest-message-per-user accumulator.
package data

import (
	"sync"
	"sync/atomic"

	"andstatus/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ExecContext is what one sync command knows while upserting: the account
// being synced, the timeline being downloaded and where results are counted.
type ExecContext struct {
	Account  models.Account
	Timeline models.TimelineType
	Result   *CommandResult
}

// NewExecContext returns a context with a fresh result.
func NewExecContext(account models.Account, timeline models.TimelineType) *ExecContext {
	return &ExecContext{
		Account:  account,
		Timeline: timeline,
		Result:   NewCommandResult(),
	}
}

// Logger returns the global logger with the account and timeline attached.
func (e *ExecContext) Logger() zerolog.Logger {
	return log.With().
		Str("account", e.Account.Name).
		Str("timeline", string(e.Timeline)).
		Logger()
}

// CommandResult counts what a sync command did. Safe for concurrent use.
type CommandResult struct {
	downloaded atomic.Int64
	mentions   atomic.Int64
	errors     atomic.Int64

	mu       sync.Mutex
	messages map[models.TimelineType]int64
}

func NewCommandResult() *CommandResult {
	return &CommandResult{messages: make(map[models.TimelineType]int64)}
}

// IncrementDownloaded counts a fetched message carrying a sent date.
func (r *CommandResult) IncrementDownloaded() { r.downloaded.Add(1) }

// IncrementMentions counts a new message mentioning the account.
func (r *CommandResult) IncrementMentions() { r.mentions.Add(1) }

// IncrementErrors counts an upsert that failed and was skipped.
func (r *CommandResult) IncrementErrors() { r.errors.Add(1) }

// IncrementMessages counts a message newer than what was stored.
func (r *CommandResult) IncrementMessages(timeline models.TimelineType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[timeline]++
}

func (r *CommandResult) Downloaded() int64 { return r.downloaded.Load() }
func (r *CommandResult) Mentions() int64   { return r.mentions.Load() }
func (r *CommandResult) Errors() int64     { return r.errors.Load() }

// Messages returns the count of new messages of one timeline type.
func (r *CommandResult) Messages(timeline models.TimelineType) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[timeline]
}

// TotalMessages returns the count of new messages over all timelines.
func (r *CommandResult) TotalMessages() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.messages {
		n += c
	}
	return n
}

// HasError reports whether any upsert failed.
func (r *CommandResult) HasError() bool {
	return r.errors.Load() > 0
}

// Summary is a loggable snapshot of the counters.
type Summary struct {
	Downloaded int64 `json:"downloaded"`
	Messages   int64 `json:"messages"`
	Mentions   int64 `json:"mentions"`
	Errors     int64 `json:"errors"`
}

func (r *CommandResult) Summary() Summary {
	return Summary{
		Downloaded: r.Downloaded(),
		Messages:   r.TotalMessages(),
		Mentions:   r.Mentions(),
		Errors:     r.Errors(),
	}
}
