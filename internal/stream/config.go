// Package stream consumes a streaming timeline over WebSocket and hands its
// events to a Sink. The resume cursor is persisted so a restart continues
// where the previous run stopped.
package stream

import (
	"time"

	"andstatus/internal/models"
)

// Config holds configuration for the stream consumer
type Config struct {
	// Endpoints is a list of WebSocket URLs to connect to (with fallback rotation)
	Endpoints []string

	// Account names the account whose timelines are streamed
	Account string

	// Timelines filters events to these timeline types; empty means all
	Timelines []models.TimelineType

	// Compress asks the server for zstd compressed frames
	Compress bool

	// CursorKey is the key the cursor is persisted under; defaults to the account name
	CursorKey string

	// CursorEvery persists the cursor every N events
	CursorEvery int64

	// Rewind is subtracted from the cursor on reconnect to cover gaps
	Rewind time.Duration

	// ReadTimeout closes a connection that stays silent this long
	ReadTimeout time.Duration

	// InitialBackoff and MaxBackoff bound the wait between reconnects
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		CursorEvery:    100,
		Rewind:         5 * time.Second,
		ReadTimeout:    60 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.CursorEvery <= 0 {
		out.CursorEvery = def.CursorEvery
	}
	if out.Rewind < 0 {
		out.Rewind = 0
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = def.ReadTimeout
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = def.InitialBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = max(def.MaxBackoff, out.InitialBackoff)
	}
	if out.CursorKey == "" {
		out.CursorKey = out.Account
	}
	return &out
}
