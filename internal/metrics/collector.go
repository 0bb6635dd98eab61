package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource provides functions to retrieve current counts for gauge metrics.
// Each function returns the current count; returning -1 indicates the source is unavailable.
type StatsSource struct {
	MessageCount         func() int
	UserCount            func() int
	PendingDownloadCount func() int
	AccountCount         func() int
	StreamConnected      func() bool
}

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	// Do an initial collection immediately
	collect(src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(src StatsSource) {
	setGauge := func(fn func() int, set func(float64)) {
		if fn == nil {
			return
		}
		if n := fn(); n >= 0 {
			set(float64(n))
		}
	}
	setGauge(src.MessageCount, StoredMessagesTotal.Set)
	setGauge(src.UserCount, StoredUsersTotal.Set)
	setGauge(src.PendingDownloadCount, PendingDownloadsTotal.Set)
	setGauge(src.AccountCount, AccountsTotal.Set)
	if src.StreamConnected != nil {
		if src.StreamConnected() {
			StreamConnectionState.Set(1)
		} else {
			StreamConnectionState.Set(0)
		}
	}
}
