package sync

import (
	"context"
	"fmt"
	"time"

	"andstatus/internal/data"
	"andstatus/internal/database"
	"andstatus/internal/metrics"
	"andstatus/internal/models"
	"andstatus/internal/tracing"

	"github.com/rs/zerolog"
)

// Options tunes a Downloader.
type Options struct {
	// MaxAttempts is how many times one batch is fetched before giving up.
	MaxAttempts int
	// InitialBackoff is the wait before the first retry; it doubles up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxReplyDepth bounds in-reply-to chains; zero means the inserter default.
	MaxReplyDepth int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Downloader runs one timeline sync: it pages through a Source and upserts
// every batch. A fetch that fails with a ConnectionError is retried with
// exponential backoff; upserts are never retried.
type Downloader struct {
	source   Source
	store    database.Store
	resolver *data.Resolver
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error
}

func NewDownloader(source Source, store database.Store, resolver *data.Resolver, opts Options) *Downloader {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(def.MaxBackoff, opts.InitialBackoff)
	}
	if resolver == nil {
		resolver = data.NewResolver(store, nil)
	}
	return &Downloader{
		source:   source,
		store:    store,
		resolver: resolver,
		opts:     opts,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func timelineLabel(tl models.TimelineType) string {
	if tl == models.TimelineUnknown {
		return "unknown"
	}
	return string(tl)
}

// Run syncs timeline of account until the source has no more pages. The
// result counts what was upserted even when an error is returned.
func (d *Downloader) Run(ctx context.Context, account models.Account, timeline models.TimelineType) (*data.CommandResult, error) {
	exec := data.NewExecContext(account, timeline)
	ins := data.NewInserter(d.store, d.resolver, exec)
	ins.MaxReplyDepth = d.opts.MaxReplyDepth
	logger := exec.Logger().With().Str("component", "sync").Logger()

	cursor := ""
	for page := 1; ; page++ {
		batch, err := d.fetch(ctx, exec, logger, cursor)
		if err != nil {
			metrics.SyncBatchesTotal.WithLabelValues(timelineLabel(timeline), "error").Inc()
			logger.Error().Err(err).Int("page", page).Msg("Sync failed")
			return exec.Result, err
		}
		d.process(ctx, ins, batch)

		if !batch.More || batch.Cursor == cursor {
			break
		}
		cursor = batch.Cursor
	}

	logger.Info().Interface("result", exec.Result.Summary()).Msg("Sync completed")
	return exec.Result, nil
}

func (d *Downloader) fetch(ctx context.Context, exec *data.ExecContext, logger zerolog.Logger, cursor string) (Batch, error) {
	backoff := d.opts.InitialBackoff
	for attempt := 1; ; attempt++ {
		batch, err := d.source.Fetch(ctx, exec.Account, exec.Timeline, cursor)
		if err == nil {
			return batch, nil
		}
		if !IsConnectionError(err) {
			return Batch{}, fmt.Errorf("fetch %s: %w", timelineLabel(exec.Timeline), err)
		}
		if attempt >= d.opts.MaxAttempts {
			return Batch{}, fmt.Errorf("fetch %s: %w (%d): %w", timelineLabel(exec.Timeline), ErrMaxAttempts, attempt, err)
		}

		metrics.SyncRetriesTotal.Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("Fetch failed, retrying")
		if err := d.sleep(ctx, backoff); err != nil {
			return Batch{}, err
		}
		backoff = min(backoff*2, d.opts.MaxBackoff)
	}
}

// process upserts one batch sharing a single latest-message accumulator.
func (d *Downloader) process(ctx context.Context, ins *data.Inserter, batch Batch) {
	exec := ins.Exec()
	label := timelineLabel(exec.Timeline)
	ctx, span := tracing.SyncBatchSpan(ctx, exec.Account.Name, label, len(batch.Messages), len(batch.Users))
	defer span.End()
	start := time.Now()

	lum := data.NewLatestUserMessages()
	for _, msg := range batch.Messages {
		ins.InsertOrUpdateMsg(ctx, msg, lum)
	}
	for _, user := range batch.Users {
		ins.InsertOrUpdateUser(ctx, user, lum)
	}

	result := "ok"
	if err := lum.Save(ctx, d.store); err != nil {
		exec.Result.IncrementErrors()
		tracing.EndWithError(span, err)
		result = "partial"
		logger := exec.Logger()
		logger.Error().Err(err).Msg("Failed to save latest user messages")
	}

	metrics.SyncBatchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	metrics.SyncBatchesTotal.WithLabelValues(label, result).Inc()
}

