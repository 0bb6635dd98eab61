package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "andstatus_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})
)

// Upsert pipeline metrics
var (
	MessagesUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_messages_upserted_total",
		Help: "Total number of messages inserted or updated",
	}, []string{"operation"})

	UsersUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_users_upserted_total",
		Help: "Total number of users inserted or updated",
	}, []string{"operation"})

	UpsertErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_upsert_errors_total",
		Help: "Total number of upserts that failed and were skipped",
	}, []string{"kind"})

	ResolverLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_resolver_lookups_total",
		Help: "Total number of oid lookups by result",
	}, []string{"result"})
)

// Sync metrics
var (
	SyncBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_sync_batches_total",
		Help: "Total number of sync batches by timeline and result",
	}, []string{"timeline", "result"})

	SyncRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "andstatus_sync_retries_total",
		Help: "Total number of batch retries after connection errors",
	})

	SyncBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "andstatus_sync_batch_duration_seconds",
		Help:    "Sync batch duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"timeline"})
)

// Stream metrics
var (
	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_stream_events_total",
		Help: "Total number of stream events processed",
	}, []string{"kind"})

	StreamConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andstatus_stream_connection_state",
		Help: "Stream connection state (1=connected, 0=disconnected)",
	})

	StreamErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "andstatus_stream_errors_total",
		Help: "Total number of stream processing errors",
	})
)

// Editor metrics
var (
	EditorLockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_editor_lock_acquisitions_total",
		Help: "Total number of editor lock acquisitions by result",
	}, []string{"intent", "result"})

	DraftsSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andstatus_drafts_saved_total",
		Help: "Total number of drafts saved by resulting status",
	}, []string{"status"})
)

// Business metrics (gauges updated periodically by collector)
var (
	StoredMessagesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andstatus_stored_messages_total",
		Help: "Total number of stored messages",
	})

	StoredUsersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andstatus_stored_users_total",
		Help: "Total number of stored users",
	})

	PendingDownloadsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andstatus_pending_downloads_total",
		Help: "Number of attachment downloads not loaded yet",
	})

	AccountsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andstatus_accounts_total",
		Help: "Number of registered accounts",
	})
)

// NormalizePath reduces high-cardinality path labels by replacing dynamic
// segments with placeholders. This keeps the metric label space bounded.
func NormalizePath(path string) string {
	segments := splitPath(path)
	if len(segments) < 2 {
		return path
	}

	if segments[0] == "api" && len(segments) == 3 {
		switch segments[1] {
		case "messages", "users":
			return "/api/" + segments[1] + "/:id"
		case "accounts":
			return "/api/accounts/:name"
		}
	}

	return path
}

func splitPath(path string) []string {
	// Skip leading slash
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	// Split on /
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segments = append(segments, path[start:])
	}
	return segments
}
