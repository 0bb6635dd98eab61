package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Exact routes (no normalization needed)
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/api/timeline", "/api/timeline"},
		{"/api/stats", "/api/stats"},

		// Rows by id
		{"/api/messages/42", "/api/messages/:id"},
		{"/api/users/7", "/api/users/:id"},
		{"/api/accounts/alice@example.org", "/api/accounts/:name"},

		// Deeper or unknown paths are kept
		{"/api/messages/42/extra", "/api/messages/42/extra"},
		{"/api/other/1", "/api/other/1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.input))
		})
	}
}

func TestCollect(t *testing.T) {
	collect(StatsSource{
		MessageCount:         func() int { return 12 },
		UserCount:            func() int { return 5 },
		PendingDownloadCount: func() int { return -1 },
		StreamConnected:      func() bool { return true },
	})

	assert.Equal(t, float64(12), testutil.ToFloat64(StoredMessagesTotal))
	assert.Equal(t, float64(5), testutil.ToFloat64(StoredUsersTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(StreamConnectionState))

	collect(StatsSource{StreamConnected: func() bool { return false }})
	assert.Equal(t, float64(0), testutil.ToFloat64(StreamConnectionState))
	assert.Equal(t, float64(12), testutil.ToFloat64(StoredMessagesTotal))
}

func TestStartCollector_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 10)
	StartCollector(ctx, StatsSource{
		AccountCount: func() int {
			calls <- struct{}{}
			return 3
		},
	}, 10*time.Millisecond)

	<-calls
	assert.Equal(t, float64(3), testutil.ToFloat64(AccountsTotal))
	cancel()
}
