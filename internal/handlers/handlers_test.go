package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandleHealth(t *testing.T) {
	tc := NewTestContext(t)
	req := httptest.NewRequest("GET", "/healthz", nil)

	tc.Handler.HandleHealth(tc.Recorder, req)

	AssertResponseCode(t, tc.Recorder, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok"}`, tc.Recorder.Body.String())
	assert.Equal(t, "application/json", tc.Recorder.Header().Get("Content-Type"))
}

func TestHandleTimeline(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		tc := NewTestContext(t)
		var got database.TimelineQuery
		tc.MockStore.TimelineFunc = func(ctx context.Context, q database.TimelineQuery) ([]*database.TimelineRow, error) {
			got = q
			return tc.Fixtures.Rows, nil
		}

		tc.Handler.HandleTimeline(tc.Recorder, httptest.NewRequest("GET", "/api/timeline", nil))

		AssertResponseCode(t, tc.Recorder, http.StatusOK)
		assert.Equal(t, int64(1), got.AccountUserID)
		assert.Equal(t, models.TimelineHome, got.Type)
		assert.Equal(t, defaultTimelineLimit, got.Limit)
		assert.True(t, got.Before.IsZero())

		resp := decode[timelineResponse](t, tc.Recorder)
		assert.Equal(t, "me@example.org", resp.Account)
		assert.Equal(t, models.TimelineHome, resp.Timeline)
		require.Len(t, resp.Messages, 2)
		assert.Equal(t, "alice", resp.Messages[0].SenderName)
		assert.True(t, resp.Messages[0].Mentioned)
		assert.Empty(t, resp.Next, "a short page has no next cursor")
	})

	t.Run("query parameters", func(t *testing.T) {
		tc := NewTestContext(t)
		var got database.TimelineQuery
		tc.MockStore.TimelineFunc = func(ctx context.Context, q database.TimelineQuery) ([]*database.TimelineRow, error) {
			got = q
			return tc.Fixtures.Rows, nil
		}

		req := httptest.NewRequest("GET", "/api/timeline?type=mentions&q=+hello+&limit=2&before=1709294400000", nil)
		tc.Handler.HandleTimeline(tc.Recorder, req)

		AssertResponseCode(t, tc.Recorder, http.StatusOK)
		assert.Equal(t, models.TimelineMentions, got.Type)
		assert.Equal(t, "hello", got.Search)
		assert.Equal(t, 2, got.Limit)
		assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), got.Before)

		resp := decode[timelineResponse](t, tc.Recorder)
		assert.Equal(t, "2024-03-01T11:00:00Z", resp.Next)
	})

	t.Run("limit is capped and before accepts RFC 3339", func(t *testing.T) {
		tc := NewTestContext(t)
		var got database.TimelineQuery
		tc.MockStore.TimelineFunc = func(ctx context.Context, q database.TimelineQuery) ([]*database.TimelineRow, error) {
			got = q
			return nil, nil
		}

		req := httptest.NewRequest("GET", "/api/timeline?limit=10000&before=2024-03-01T12:00:00Z", nil)
		tc.Handler.HandleTimeline(tc.Recorder, req)

		AssertResponseCode(t, tc.Recorder, http.StatusOK)
		assert.Equal(t, maxTimelineLimit, got.Limit)
		assert.Equal(t, 2024, got.Before.Year())
		assert.JSONEq(t, `{"account":"me@example.org","timeline":"home","messages":[]}`, tc.Recorder.Body.String())
	})

	t.Run("user timeline defaults to the account user", func(t *testing.T) {
		tc := NewTestContext(t)
		var got database.TimelineQuery
		tc.MockStore.TimelineFunc = func(ctx context.Context, q database.TimelineQuery) ([]*database.TimelineRow, error) {
			got = q
			return nil, nil
		}

		tc.Handler.HandleTimeline(tc.Recorder, httptest.NewRequest("GET", "/api/timeline?type=user", nil))
		AssertResponseCode(t, tc.Recorder, http.StatusOK)
		assert.Equal(t, int64(1), got.UserID)

		rec := httptest.NewRecorder()
		tc.Handler.HandleTimeline(rec, httptest.NewRequest("GET", "/api/timeline?type=user&user=2", nil))
		AssertResponseCode(t, rec, http.StatusOK)
		assert.Equal(t, int64(2), got.UserID)
	})

	t.Run("registered account by name", func(t *testing.T) {
		tc := NewTestContext(t)
		other := models.Account{Name: "bob@example.org", OriginID: 1, UserID: 7, UserOid: "acct:bob@example.org", Username: "bob"}
		require.NoError(t, tc.Accounts.Register(other))

		var got database.TimelineQuery
		tc.MockStore.TimelineFunc = func(ctx context.Context, q database.TimelineQuery) ([]*database.TimelineRow, error) {
			got = q
			return nil, nil
		}

		tc.Handler.HandleTimeline(tc.Recorder, httptest.NewRequest("GET", "/api/timeline?account=bob@example.org", nil))
		AssertResponseCode(t, tc.Recorder, http.StatusOK)
		assert.Equal(t, int64(7), got.AccountUserID)
	})

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"unknown account", "/api/timeline?account=nobody", http.StatusNotFound},
		{"unknown type", "/api/timeline?type=nonsense", http.StatusBadRequest},
		{"bad limit", "/api/timeline?limit=-1", http.StatusBadRequest},
		{"bad before", "/api/timeline?before=yesterday", http.StatusBadRequest},
		{"bad user", "/api/timeline?user=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := NewTestContext(t)
			tc.Handler.HandleTimeline(tc.Recorder, httptest.NewRequest("GET", tt.target, nil))
			AssertResponseCode(t, tc.Recorder, tt.code)
		})
	}

	t.Run("store error", func(t *testing.T) {
		tc := NewTestContext(t)
		tc.MockStore.TimelineFunc = func(ctx context.Context, q database.TimelineQuery) ([]*database.TimelineRow, error) {
			return nil, errors.New("disk I/O error")
		}
		tc.Handler.HandleTimeline(tc.Recorder, httptest.NewRequest("GET", "/api/timeline", nil))
		AssertResponseCode(t, tc.Recorder, http.StatusInternalServerError)
		assert.NotContains(t, tc.Recorder.Body.String(), "disk I/O")
	})
}

func TestHandleMessage(t *testing.T) {
	t.Run("found with attachments", func(t *testing.T) {
		tc := NewTestContext(t)
		tc.MockStore.GetMessageFunc = func(ctx context.Context, msgID int64) (*database.MessageRow, error) {
			if msgID == tc.Fixtures.Message.ID {
				return tc.Fixtures.Message, nil
			}
			return nil, nil
		}
		tc.MockStore.GetDownloadsOfMessageFunc = func(ctx context.Context, msgID int64) ([]*database.Download, error) {
			return []*database.Download{{ID: 1, MsgID: msgID, URI: "https://example.org/a.png", ContentType: models.ContentImage}}, nil
		}

		req := httptest.NewRequest("GET", "/api/messages/10", nil)
		req.SetPathValue("id", "10")
		tc.Handler.HandleMessage(tc.Recorder, req)

		AssertResponseCode(t, tc.Recorder, http.StatusOK)
		var body map[string]any
		require.NoError(t, json.Unmarshal(tc.Recorder.Body.Bytes(), &body))
		assert.Equal(t, "hello @me", body["body"])
		assert.Equal(t, "loaded", body["status"])
		require.Len(t, body["attachments"], 1)
	})

	t.Run("not found", func(t *testing.T) {
		tc := NewTestContext(t)
		req := httptest.NewRequest("GET", "/api/messages/99", nil)
		req.SetPathValue("id", "99")
		tc.Handler.HandleMessage(tc.Recorder, req)
		AssertResponseCode(t, tc.Recorder, http.StatusNotFound)
	})

	t.Run("invalid id", func(t *testing.T) {
		tc := NewTestContext(t)
		req := httptest.NewRequest("GET", "/api/messages/abc", nil)
		req.SetPathValue("id", "abc")
		tc.Handler.HandleMessage(tc.Recorder, req)
		AssertResponseCode(t, tc.Recorder, http.StatusBadRequest)
	})

	t.Run("download lookup fails", func(t *testing.T) {
		tc := NewTestContext(t)
		tc.MockStore.GetMessageFunc = func(ctx context.Context, msgID int64) (*database.MessageRow, error) {
			return tc.Fixtures.Message, nil
		}
		tc.MockStore.GetDownloadsOfMessageFunc = func(ctx context.Context, msgID int64) ([]*database.Download, error) {
			return nil, errors.New("locked")
		}
		req := httptest.NewRequest("GET", "/api/messages/10", nil)
		req.SetPathValue("id", "10")
		tc.Handler.HandleMessage(tc.Recorder, req)
		AssertResponseCode(t, tc.Recorder, http.StatusInternalServerError)
	})
}

func TestHandleUser(t *testing.T) {
	tc := NewTestContext(t)
	tc.MockStore.GetUserFunc = func(ctx context.Context, userID int64) (*database.UserRow, error) {
		if userID == tc.Fixtures.User.ID {
			return tc.Fixtures.User, nil
		}
		return nil, nil
	}

	req := httptest.NewRequest("GET", "/api/users/2", nil)
	req.SetPathValue("id", "2")
	tc.Handler.HandleUser(tc.Recorder, req)
	AssertResponseCode(t, tc.Recorder, http.StatusOK)
	user := decode[database.UserRow](t, tc.Recorder)
	assert.Equal(t, "alice", user.Username)

	rec := httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/users/3", nil)
	req.SetPathValue("id", "3")
	tc.Handler.HandleUser(rec, req)
	AssertResponseCode(t, rec, http.StatusNotFound)
}

func TestHandleAccount(t *testing.T) {
	tc := NewTestContext(t)

	req := httptest.NewRequest("GET", "/api/accounts/me@example.org", nil)
	req.SetPathValue("name", "me@example.org")
	tc.Handler.HandleAccount(tc.Recorder, req)
	AssertResponseCode(t, tc.Recorder, http.StatusOK)
	var body map[string]any
	require.NoError(t, json.Unmarshal(tc.Recorder.Body.Bytes(), &body))
	assert.Equal(t, "acct:me@example.org", body["user_oid"])
	assert.Contains(t, body, "registered_at")

	rec := httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/accounts/nobody", nil)
	req.SetPathValue("name", "nobody")
	tc.Handler.HandleAccount(rec, req)
	AssertResponseCode(t, rec, http.StatusNotFound)
}

func TestHandleStats(t *testing.T) {
	tc := NewTestContext(t)
	tc.MockStore.StatsFunc = func(ctx context.Context) (*database.Stats, error) {
		return &database.Stats{Messages: 12, Users: 4, PendingDownloads: 1}, nil
	}

	tc.Handler.HandleStats(tc.Recorder, httptest.NewRequest("GET", "/api/stats", nil))
	AssertResponseCode(t, tc.Recorder, http.StatusOK)
	assert.JSONEq(t, `{"messages":12,"users":4,"pending_downloads":1,"accounts":1}`, tc.Recorder.Body.String())

	tc.Handler.config.StreamConnected = func() bool { return true }
	rec := httptest.NewRecorder()
	tc.Handler.HandleStats(rec, httptest.NewRequest("GET", "/api/stats", nil))
	assert.JSONEq(t, `{"messages":12,"users":4,"pending_downloads":1,"accounts":1,"stream_connected":true}`, rec.Body.String())
}
