package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin  = int64(1)
	testAccount = int64(100)
)

func setupTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.sqlite")

	store, err := Open(Options{Path: dbPath})
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func insertTestUser(t *testing.T, s *Store, oid, username string) int64 {
	id, err := s.InsertUser(context.Background(), 0, &database.UserValues{
		OriginID: database.Ptr(testOrigin),
		Oid:      database.Ptr(oid),
		Username: database.Ptr(username),
	})
	require.NoError(t, err)
	require.NotZero(t, id)
	return id
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.sqlite")
	ctx := context.Background()

	store, err := Open(Options{Path: dbPath})
	require.NoError(t, err)
	id, err := store.InsertUser(ctx, 0, &database.UserValues{
		OriginID: database.Ptr(testOrigin),
		Oid:      database.Ptr("u1"),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(Options{Path: dbPath})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.OidToID(ctx, database.KindUser, testOrigin, "u1")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestStore_OidToID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("empty oid is not found", func(t *testing.T) {
		id, err := store.OidToID(ctx, database.KindMessage, testOrigin, "")
		require.NoError(t, err)
		assert.Zero(t, id)
	})

	t.Run("unknown oid is not found", func(t *testing.T) {
		id, err := store.OidToID(ctx, database.KindUser, testOrigin, "nobody")
		require.NoError(t, err)
		assert.Zero(t, id)
	})

	t.Run("same oid in another origin is distinct", func(t *testing.T) {
		userID := insertTestUser(t, store, "shared", "alice")

		id, err := store.OidToID(ctx, database.KindUser, testOrigin, "shared")
		require.NoError(t, err)
		assert.Equal(t, userID, id)

		id, err = store.OidToID(ctx, database.KindUser, testOrigin+1, "shared")
		require.NoError(t, err)
		assert.Zero(t, id)

		oid, err := store.IDToOid(ctx, database.KindUser, userID)
		require.NoError(t, err)
		assert.Equal(t, "shared", oid)
	})
}

func TestStore_InsertMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	senderID := insertTestUser(t, store, "s1", "sender")
	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	msgID, err := store.InsertMessage(ctx, testAccount, &database.MessageValues{
		OriginID: database.Ptr(testOrigin),
		Oid:      database.Ptr("m1"),
		Status:   database.Ptr(models.StatusLoaded),
		SenderID: database.Ptr(senderID),
		SentDate: database.Ptr(sent),
		MsgOfUser: database.MsgOfUser{
			Subscribed: database.Ptr(true),
		},
	})
	require.NoError(t, err)
	require.NotZero(t, msgID)

	t.Run("defaults are filled", func(t *testing.T) {
		row, err := store.GetMessage(ctx, msgID)
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, senderID, row.AuthorID)
		assert.Equal(t, "", row.Body)
		assert.Equal(t, "", row.Via)
		assert.Equal(t, sent, row.SentDate)
		assert.False(t, row.InsDate.IsZero())
	})

	t.Run("state", func(t *testing.T) {
		st, err := store.GetMessageState(ctx, msgID)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, models.StatusLoaded, st.Status)
		assert.Equal(t, "m1", st.Oid)
		assert.Equal(t, senderID, st.SenderID)
	})

	t.Run("annotation row", func(t *testing.T) {
		mou, err := store.GetMsgOfUser(ctx, msgID, testAccount)
		require.NoError(t, err)
		require.NotNil(t, mou)
		assert.True(t, *mou.Subscribed)
		assert.False(t, *mou.Favorited)

		other, err := store.GetMsgOfUser(ctx, msgID, testAccount+1)
		require.NoError(t, err)
		assert.Nil(t, other)
	})

	t.Run("duplicate oid is rejected", func(t *testing.T) {
		_, err := store.InsertMessage(ctx, testAccount, &database.MessageValues{
			OriginID: database.Ptr(testOrigin),
			Oid:      database.Ptr("m1"),
		})
		assert.Error(t, err)
	})

	t.Run("drafts without oid may coexist", func(t *testing.T) {
		for range 2 {
			_, err := store.InsertMessage(ctx, testAccount, &database.MessageValues{
				OriginID: database.Ptr(testOrigin),
				Status:   database.Ptr(models.StatusDraft),
				Body:     database.Ptr("draft"),
			})
			require.NoError(t, err)
		}
	})
}

func TestStore_UpdateMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	msgID, err := store.InsertMessage(ctx, testAccount, &database.MessageValues{
		OriginID: database.Ptr(testOrigin),
		Oid:      database.Ptr("m1"),
		Body:     database.Ptr("original body"),
	})
	require.NoError(t, err)

	t.Run("only set columns change", func(t *testing.T) {
		err := store.UpdateMessage(ctx, testAccount, msgID, &database.MessageValues{
			Via: database.Ptr("web"),
		})
		require.NoError(t, err)

		row, err := store.GetMessage(ctx, msgID)
		require.NoError(t, err)
		assert.Equal(t, "original body", row.Body)
		assert.Equal(t, "web", row.Via)
	})

	t.Run("annotations merge", func(t *testing.T) {
		require.NoError(t, store.UpdateMessage(ctx, testAccount, msgID, &database.MessageValues{
			MsgOfUser: database.MsgOfUser{Favorited: database.Ptr(true)},
		}))
		require.NoError(t, store.UpdateMessage(ctx, testAccount, msgID, &database.MessageValues{
			MsgOfUser: database.MsgOfUser{Reblogged: database.Ptr(true), ReblogOid: database.Ptr("r1")},
		}))

		mou, err := store.GetMsgOfUser(ctx, msgID, testAccount)
		require.NoError(t, err)
		assert.True(t, *mou.Favorited)
		assert.True(t, *mou.Reblogged)
		assert.Equal(t, "r1", *mou.ReblogOid)
	})

	t.Run("missing row", func(t *testing.T) {
		err := store.UpdateMessage(ctx, testAccount, msgID+100, &database.MessageValues{
			Body: database.Ptr("lost"),
		})
		assert.ErrorIs(t, err, database.ErrNotFound)

		mou, err := store.GetMsgOfUser(ctx, msgID+100, testAccount)
		require.NoError(t, err)
		assert.Nil(t, mou)
	})
}

func TestStore_DeleteMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	msgID, err := store.InsertMessage(ctx, testAccount, &database.MessageValues{
		OriginID:  database.Ptr(testOrigin),
		Oid:       database.Ptr("gone"),
		MsgOfUser: database.MsgOfUser{Mentioned: database.Ptr(true)},
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteMessage(ctx, msgID))

	row, err := store.GetMessage(ctx, msgID)
	require.NoError(t, err)
	assert.Nil(t, row)

	mou, err := store.GetMsgOfUser(ctx, msgID, testAccount)
	require.NoError(t, err)
	assert.Nil(t, mou)
}

func TestStore_Users(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	userID := insertTestUser(t, store, "u1", "alice")

	t.Run("update keeps unset columns", func(t *testing.T) {
		require.NoError(t, store.UpdateUser(ctx, testAccount, userID, &database.UserValues{
			RealName: database.Ptr("Alice A."),
		}))
		row, err := store.GetUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "alice", row.Username)
		assert.Equal(t, "Alice A.", row.RealName)
	})

	t.Run("username lookup skips users with an oid", func(t *testing.T) {
		id, err := store.UsernameToID(ctx, testOrigin, "alice")
		require.NoError(t, err)
		assert.Zero(t, id)

		bare := insertTestUser(t, store, "", "alice")
		id, err = store.UsernameToID(ctx, testOrigin, "alice")
		require.NoError(t, err)
		assert.Equal(t, bare, id)
		assert.NotEqual(t, userID, id)
	})

	t.Run("update of a missing user", func(t *testing.T) {
		err := store.UpdateUser(ctx, testAccount, 9999, &database.UserValues{
			RealName: database.Ptr("nobody"),
		})
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("following", func(t *testing.T) {
		require.NoError(t, store.UpdateUser(ctx, testAccount, userID, &database.UserValues{
			Followed: database.Ptr(true),
		}))
		following, err := store.IsFollowing(ctx, testAccount, userID)
		require.NoError(t, err)
		assert.True(t, following)

		ids, err := store.FollowedUserIDs(ctx, testAccount)
		require.NoError(t, err)
		assert.Equal(t, []int64{userID}, ids)

		require.NoError(t, store.UpdateUser(ctx, testAccount, userID, &database.UserValues{
			Followed: database.Ptr(false),
		}))
		following, err = store.IsFollowing(ctx, testAccount, userID)
		require.NoError(t, err)
		assert.False(t, following)
	})

	t.Run("latest message only moves forward", func(t *testing.T) {
		newer := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
		older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		require.NoError(t, store.UpdateLatestMessage(ctx, userID, 7, newer))
		require.NoError(t, store.UpdateLatestMessage(ctx, userID, 5, older))

		row, err := store.GetUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), row.LatestMsgID)
		assert.Equal(t, newer, row.LatestMsgDate)
	})
}

func TestStore_Downloads(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := &database.Download{MsgID: 1, URI: "https://example.org/a.png", ContentType: models.ContentImage, Status: models.StatusAbsent}
	b := &database.Download{MsgID: 1, URI: "file:///tmp/b.png", ContentType: models.ContentImage, Status: models.StatusLoaded}
	require.NoError(t, store.SaveDownload(ctx, a))
	require.NoError(t, store.SaveDownload(ctx, b))
	assert.NotZero(t, a.ID)
	assert.False(t, b.LoadedDate.IsZero())

	t.Run("saving again finds the same row", func(t *testing.T) {
		again := &database.Download{MsgID: 1, URI: a.URI, Status: models.StatusAbsent}
		require.NoError(t, store.SaveDownload(ctx, again))
		assert.Equal(t, a.ID, again.ID)
	})

	t.Run("delete others", func(t *testing.T) {
		require.NoError(t, store.DeleteOtherDownloads(ctx, 1, []int64{b.ID}))
		downloads, err := store.GetDownloadsOfMessage(ctx, 1)
		require.NoError(t, err)
		require.Len(t, downloads, 1)
		assert.Equal(t, b.URI, downloads[0].URI)
		assert.Equal(t, models.StatusLoaded, downloads[0].Status)
	})

	t.Run("delete all", func(t *testing.T) {
		require.NoError(t, store.DeleteDownloadsOfMessage(ctx, 1))
		downloads, err := store.GetDownloadsOfMessage(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, downloads)
	})
}

func TestStore_Timeline(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	alice := insertTestUser(t, store, "alice", "alice")
	bob := insertTestUser(t, store, "bob", "bob")
	require.NoError(t, store.UpdateUser(ctx, testAccount, bob, &database.UserValues{Followed: database.Ptr(true)}))

	insert := func(oid string, sender int64, day int, mou database.MsgOfUser) int64 {
		id, err := store.InsertMessage(ctx, testAccount, &database.MessageValues{
			OriginID:  database.Ptr(testOrigin),
			Oid:       database.Ptr(oid),
			Body:      database.Ptr("body of " + oid),
			SenderID:  database.Ptr(sender),
			Status:    database.Ptr(models.StatusLoaded),
			Public:    database.Ptr(oid == "m3"),
			SentDate:  database.Ptr(time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)),
			MsgOfUser: mou,
		})
		require.NoError(t, err)
		return id
	}
	m1 := insert("m1", alice, 1, database.MsgOfUser{Subscribed: database.Ptr(true)})
	m2 := insert("m2", bob, 2, database.MsgOfUser{Subscribed: database.Ptr(true), Mentioned: database.Ptr(true)})
	m3 := insert("m3", alice, 3, database.MsgOfUser{})

	ids := func(rows []*database.TimelineRow) []int64 {
		out := []int64{}
		for _, r := range rows {
			out = append(out, r.MsgID)
		}
		return out
	}

	tests := []struct {
		name  string
		query database.TimelineQuery
		want  []int64
	}{
		{"all newest first", database.TimelineQuery{Type: models.TimelineAll}, []int64{m3, m2, m1}},
		{"home", database.TimelineQuery{Type: models.TimelineHome}, []int64{m2, m1}},
		{"mentions", database.TimelineQuery{Type: models.TimelineMentions}, []int64{m2}},
		{"user", database.TimelineQuery{Type: models.TimelineUser, UserID: alice}, []int64{m3, m1}},
		{"following", database.TimelineQuery{Type: models.TimelineFollowing}, []int64{m2}},
		{"public", database.TimelineQuery{Type: models.TimelinePublic}, []int64{m3}},
		{"search", database.TimelineQuery{Type: models.TimelineAll, Search: "of m2"}, []int64{m2}},
		{"before", database.TimelineQuery{Type: models.TimelineAll, Before: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}, []int64{m2, m1}},
		{"limit", database.TimelineQuery{Type: models.TimelineAll, Limit: 1}, []int64{m3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.query.AccountUserID = testAccount
			rows, err := store.Timeline(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rows))
		})
	}

	t.Run("rows carry names and annotations", func(t *testing.T) {
		rows, err := store.Timeline(ctx, database.TimelineQuery{AccountUserID: testAccount, Type: models.TimelineMentions})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "bob", rows[0].SenderName)
		assert.Equal(t, "bob", rows[0].AuthorName)
		assert.True(t, rows[0].Mentioned)
		assert.True(t, rows[0].Subscribed)
	})

	t.Run("stats", func(t *testing.T) {
		require.NoError(t, store.SaveDownload(ctx, &database.Download{MsgID: m1, URI: "https://x/y.png", Status: models.StatusAbsent}))
		st, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Messages)
		assert.Equal(t, 2, st.Users)
		assert.Equal(t, 1, st.PendingDownloads)
	})
}

func TestStore_EnsureOrigin(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureOrigin(ctx, 1, "gnusocial", "https://gs.example.org"))
	require.NoError(t, store.EnsureOrigin(ctx, 1, "gnusocial", ""))

	var url string
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT origin_url FROM origin WHERE _id = 1`).Scan(&url))
	assert.Equal(t, "https://gs.example.org", url)
}
