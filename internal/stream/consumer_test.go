package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"andstatus/internal/models"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []*models.Message
	users    []*models.User
	deleted  []string
	err      error
}

func (s *recordingSink) HandleMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.err
}

func (s *recordingSink) HandleUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, user)
	return s.err
}

func (s *recordingSink) HandleDelete(ctx context.Context, originID int64, oid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, oid)
	return s.err
}

func (s *recordingSink) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), len(s.users), len(s.deleted)
}

type memCursors struct {
	mu    sync.Mutex
	saved map[string]int64
}

func newMemCursors() *memCursors {
	return &memCursors{saved: make(map[string]int64)}
}

func (m *memCursors) Load(key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[key], nil
}

func (m *memCursors) Save(key string, cursor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[key] = cursor
	return nil
}

func encode(t *testing.T, e Event) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestBuildWebSocketURL(t *testing.T) {
	cursors := newMemCursors()
	cursors.Save("me", 10_000_000)

	c, err := NewConsumer(&Config{
		Endpoints: []string{"wss://stream.example.org/subscribe?v=1"},
		Account:   "me",
		Timelines: []models.TimelineType{models.TimelineHome, models.TimelineMentions},
		Compress:  true,
		Rewind:    time.Second,
	}, &recordingSink{}, cursors)
	require.NoError(t, err)

	raw, err := c.buildWebSocketURL(c.config.Endpoints[0])
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "1", q.Get("v"))
	assert.Equal(t, "me", q.Get("account"))
	assert.Equal(t, []string{"home", "mentions"}, q["timeline"])
	assert.Equal(t, "true", q.Get("compress"))
	assert.Equal(t, "9000000", q.Get("cursor"))
}

func TestNewConsumer_NeedsEndpoints(t *testing.T) {
	_, err := NewConsumer(&Config{}, &recordingSink{}, nil)
	assert.Error(t, err)
}

func TestProcessMessage(t *testing.T) {
	sink := &recordingSink{}
	cursors := newMemCursors()
	c, err := NewConsumer(&Config{Endpoints: []string{"ws://x"}, Account: "me", CursorEvery: 2, Compress: true}, sink, cursors)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.processMessage(ctx, encode(t, Event{
		Kind: KindMessage, TimeUS: 100, OriginID: 3,
		Message: &models.Message{Oid: "m1", Body: "hi"},
	})))
	assert.Empty(t, cursors.saved, "cursor is persisted every second event")

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(encode(t, Event{Kind: KindUser, TimeUS: 200, User: &models.User{Oid: "u1"}}), nil)
	require.NoError(t, enc.Close())
	require.NoError(t, c.processMessage(ctx, compressed))
	assert.Equal(t, int64(200), cursors.saved["me"])

	require.NoError(t, c.processMessage(ctx, encode(t, Event{Kind: KindDelete, TimeUS: 300, Oid: "m1"})))
	require.NoError(t, c.processMessage(ctx, encode(t, Event{Kind: "heartbeat", TimeUS: 400})))
	assert.Equal(t, int64(400), c.Cursor())

	assert.Error(t, c.processMessage(ctx, []byte("not json")))

	m, u, d := sink.counts()
	assert.Equal(t, 1, m)
	assert.Equal(t, 1, u)
	assert.Equal(t, 1, d)
	assert.Equal(t, int64(3), sink.messages[0].OriginID)

	sink.err = errors.New("store down")
	assert.Error(t, c.processMessage(ctx, encode(t, Event{Kind: KindMessage, Message: &models.Message{Oid: "m2"}})))

	events, bytes := c.Stats()
	assert.Equal(t, int64(5), events)
	assert.Zero(t, bytes)
}

func TestConsumer_StreamsFromServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotQuery url.Values
	var queryMu sync.Mutex
	release := make(chan struct{})

	frames := [][]byte{
		encode(t, Event{Kind: KindMessage, TimeUS: 1000, Message: &models.Message{Oid: "m1", Body: "one"}}),
		encode(t, Event{Kind: KindUser, TimeUS: 2000, User: &models.User{Oid: "u1", Username: "alice"}}),
		encode(t, Event{Kind: KindDelete, TimeUS: 3000, Oid: "m1"}),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queryMu.Lock()
		gotQuery = r.URL.Query()
		queryMu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	sink := &recordingSink{}
	cursors := newMemCursors()
	c, err := NewConsumer(&Config{
		Endpoints: []string{"ws" + strings.TrimPrefix(srv.URL, "http") + "/subscribe"},
		Account:   "me",
		Timelines: []models.TimelineType{models.TimelineHome},
	}, sink, cursors)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	require.Eventually(t, func() bool {
		m, u, d := sink.counts()
		return m == 1 && u == 1 && d == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, c.IsConnected())

	queryMu.Lock()
	assert.Equal(t, "home", gotQuery.Get("timeline"))
	assert.Equal(t, "me", gotQuery.Get("account"))
	queryMu.Unlock()

	c.Stop()
	assert.False(t, c.IsConnected())
	assert.Equal(t, int64(3000), cursors.saved["me"], "cursor is persisted on stop")
}

func TestConsumer_ContextCancelStopsRun(t *testing.T) {
	c, err := NewConsumer(&Config{
		Endpoints:      []string{"ws://127.0.0.1:1/unreachable"},
		InitialBackoff: 10 * time.Millisecond,
	}, &recordingSink{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, c.IsConnected())
}
