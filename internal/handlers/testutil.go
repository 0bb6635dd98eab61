package handlers

import (
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/database/boltstore"
	"andstatus/internal/models"
)

// TestFixtures contains sample data for testing
type TestFixtures struct {
	Account models.Account
	Message *database.MessageRow
	User    *database.UserRow
	Rows    []*database.TimelineRow
}

// NewTestFixtures creates a set of sample test data
func NewTestFixtures() *TestFixtures {
	sent := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	account := models.Account{
		Name:     "me@example.org",
		OriginID: 1,
		UserID:   1,
		UserOid:  "acct:me@example.org",
		Username: "me",
	}

	user := &database.UserRow{
		ID:          2,
		OriginID:    1,
		Oid:         "acct:alice@example.org",
		Username:    "alice",
		WebFingerID: "alice@example.org",
		RealName:    "Alice",
		CreatedDate: sent.Add(-24 * time.Hour),
		InsDate:     sent,
	}

	msg := &database.MessageRow{
		ID:          10,
		OriginID:    1,
		Oid:         "https://example.org/notes/10",
		Status:      models.StatusLoaded,
		SenderID:    user.ID,
		AuthorID:    user.ID,
		Body:        "hello @me",
		Public:      true,
		CreatedDate: sent,
		SentDate:    sent,
		InsDate:     sent,
	}

	rows := []*database.TimelineRow{
		{
			MsgID: 10, Oid: msg.Oid, Body: msg.Body, Status: models.StatusLoaded,
			SenderID: 2, SenderName: "alice", AuthorID: 2, AuthorName: "alice",
			SentDate: sent, Mentioned: true,
		},
		{
			MsgID: 9, Oid: "https://example.org/notes/9", Body: "earlier", Status: models.StatusLoaded,
			SenderID: 2, SenderName: "alice", AuthorID: 2, AuthorName: "alice",
			SentDate: sent.Add(-time.Hour), Subscribed: true,
		},
	}

	return &TestFixtures{
		Account: account,
		Message: msg,
		User:    user,
		Rows:    rows,
	}
}

// TestContext contains test dependencies
type TestContext struct {
	Handler   *Handler
	MockStore *database.MockStore
	Accounts  *boltstore.AccountStore
	Fixtures  *TestFixtures
	Recorder  *httptest.ResponseRecorder
}

// NewTestContext creates a test context with a mock store and a temporary
// account directory holding the fixture account.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()
	mockStore := &database.MockStore{}
	fixtures := NewTestFixtures()

	state, err := boltstore.Open(boltstore.Options{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { state.Close() })
	accounts := state.AccountStore()
	if err := accounts.Register(fixtures.Account); err != nil {
		t.Fatalf("register account: %v", err)
	}

	handler := NewHandler(mockStore, accounts, Config{DefaultAccount: fixtures.Account})

	return &TestContext{
		Handler:   handler,
		MockStore: mockStore,
		Accounts:  accounts,
		Fixtures:  fixtures,
		Recorder:  httptest.NewRecorder(),
	}
}

// AssertResponseCode checks if the response has the expected status code
func AssertResponseCode(t interface {
	Errorf(format string, args ...interface{})
}, rec *httptest.ResponseRecorder, expected int) {
	if rec.Code != expected {
		t.Errorf("Expected status code %d, got %d. Body: %s", expected, rec.Code, rec.Body.String())
	}
}
