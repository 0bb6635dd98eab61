package database

import (
	"context"
	"time"
)

// MockStore is a mock implementation of the Store interface for testing.
// Uses function fields to allow tests to inject custom behavior.
type MockStore struct {
	// Identifier lookups
	OidToIDFunc      func(ctx context.Context, kind OidKind, originID int64, oid string) (int64, error)
	IDToOidFunc      func(ctx context.Context, kind OidKind, id int64) (string, error)
	UsernameToIDFunc func(ctx context.Context, originID int64, username string) (int64, error)

	// Message operations
	GetMessageStateFunc func(ctx context.Context, msgID int64) (*MessageState, error)
	GetMessageFunc      func(ctx context.Context, msgID int64) (*MessageRow, error)
	InsertMessageFunc   func(ctx context.Context, accountUserID int64, values *MessageValues) (int64, error)
	UpdateMessageFunc   func(ctx context.Context, accountUserID, msgID int64, values *MessageValues) error
	DeleteMessageFunc   func(ctx context.Context, msgID int64) error
	GetMsgOfUserFunc    func(ctx context.Context, msgID, accountUserID int64) (*MsgOfUser, error)

	// User operations
	GetUserFunc             func(ctx context.Context, userID int64) (*UserRow, error)
	InsertUserFunc          func(ctx context.Context, accountUserID int64, values *UserValues) (int64, error)
	UpdateUserFunc          func(ctx context.Context, accountUserID, userID int64, values *UserValues) error
	UpdateLatestMessageFunc func(ctx context.Context, userID, msgID int64, date time.Time) error
	IsFollowingFunc         func(ctx context.Context, accountUserID, userID int64) (bool, error)
	FollowedUserIDsFunc     func(ctx context.Context, accountUserID int64) ([]int64, error)

	// Attachment download rows
	SaveDownloadFunc             func(ctx context.Context, d *Download) error
	GetDownloadsOfMessageFunc    func(ctx context.Context, msgID int64) ([]*Download, error)
	DeleteOtherDownloadsFunc     func(ctx context.Context, msgID int64, keep []int64) error
	DeleteDownloadsOfMessageFunc func(ctx context.Context, msgID int64) error

	// Timeline reads
	TimelineFunc func(ctx context.Context, q TimelineQuery) ([]*TimelineRow, error)
	StatsFunc    func(ctx context.Context) (*Stats, error)

	CloseFunc func() error
}

// Ensure MockStore implements the interface at compile time.
var _ Store = (*MockStore)(nil)

// OidToID calls the mock function or returns 0 if not set
func (m *MockStore) OidToID(ctx context.Context, kind OidKind, originID int64, oid string) (int64, error) {
	if m.OidToIDFunc != nil {
		return m.OidToIDFunc(ctx, kind, originID, oid)
	}
	return 0, nil
}

// IDToOid calls the mock function or returns an empty oid if not set
func (m *MockStore) IDToOid(ctx context.Context, kind OidKind, id int64) (string, error) {
	if m.IDToOidFunc != nil {
		return m.IDToOidFunc(ctx, kind, id)
	}
	return "", nil
}

// UsernameToID calls the mock function or returns 0 if not set
func (m *MockStore) UsernameToID(ctx context.Context, originID int64, username string) (int64, error) {
	if m.UsernameToIDFunc != nil {
		return m.UsernameToIDFunc(ctx, originID, username)
	}
	return 0, nil
}

// GetMessageState calls the mock function or returns nil if not set
func (m *MockStore) GetMessageState(ctx context.Context, msgID int64) (*MessageState, error) {
	if m.GetMessageStateFunc != nil {
		return m.GetMessageStateFunc(ctx, msgID)
	}
	return nil, nil
}

// GetMessage calls the mock function or returns nil if not set
func (m *MockStore) GetMessage(ctx context.Context, msgID int64) (*MessageRow, error) {
	if m.GetMessageFunc != nil {
		return m.GetMessageFunc(ctx, msgID)
	}
	return nil, nil
}

// InsertMessage calls the mock function or returns 0 if not set
func (m *MockStore) InsertMessage(ctx context.Context, accountUserID int64, values *MessageValues) (int64, error) {
	if m.InsertMessageFunc != nil {
		return m.InsertMessageFunc(ctx, accountUserID, values)
	}
	return 0, nil
}

// UpdateMessage calls the mock function or returns nil if not set
func (m *MockStore) UpdateMessage(ctx context.Context, accountUserID, msgID int64, values *MessageValues) error {
	if m.UpdateMessageFunc != nil {
		return m.UpdateMessageFunc(ctx, accountUserID, msgID, values)
	}
	return nil
}

// DeleteMessage calls the mock function or returns nil if not set
func (m *MockStore) DeleteMessage(ctx context.Context, msgID int64) error {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, msgID)
	}
	return nil
}

// GetMsgOfUser calls the mock function or returns nil if not set
func (m *MockStore) GetMsgOfUser(ctx context.Context, msgID, accountUserID int64) (*MsgOfUser, error) {
	if m.GetMsgOfUserFunc != nil {
		return m.GetMsgOfUserFunc(ctx, msgID, accountUserID)
	}
	return nil, nil
}

// GetUser calls the mock function or returns nil if not set
func (m *MockStore) GetUser(ctx context.Context, userID int64) (*UserRow, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return nil, nil
}

// InsertUser calls the mock function or returns 0 if not set
func (m *MockStore) InsertUser(ctx context.Context, accountUserID int64, values *UserValues) (int64, error) {
	if m.InsertUserFunc != nil {
		return m.InsertUserFunc(ctx, accountUserID, values)
	}
	return 0, nil
}

// UpdateUser calls the mock function or returns nil if not set
func (m *MockStore) UpdateUser(ctx context.Context, accountUserID, userID int64, values *UserValues) error {
	if m.UpdateUserFunc != nil {
		return m.UpdateUserFunc(ctx, accountUserID, userID, values)
	}
	return nil
}

// UpdateLatestMessage calls the mock function or returns nil if not set
func (m *MockStore) UpdateLatestMessage(ctx context.Context, userID, msgID int64, date time.Time) error {
	if m.UpdateLatestMessageFunc != nil {
		return m.UpdateLatestMessageFunc(ctx, userID, msgID, date)
	}
	return nil
}

// IsFollowing calls the mock function or returns false if not set
func (m *MockStore) IsFollowing(ctx context.Context, accountUserID, userID int64) (bool, error) {
	if m.IsFollowingFunc != nil {
		return m.IsFollowingFunc(ctx, accountUserID, userID)
	}
	return false, nil
}

// FollowedUserIDs calls the mock function or returns empty slice if not set
func (m *MockStore) FollowedUserIDs(ctx context.Context, accountUserID int64) ([]int64, error) {
	if m.FollowedUserIDsFunc != nil {
		return m.FollowedUserIDsFunc(ctx, accountUserID)
	}
	return []int64{}, nil
}

// SaveDownload calls the mock function or returns nil if not set
func (m *MockStore) SaveDownload(ctx context.Context, d *Download) error {
	if m.SaveDownloadFunc != nil {
		return m.SaveDownloadFunc(ctx, d)
	}
	return nil
}

// GetDownloadsOfMessage calls the mock function or returns empty slice if not set
func (m *MockStore) GetDownloadsOfMessage(ctx context.Context, msgID int64) ([]*Download, error) {
	if m.GetDownloadsOfMessageFunc != nil {
		return m.GetDownloadsOfMessageFunc(ctx, msgID)
	}
	return []*Download{}, nil
}

// DeleteOtherDownloads calls the mock function or returns nil if not set
func (m *MockStore) DeleteOtherDownloads(ctx context.Context, msgID int64, keep []int64) error {
	if m.DeleteOtherDownloadsFunc != nil {
		return m.DeleteOtherDownloadsFunc(ctx, msgID, keep)
	}
	return nil
}

// DeleteDownloadsOfMessage calls the mock function or returns nil if not set
func (m *MockStore) DeleteDownloadsOfMessage(ctx context.Context, msgID int64) error {
	if m.DeleteDownloadsOfMessageFunc != nil {
		return m.DeleteDownloadsOfMessageFunc(ctx, msgID)
	}
	return nil
}

// Timeline calls the mock function or returns empty slice if not set
func (m *MockStore) Timeline(ctx context.Context, q TimelineQuery) ([]*TimelineRow, error) {
	if m.TimelineFunc != nil {
		return m.TimelineFunc(ctx, q)
	}
	return []*TimelineRow{}, nil
}

// Stats calls the mock function or returns zero counts if not set
func (m *MockStore) Stats(ctx context.Context) (*Stats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return &Stats{}, nil
}

// Close calls the mock function or returns nil if not set
func (m *MockStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
