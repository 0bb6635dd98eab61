package database

import (
	"context"
	"errors"
	"time"

	"andstatus/internal/models"
)

// ErrNotFound is returned by updates whose row no longer exists.
var ErrNotFound = errors.New("row not found")

// OidKind selects which table an oid lookup goes to.
type OidKind int

const (
	KindMessage OidKind = iota + 1
	KindUser
)

func (k OidKind) String() string {
	switch k {
	case KindMessage:
		return "msg"
	case KindUser:
		return "user"
	}
	return "unknown"
}

// Store defines the primitive database surface the upsert pipeline consumes.
// Lookups return a zero id (or nil row) when nothing matches; errors are
// reserved for database failures.
// All methods accept a context.Context as the first parameter to support
// cancellation, timeouts, and request-scoped values.
type Store interface {
	// Identifier lookups
	OidToID(ctx context.Context, kind OidKind, originID int64, oid string) (int64, error)
	IDToOid(ctx context.Context, kind OidKind, id int64) (string, error)
	// UsernameToID finds a user that has no oid by its username.
	UsernameToID(ctx context.Context, originID int64, username string) (int64, error)

	// Message operations
	GetMessageState(ctx context.Context, msgID int64) (*MessageState, error)
	GetMessage(ctx context.Context, msgID int64) (*MessageRow, error)
	InsertMessage(ctx context.Context, accountUserID int64, values *MessageValues) (int64, error)
	UpdateMessage(ctx context.Context, accountUserID, msgID int64, values *MessageValues) error
	DeleteMessage(ctx context.Context, msgID int64) error
	GetMsgOfUser(ctx context.Context, msgID, accountUserID int64) (*MsgOfUser, error)

	// User operations
	GetUser(ctx context.Context, userID int64) (*UserRow, error)
	InsertUser(ctx context.Context, accountUserID int64, values *UserValues) (int64, error)
	UpdateUser(ctx context.Context, accountUserID, userID int64, values *UserValues) error
	UpdateLatestMessage(ctx context.Context, userID, msgID int64, date time.Time) error
	IsFollowing(ctx context.Context, accountUserID, userID int64) (bool, error)
	FollowedUserIDs(ctx context.Context, accountUserID int64) ([]int64, error)

	// Attachment download rows
	SaveDownload(ctx context.Context, d *Download) error
	GetDownloadsOfMessage(ctx context.Context, msgID int64) ([]*Download, error)
	DeleteOtherDownloads(ctx context.Context, msgID int64, keep []int64) error
	DeleteDownloadsOfMessage(ctx context.Context, msgID int64) error

	// Timeline reads
	Timeline(ctx context.Context, q TimelineQuery) ([]*TimelineRow, error)
	Stats(ctx context.Context) (*Stats, error)

	// Close the database connection
	Close() error
}

// MessageState is the part of a stored message the upsert decisions need.
type MessageState struct {
	ID       int64
	Oid      string
	Status   models.DownloadStatus
	SentDate time.Time
	SenderID int64
}

// MessageValues holds the columns to write for a message. Nil fields are not
// written. MsgOfUser is written to the per-account annotation row.
type MessageValues struct {
	OriginID        *int64
	Oid             *string
	Status          *models.DownloadStatus
	SenderID        *int64
	AuthorID        *int64
	RecipientID     *int64
	InReplyToMsgID  *int64
	InReplyToUserID *int64
	Body            *string
	Via             *string
	URL             *string
	Public          *bool
	CreatedDate     *time.Time
	SentDate        *time.Time

	MsgOfUser MsgOfUser
}

// MsgOfUser holds the facts about a message that are relative to one
// account's user. Nil fields are not written.
type MsgOfUser struct {
	Subscribed *bool
	Favorited  *bool
	Reblogged  *bool
	ReblogOid  *string
	Mentioned  *bool
	Replied    *bool
	Directed   *bool
}

// IsEmpty reports whether no annotation is set.
func (m MsgOfUser) IsEmpty() bool {
	return m.Subscribed == nil && m.Favorited == nil && m.Reblogged == nil &&
		m.ReblogOid == nil && m.Mentioned == nil && m.Replied == nil && m.Directed == nil
}

// UserValues holds the columns to write for a user. Nil fields are not
// written. Followed, when set, is stored as the following relationship of
// the account user passed alongside.
type UserValues struct {
	OriginID    *int64
	Oid         *string
	Username    *string
	WebFingerID *string
	RealName    *string
	AvatarURL   *string
	Description *string
	Homepage    *string
	URL         *string
	CreatedDate *time.Time

	Followed *bool
}

// IsEmpty reports whether nothing would be written.
func (v *UserValues) IsEmpty() bool {
	return v.OriginID == nil && v.Oid == nil && v.Username == nil && v.WebFingerID == nil &&
		v.RealName == nil && v.AvatarURL == nil && v.Description == nil && v.Homepage == nil &&
		v.URL == nil && v.CreatedDate == nil && v.Followed == nil
}

// MessageRow is a stored message.
type MessageRow struct {
	ID              int64                 `json:"id"`
	OriginID        int64                 `json:"origin_id"`
	Oid             string                `json:"oid"`
	Status          models.DownloadStatus `json:"status"`
	SenderID        int64                 `json:"sender_id"`
	AuthorID        int64                 `json:"author_id"`
	RecipientID     int64                 `json:"recipient_id,omitempty"`
	InReplyToMsgID  int64                 `json:"in_reply_to_msg_id,omitempty"`
	InReplyToUserID int64                 `json:"in_reply_to_user_id,omitempty"`
	Body            string                `json:"body"`
	Via             string                `json:"via,omitempty"`
	URL             string                `json:"url,omitempty"`
	Public          bool                  `json:"public"`
	CreatedDate     time.Time             `json:"created_date"`
	SentDate        time.Time             `json:"sent_date"`
	InsDate         time.Time             `json:"ins_date"`
}

// UserRow is a stored user.
type UserRow struct {
	ID            int64     `json:"id"`
	OriginID      int64     `json:"origin_id"`
	Oid           string    `json:"oid"`
	Username      string    `json:"username"`
	WebFingerID   string    `json:"webfinger_id"`
	RealName      string    `json:"real_name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	Description   string    `json:"description,omitempty"`
	Homepage      string    `json:"homepage,omitempty"`
	URL           string    `json:"url,omitempty"`
	CreatedDate   time.Time `json:"created_date"`
	LatestMsgID   int64     `json:"latest_msg_id,omitempty"`
	LatestMsgDate time.Time `json:"latest_msg_date"`
	InsDate       time.Time `json:"ins_date"`
}

// Download tracks one attachment of a message.
type Download struct {
	ID          int64                 `json:"id"`
	MsgID       int64                 `json:"msg_id"`
	URI         string                `json:"uri"`
	ContentType models.ContentType    `json:"content_type"`
	Status      models.DownloadStatus `json:"status"`
	LoadedDate  time.Time             `json:"loaded_date"`
}

// TimelineQuery selects messages as seen by one account.
type TimelineQuery struct {
	AccountUserID int64
	Type          models.TimelineType
	// UserID selects the sender for the user timeline.
	UserID int64
	Search string
	Before time.Time
	Limit  int
}

// TimelineRow is one message of a timeline with the account's annotations.
type TimelineRow struct {
	MsgID          int64                 `json:"msg_id"`
	Oid            string                `json:"oid"`
	Body           string                `json:"body"`
	Status         models.DownloadStatus `json:"status"`
	SenderID       int64                 `json:"sender_id"`
	SenderName     string                `json:"sender_name"`
	AuthorID       int64                 `json:"author_id"`
	AuthorName     string                `json:"author_name"`
	InReplyToMsgID int64                 `json:"in_reply_to_msg_id,omitempty"`
	SentDate       time.Time             `json:"sent_date"`
	Favorited      bool                  `json:"favorited"`
	Reblogged      bool                  `json:"reblogged"`
	Mentioned      bool                  `json:"mentioned"`
	Subscribed     bool                  `json:"subscribed"`
	Directed       bool                  `json:"directed"`
}

// Stats are row counts for the admin surface and metrics collector.
type Stats struct {
	Messages         int `json:"messages"`
	Users            int `json:"users"`
	PendingDownloads int `json:"pending_downloads"`
}

// Ptr returns a pointer to v, for filling MessageValues and UserValues.
func Ptr[T any](v T) *T {
	return &v
}
