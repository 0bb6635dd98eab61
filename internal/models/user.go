package models

import (
	"fmt"
	"strings"
	"time"
)

// User is a user profile as fetched from an origin. Any field may be missing.
type User struct {
	OriginID    int64     `json:"origin_id"`
	Oid         string    `json:"oid,omitempty"`
	Username    string    `json:"username,omitempty"`
	WebFingerID string    `json:"webfinger_id,omitempty"`
	RealName    string    `json:"real_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Description string    `json:"description,omitempty"`
	Homepage    string    `json:"homepage,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedDate time.Time `json:"created_date,omitempty"`
	UpdatedDate time.Time `json:"updated_date,omitempty"`

	// Actor is the account-holder whose action produced this fetch,
	// e.g. the one who followed the user.
	Actor           *User    `json:"actor,omitempty"`
	FollowedByActor TriState `json:"followed_by_actor,omitempty"`

	// LatestMessage has no sender of its own; the user is its sender.
	LatestMessage *Message `json:"latest_message,omitempty"`
}

// NewUser returns a user of an origin with the given oid.
func NewUser(originID int64, oid string) *User {
	return &User{OriginID: originID, Oid: oid}
}

// IsEmpty reports whether the user can not be identified at all.
func (u *User) IsEmpty() bool {
	if u == nil {
		return true
	}
	return strings.TrimSpace(u.Oid) == "" && strings.TrimSpace(u.Username) == ""
}

func (u *User) String() string {
	if u == nil {
		return "user:<nil>"
	}
	return fmt.Sprintf("user:{origin:%d, oid:%q, username:%q}", u.OriginID, u.Oid, u.Username)
}

// Account is a local account: a user of an origin on whose behalf
// timelines are synced. Its UserID is the local id of that user.
type Account struct {
	Name     string `json:"name"`
	OriginID int64  `json:"origin_id"`
	UserID   int64  `json:"user_id"`
	UserOid  string `json:"user_oid"`
	Username string `json:"username"`
}

// User returns a user profile for the account-holder.
func (a Account) User() *User {
	return &User{
		OriginID: a.OriginID,
		Oid:      a.UserOid,
		Username: a.Username,
	}
}

// IsValid reports whether the account can be used for syncing.
func (a Account) IsValid() bool {
	return a.Name != "" && a.UserOid != ""
}
