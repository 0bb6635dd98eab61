package models

import (
	"strings"
	"time"
)

// Attachment is a media item referenced by a message.
type Attachment struct {
	URI         string      `json:"uri"`
	ContentType ContentType `json:"content_type"`
}

// IsLocal reports whether the attachment points at a file on this device,
// in which case there is nothing to download.
func (a Attachment) IsLocal() bool {
	return strings.HasPrefix(a.URI, "file:") || strings.HasPrefix(a.URI, "content:")
}

// Message is a message as fetched from an origin or composed locally.
//
// A reblog is represented by an outer message whose Reblogged field holds the
// original; only the original is ever stored as a row.
type Message struct {
	// MsgID is the local row id when already known (drafts being saved).
	MsgID    int64          `json:"msg_id,omitempty"`
	OriginID int64          `json:"origin_id"`
	Oid      string         `json:"oid,omitempty"`
	Body     string         `json:"body,omitempty"`
	SentDate time.Time      `json:"sent_date,omitempty"`
	Status   DownloadStatus `json:"status"`

	Sender    *User `json:"sender,omitempty"`
	Actor     *User `json:"actor,omitempty"`
	Recipient *User `json:"recipient,omitempty"`

	InReplyTo *Message `json:"in_reply_to,omitempty"`
	Reblogged *Message `json:"reblogged,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	Public bool   `json:"public,omitempty"`
	Via    string `json:"via,omitempty"`
	URL    string `json:"url,omitempty"`

	FavoritedByActor TriState `json:"favorited_by_actor,omitempty"`
}

// NewMessage returns a message of an origin with the given oid and status.
func NewMessage(originID int64, oid string, status DownloadStatus) *Message {
	return &Message{
		OriginID: originID,
		Oid:      oid,
		Status:   status,
	}
}

// IsEmpty reports whether the message carries nothing worth storing.
func (m *Message) IsEmpty() bool {
	if m == nil {
		return true
	}
	return m.MsgID == 0 &&
		strings.TrimSpace(m.Oid) == "" &&
		strings.TrimSpace(m.Body) == "" &&
		len(m.Attachments) == 0 &&
		(m.Reblogged == nil || m.Reblogged.IsEmpty())
}

// IsReblog reports whether the message wraps an original message.
func (m *Message) IsReblog() bool {
	return m != nil && m.Reblogged != nil
}
