package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DownloadStatus is the lifecycle state of a message row or of an attachment
// download row. The integer codes are what gets stored in the database.
type DownloadStatus int

const (
	StatusUnknown DownloadStatus = 0
	StatusLoaded  DownloadStatus = 2
	StatusAbsent  DownloadStatus = 4
	StatusSending DownloadStatus = 5
	StatusDraft   DownloadStatus = 6
	StatusDeleted DownloadStatus = 7
)

var statusNames = map[DownloadStatus]string{
	StatusUnknown: "unknown",
	StatusLoaded:  "loaded",
	StatusAbsent:  "absent",
	StatusSending: "sending",
	StatusDraft:   "draft",
	StatusDeleted: "deleted",
}

// LoadDownloadStatus converts a stored code back to a status.
// Unrecognised codes map to StatusUnknown.
func LoadDownloadStatus(code int64) DownloadStatus {
	s := DownloadStatus(code)
	if _, ok := statusNames[s]; ok {
		return s
	}
	return StatusUnknown
}

// ParseDownloadStatus parses the lowercase name of a status.
func ParseDownloadStatus(name string) (DownloadStatus, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return StatusUnknown, nil
	}
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown download status: %q", name)
}

func (s DownloadStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Code returns the value stored in the database.
func (s DownloadStatus) Code() int64 {
	return int64(s)
}

// MayBeEdited reports whether a message in this state can be opened in the editor.
func (s DownloadStatus) MayBeEdited() bool {
	return s == StatusDraft || s == StatusSending
}

// CanTransitionTo reports whether a message may move from s to next.
//
// draft -> sending -> loaded, sending -> draft (resend after failure),
// draft -> deleted. A message seen for the first time (unknown) may take any
// state, and loaded content is terminal.
func (s DownloadStatus) CanTransitionTo(next DownloadStatus) bool {
	if s == next || s == StatusUnknown {
		return true
	}
	switch s {
	case StatusDraft:
		return next == StatusSending || next == StatusDeleted
	case StatusSending:
		return next == StatusLoaded || next == StatusDraft
	}
	return false
}

func (s DownloadStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *DownloadStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var code int64
		if err2 := json.Unmarshal(data, &code); err2 != nil {
			return err
		}
		*s = LoadDownloadStatus(code)
		return nil
	}
	parsed, err := ParseDownloadStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TriState is a boolean that may also be unknown. The zero value is unknown.
type TriState int

const (
	Unknown TriState = iota
	True
	False
)

// TriStateOf converts a plain boolean.
func TriStateOf(b bool) TriState {
	if b {
		return True
	}
	return False
}

// ToBool returns def when the value is unknown.
func (t TriState) ToBool(def bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	}
	return def
}

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	}
	return []byte("null"), nil
}

func (t *TriState) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	if b == nil {
		*t = Unknown
	} else {
		*t = TriStateOf(*b)
	}
	return nil
}

// TimelineType names the timeline a sync command is downloading.
type TimelineType string

const (
	TimelineUnknown   TimelineType = ""
	TimelineHome      TimelineType = "home"
	TimelineMentions  TimelineType = "mentions"
	TimelineDirect    TimelineType = "direct"
	TimelineFavorites TimelineType = "favorites"
	TimelineUser      TimelineType = "user"
	TimelineFollowing TimelineType = "following"
	TimelinePublic    TimelineType = "public"
	TimelineAll       TimelineType = "all"
)

var timelineTypes = []TimelineType{
	TimelineHome,
	TimelineMentions,
	TimelineDirect,
	TimelineFavorites,
	TimelineUser,
	TimelineFollowing,
	TimelinePublic,
	TimelineAll,
}

// ParseTimelineType validates a timeline name. An empty name is unknown.
func ParseTimelineType(name string) (TimelineType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return TimelineUnknown, nil
	}
	for _, t := range timelineTypes {
		if string(t) == name {
			return t, nil
		}
	}
	return TimelineUnknown, fmt.Errorf("unknown timeline type: %q", name)
}

// ContentType classifies an attachment.
type ContentType string

const (
	ContentUnknown ContentType = "unknown"
	ContentImage   ContentType = "image"
	ContentText    ContentType = "text"
)

// ContentTypeFromMime maps a MIME type to an attachment content type.
func ContentTypeFromMime(mime string) ContentType {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return ContentImage
	case strings.HasPrefix(mime, "text/"):
		return ContentText
	}
	return ContentUnknown
}
