package editor

import (
	"context"
	"fmt"
	"strings"

	"andstatus/internal/database"
	"andstatus/internal/models"
)

// Data is the state of the message editor.
type Data struct {
	MsgID       int64                 `json:"msg_id"`
	Account     models.Account        `json:"account"`
	Status      models.DownloadStatus `json:"status"`
	Body        string                `json:"body"`
	RecipientID int64                 `json:"recipient_id,omitempty"`
	InReplyToID int64                 `json:"in_reply_to_id,omitempty"`
	MediaURI    string                `json:"media_uri,omitempty"`

	// BeingEdited marks the draft as the one open in the editor.
	BeingEdited bool `json:"being_edited"`
	// HideBeforeSave makes Save return empty data instead of reloading.
	HideBeforeSave bool `json:"hide_before_save"`
}

// NewData returns an empty draft of account.
func NewData(account models.Account) Data {
	return Data{Account: account, Status: models.StatusDraft}
}

// IsEmpty reports whether there is nothing to save.
func (d Data) IsEmpty() bool {
	return d.MsgID == 0 && strings.TrimSpace(d.Body) == "" && d.MediaURI == ""
}

func (d Data) String() string {
	return fmt.Sprintf("msg_id=%d status=%s body_len=%d", d.MsgID, d.Status, len(d.Body))
}

// loadData reads the stored message msgID back into editor data. A missing
// row gives empty data.
func loadData(ctx context.Context, store database.Store, account models.Account, msgID int64) (Data, error) {
	d := NewData(account)
	if msgID == 0 {
		return d, nil
	}
	row, err := store.GetMessage(ctx, msgID)
	if err != nil {
		return d, fmt.Errorf("load draft %d: %w", msgID, err)
	}
	if row == nil {
		return d, nil
	}
	d.MsgID = row.ID
	d.Status = row.Status
	d.Body = row.Body
	d.RecipientID = row.RecipientID
	d.InReplyToID = row.InReplyToMsgID

	downloads, err := store.GetDownloadsOfMessage(ctx, msgID)
	if err != nil {
		return d, fmt.Errorf("load draft %d attachments: %w", msgID, err)
	}
	if len(downloads) > 0 {
		d.MediaURI = downloads[0].URI
	}
	return d, nil
}
