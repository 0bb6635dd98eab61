package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/models"
)

// SaveDownload finds or creates the download row of (d.MsgID, d.URI) and
// fills d.ID. An existing row keeps its status unless d reports it loaded.
func (s *Store) SaveDownload(ctx context.Context, d *database.Download) error {
	if d.ContentType == "" {
		d.ContentType = models.ContentUnknown
	}
	var id, status, loaded int64
	err := s.db.QueryRowContext(ctx, `
		SELECT _id, download_status, loaded_date FROM download WHERE msg_id = ? AND uri = ?
	`, d.MsgID, d.URI).Scan(&id, &status, &loaded)
	switch {
	case err == sql.ErrNoRows:
		if d.Status == models.StatusLoaded && d.LoadedDate.IsZero() {
			d.LoadedDate = time.Now().UTC()
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO download (msg_id, uri, content_type, download_status, loaded_date)
			VALUES (?, ?, ?, ?, ?)
		`, d.MsgID, d.URI, string(d.ContentType), d.Status.Code(), toMillis(d.LoadedDate))
		if err != nil {
			return fmt.Errorf("insert download: %w", err)
		}
		d.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert download: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("find download: %w", err)
	}

	d.ID = id
	stored := models.LoadDownloadStatus(status)
	if d.Status == models.StatusLoaded && stored != models.StatusLoaded {
		if d.LoadedDate.IsZero() {
			d.LoadedDate = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE download SET download_status = ?, loaded_date = ?, content_type = ? WHERE _id = ?
		`, d.Status.Code(), toMillis(d.LoadedDate), string(d.ContentType), id)
		if err != nil {
			return fmt.Errorf("update download %d: %w", id, err)
		}
		return nil
	}
	d.Status = stored
	d.LoadedDate = fromMillis(loaded)
	return nil
}

func (s *Store) GetDownloadsOfMessage(ctx context.Context, msgID int64) ([]*database.Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT _id, msg_id, uri, content_type, download_status, loaded_date
		FROM download WHERE msg_id = ? ORDER BY _id
	`, msgID)
	if err != nil {
		return nil, fmt.Errorf("downloads of message %d: %w", msgID, err)
	}
	defer rows.Close()

	downloads := []*database.Download{}
	for rows.Next() {
		var d database.Download
		var contentType string
		var status, loaded int64
		if err := rows.Scan(&d.ID, &d.MsgID, &d.URI, &contentType, &status, &loaded); err != nil {
			return nil, fmt.Errorf("downloads of message %d: %w", msgID, err)
		}
		d.ContentType = models.ContentType(contentType)
		d.Status = models.LoadDownloadStatus(status)
		d.LoadedDate = fromMillis(loaded)
		downloads = append(downloads, &d)
	}
	return downloads, rows.Err()
}

// DeleteOtherDownloads removes the download rows of msgID whose ids are not in keep.
func (s *Store) DeleteOtherDownloads(ctx context.Context, msgID int64, keep []int64) error {
	if len(keep) == 0 {
		return s.DeleteDownloadsOfMessage(ctx, msgID)
	}
	args := make([]any, 0, len(keep)+1)
	args = append(args, msgID)
	for _, id := range keep {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keep)), ", ")
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM download WHERE msg_id = ? AND _id NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete other downloads of %d: %w", msgID, err)
	}
	return nil
}

func (s *Store) DeleteDownloadsOfMessage(ctx context.Context, msgID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM download WHERE msg_id = ?`, msgID); err != nil {
		return fmt.Errorf("delete downloads of %d: %w", msgID, err)
	}
	return nil
}
