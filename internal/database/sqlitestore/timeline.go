package sqlitestore

import (
	"context"
	"fmt"
	"strings"

	"andstatus/internal/database"
	"andstatus/internal/models"
)

const (
	defaultTimelineLimit = 20
	maxTimelineLimit     = 200
)

// Timeline lists messages newest first as seen by q.AccountUserID.
func (s *Store) Timeline(ctx context.Context, q database.TimelineQuery) ([]*database.TimelineRow, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultTimelineLimit
	}
	if limit > maxTimelineLimit {
		limit = maxTimelineLimit
	}

	var where []string
	args := []any{q.AccountUserID}

	switch q.Type {
	case models.TimelineHome:
		where = append(where, "mu.subscribed = 1")
	case models.TimelineMentions:
		where = append(where, "mu.mentioned = 1")
	case models.TimelineDirect:
		where = append(where, "mu.directed = 1")
	case models.TimelineFavorites:
		where = append(where, "mu.favorited = 1")
	case models.TimelineUser:
		where = append(where, "(m.sender_id = ? OR m.author_id = ?)")
		args = append(args, q.UserID, q.UserID)
	case models.TimelineFollowing:
		where = append(where, `m.sender_id IN (
			SELECT following_user_id FROM followinguser WHERE user_id = ? AND user_followed = 1)`)
		args = append(args, q.AccountUserID)
	case models.TimelinePublic:
		where = append(where, "m.public = 1")
	}
	if q.Search != "" {
		where = append(where, "m.body LIKE '%' || ? || '%'")
		args = append(args, q.Search)
	}
	if !q.Before.IsZero() {
		where = append(where, "m.sent_date < ?")
		args = append(args, toMillis(q.Before))
	}

	query := `
		SELECT m._id, m.msg_oid, m.body, m.msg_status,
			m.sender_id, COALESCE(s.username, ''), m.author_id, COALESCE(a.username, ''),
			m.in_reply_to_msg_id, m.sent_date,
			COALESCE(mu.favorited, 0), COALESCE(mu.reblogged, 0), COALESCE(mu.mentioned, 0),
			COALESCE(mu.subscribed, 0), COALESCE(mu.directed, 0)
		FROM msg m
		LEFT JOIN msgofuser mu ON mu.msg_id = m._id AND mu.user_id = ?
		LEFT JOIN user s ON s._id = m.sender_id
		LEFT JOIN user a ON a._id = m.author_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY m.sent_date DESC, m._id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("timeline %s: %w", q.Type, err)
	}
	defer rows.Close()

	result := []*database.TimelineRow{}
	for rows.Next() {
		var r database.TimelineRow
		var status, sent int64
		var favorited, reblogged, mentioned, subscribed, directed int
		if err := rows.Scan(&r.MsgID, &r.Oid, &r.Body, &status,
			&r.SenderID, &r.SenderName, &r.AuthorID, &r.AuthorName,
			&r.InReplyToMsgID, &sent,
			&favorited, &reblogged, &mentioned, &subscribed, &directed); err != nil {
			return nil, fmt.Errorf("timeline %s: %w", q.Type, err)
		}
		r.Status = models.LoadDownloadStatus(status)
		r.SentDate = fromMillis(sent)
		r.Favorited = favorited == 1
		r.Reblogged = reblogged == 1
		r.Mentioned = mentioned == 1
		r.Subscribed = subscribed == 1
		r.Directed = directed == 1
		result = append(result, &r)
	}
	return result, rows.Err()
}

// Stats counts stored rows.
func (s *Store) Stats(ctx context.Context) (*database.Stats, error) {
	var st database.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM msg),
			(SELECT COUNT(*) FROM user),
			(SELECT COUNT(*) FROM download WHERE download_status <> ?)
	`, models.StatusLoaded.Code()).Scan(&st.Messages, &st.Users, &st.PendingDownloads)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}
