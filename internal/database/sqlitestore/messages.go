package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/models"
)

// ========== Identifiers ==========

func (s *Store) OidToID(ctx context.Context, kind database.OidKind, originID int64, oid string) (int64, error) {
	if oid == "" {
		return 0, nil
	}
	var query string
	switch kind {
	case database.KindMessage:
		query = `SELECT _id FROM msg WHERE origin_id = ? AND msg_oid = ?`
	case database.KindUser:
		query = `SELECT _id FROM user WHERE origin_id = ? AND user_oid = ?`
	default:
		return 0, fmt.Errorf("oid to id: unknown kind %d", kind)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, query, originID, oid).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s oid to id: %w", kind, err)
	}
	return id, nil
}

func (s *Store) IDToOid(ctx context.Context, kind database.OidKind, id int64) (string, error) {
	if id == 0 {
		return "", nil
	}
	var query string
	switch kind {
	case database.KindMessage:
		query = `SELECT msg_oid FROM msg WHERE _id = ?`
	case database.KindUser:
		query = `SELECT user_oid FROM user WHERE _id = ?`
	default:
		return "", fmt.Errorf("id to oid: unknown kind %d", kind)
	}
	var oid string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&oid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s id to oid: %w", kind, err)
	}
	return oid, nil
}

// ========== Messages ==========

func (s *Store) GetMessageState(ctx context.Context, msgID int64) (*database.MessageState, error) {
	var st database.MessageState
	var status, sentDate int64
	err := s.db.QueryRowContext(ctx, `
		SELECT _id, msg_oid, msg_status, sent_date, sender_id FROM msg WHERE _id = ?
	`, msgID).Scan(&st.ID, &st.Oid, &status, &sentDate, &st.SenderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message state: %w", err)
	}
	st.Status = models.LoadDownloadStatus(status)
	st.SentDate = fromMillis(sentDate)
	return &st, nil
}

func (s *Store) GetMessage(ctx context.Context, msgID int64) (*database.MessageRow, error) {
	var m database.MessageRow
	var status, created, sent, ins int64
	var public int
	err := s.db.QueryRowContext(ctx, `
		SELECT _id, origin_id, msg_oid, msg_status, sender_id, author_id, recipient_id,
			in_reply_to_msg_id, in_reply_to_user_id, body, via, url, public,
			created_date, sent_date, ins_date
		FROM msg WHERE _id = ?
	`, msgID).Scan(&m.ID, &m.OriginID, &m.Oid, &status, &m.SenderID, &m.AuthorID, &m.RecipientID,
		&m.InReplyToMsgID, &m.InReplyToUserID, &m.Body, &m.Via, &m.URL, &public,
		&created, &sent, &ins)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.Status = models.LoadDownloadStatus(status)
	m.Public = public == 1
	m.CreatedDate = fromMillis(created)
	m.SentDate = fromMillis(sent)
	m.InsDate = fromMillis(ins)
	return &m, nil
}

func messageColumns(v *database.MessageValues) *columns {
	c := &columns{}
	if v.OriginID != nil {
		c.add("origin_id", *v.OriginID)
	}
	if v.Oid != nil {
		c.add("msg_oid", *v.Oid)
	}
	if v.Status != nil {
		c.add("msg_status", v.Status.Code())
	}
	if v.SenderID != nil {
		c.add("sender_id", *v.SenderID)
	}
	if v.AuthorID != nil {
		c.add("author_id", *v.AuthorID)
	}
	if v.RecipientID != nil {
		c.add("recipient_id", *v.RecipientID)
	}
	if v.InReplyToMsgID != nil {
		c.add("in_reply_to_msg_id", *v.InReplyToMsgID)
	}
	if v.InReplyToUserID != nil {
		c.add("in_reply_to_user_id", *v.InReplyToUserID)
	}
	if v.Body != nil {
		c.add("body", *v.Body)
	}
	if v.Via != nil {
		c.add("via", *v.Via)
	}
	if v.URL != nil {
		c.add("url", *v.URL)
	}
	if v.Public != nil {
		c.add("public", boolInt(*v.Public))
	}
	if v.CreatedDate != nil {
		c.add("created_date", toMillis(*v.CreatedDate))
	}
	if v.SentDate != nil {
		c.add("sent_date", toMillis(*v.SentDate))
	}
	return c
}

func msgOfUserColumns(msgID, accountUserID int64, m database.MsgOfUser) *columns {
	c := &columns{}
	c.add("msg_id", msgID)
	c.add("user_id", accountUserID)
	if m.Subscribed != nil {
		c.add("subscribed", boolInt(*m.Subscribed))
	}
	if m.Favorited != nil {
		c.add("favorited", boolInt(*m.Favorited))
	}
	if m.Reblogged != nil {
		c.add("reblogged", boolInt(*m.Reblogged))
	}
	if m.ReblogOid != nil {
		c.add("reblog_oid", *m.ReblogOid)
	}
	if m.Mentioned != nil {
		c.add("mentioned", boolInt(*m.Mentioned))
	}
	if m.Replied != nil {
		c.add("replied", boolInt(*m.Replied))
	}
	if m.Directed != nil {
		c.add("directed", boolInt(*m.Directed))
	}
	return c
}

// InsertMessage adds a message row. The author defaults to the sender, and
// annotations are stored for accountUserID when any is set.
func (s *Store) InsertMessage(ctx context.Context, accountUserID int64, values *database.MessageValues) (int64, error) {
	c := messageColumns(values)
	if values.AuthorID == nil && values.SenderID != nil {
		c.add("author_id", *values.SenderID)
	}
	c.add("ins_date", toMillis(time.Now()))

	var msgID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, c.insertSQL("msg"), c.args...)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		msgID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return upsertMsgOfUser(ctx, tx, msgID, accountUserID, values.MsgOfUser)
	})
	if err != nil {
		return 0, err
	}
	return msgID, nil
}

func (s *Store) UpdateMessage(ctx context.Context, accountUserID, msgID int64, values *database.MessageValues) error {
	c := messageColumns(values)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if !c.empty() {
			args := append(c.args, msgID)
			res, err := tx.ExecContext(ctx, `UPDATE msg SET `+c.setSQL()+` WHERE _id = ?`, args...)
			if err != nil {
				return fmt.Errorf("update message %d: %w", msgID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("update message %d: %w", msgID, database.ErrNotFound)
			}
		}
		return upsertMsgOfUser(ctx, tx, msgID, accountUserID, values.MsgOfUser)
	})
}

func upsertMsgOfUser(ctx context.Context, db execer, msgID, accountUserID int64, m database.MsgOfUser) error {
	if accountUserID == 0 || m.IsEmpty() {
		return nil
	}
	c := msgOfUserColumns(msgID, accountUserID, m)
	query := c.insertSQL("msgofuser") + ` ON CONFLICT(msg_id, user_id) DO UPDATE SET ` + c.upsertSetSQL(2)
	if _, err := db.ExecContext(ctx, query, c.args...); err != nil {
		return fmt.Errorf("upsert msgofuser: %w", err)
	}
	return nil
}

func (s *Store) GetMsgOfUser(ctx context.Context, msgID, accountUserID int64) (*database.MsgOfUser, error) {
	var subscribed, favorited, reblogged, mentioned, replied, directed int
	var reblogOid string
	err := s.db.QueryRowContext(ctx, `
		SELECT subscribed, favorited, reblogged, reblog_oid, mentioned, replied, directed
		FROM msgofuser WHERE msg_id = ? AND user_id = ?
	`, msgID, accountUserID).Scan(&subscribed, &favorited, &reblogged, &reblogOid, &mentioned, &replied, &directed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get msgofuser: %w", err)
	}
	return &database.MsgOfUser{
		Subscribed: database.Ptr(subscribed == 1),
		Favorited:  database.Ptr(favorited == 1),
		Reblogged:  database.Ptr(reblogged == 1),
		ReblogOid:  database.Ptr(reblogOid),
		Mentioned:  database.Ptr(mentioned == 1),
		Replied:    database.Ptr(replied == 1),
		Directed:   database.Ptr(directed == 1),
	}, nil
}

// DeleteMessage removes the message and every account's annotations of it
// in one transaction. Download rows are left to DeleteDownloadsOfMessage.
func (s *Store) DeleteMessage(ctx context.Context, msgID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM msgofuser WHERE msg_id = ?`, msgID); err != nil {
			return fmt.Errorf("delete msgofuser of %d: %w", msgID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM msg WHERE _id = ?`, msgID); err != nil {
			return fmt.Errorf("delete message %d: %w", msgID, err)
		}
		return nil
	})
}
