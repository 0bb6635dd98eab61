package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"andstatus/internal/database"
)

// UsernameToID only matches users stored without an oid.
func (s *Store) UsernameToID(ctx context.Context, originID int64, username string) (int64, error) {
	if username == "" {
		return 0, nil
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT _id FROM user WHERE origin_id = ? AND username = ? AND user_oid = '' ORDER BY _id LIMIT 1
	`, originID, username).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("username to id: %w", err)
	}
	return id, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*database.UserRow, error) {
	var u database.UserRow
	var created, latestDate, ins int64
	err := s.db.QueryRowContext(ctx, `
		SELECT _id, origin_id, user_oid, username, webfinger_id, real_name, avatar_url,
			description, homepage, url, created_date, user_msg_id, user_msg_date, ins_date
		FROM user WHERE _id = ?
	`, userID).Scan(&u.ID, &u.OriginID, &u.Oid, &u.Username, &u.WebFingerID, &u.RealName, &u.AvatarURL,
		&u.Description, &u.Homepage, &u.URL, &created, &u.LatestMsgID, &latestDate, &ins)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedDate = fromMillis(created)
	u.LatestMsgDate = fromMillis(latestDate)
	u.InsDate = fromMillis(ins)
	return &u, nil
}

func userColumns(v *database.UserValues) *columns {
	c := &columns{}
	if v.OriginID != nil {
		c.add("origin_id", *v.OriginID)
	}
	if v.Oid != nil {
		c.add("user_oid", *v.Oid)
	}
	if v.Username != nil {
		c.add("username", *v.Username)
	}
	if v.WebFingerID != nil {
		c.add("webfinger_id", *v.WebFingerID)
	}
	if v.RealName != nil {
		c.add("real_name", *v.RealName)
	}
	if v.AvatarURL != nil {
		c.add("avatar_url", *v.AvatarURL)
	}
	if v.Description != nil {
		c.add("description", *v.Description)
	}
	if v.Homepage != nil {
		c.add("homepage", *v.Homepage)
	}
	if v.URL != nil {
		c.add("url", *v.URL)
	}
	if v.CreatedDate != nil {
		c.add("created_date", toMillis(*v.CreatedDate))
	}
	return c
}

func (s *Store) InsertUser(ctx context.Context, accountUserID int64, values *database.UserValues) (int64, error) {
	c := userColumns(values)
	c.add("ins_date", toMillis(time.Now()))

	var userID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, c.insertSQL("user"), c.args...)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		userID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return upsertFollowing(ctx, tx, accountUserID, userID, values.Followed)
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *Store) UpdateUser(ctx context.Context, accountUserID, userID int64, values *database.UserValues) error {
	c := userColumns(values)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if !c.empty() {
			args := append(c.args, userID)
			res, err := tx.ExecContext(ctx, `UPDATE user SET `+c.setSQL()+` WHERE _id = ?`, args...)
			if err != nil {
				return fmt.Errorf("update user %d: %w", userID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("update user %d: %w", userID, database.ErrNotFound)
			}
		}
		return upsertFollowing(ctx, tx, accountUserID, userID, values.Followed)
	})
}

func upsertFollowing(ctx context.Context, db execer, accountUserID, userID int64, followed *bool) error {
	if followed == nil || accountUserID == 0 || userID == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO followinguser (user_id, following_user_id, user_followed)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, following_user_id) DO UPDATE SET
			user_followed = excluded.user_followed
	`, accountUserID, userID, boolInt(*followed))
	if err != nil {
		return fmt.Errorf("upsert following: %w", err)
	}
	return nil
}

// UpdateLatestMessage points the user at msgID unless a newer message is
// already recorded.
func (s *Store) UpdateLatestMessage(ctx context.Context, userID, msgID int64, date time.Time) error {
	ms := toMillis(date)
	_, err := s.db.ExecContext(ctx, `
		UPDATE user SET user_msg_id = ?, user_msg_date = ?
		WHERE _id = ? AND user_msg_date <= ?
	`, msgID, ms, userID, ms)
	if err != nil {
		return fmt.Errorf("update latest message of user %d: %w", userID, err)
	}
	return nil
}

func (s *Store) IsFollowing(ctx context.Context, accountUserID, userID int64) (bool, error) {
	var followed int
	err := s.db.QueryRowContext(ctx, `
		SELECT user_followed FROM followinguser WHERE user_id = ? AND following_user_id = ?
	`, accountUserID, userID).Scan(&followed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is following: %w", err)
	}
	return followed == 1, nil
}

func (s *Store) FollowedUserIDs(ctx context.Context, accountUserID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT following_user_id FROM followinguser
		WHERE user_id = ? AND user_followed = 1
		ORDER BY following_user_id
	`, accountUserID)
	if err != nil {
		return nil, fmt.Errorf("followed users: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("followed users: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
