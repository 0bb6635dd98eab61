package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestUserMessages_OnNewUserMsg(t *testing.T) {
	lum := NewLatestUserMessages()

	lum.OnNewUserMsg(UserMsg{UserID: 1, MsgID: 10, Date: at(100)})
	lum.OnNewUserMsg(UserMsg{UserID: 1, MsgID: 11, Date: at(50)})
	got, ok := lum.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(10), got.MsgID, "older message is ignored")

	lum.OnNewUserMsg(UserMsg{UserID: 1, MsgID: 12, Date: at(100)})
	got, _ = lum.Get(1)
	assert.Equal(t, int64(10), got.MsgID, "first seen wins a tie")

	lum.OnNewUserMsg(UserMsg{UserID: 1, MsgID: 13, Date: at(200)})
	got, _ = lum.Get(1)
	assert.Equal(t, int64(13), got.MsgID)

	lum.OnNewUserMsg(UserMsg{UserID: 0, MsgID: 1, Date: at(1)})
	lum.OnNewUserMsg(UserMsg{UserID: 2, MsgID: 0, Date: at(1)})
	assert.Equal(t, 1, lum.Len())
	_, ok = lum.Get(2)
	assert.False(t, ok)
}

func TestLatestUserMessages_Save(t *testing.T) {
	var order []int64
	store := &database.MockStore{
		UpdateLatestMessageFunc: func(ctx context.Context, userID, msgID int64, date time.Time) error {
			order = append(order, userID)
			if userID == 2 {
				return errors.New("locked")
			}
			return nil
		},
	}

	lum := NewLatestUserMessages()
	for _, id := range []int64{3, 1, 2} {
		lum.OnNewUserMsg(UserMsg{UserID: id, MsgID: id * 10, Date: at(id)})
	}

	err := lum.Save(context.Background(), store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user 2")
	assert.Equal(t, []int64{1, 2, 3}, order, "all users are attempted in id order")
	assert.Zero(t, lum.Len())

	order = nil
	require.NoError(t, lum.Save(context.Background(), store))
	assert.Empty(t, order)
}

func TestLatestUserMessages_SaveKeepsNewerStored(t *testing.T) {
	_, store := setupInserter(t, models.TimelineAll)
	ctx := context.Background()

	userID, err := store.InsertUser(ctx, 0, &database.UserValues{
		OriginID: database.Ptr(testOrigin),
		Oid:      database.Ptr("u1"),
		Username: database.Ptr("u1"),
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateLatestMessage(ctx, userID, 99, at(500)))

	lum := NewLatestUserMessages()
	lum.OnNewUserMsg(UserMsg{UserID: userID, MsgID: 7, Date: at(100)})
	require.NoError(t, lum.Save(ctx, store))

	row, err := store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(99), row.LatestMsgID)
}
