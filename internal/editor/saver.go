package editor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"andstatus/internal/data"
	"andstatus/internal/database"
	"andstatus/internal/database/boltstore"
	"andstatus/internal/metrics"
	"andstatus/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrCannotDiscard is returned when discarding a message that is not a draft.
var ErrCannotDiscard = errors.New("message cannot be discarded")

// Preferences holds the id of the draft being edited.
type Preferences interface {
	GetInt64(key string) (int64, error)
	PutInt64(key string, v int64) error
}

// SendCommand asks the sync side to post a message.
type SendCommand struct {
	Account string `json:"account"`
	MsgID   int64  `json:"msg_id"`
}

// SendQueue accepts send commands for drafts that were saved as Sending.
type SendQueue interface {
	Enqueue(ctx context.Context, cmd SendCommand) error
}

// SendQueueFunc adapts a function to SendQueue.
type SendQueueFunc func(ctx context.Context, cmd SendCommand) error

func (f SendQueueFunc) Enqueue(ctx context.Context, cmd SendCommand) error {
	return f(ctx, cmd)
}

// Saver writes editor data to the store.
type Saver struct {
	store    database.Store
	resolver *data.Resolver
	prefs    Preferences
	queue    SendQueue
	locks    *Locks
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSaver returns a saver. queue may be nil, in which case Sending drafts
// are only stored.
func NewSaver(store database.Store, resolver *data.Resolver, prefs Preferences, queue SendQueue, locks *Locks) *Saver {
	if resolver == nil {
		resolver = data.NewResolver(store, nil)
	}
	if locks == nil {
		locks = &Locks{}
	}
	return &Saver{
		store:    store,
		resolver: resolver,
		prefs:    prefs,
		queue:    queue,
		locks:    locks,
		now:      time.Now,
		logger:   log.With().Str("component", "editor").Logger(),
	}
}

// Save stores first when it is a different non-empty draft, then d. A
// Deleted d is discarded instead. The reloaded d is returned, or empty data
// when d was empty or hidden.
func (s *Saver) Save(ctx context.Context, d Data, first *Data) (Data, error) {
	ids := []int64{d.MsgID}
	if first != nil {
		ids = append(ids, first.MsgID)
	}
	release, err := s.lockAll(ctx, IntentSave, ids...)
	if err != nil {
		return d, err
	}
	defer release()

	if first != nil && !first.IsEmpty() && (first.MsgID == 0 || d.MsgID != first.MsgID) {
		s.logger.Debug().Stringer("data", first).Msg("Saving first data")
		if err := s.save(ctx, first); err != nil {
			return d, fmt.Errorf("save first draft: %w", err)
		}
	}
	if d.IsEmpty() {
		return NewData(d.Account), nil
	}

	s.logger.Debug().Stringer("data", d).Msg("Saving data")
	if d.Status == models.StatusDeleted {
		if err := s.discard(ctx, d); err != nil {
			return d, err
		}
		return NewData(d.Account), nil
	}

	if err := s.save(ctx, &d); err != nil {
		return d, err
	}
	if d.BeingEdited && s.prefs != nil {
		if err := s.prefs.PutInt64(boltstore.KeyBeingEditedMsgID, d.MsgID); err != nil {
			return d, fmt.Errorf("remember draft being edited: %w", err)
		}
	}
	if d.Status == models.StatusSending && s.queue != nil {
		if err := s.queue.Enqueue(ctx, SendCommand{Account: d.Account.Name, MsgID: d.MsgID}); err != nil {
			return d, fmt.Errorf("enqueue send of %d: %w", d.MsgID, err)
		}
	}

	if d.HideBeforeSave {
		return NewData(d.Account), nil
	}
	return loadData(ctx, s.store, d.Account, d.MsgID)
}

// lockAll takes the locks of the stored ids among ids in ascending order.
// A new draft has no row yet, so id 0 is not locked.
func (s *Saver) lockAll(ctx context.Context, intent Intent, ids ...int64) (func(), error) {
	ids = slices.DeleteFunc(slices.Clone(ids), func(id int64) bool { return id == 0 })
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*Lock, 0, len(ids))
	release := func() {
		for _, lock := range held {
			lock.Release()
		}
	}
	for _, id := range ids {
		lock, err := s.locks.Acquire(ctx, intent, id)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}

// Load returns the stored draft msgID while it may still be edited.
// Otherwise the being-edited preference is cleared and empty data returned.
func (s *Saver) Load(ctx context.Context, account models.Account, msgID int64) (Data, error) {
	lock, err := s.locks.Acquire(ctx, IntentLoad, msgID)
	if err != nil {
		return NewData(account), err
	}
	defer lock.Release()

	st, err := s.store.GetMessageState(ctx, msgID)
	if err != nil {
		return NewData(account), fmt.Errorf("load draft %d: %w", msgID, err)
	}
	if st != nil && st.Status.MayBeEdited() {
		return loadData(ctx, s.store, account, msgID)
	}

	status := models.StatusUnknown
	if st != nil {
		status = st.Status
	}
	s.logger.Debug().Int64("msg_id", msgID).Stringer("status", status).Msg("Cannot be edited")
	if err := s.forgetBeingEdited(msgID); err != nil {
		return NewData(account), err
	}
	return NewData(account), nil
}

// CurrentDraft loads the draft remembered as being edited, if any.
func (s *Saver) CurrentDraft(ctx context.Context, account models.Account) (Data, error) {
	if s.prefs == nil {
		return NewData(account), nil
	}
	msgID, err := s.prefs.GetInt64(boltstore.KeyBeingEditedMsgID)
	if err != nil {
		return NewData(account), fmt.Errorf("read draft being edited: %w", err)
	}
	if msgID == 0 {
		return NewData(account), nil
	}
	return s.Load(ctx, account, msgID)
}

func (s *Saver) forgetBeingEdited(msgID int64) error {
	if s.prefs == nil {
		return nil
	}
	current, err := s.prefs.GetInt64(boltstore.KeyBeingEditedMsgID)
	if err != nil {
		return fmt.Errorf("read draft being edited: %w", err)
	}
	if current != msgID {
		return nil
	}
	if err := s.prefs.PutInt64(boltstore.KeyBeingEditedMsgID, 0); err != nil {
		return fmt.Errorf("forget draft being edited: %w", err)
	}
	return nil
}

// save upserts d as a message sent by the account now and records the
// resulting id in d.
func (s *Saver) save(ctx context.Context, d *Data) error {
	account := d.Account
	msg := &models.Message{
		MsgID:    d.MsgID,
		OriginID: account.OriginID,
		Status:   d.Status,
		Body:     d.Body,
		SentDate: s.now().UTC(),
		Actor:    account.User(),
	}
	msg.Sender = msg.Actor

	if d.RecipientID != 0 {
		oid, err := s.store.IDToOid(ctx, database.KindUser, d.RecipientID)
		if err != nil {
			return fmt.Errorf("recipient of draft: %w", err)
		}
		if oid != "" {
			msg.Recipient = &models.User{OriginID: account.OriginID, Oid: oid}
		}
	}
	if d.InReplyToID != 0 {
		oid, err := s.store.IDToOid(ctx, database.KindMessage, d.InReplyToID)
		if err != nil {
			return fmt.Errorf("in-reply-to of draft: %w", err)
		}
		if oid != "" {
			msg.InReplyTo = &models.Message{OriginID: account.OriginID, Oid: oid, Status: models.StatusUnknown}
		}
	}
	if d.MediaURI != "" {
		msg.Attachments = append(msg.Attachments, models.Attachment{URI: d.MediaURI, ContentType: models.ContentImage})
	}

	ins := data.NewInserter(s.store, s.resolver, data.NewExecContext(account, models.TimelineUnknown))
	id := ins.InsertOrUpdateMsgBatch(ctx, msg)
	if id == 0 {
		return errors.New("draft was not stored")
	}
	d.MsgID = id
	metrics.DraftsSavedTotal.WithLabelValues(d.Status.String()).Inc()
	return nil
}

// discard removes a draft with its download rows. Only a Draft row is
// removed; a row that is already gone counts as discarded.
func (s *Saver) discard(ctx context.Context, d Data) error {
	st, err := s.store.GetMessageState(ctx, d.MsgID)
	if err != nil {
		return fmt.Errorf("discard draft %d: %w", d.MsgID, err)
	}
	if st == nil {
		return s.forgetBeingEdited(d.MsgID)
	}
	if st.Status != models.StatusDraft {
		s.logger.Debug().Int64("msg_id", d.MsgID).Stringer("status", st.Status).Msg("Cannot be discarded")
		return fmt.Errorf("discard %d: %w: it is %s", d.MsgID, ErrCannotDiscard, st.Status)
	}

	oid, err := s.store.IDToOid(ctx, database.KindMessage, d.MsgID)
	if err != nil {
		return fmt.Errorf("discard draft %d: %w", d.MsgID, err)
	}
	if err := s.store.DeleteDownloadsOfMessage(ctx, d.MsgID); err != nil {
		return fmt.Errorf("discard draft %d: %w", d.MsgID, err)
	}
	if err := s.store.DeleteMessage(ctx, d.MsgID); err != nil {
		return fmt.Errorf("discard draft %d: %w", d.MsgID, err)
	}
	s.resolver.Forget(ctx, database.KindMessage, d.Account.OriginID, oid)
	metrics.DraftsSavedTotal.WithLabelValues(models.StatusDeleted.String()).Inc()
	return s.forgetBeingEdited(d.MsgID)
}
