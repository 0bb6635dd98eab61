package sync

import (
	"context"
	"fmt"

	"andstatus/internal/data"
	"andstatus/internal/database"
	"andstatus/internal/models"
)

// StreamSink upserts events of a streaming timeline, each event as its own
// batch. It is meant to be called from one goroutine.
type StreamSink struct {
	store    database.Store
	resolver *data.Resolver
	ins      *data.Inserter
}

func NewStreamSink(store database.Store, resolver *data.Resolver, account models.Account, timeline models.TimelineType) *StreamSink {
	if resolver == nil {
		resolver = data.NewResolver(store, nil)
	}
	return &StreamSink{
		store:    store,
		resolver: resolver,
		ins:      data.NewInserter(store, resolver, data.NewExecContext(account, timeline)),
	}
}

// Result returns the counters accumulated since the sink was created.
func (s *StreamSink) Result() *data.CommandResult {
	return s.ins.Exec().Result
}

func (s *StreamSink) HandleMessage(ctx context.Context, msg *models.Message) error {
	if msg.IsEmpty() {
		return nil
	}
	if s.ins.InsertOrUpdateMsgBatch(ctx, msg) == 0 {
		return fmt.Errorf("message %q was not stored", msg.Oid)
	}
	return nil
}

func (s *StreamSink) HandleUser(ctx context.Context, user *models.User) error {
	if user.IsEmpty() {
		return nil
	}
	if s.ins.InsertOrUpdateUserBatch(ctx, user) == 0 {
		return fmt.Errorf("user %q was not stored", user.Oid)
	}
	return nil
}

// HandleDelete removes a message deleted at the origin. Unknown oids are ignored.
func (s *StreamSink) HandleDelete(ctx context.Context, originID int64, oid string) error {
	if originID == 0 {
		originID = s.ins.Exec().Account.OriginID
	}
	msgID, err := s.resolver.OidToID(ctx, database.KindMessage, originID, oid)
	if err != nil {
		return fmt.Errorf("delete %q: %w", oid, err)
	}
	if msgID == 0 {
		return nil
	}
	if err := s.store.DeleteDownloadsOfMessage(ctx, msgID); err != nil {
		return fmt.Errorf("delete %q: %w", oid, err)
	}
	if err := s.store.DeleteMessage(ctx, msgID); err != nil {
		return fmt.Errorf("delete %q: %w", oid, err)
	}
	s.resolver.Forget(ctx, database.KindMessage, originID, oid)
	return nil
}
