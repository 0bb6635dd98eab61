package data

import (
	"context"
	"errors"
	"strings"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/metrics"
	"andstatus/internal/models"

	"github.com/rs/zerolog"
)

// DefaultMaxReplyDepth bounds how many in-reply-to ancestors of one message
// are upserted.
const DefaultMaxReplyDepth = 32

// Inserter upserts fetched messages and users on behalf of one sync command.
//
// Upserts are best effort: a failing store call is logged and counted in the
// command result, and the id resolved so far (possibly zero) is returned.
// Zero means "not stored". An Inserter assumes it is the only writer for the
// duration of a call and is not safe for concurrent use.
type Inserter struct {
	store    database.Store
	resolver *Resolver
	exec     *ExecContext

	// MaxReplyDepth bounds the in-reply-to chain; zero means DefaultMaxReplyDepth.
	MaxReplyDepth int
}

func NewInserter(store database.Store, resolver *Resolver, exec *ExecContext) *Inserter {
	if resolver == nil {
		resolver = NewResolver(store, nil)
	}
	return &Inserter{
		store:    store,
		resolver: resolver,
		exec:     exec,
	}
}

// Exec returns the execution context the inserter reports to.
func (i *Inserter) Exec() *ExecContext {
	return i.exec
}

// work is the state of one top-level upsert call.
type work struct {
	lum *LatestUserMessages
	// pending holds users' latest messages, processed after the current item
	// with that user as sender.
	pending []pendingMsg
}

type pendingMsg struct {
	msg      *models.Message
	senderID int64
}

// replyParent is the resolved in-reply-to message of the message being upserted.
type replyParent struct {
	msg *models.Message
	id  int64
}

// InsertOrUpdateMsg upserts msg, its users and its in-reply-to ancestors.
// Latest messages per user are recorded in lum for the caller to save.
func (i *Inserter) InsertOrUpdateMsg(ctx context.Context, msg *models.Message, lum *LatestUserMessages) int64 {
	w := &work{lum: lum}
	id := i.upsertMsgChain(ctx, w, msg, 0, i.exec.Timeline)
	i.drain(ctx, w)
	return id
}

// InsertOrUpdateUser upserts user and the users and messages it references.
func (i *Inserter) InsertOrUpdateUser(ctx context.Context, user *models.User, lum *LatestUserMessages) int64 {
	w := &work{lum: lum}
	id := i.upsertUser(ctx, w, user)
	i.drain(ctx, w)
	return id
}

// InsertOrUpdateMsgBatch upserts a single message as its own batch.
func (i *Inserter) InsertOrUpdateMsgBatch(ctx context.Context, msg *models.Message) int64 {
	lum := NewLatestUserMessages()
	id := i.InsertOrUpdateMsg(ctx, msg, lum)
	i.saveLatest(ctx, lum)
	return id
}

// InsertOrUpdateUserBatch upserts a single user as its own batch.
func (i *Inserter) InsertOrUpdateUserBatch(ctx context.Context, user *models.User) int64 {
	lum := NewLatestUserMessages()
	id := i.InsertOrUpdateUser(ctx, user, lum)
	i.saveLatest(ctx, lum)
	return id
}

func (i *Inserter) saveLatest(ctx context.Context, lum *LatestUserMessages) {
	if err := lum.Save(ctx, i.store); err != nil {
		i.fail("latest", err).Msg("Failed to save latest user messages")
	}
}

func (i *Inserter) drain(ctx context.Context, w *work) {
	for len(w.pending) > 0 {
		p := w.pending[0]
		w.pending = w.pending[1:]
		i.upsertMsgChain(ctx, w, p.msg, p.senderID, models.TimelineAll)
	}
}

func (i *Inserter) logger() zerolog.Logger {
	return i.exec.Logger().With().Str("component", "inserter").Logger()
}

// fail counts a skipped upsert and returns an error event for the caller to finish.
func (i *Inserter) fail(kind string, err error) *zerolog.Event {
	i.exec.Result.IncrementErrors()
	metrics.UpsertErrorsTotal.WithLabelValues(kind).Inc()
	l := i.logger()
	return l.Error().Err(err)
}

func (i *Inserter) isAccountUser(userID int64) bool {
	return userID != 0 && userID == i.exec.Account.UserID
}

func (i *Inserter) originOf(originID int64) int64 {
	if originID == 0 {
		return i.exec.Account.OriginID
	}
	return originID
}

func canonical(m *models.Message) *models.Message {
	if m.Reblogged != nil {
		return m.Reblogged
	}
	return m
}

type oidKey struct {
	originID int64
	oid      string
}

// replyChain lists msg followed by its in-reply-to ancestors, nearest first.
// The walk stops at maxDepth ancestors or when an ancestor repeats; the
// reference that was not followed is returned as cut.
func (i *Inserter) replyChain(msg *models.Message) (chain []*models.Message, cut *models.Message) {
	maxDepth := i.MaxReplyDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxReplyDepth
	}
	seen := make(map[oidKey]bool)
	mark := func(m *models.Message) bool {
		c := canonical(m)
		if c.Oid == "" {
			return true
		}
		k := oidKey{i.originOf(c.OriginID), c.Oid}
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	}

	mark(msg)
	chain = append(chain, msg)
	for cur := msg; canonical(cur).InReplyTo != nil; {
		next := canonical(cur).InReplyTo
		if len(chain) > maxDepth || !mark(next) {
			return chain, next
		}
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

// upsertMsgChain upserts the ancestors of msg oldest first, then msg itself,
// so every message is written knowing the id of the one it replies to.
func (i *Inserter) upsertMsgChain(ctx context.Context, w *work, msg *models.Message, senderID int64, timeline models.TimelineType) int64 {
	if msg == nil {
		return 0
	}
	chain, cut := i.replyChain(msg)

	var parent *replyParent
	if cut != nil {
		parent = i.lookupParent(ctx, cut)
		l := i.logger()
		l.Debug().Str("oid", cut.Oid).Int("depth", len(chain)).Msg("Reply chain cut")
	}

	var id int64
	for k := len(chain) - 1; k >= 0; k-- {
		tl, sender := models.TimelineAll, int64(0)
		if k == 0 {
			tl, sender = timeline, senderID
		}
		id = i.upsertMsg(ctx, w, chain[k], sender, tl, parent)
		parent = &replyParent{msg: chain[k], id: id}
	}
	return id
}

// lookupParent resolves a reference that is not upserted itself.
func (i *Inserter) lookupParent(ctx context.Context, ref *models.Message) *replyParent {
	c := canonical(ref)
	id := c.MsgID
	if id == 0 {
		var err error
		id, err = i.resolver.OidToID(ctx, database.KindMessage, i.exec.Account.OriginID, c.Oid)
		if err != nil {
			i.fail("message", err).Str("oid", c.Oid).Msg("Failed to resolve in-reply-to message")
			id = 0
		}
	}
	return &replyParent{msg: ref, id: id}
}

// upsertMsg stores one message. parent is the resolved message it replies
// to, nil when it is not a reply.
func (i *Inserter) upsertMsg(ctx context.Context, w *work, messageIn *models.Message, senderIDIn int64, timeline models.TimelineType, parent *replyParent) (msgID int64) {
	msgID = messageIn.MsgID
	if messageIn.IsEmpty() {
		l := i.logger()
		l.Warn().Msg("The message is empty, skipping")
		return 0
	}

	account := i.exec.Account
	fail := func(err error) int64 {
		i.fail("message", err).Int64("msg_id", msgID).Str("oid", messageIn.Oid).Msg("Failed to upsert message")
		return msgID
	}

	msg := messageIn
	values := &database.MessageValues{}

	// The sent date of a reblog is the reblog's, so reblogged messages sort
	// by when they were reblogged. The created date stays the original's.
	sentDate := msg.SentDate
	var createdDate time.Time
	if !sentDate.IsZero() {
		createdDate = sentDate
		i.exec.Result.IncrementDownloaded()
	}

	actorID := account.UserID
	if msg.Actor != nil {
		actorID = i.upsertUser(ctx, w, msg.Actor)
	}

	var senderID int64
	if msg.Sender != nil {
		senderID = i.upsertUser(ctx, w, msg.Sender)
	} else if senderIDIn != 0 {
		senderID = senderIDIn
	}

	rowOid := msg.Oid
	authorID := senderID
	if msg.Reblogged != nil {
		if msg.Reblogged.Sender != nil {
			authorID = i.upsertUser(ctx, w, msg.Reblogged.Sender)
		}
		if i.isAccountUser(senderID) {
			values.MsgOfUser.Reblogged = database.Ptr(true)
			if rowOid != "" {
				values.MsgOfUser.ReblogOid = database.Ptr(rowOid)
			}
		}
		// Only the original is stored.
		msg = msg.Reblogged
		if msg.Oid != "" {
			rowOid = msg.Oid
		}
		if !msg.SentDate.IsZero() {
			createdDate = msg.SentDate
		}
	}
	if authorID != 0 {
		values.AuthorID = database.Ptr(authorID)
	}

	if msgID == 0 {
		id, err := i.resolver.OidToID(ctx, database.KindMessage, account.OriginID, rowOid)
		if err != nil {
			return fail(err)
		}
		msgID = id
	}

	statusStored := models.StatusUnknown
	var sentDateStored time.Time
	if msgID != 0 {
		st, err := i.store.GetMessageState(ctx, msgID)
		if err != nil {
			return fail(err)
		}
		if st == nil {
			// A preset id whose row is gone: store it anew.
			msgID = 0
		} else {
			statusStored = st.Status
			sentDateStored = st.SentDate
		}
	}

	// A message may already exist as a stub without body, or as an unsent draft.
	isFirstTimeLoaded := msg.Status == models.StatusLoaded || msgID == 0
	isDraftUpdated := !isFirstTimeLoaded &&
		(msg.Status == models.StatusSending || msg.Status == models.StatusDraft) &&
		statusStored.CanTransitionTo(msg.Status)
	if msgID != 0 && isFirstTimeLoaded {
		isFirstTimeLoaded = statusStored != models.StatusLoaded
	}

	if isFirstTimeLoaded || isDraftUpdated {
		values.Status = database.Ptr(msg.Status)
		values.CreatedDate = database.Ptr(createdDate)
		if senderID != 0 {
			// The first sender stays: a later reblogger never replaces it.
			values.SenderID = database.Ptr(senderID)
		}
		if rowOid != "" {
			values.Oid = database.Ptr(rowOid)
		}
		values.OriginID = database.Ptr(account.OriginID)
		values.Body = database.Ptr(msg.Body)
	}

	isNewerThanInDatabase := sentDate.After(sentDateStored)
	if isNewerThanInDatabase {
		values.SentDate = database.Ptr(sentDate)
	}

	isDirectMessage := false
	if msg.Recipient != nil {
		recipientID := i.upsertUser(ctx, w, msg.Recipient)
		values.RecipientID = database.Ptr(recipientID)
		if i.isAccountUser(recipientID) || i.isAccountUser(senderID) {
			isDirectMessage = true
			values.MsgOfUser.Directed = database.Ptr(true)
		}
	}
	if timeline == models.TimelineHome || (!isDirectMessage && i.isAccountUser(senderID)) {
		values.MsgOfUser.Subscribed = database.Ptr(true)
	}
	if msg.Via != "" {
		values.Via = database.Ptr(msg.Via)
	}
	if msg.URL != "" {
		values.URL = database.Ptr(msg.URL)
	}
	if msg.Public {
		values.Public = database.Ptr(true)
	}

	if msg.FavoritedByActor != models.Unknown && i.isAccountUser(actorID) {
		values.MsgOfUser.Favorited = database.Ptr(msg.FavoritedByActor.ToBool(false))
	}

	mentioned, err := i.applyReply(ctx, msg, timeline, parent, values)
	if err != nil {
		return fail(err)
	}

	l := i.logger()
	l.Debug().
		Int64("msg_id", msgID).
		Str("oid", rowOid).
		Stringer("status", msg.Status).
		Bool("first_time_loaded", isFirstTimeLoaded).
		Bool("draft_updated", isDraftUpdated).
		Bool("newer", isNewerThanInDatabase).
		Msg("Upserting message")

	if msgID == 0 {
		id, err := i.store.InsertMessage(ctx, account.UserID, values)
		if err != nil {
			return fail(err)
		}
		msgID = id
		i.resolver.Remember(ctx, database.KindMessage, account.OriginID, rowOid, msgID)
		metrics.MessagesUpsertedTotal.WithLabelValues("insert").Inc()
	} else {
		if err := i.store.UpdateMessage(ctx, account.UserID, msgID, values); err != nil {
			return fail(err)
		}
		metrics.MessagesUpsertedTotal.WithLabelValues("update").Inc()
	}

	if isFirstTimeLoaded || isDraftUpdated {
		if err := i.saveAttachments(ctx, msgID, msg.Attachments); err != nil {
			return fail(err)
		}
	}

	if isNewerThanInDatabase {
		i.exec.Result.IncrementMessages(timeline)
		if mentioned {
			i.exec.Result.IncrementMentions()
		}
	}
	if senderID != 0 {
		w.lum.OnNewUserMsg(UserMsg{UserID: senderID, MsgID: msgID, Date: sentDate})
	}
	if authorID != 0 && authorID != senderID {
		w.lum.OnNewUserMsg(UserMsg{UserID: authorID, MsgID: msgID, Date: createdDate})
	}
	return msgID
}

// applyReply links msg to its parent and decides whether the syncing
// account is mentioned: on the mentions timeline, when the parent was sent
// by the account, or when the body names the account.
func (i *Inserter) applyReply(ctx context.Context, msg *models.Message, timeline models.TimelineType, parent *replyParent, values *database.MessageValues) (bool, error) {
	account := i.exec.Account
	mentioned := timeline == models.TimelineMentions

	if parent != nil {
		var inReplyToUserID int64
		if parent.msg.Sender != nil {
			id, err := i.resolver.OidToID(ctx, database.KindUser, i.originOf(parent.msg.Sender.OriginID), parent.msg.Sender.Oid)
			if err != nil {
				return false, err
			}
			inReplyToUserID = id
		} else if parent.id != 0 {
			st, err := i.store.GetMessageState(ctx, parent.id)
			if err != nil {
				return false, err
			}
			if st != nil {
				inReplyToUserID = st.SenderID
			}
		}
		if parent.id != 0 {
			values.InReplyToMsgID = database.Ptr(parent.id)
		}
		if inReplyToUserID != 0 {
			values.InReplyToUserID = database.Ptr(inReplyToUserID)
			if i.isAccountUser(inReplyToUserID) {
				values.MsgOfUser.Replied = database.Ptr(true)
				mentioned = true
			}
		}
	}

	if !mentioned && msg.Body != "" && account.Username != "" &&
		strings.Contains(msg.Body, "@"+account.Username) {
		mentioned = true
	}
	if mentioned {
		values.MsgOfUser.Mentioned = database.Ptr(true)
	}
	return mentioned, nil
}

// saveAttachments makes the download rows of msgID match attachments
// exactly. Local files count as loaded at once.
func (i *Inserter) saveAttachments(ctx context.Context, msgID int64, attachments []models.Attachment) error {
	keep := make([]int64, 0, len(attachments))
	for _, a := range attachments {
		d := &database.Download{
			MsgID:       msgID,
			URI:         a.URI,
			ContentType: a.ContentType,
			Status:      models.StatusAbsent,
		}
		if a.IsLocal() {
			d.Status = models.StatusLoaded
		}
		if err := i.store.SaveDownload(ctx, d); err != nil {
			return err
		}
		keep = append(keep, d.ID)
	}
	return i.store.DeleteOtherDownloads(ctx, msgID, keep)
}

// upsertUser stores one user. Fields missing from the fetch never blank
// stored values.
func (i *Inserter) upsertUser(ctx context.Context, w *work, user *models.User) int64 {
	if user.IsEmpty() {
		l := i.logger()
		l.Debug().Msg("The user is empty, skipping")
		return 0
	}

	account := i.exec.Account
	originID := i.originOf(user.OriginID)
	var userID int64
	fail := func(err error) int64 {
		i.fail("user", err).Int64("user_id", userID).Str("oid", user.Oid).Msg("Failed to upsert user")
		return userID
	}

	var err error
	if user.Oid != "" {
		userID, err = i.resolver.OidToID(ctx, database.KindUser, originID, user.Oid)
	} else {
		userID, err = i.store.UsernameToID(ctx, originID, user.Username)
	}
	if err != nil {
		return fail(err)
	}
	isNew := userID == 0
	values := userValues(user, isNew)

	readerID := account.UserID
	if user.Actor != nil {
		readerID = i.upsertUser(ctx, w, user.Actor)
	}
	var followed *bool
	if user.FollowedByActor != models.Unknown && i.isAccountUser(readerID) {
		followed = database.Ptr(user.FollowedByActor.ToBool(false))
	}
	values.Followed = followed

	if !isNew && !values.IsEmpty() {
		err := i.store.UpdateUser(ctx, account.UserID, userID, values)
		switch {
		case errors.Is(err, database.ErrNotFound) && user.Oid != "":
			// The cached id outlived its row.
			l := i.logger()
			l.Debug().Int64("user_id", userID).Str("oid", user.Oid).Msg("Stale user id, inserting anew")
			i.resolver.Forget(ctx, database.KindUser, originID, user.Oid)
			isNew = true
			values = userValues(user, true)
			values.Followed = followed
		case err != nil:
			return fail(err)
		default:
			metrics.UsersUpsertedTotal.WithLabelValues("update").Inc()
		}
	}
	if isNew {
		values.Oid = database.Ptr(user.Oid)
		values.OriginID = database.Ptr(originID)
		id, err := i.store.InsertUser(ctx, account.UserID, values)
		if err != nil {
			return fail(err)
		}
		userID = id
		i.resolver.Remember(ctx, database.KindUser, originID, user.Oid, userID)
		metrics.UsersUpsertedTotal.WithLabelValues("insert").Inc()
	}

	if user.LatestMessage != nil && userID != 0 {
		w.pending = append(w.pending, pendingMsg{msg: user.LatestMessage, senderID: userID})
	}

	l := i.logger()
	l.Debug().Int64("user_id", userID).Str("oid", user.Oid).Bool("new", isNew).Msg("Upserted user")
	return userID
}

// userValues maps the fetched profile to columns. A new row gets defaults
// for the names it lacks.
func userValues(user *models.User, isNew bool) *database.UserValues {
	values := &database.UserValues{}
	username := user.Username
	if isNew && username == "" {
		username = "id:" + user.Oid
	}
	if username != "" {
		values.Username = database.Ptr(username)
	}
	webFingerID := user.WebFingerID
	if isNew && webFingerID == "" {
		webFingerID = username
	}
	if webFingerID != "" {
		values.WebFingerID = database.Ptr(webFingerID)
	}
	realName := user.RealName
	if isNew && realName == "" {
		realName = username
	}
	if realName != "" {
		values.RealName = database.Ptr(realName)
	}
	if user.AvatarURL != "" {
		values.AvatarURL = database.Ptr(user.AvatarURL)
	}
	if user.Description != "" {
		values.Description = database.Ptr(user.Description)
	}
	if user.Homepage != "" {
		values.Homepage = database.Ptr(user.Homepage)
	}
	if user.URL != "" {
		values.URL = database.Ptr(user.URL)
	}
	if !user.CreatedDate.IsZero() {
		values.CreatedDate = database.Ptr(user.CreatedDate)
	} else if isNew && !user.UpdatedDate.IsZero() {
		values.CreatedDate = database.Ptr(user.UpdatedDate)
	}
	return values
}
