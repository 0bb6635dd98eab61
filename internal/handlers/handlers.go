// Package handlers serves the read-only admin API over the local store.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/database/boltstore"
	"andstatus/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimelineLimit = 50
	maxTimelineLimit     = 200
)

// AccountDirectory looks up registered accounts.
type AccountDirectory interface {
	Get(name string) (*boltstore.AccountRecord, error)
	List() ([]boltstore.AccountRecord, error)
}

// Config holds handler configuration options
type Config struct {
	// DefaultAccount is used when a request names no account
	DefaultAccount models.Account

	// StreamConnected reports the stream consumer state; nil when no consumer runs
	StreamConnected func() bool
}

// Handler contains all HTTP handler methods and their dependencies.
type Handler struct {
	store    database.Store
	accounts AccountDirectory
	config   Config
}

// NewHandler creates a new Handler. accounts may be nil, in which case only
// the default account is known.
func NewHandler(store database.Store, accounts AccountDirectory, config Config) *Handler {
	return &Handler{
		store:    store,
		accounts: accounts,
		config:   config,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveAccount picks the account named by the request, or the default.
func (h *Handler) resolveAccount(name string) (models.Account, error) {
	if name == "" || name == h.config.DefaultAccount.Name {
		if h.config.DefaultAccount.Name == "" {
			return models.Account{}, errAccountNotFound
		}
		return h.config.DefaultAccount, nil
	}
	if h.accounts == nil {
		return models.Account{}, errAccountNotFound
	}
	rec, err := h.accounts.Get(name)
	if err != nil {
		return models.Account{}, err
	}
	if rec == nil {
		return models.Account{}, errAccountNotFound
	}
	return rec.Account, nil
}

var errAccountNotFound = errors.New("account not found")

// timelineResponse is the body of GET /api/timeline.
type timelineResponse struct {
	Account  string                  `json:"account"`
	Timeline models.TimelineType     `json:"timeline"`
	Messages []*database.TimelineRow `json:"messages"`
	// Next is the before= value for the following page; empty at the end.
	Next string `json:"next,omitempty"`
}

// HandleTimeline lists messages of one timeline as seen by an account.
func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	account, err := h.resolveAccount(q.Get("account"))
	if errors.Is(err, errAccountNotFound) {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up account")
		writeError(w, http.StatusInternalServerError, "Failed to look up account")
		return
	}

	timeline, err := models.ParseTimelineType(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if timeline == models.TimelineUnknown {
		timeline = models.TimelineHome
	}

	limit := defaultTimelineLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxTimelineLimit)
	}

	var before time.Time
	if v := q.Get("before"); v != "" {
		before, err = parseBefore(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid before")
			return
		}
	}

	var userID int64
	if v := q.Get("user"); v != "" {
		userID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid user")
			return
		}
	}
	if timeline == models.TimelineUser && userID == 0 {
		userID = account.UserID
	}

	rows, err := h.store.Timeline(r.Context(), database.TimelineQuery{
		AccountUserID: account.UserID,
		Type:          timeline,
		UserID:        userID,
		Search:        strings.TrimSpace(q.Get("q")),
		Before:        before,
		Limit:         limit,
	})
	if err != nil {
		log.Error().Err(err).Str("timeline", string(timeline)).Msg("Failed to read timeline")
		writeError(w, http.StatusInternalServerError, "Failed to read timeline")
		return
	}

	resp := timelineResponse{
		Account:  account.Name,
		Timeline: timeline,
		Messages: rows,
	}
	if resp.Messages == nil {
		resp.Messages = []*database.TimelineRow{}
	}
	if len(rows) == limit {
		resp.Next = rows[len(rows)-1].SentDate.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseBefore accepts RFC 3339 or Unix milliseconds.
func parseBefore(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// messageResponse is the body of GET /api/messages/{id}.
type messageResponse struct {
	*database.MessageRow
	Attachments []*database.Download `json:"attachments"`
}

// HandleMessage returns one stored message with its attachments.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid message id")
		return
	}

	var (
		row       *database.MessageRow
		downloads []*database.Download
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		row, err = h.store.GetMessage(ctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		downloads, err = h.store.GetDownloadsOfMessage(ctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Int64("msg_id", id).Msg("Failed to read message")
		writeError(w, http.StatusInternalServerError, "Failed to read message")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if downloads == nil {
		downloads = []*database.Download{}
	}
	writeJSON(w, http.StatusOK, messageResponse{MessageRow: row, Attachments: downloads})
}

// HandleUser returns one stored user.
func (h *Handler) HandleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	row, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("user_id", id).Msg("Failed to read user")
		writeError(w, http.StatusInternalServerError, "Failed to read user")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// HandleAccount returns one registered account.
func (h *Handler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if h.accounts == nil {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}
	rec, err := h.accounts.Get(name)
	if err != nil {
		log.Error().Err(err).Str("account", name).Msg("Failed to read account")
		writeError(w, http.StatusInternalServerError, "Failed to read account")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// statsResponse is the body of GET /api/stats.
type statsResponse struct {
	database.Stats
	Accounts        int   `json:"accounts"`
	StreamConnected *bool `json:"stream_connected,omitempty"`
}

// HandleStats reports row counts.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read stats")
		writeError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) stats(ctx context.Context) (*statsResponse, error) {
	st, err := h.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	resp := &statsResponse{Stats: *st}
	if h.accounts != nil {
		list, err := h.accounts.List()
		if err != nil {
			return nil, err
		}
		resp.Accounts = len(list)
	}
	if h.config.StreamConnected != nil {
		connected := h.config.StreamConnected()
		resp.StreamConnected = &connected
	}
	return resp, nil
}
