package sync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"andstatus/internal/models"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// DefaultFileBatchSize is how many lines FileSource returns per batch.
const DefaultFileBatchSize = 100

const maxLineSize = 4 << 20

// fileItem is one line of a dump: either an envelope with a message or a
// user, or a bare message.
type fileItem struct {
	Message *models.Message `json:"message"`
	User    *models.User    `json:"user"`
}

// FileSource reads a JSONL timeline dump. Files ending in .zst or .gz are
// decompressed. The cursor is the number of lines already consumed.
// Lines that do not decode are logged and skipped.
type FileSource struct {
	path      string
	batchSize int

	closers []io.Closer
	scanner *bufio.Scanner
	line    int
	skipped int
}

func NewFileSource(path string, batchSize int) *FileSource {
	if batchSize <= 0 {
		batchSize = DefaultFileBatchSize
	}
	return &FileSource{path: path, batchSize: batchSize}
}

// Skipped returns the number of lines that could not be decoded.
func (s *FileSource) Skipped() int {
	return s.skipped
}

func (s *FileSource) Fetch(ctx context.Context, account models.Account, timeline models.TimelineType, cursor string) (Batch, error) {
	pos := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Batch{}, fmt.Errorf("invalid file cursor %q", cursor)
		}
		pos = n
	}
	if s.scanner == nil || pos != s.line {
		if err := s.open(); err != nil {
			return Batch{}, err
		}
		for s.line < pos && s.scanner.Scan() {
			s.line++
		}
	}

	var batch Batch
	read := 0
	for read < s.batchSize {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		if !s.scanner.Scan() {
			break
		}
		s.line++
		read++
		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := s.decode(raw, account, &batch); err != nil {
			s.skipped++
			log.Warn().Err(err).Str("path", s.path).Int("line", s.line).Msg("Skipping malformed line")
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Batch{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	batch.Cursor = strconv.Itoa(s.line)
	batch.More = read == s.batchSize
	return batch, nil
}

func (s *FileSource) decode(raw []byte, account models.Account, batch *Batch) error {
	var item fileItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return err
	}
	switch {
	case item.Message != nil:
		batch.Messages = append(batch.Messages, normalizeMessage(item.Message, account.OriginID))
	case item.User != nil:
		if item.User.OriginID == 0 {
			item.User.OriginID = account.OriginID
		}
		batch.Users = append(batch.Users, item.User)
	default:
		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		batch.Messages = append(batch.Messages, normalizeMessage(&msg, account.OriginID))
	}
	return nil
}

// normalizeMessage fills what a dump may leave out: fetched messages are
// loaded and belong to the account's origin.
func normalizeMessage(m *models.Message, originID int64) *models.Message {
	for cur := m; cur != nil; cur = cur.InReplyTo {
		if cur.OriginID == 0 {
			cur.OriginID = originID
		}
		if cur.Status == models.StatusUnknown && cur.Body != "" {
			cur.Status = models.StatusLoaded
		}
		if cur.Reblogged != nil {
			normalizeMessage(cur.Reblogged, originID)
		}
	}
	return m
}

func (s *FileSource) open() error {
	if err := s.Close(); err != nil {
		return err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	s.closers = append(s.closers, f)

	var r io.Reader = f
	switch {
	case strings.HasSuffix(s.path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			s.Close()
			return fmt.Errorf("open zstd dump: %w", err)
		}
		s.closers = append(s.closers, closerFunc(func() error { dec.Close(); return nil }))
		r = dec
	case strings.HasSuffix(s.path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			s.Close()
			return fmt.Errorf("open gzip dump: %w", err)
		}
		s.closers = append(s.closers, gz)
		r = gz
	}

	s.scanner = bufio.NewScanner(r)
	s.scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	s.line = 0
	return nil
}

// Close releases the open file.
func (s *FileSource) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	s.scanner = nil
	return first
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
