package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"andstatus/internal/metrics"
	"andstatus/internal/models"
	"andstatus/internal/tracing"

	"github.com/google/go-querystring/query"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event kinds
const (
	KindMessage = "message"
	KindUser    = "user"
	KindDelete  = "delete"
)

// Event is one frame of the stream
type Event struct {
	Kind     string `json:"kind"`
	TimeUS   int64  `json:"time_us"`
	OriginID int64  `json:"origin_id,omitempty"`

	Message *models.Message `json:"message,omitempty"`
	User    *models.User    `json:"user,omitempty"`
	// Oid is the deleted message for delete events
	Oid string `json:"oid,omitempty"`
}

// Sink receives decoded events.
type Sink interface {
	HandleMessage(ctx context.Context, msg *models.Message) error
	HandleUser(ctx context.Context, user *models.User) error
	HandleDelete(ctx context.Context, originID int64, oid string) error
}

// CursorStore persists the resume cursor.
type CursorStore interface {
	Load(key string) (int64, error)
	Save(key string, cursor int64) error
}

// subscribeQuery is encoded into the subscription URL.
type subscribeQuery struct {
	Account   string   `url:"account,omitempty"`
	Timelines []string `url:"timeline,omitempty"`
	Compress  bool     `url:"compress,omitempty"`
	Cursor    int64    `url:"cursor,omitempty"`
}

// Consumer consumes stream events and hands them to a Sink
type Consumer struct {
	config  *Config
	sink    Sink
	cursors CursorStore
	logger  zerolog.Logger

	// Connection state
	conn               *websocket.Conn
	connMu             sync.Mutex
	currentEndpointIdx int

	// Zstd decoder for compressed messages
	zstdDecoder *zstd.Decoder

	// Cursor for resume
	cursor atomic.Int64

	// Stats
	eventsReceived atomic.Int64
	bytesReceived  atomic.Int64

	// Control
	connected atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewConsumer creates a consumer. cursors may be nil, in which case every
// run starts from the live end of the stream.
func NewConsumer(config *Config, sink Sink, cursors CursorStore) (*Consumer, error) {
	cfg := config.withDefaults()
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("stream: no endpoints configured")
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("stream: failed to create zstd decoder: %w", err)
	}

	c := &Consumer{
		config:      cfg,
		sink:        sink,
		cursors:     cursors,
		logger:      log.With().Str("component", "stream").Str("account", cfg.Account).Logger(),
		stopCh:      make(chan struct{}),
		zstdDecoder: decoder,
	}

	if cursors != nil {
		cursor, err := cursors.Load(cfg.CursorKey)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to load cursor")
		} else if cursor > 0 {
			c.cursor.Store(cursor)
			c.logger.Info().Int64("cursor", cursor).Msg("Loaded cursor")
		}
	}

	return c, nil
}

// Start begins consuming events in a background goroutine
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Run consumes events until ctx is done or Stop is called.
func (c *Consumer) Run(ctx context.Context) error {
	c.Start(ctx)
	c.wg.Wait()
	return nil
}

// Stop gracefully stops the consumer and persists the cursor
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
		c.wg.Wait()

		c.saveCursor()
		if c.zstdDecoder != nil {
			c.zstdDecoder.Close()
		}
	})
}

// IsConnected returns true if currently connected
func (c *Consumer) IsConnected() bool {
	return c.connected.Load()
}

// Cursor returns the time of the last event seen, in microseconds.
func (c *Consumer) Cursor() int64 {
	return c.cursor.Load()
}

// Stats returns consumer statistics
func (c *Consumer) Stats() (eventsReceived, bytesReceived int64) {
	return c.eventsReceived.Load(), c.bytesReceived.Load()
}

func (c *Consumer) run(ctx context.Context) {
	backoff := c.config.InitialBackoff
	maxBackoff := c.config.MaxBackoff

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Context cancelled, stopping consumer")
			c.saveCursor()
			return
		case <-c.stopCh:
			c.logger.Info().Msg("Stop requested, stopping consumer")
			return
		default:
		}

		endpoint := c.config.Endpoints[c.currentEndpointIdx]
		err := c.connectAndConsume(ctx, endpoint)

		if err != nil {
			c.connected.Store(false)
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Connection error")

			// Rotate to next endpoint
			c.currentEndpointIdx = (c.currentEndpointIdx + 1) % len(c.config.Endpoints)

			select {
			case <-ctx.Done():
				c.saveCursor()
				return
			case <-c.stopCh:
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = c.config.InitialBackoff
		}
	}
}

func (c *Consumer) connectAndConsume(ctx context.Context, endpoint string) error {
	wsURL, err := c.buildWebSocketURL(endpoint)
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	c.logger.Info().Str("url", wsURL).Msg("Connecting")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.connected.Store(true)
	metrics.StreamConnectionState.Set(1)
	c.logger.Info().Str("endpoint", endpoint).Msg("Connected")

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		close(done)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		c.connected.Store(false)
		metrics.StreamConnectionState.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read error: %w", err)
		}

		c.bytesReceived.Add(int64(len(message)))

		if err := c.processMessage(ctx, message); err != nil {
			metrics.StreamErrorsTotal.Inc()
			c.logger.Warn().Err(err).Msg("Failed to process message")
		}
	}
}

func (c *Consumer) buildWebSocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	sq := subscribeQuery{
		Account:  c.config.Account,
		Compress: c.config.Compress,
	}
	for _, tl := range c.config.Timelines {
		sq.Timelines = append(sq.Timelines, string(tl))
	}

	// Rewind the cursor slightly to handle any gaps
	if cursor := c.cursor.Load(); cursor > 0 {
		sq.Cursor = max(cursor-c.config.Rewind.Microseconds(), 1)
	}

	params, err := query.Values(sq)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Consumer) decompress(data []byte) ([]byte, error) {
	// Zstd compressed data starts with magic number 0x28 0xB5 0x2F 0xFD
	if c.config.Compress && len(data) >= 4 && data[0] == 0x28 && data[1] == 0xB5 && data[2] == 0x2F && data[3] == 0xFD {
		decompressed, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress message: %w", err)
		}
		return decompressed, nil
	}
	return data, nil
}

func (c *Consumer) processMessage(ctx context.Context, data []byte) error {
	data, err := c.decompress(data)
	if err != nil {
		return err
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		preview := data
		if len(preview) > 50 {
			preview = preview[:50]
		}
		return fmt.Errorf("failed to unmarshal event (first bytes: %q): %w", preview, err)
	}

	n := c.eventsReceived.Add(1)

	if event.TimeUS > 0 {
		c.cursor.Store(event.TimeUS)
		if n%c.config.CursorEvery == 0 {
			c.saveCursor()
		}
	}

	metrics.StreamEventsTotal.WithLabelValues(eventLabel(event.Kind)).Inc()
	c.logger.Debug().Str("kind", event.Kind).Int64("time_us", event.TimeUS).Msg("Processing event")

	ctx, span := tracing.StreamEventSpan(ctx, eventLabel(event.Kind), event.TimeUS)
	defer span.End()
	err = c.dispatch(ctx, &event)
	tracing.EndWithError(span, err)
	return err
}

func (c *Consumer) dispatch(ctx context.Context, event *Event) error {
	switch event.Kind {
	case KindMessage:
		if event.Message == nil {
			return nil
		}
		if event.Message.OriginID == 0 {
			event.Message.OriginID = event.OriginID
		}
		if err := c.sink.HandleMessage(ctx, event.Message); err != nil {
			return fmt.Errorf("failed to handle message: %w", err)
		}
	case KindUser:
		if event.User == nil {
			return nil
		}
		if event.User.OriginID == 0 {
			event.User.OriginID = event.OriginID
		}
		if err := c.sink.HandleUser(ctx, event.User); err != nil {
			return fmt.Errorf("failed to handle user: %w", err)
		}
	case KindDelete:
		if event.Oid == "" {
			return nil
		}
		if err := c.sink.HandleDelete(ctx, event.OriginID, event.Oid); err != nil {
			return fmt.Errorf("failed to handle delete: %w", err)
		}
	}
	return nil
}

func eventLabel(kind string) string {
	switch kind {
	case KindMessage, KindUser, KindDelete:
		return kind
	}
	return "other"
}

func (c *Consumer) saveCursor() {
	if c.cursors == nil {
		return
	}
	cursor := c.cursor.Load()
	if cursor <= 0 {
		return
	}
	if err := c.cursors.Save(c.config.CursorKey, cursor); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist cursor")
	}
}
