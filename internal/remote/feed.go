package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	ws "github.com/coder/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/bywater/internal/resolve"
)

// Action is the kind of change a live event carries.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one remote-originated change. For deletes only ID is set.
type Event struct {
	Table  string
	Action Action
	ID     string
	Doc    resolve.Document
}

const (
	feedBuffer       = 64
	feedPingInterval = 30 * time.Second
)

// Feed subscribes to the backend's live change channel and delivers events
// on a bounded channel consumed by a single reconciliation loop. When the
// consumer falls behind, the socket read stalls; backpressure is the
// transport's buffer, not silent dropping.
type Feed struct {
	cfg    Config
	tables []string
	events chan Event
	logger *slog.Logger
}

// NewFeed prepares a live subscription for the given tables. Run must be
// called for events to flow.
func NewFeed(cfg Config, tables []string, logger *slog.Logger) *Feed {
	return &Feed{
		cfg:    cfg,
		tables: tables,
		events: make(chan Event, feedBuffer),
		logger: logger,
	}
}

// Events is the stream of translated remote changes. Closed when Run
// returns.
func (f *Feed) Events() <-chan Event { return f.events }

// Run connects, subscribes, and pumps events until ctx is cancelled,
// reconnecting with exponential backoff after connection loss. Losing the
// connection mid-flight is a normal retryable condition; missed events are
// recovered by the next pull cycle.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.events)

	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.session(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("feed disconnected", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (f *Feed) wsURL() (string, error) {
	u, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/ws"
	q := u.Query()
	q.Set("apikey", f.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wireEvent struct {
	Table  string           `json:"table"`
	Action string           `json:"action"`
	Record resolve.Document `json:"record,omitempty"`
	Old    resolve.Document `json:"old,omitempty"`
}

// session runs one connection: subscribe, then read until error.
func (f *Feed) session(ctx context.Context) error {
	target, err := f.wsURL()
	if err != nil {
		return err
	}
	conn, _, err := ws.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("%w: dial feed: %v", ErrUnreachable, err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	sub, err := json.Marshal(map[string]any{"action": "subscribe", "tables": f.tables})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, ws.MessageText, sub); err != nil {
		return fmt.Errorf("%w: subscribe: %v", ErrUnreachable, err)
	}
	f.logger.Info("feed connected", "tables", len(f.tables))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: read feed: %v", ErrUnreachable, err)
		}
		ev, ok := f.translate(data)
		if !ok {
			continue
		}
		select {
		case f.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop keeps the connection fresh, mirroring the server's idle
// timeout expectations.
func (f *Feed) pingLoop(ctx context.Context, conn *ws.Conn) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// translate parses one frame. Malformed payloads are dropped with a logged
// error, never fatal to the feed.
func (f *Feed) translate(data []byte) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		f.logger.Error("malformed feed payload", "error", err)
		return Event{}, false
	}

	switch Action(strings.ToLower(w.Action)) {
	case ActionInsert, ActionUpdate:
		doc := FromWire(w.Record)
		if doc.ID() == "" {
			f.logger.Error("feed record without id", "table", w.Table)
			return Event{}, false
		}
		return Event{Table: w.Table, Action: Action(strings.ToLower(w.Action)), ID: doc.ID(), Doc: doc}, true
	case ActionDelete:
		id := w.Old.ID()
		if id == "" {
			id = w.Record.ID()
		}
		if id == "" {
			f.logger.Error("feed delete without id", "table", w.Table)
			return Event{}, false
		}
		return Event{Table: w.Table, Action: ActionDelete, ID: id}, true
	default:
		// Heartbeats and subscription acks land here.
		return Event{}, false
	}
}
