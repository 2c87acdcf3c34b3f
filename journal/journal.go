// CLAUDE:SUMMARY SQLite journal of viewport lifecycle events: non-blocking handler with batched async flush, synchronous Record, filtered Recent queries and retention Cleanup.
// CLAUDE:DEPENDS dbopen, idgen, viewport
// Package journal persists viewport events to SQLite.
//
// The viewport calls its Handler on the foreground goroutine, so Handler
// only enqueues; a background loop writes batches in one transaction. A full
// buffer drops the event and counts it rather than blocking the viewer.
// Storage failures are logged, never returned to the viewer.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/docview/dbopen"
	"github.com/hazyhaar/docview/idgen"
	"github.com/hazyhaar/docview/viewport"
)

// Entry is one journaled event.
type Entry struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Type       string    `json:"type"`
	Generation uint64    `json:"generation"`
	Document   string    `json:"document,omitempty"`
	Page       int       `json:"page,omitempty"`
	Total      int       `json:"total,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Filter narrows Recent.
type Filter struct {
	Type     string
	Document string
	Limit    int // default 100
}

// Config tunes a Journal.
type Config struct {
	// Buffer is the queue length between Handler and the writer. Default: 256.
	Buffer int `yaml:"buffer"`
	// FlushInterval bounds how long a queued event waits. Default: 2s.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// BatchSize flushes early once this many events are queued. Default: 64.
	BatchSize int `yaml:"batch_size"`

	IDs    idgen.Generator `yaml:"-"`
	Logger *slog.Logger    `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("evt_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Journal writes viewport events. Close flushes what is queued.
type Journal struct {
	db  *sql.DB
	cfg Config
	log *slog.Logger

	ch      chan Entry
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// New starts a Journal on db. The schema must already be applied.
func New(db *sql.DB, cfg Config) *Journal {
	cfg.defaults()
	j := &Journal{
		db:   db,
		cfg:  cfg,
		log:  cfg.Logger,
		ch:   make(chan Entry, cfg.Buffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go j.flushLoop()
	return j
}

// FromEvent converts a viewport event.
func FromEvent(e viewport.Event) Entry {
	en := Entry{
		Type:       string(e.Type),
		Generation: e.Generation,
		Document:   e.Document,
		Page:       e.Page,
		Total:      e.Total,
	}
	var detail any
	switch e.Type {
	case viewport.EventClick:
		detail = map[string]any{"x": e.Point.X, "y": e.Point.Y, "mode": e.Mode}
	case viewport.EventZoomChanged, viewport.EventLoadStarted:
		detail = map[string]any{"level": e.Zoom.Level, "zoom_mode": e.Zoom.Mode.String()}
	}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			en.Detail = string(b)
		}
	}
	if e.Err != nil {
		en.Error = e.Err.Error()
	}
	return en
}

// Handler returns a viewport.Handler that queues every event.
func (j *Journal) Handler() viewport.Handler {
	return func(e viewport.Event) { j.Enqueue(FromEvent(e)) }
}

// Enqueue queues en without blocking. It reports false if en was dropped.
func (j *Journal) Enqueue(en Entry) bool {
	j.fill(&en)
	select {
	case <-j.stop:
		j.dropped.Add(1)
		return false
	default:
	}
	select {
	case j.ch <- en:
		return true
	default:
		n := j.dropped.Add(1)
		j.log.Warn("journal: buffer full, event dropped", "type", en.Type, "dropped", n)
		return false
	}
}

// Dropped is the number of events lost to a full buffer or a closed journal.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Record writes en synchronously.
func (j *Journal) Record(ctx context.Context, en Entry) error {
	j.fill(&en)
	_, err := dbopen.Exec(ctx, j.db, insertSQL, args(en)...)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT event_id, at_ms, event_type, generation, document, page, total, detail, error_message
		FROM viewer_events WHERE 1=1`
	var qargs []any
	if f.Type != "" {
		q += " AND event_type = ?"
		qargs = append(qargs, f.Type)
	}
	if f.Document != "" {
		q += " AND document = ?"
		qargs = append(qargs, f.Document)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY at_ms DESC, rowid DESC LIMIT ?"
	qargs = append(qargs, limit)

	rows, err := j.db.QueryContext(ctx, q, qargs...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			en Entry
			ms int64
		)
		if err := rows.Scan(&en.ID, &ms, &en.Type, &en.Generation, &en.Document,
			&en.Page, &en.Total, &en.Detail, &en.Error); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		en.At = time.UnixMilli(ms)
		if en.Detail == "{}" {
			en.Detail = ""
		}
		out = append(out, en)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retentionDays. Zero keeps everything.
func (j *Journal) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := dbopen.Exec(ctx, j.db, "DELETE FROM viewer_events WHERE at_ms < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops accepting events and flushes the queue.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.stop) })
	<-j.done
	return nil
}

const insertSQL = `INSERT INTO viewer_events
	(event_id, at_ms, event_type, generation, document, page, total, detail, error_message)
	VALUES (?,?,?,?,?,?,?,?,?)`

func args(en Entry) []any {
	detail := en.Detail
	if detail == "" {
		detail = "{}"
	}
	return []any{en.ID, en.At.UnixMilli(), en.Type, en.Generation, en.Document,
		en.Page, en.Total, detail, en.Error}
}

func (j *Journal) fill(en *Entry) {
	if en.ID == "" {
		en.ID = j.cfg.IDs()
	}
	if en.At.IsZero() {
		en.At = time.Now()
	}
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()
	batch := make([]Entry, 0, j.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.writeBatch(ctx, batch); err != nil {
			j.log.Error("journal: flush failed", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-j.stop:
			for {
				select {
				case en := <-j.ch:
					batch = append(batch, en)
				default:
					flush()
					return
				}
			}
		case en := <-j.ch:
			batch = append(batch, en)
			if len(batch) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (j *Journal) writeBatch(ctx context.Context, batch []Entry) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, en := range batch {
		if _, err := stmt.ExecContext(ctx, args(en)...); err != nil {
			j.log.Error("journal: insert", "id", en.ID, "error", err)
		}
	}
	return tx.Commit()
}
