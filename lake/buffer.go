// Package lake buffers extracted rows and flushes them as immutable Parquet
// files, one per (table, year, month) partition.
package lake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"filingbot/config"
	"filingbot/metrics"
	"filingbot/storage"
	"filingbot/types"

	"github.com/google/uuid"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("buffer closed")

// State is the buffer's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Pending is the outcome of one message waiting to become durable: its rows,
// its status record and the callback that settles the message.
//
// Entries without rows or record (skips, failures) carry no data but still
// wait for the entries ahead of them, so messages settle in arrival order.
type Pending struct {
	Rows   []types.Row
	Record *types.FilingRecord
	// Err settles the entry with this error instead of the flush outcome.
	Err error
	// Done is called once the flush carrying this entry finished, with Err,
	// the flush error or nil.
	Done func(error)
}

func (p Pending) empty() bool { return len(p.Rows) == 0 && p.Record == nil }

// Options configures a Buffer.
type Options struct {
	// MaxRows flushes once this many rows and records are buffered.
	MaxRows int
	// FlushInterval flushes this long after the first entry of a batch.
	FlushInterval time.Duration
	// Root is the key prefix of all tables (normally "data").
	Root string
	// FlushTimeout bounds a timer-driven flush.
	FlushTimeout time.Duration
}

// Stats is a snapshot of the buffer.
type Stats struct {
	State       string    `json:"state"`
	Pending     int       `json:"pending_messages"`
	Rows        int       `json:"buffered_rows"`
	Flushes     int       `json:"flushes"`
	FailedFlush int       `json:"failed_flushes"`
	LastFlush   time.Time `json:"last_flush,omitempty"`
}

// Buffer accumulates pending entries and writes them out on size, on timer
// or on Close, whichever comes first. Flushes are serialized and settle their
// entries in arrival order.
type Buffer struct {
	store storage.ObjectStore
	opts  Options
	newID func() string

	flushMu sync.Mutex // serializes flushes

	mu      sync.Mutex
	state   State
	pending []Pending
	size    int
	timer   *time.Timer
	timerID int
	closed  bool
	stats   Stats
}

// NewBuffer returns an idle buffer writing to store.
func NewBuffer(store storage.ObjectStore, opts Options) *Buffer {
	if opts.MaxRows <= 0 {
		opts.MaxRows = config.BufferMaxRows
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = config.BufferFlushInterval
	}
	if opts.Root == "" {
		opts.Root = config.DataPrefix
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = time.Minute
	}
	return &Buffer{
		store: store,
		opts:  opts,
		newID: func() string { return uuid.NewString() },
	}
}

// Add buffers one message's outcome. Every row must carry a partition date;
// otherwise nothing is buffered and an error is returned. Reaching MaxRows
// flushes synchronously before Add returns. An entry without data is settled
// at once when nothing is ahead of it.
func (b *Buffer) Add(ctx context.Context, p Pending) error {
	for _, r := range p.Rows {
		if _, err := KeyOf(r); err != nil {
			return err
		}
	}
	if p.Record != nil {
		if _, err := KeyOf(*p.Record); err != nil {
			return err
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if p.empty() && len(b.pending) == 0 && b.state != StateFlushing {
		b.mu.Unlock()
		if p.Done != nil {
			p.Done(p.Err)
		}
		return nil
	}
	b.pending = append(b.pending, p)
	if !p.empty() {
		b.size += len(p.Rows) + 1
	}
	if b.state == StateIdle {
		b.state = StateAccumulating
	}
	b.armTimerLocked()
	full := b.size >= b.opts.MaxRows
	b.mu.Unlock()

	if full {
		// The flush outcome reaches every entry through its Done callback.
		_ = b.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered so far. It returns the write error, which
// is also delivered to every flushed entry.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.pending = nil
	b.size = 0
	b.stopTimerLocked()
	b.state = StateFlushing
	b.mu.Unlock()

	start := time.Now()
	err := b.write(ctx, batch)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	b.mu.Lock()
	b.stats.Flushes++
	if err != nil {
		b.stats.FailedFlush++
	} else {
		b.stats.LastFlush = time.Now().UTC()
	}
	if len(b.pending) > 0 {
		b.state = StateAccumulating
		b.armTimerLocked()
	} else {
		b.state = StateIdle
	}
	b.mu.Unlock()

	if err != nil {
		log.Printf("lake: flush of %d messages failed: %v", len(batch), err)
	}
	for _, p := range batch {
		if p.Done == nil {
			continue
		}
		if p.Err != nil {
			p.Done(p.Err)
		} else {
			p.Done(err)
		}
	}
	return err
}

// Close stops the timer and flushes what is left. Later Adds fail.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.stopTimerLocked()
	b.mu.Unlock()
	return b.Flush(ctx)
}

// State returns the current lifecycle state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot for status reporting.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.state.String()
	s.Pending = len(b.pending)
	s.Rows = b.size
	return s
}

func (b *Buffer) armTimerLocked() {
	if b.timer != nil || b.closed {
		return
	}
	b.timerID++
	id := b.timerID
	b.timer = time.AfterFunc(b.opts.FlushInterval, func() { b.onTimer(id) })
}

func (b *Buffer) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Buffer) onTimer(id int) {
	b.mu.Lock()
	if b.timerID == id {
		b.timer = nil
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.FlushTimeout)
	defer cancel()
	_ = b.Flush(ctx)
}

// write lands the data rows first, one file per partition, and the status
// records last, so no filing is recorded PARSED before its rows exist.
func (b *Buffer) write(ctx context.Context, batch []Pending) error {
	var rows, records []types.Row
	for _, p := range batch {
		rows = append(rows, p.Rows...)
		if p.Record != nil {
			records = append(records, *p.Record)
		}
	}

	if err := b.writeGroups(ctx, rows); err != nil {
		return err
	}
	if err := b.writeGroups(ctx, records); err != nil {
		return fmt.Errorf("rows written but status records failed: %w", err)
	}
	log.Printf("lake: flushed %d messages (%d rows)", len(batch), len(rows))
	return nil
}

func (b *Buffer) writeGroups(ctx context.Context, rows []types.Row) error {
	groups := make(map[PartitionKey][]types.Row)
	for _, r := range rows {
		k, err := KeyOf(r)
		if err != nil {
			return err
		}
		groups[k] = append(groups[k], r)
	}

	keys := make([]PartitionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	for _, k := range keys {
		group := groups[k]
		body, err := encode(group)
		if err != nil {
			return fmt.Errorf("partition %s: %w", k, err)
		}
		objectKey := k.ObjectKey(b.opts.Root, b.newID())
		if err := b.store.PutNew(ctx, objectKey, body, config.ParquetContentType); err != nil {
			return fmt.Errorf("partition %s: %w", k, err)
		}
		metrics.FilesWritten.WithLabelValues(k.Table).Inc()
		metrics.RowsWritten.WithLabelValues(k.Table).Add(float64(len(group)))
	}
	return nil
}
