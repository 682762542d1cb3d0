package parser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"filingbot/config"
	"filingbot/lake"
	"filingbot/metrics"
	"filingbot/registry"
	"filingbot/types"

	"github.com/go-playground/validator/v10"
)

// Fetcher retrieves filing documents.
type Fetcher interface {
	FetchDocument(ctx context.Context, path string) ([]byte, error)
}

// ParsedChecker reports which keys already reached PARSED.
type ParsedChecker interface {
	CheckParsed(ctx context.Context, keys []string) (map[string]struct{}, error)
}

// Sink receives message outcomes and settles them once durable.
type Sink interface {
	Add(ctx context.Context, p lake.Pending) error
	Flush(ctx context.Context) error
}

// Outcome of one message, as reported to metrics and logs.
const (
	OutcomeParsed  = "parsed"
	OutcomeNoop    = "noop"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
	OutcomeFailed  = "failed"
)

// Worker processes parse jobs one at a time.
type Worker struct {
	mu       sync.Mutex
	fetcher  Fetcher
	checker  ParsedChecker
	sink     Sink
	validate *validator.Validate
	minBytes int
}

// NewWorker creates a worker. minBytes rejects implausibly short documents;
// zero uses the default.
func NewWorker(fetcher Fetcher, checker ParsedChecker, sink Sink, minBytes int) *Worker {
	if minBytes <= 0 {
		minBytes = config.MinDocumentBytes
	}
	return &Worker{
		fetcher:  fetcher,
		checker:  checker,
		sink:     sink,
		validate: validator.New(),
		minBytes: minBytes,
	}
}

// Validate checks a message for required fields.
func (w *Worker) Validate(msg *types.ParseJobMessage) error {
	if err := w.validate.Struct(msg); err != nil {
		return err
	}
	if !types.ValidAccession(msg.IdempotencyKey) {
		return fmt.Errorf("idempotency key %q is not an accession number", msg.IdempotencyKey)
	}
	return nil
}

// Handle runs one message through the pipeline. done is called exactly once:
// with nil when the outcome is durable (or nothing needed doing), or with the
// error that should cause redelivery.
func (w *Worker) Handle(ctx context.Context, msg *types.ParseJobMessage, done func(error)) {
	w.handle(ctx, msg, done, nil)
}

// Reject settles a message that never reached processing, such as an
// undecodable or invalid body. The failure queues behind every outcome
// already buffered so its offset cannot be committed ahead of them.
func (w *Worker) Reject(ctx context.Context, err error, done func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	metrics.Messages.WithLabelValues(OutcomeFailed).Inc()
	w.enqueue(ctx, "rejected message", lake.Pending{Err: err, Done: done})
}

// parsedSet is the answer of one CheckParsed call.
type parsedSet struct {
	keys map[string]struct{}
	err  error
}

func (w *Worker) lookupParsed(ctx context.Context, keys []string) parsedSet {
	parsed, err := w.checker.CheckParsed(ctx, keys)
	return parsedSet{keys: parsed, err: err}
}

func (w *Worker) handle(ctx context.Context, msg *types.ParseJobMessage, done func(error), known *parsedSet) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if known == nil {
		s := w.lookupParsed(ctx, []string{msg.IdempotencyKey})
		known = &s
	}
	pending, outcome := w.process(ctx, msg, *known)
	pending.Done = done
	metrics.Messages.WithLabelValues(outcome).Inc()

	w.enqueue(ctx, msg.IdempotencyKey, pending)
}

// enqueue hands p to the sink. An outcome the sink refuses is replaced by a
// bare failure in the same queue position. When the sink is closed the
// message stays unsettled and is redelivered after restart.
func (w *Worker) enqueue(ctx context.Context, key string, p lake.Pending) {
	err := w.sink.Add(ctx, p)
	if err == nil {
		return
	}
	if !errors.Is(err, lake.ErrClosed) && (len(p.Rows) > 0 || p.Record != nil) {
		log.Printf("parser: %s could not be buffered: %v", key, err)
		metrics.Messages.WithLabelValues(OutcomeFailed).Inc()
		err = w.sink.Add(ctx, lake.Pending{Err: err, Done: p.Done})
		if err == nil {
			return
		}
	}
	log.Printf("parser: %s left unsettled for redelivery: %v", key, err)
}

// ProcessBatch handles msgs in order, flushes, and returns one result per
// message: nil for success or a terminal ERROR, an error for messages that
// should be retried. The PARSED check runs once for the whole batch.
func (w *Worker) ProcessBatch(ctx context.Context, msgs []types.ParseJobMessage) []error {
	var mu sync.Mutex
	results := make([]error, len(msgs))
	settled := make([]bool, len(msgs))
	settle := func(i int, err error) {
		mu.Lock()
		results[i], settled[i] = err, true
		mu.Unlock()
	}

	var keys []string
	valid := make([]bool, len(msgs))
	for i := range msgs {
		if err := w.Validate(&msgs[i]); err != nil {
			settle(i, err)
			continue
		}
		valid[i] = true
		keys = append(keys, msgs[i].IdempotencyKey)
	}

	if len(keys) > 0 {
		known := w.lookupParsed(ctx, keys)
		for i := range msgs {
			if !valid[i] {
				continue
			}
			i := i
			w.handle(ctx, &msgs[i], func(err error) { settle(i, err) }, &known)
		}
	}
	if err := w.sink.Flush(ctx); err != nil {
		log.Printf("parser: batch flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range msgs {
		if !settled[i] {
			results[i] = errors.New("message was not settled")
		}
	}
	return results
}

// process decides the message's outcome without settling it.
func (w *Worker) process(ctx context.Context, msg *types.ParseJobMessage, known parsedSet) (lake.Pending, string) {
	key := msg.IdempotencyKey

	if known.err != nil {
		log.Printf("parser: %s idempotency check failed: %v", key, known.err)
		return lake.Pending{Err: fmt.Errorf("idempotency check: %w", known.err)}, OutcomeFailed
	}
	if _, ok := known.keys[key]; ok {
		log.Printf("parser: %s already PARSED, skipping", key)
		return lake.Pending{}, OutcomeSkipped
	}

	extraction, path, err := w.fetchAndExtract(ctx, msg)
	switch {
	case err == nil:
	case isTerminal(err):
		log.Printf("parser: %s marked ERROR: %v", key, err)
		rec := types.NewRecord(*msg, types.StatusError, 0, err.Error())
		return lake.Pending{Record: &rec}, OutcomeError
	default:
		log.Printf("parser: %s failed, will be retried: %v", key, err)
		return lake.Pending{Err: err}, OutcomeFailed
	}

	rows := extraction.Rows
	rec := types.NewRecord(*msg, types.StatusParsed, len(rows), path)
	if extraction.Dropped > 0 {
		rec.Detail = fmt.Sprintf("%s; dropped %d invalid entries", path, extraction.Dropped)
	}
	if len(rows) == 0 {
		log.Printf("parser: %s has no rows of interest", key)
		return lake.Pending{Record: &rec}, OutcomeNoop
	}
	log.Printf("parser: %s extracted %d rows from %s", key, len(rows), path)
	return lake.Pending{Rows: rows, Record: &rec}, OutcomeParsed
}

// fetchAndExtract tries the candidate paths in order and returns the first
// extraction that succeeds, with the path it came from. Not-found, short and
// content-less documents move on to the next path; a transient registry error
// stops at once.
func (w *Worker) fetchAndExtract(ctx context.Context, msg *types.ParseJobMessage) (Extraction, string, error) {
	var misses []string
	for _, path := range msg.CandidateDocumentPaths {
		body, err := w.fetcher.FetchDocument(ctx, path)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			misses = append(misses, path+": not found")
			continue
		case err != nil:
			return Extraction{}, "", err
		case len(body) < w.minBytes:
			misses = append(misses, fmt.Sprintf("%s: %d bytes", path, len(body)))
			continue
		}

		extraction, err := Extract(*msg, body)
		switch {
		case errors.Is(err, ErrNoContent):
			misses = append(misses, path+": no content")
			continue
		case err != nil:
			return Extraction{}, "", &terminalError{fmt.Errorf("parse %s: %w", path, err)}
		}
		return extraction, path, nil
	}
	return Extraction{}, "", &terminalError{fmt.Errorf("no usable document (%s)", strings.Join(misses, "; "))}
}

// terminalError marks failures that redelivery cannot fix.
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func isTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}
