// Package dispatch turns discovered candidates into parse jobs: it drops keys
// the lake already knows, claims the rest, publishes them in batches and
// records them as DISCOVERED.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"filingbot/config"
	"filingbot/lake"
	"filingbot/metrics"
	"filingbot/shared/kafka"
	"filingbot/types"

	"github.com/google/uuid"
)

// ErrKillSwitch is returned when ingestion is disabled.
var ErrKillSwitch = errors.New("ingestion disabled by kill switch")

// ExistenceChecker reports which keys the lake already holds.
type ExistenceChecker interface {
	CheckExisting(ctx context.Context, keys []string) (map[string]struct{}, error)
}

// Publisher sends messages and reports one result per message.
type Publisher interface {
	PublishBatch(ctx context.Context, msgs []kafka.Message) []error
}

// Claimer takes exclusive, expiring claims on keys.
type Claimer interface {
	Claim(ctx context.Context, owner string, keys []string) ([]string, error)
	Release(ctx context.Context, owner string, keys []string) error
}

// RecordSink stores filing status records.
type RecordSink interface {
	Add(ctx context.Context, p lake.Pending) error
	Flush(ctx context.Context) error
}

// Switch reports whether ingestion may run.
type Switch interface {
	Enabled() bool
}

// Options configures a Dispatcher. Claims, Records and KillSwitch are
// optional.
type Options struct {
	Topic      string
	BatchSize  int
	Claims     Claimer
	Records    RecordSink
	KillSwitch Switch
}

// Summary accounts for every candidate of one dispatch.
type Summary struct {
	RunID            string   `json:"run_id"`
	Discovered       int      `json:"discovered"`
	Deduplicated     int      `json:"deduplicated"`
	ClaimedElsewhere int      `json:"claimed_elsewhere"`
	Enqueued         int      `json:"enqueued"`
	Errors           int      `json:"errors"`
	Killed           bool     `json:"killed"`
	FailedKeys       []string `json:"failed_keys,omitempty"`
}

// Dispatcher publishes parse jobs for unseen filings.
type Dispatcher struct {
	checker   ExistenceChecker
	publisher Publisher
	opts      Options
	newRunID  func() string
}

// New creates a dispatcher.
func New(checker ExistenceChecker, publisher Publisher, opts Options) *Dispatcher {
	if opts.Topic == "" {
		opts.Topic = config.ParseJobsTopic
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.PublishBatchSize
	}
	return &Dispatcher{
		checker:   checker,
		publisher: publisher,
		opts:      opts,
		newRunID:  func() string { return uuid.NewString() },
	}
}

type job struct {
	candidate types.FilingCandidate
	message   types.ParseJobMessage
}

// Dispatch enqueues every candidate whose key is not yet in the lake. The
// kill switch and a failed existence check abort the run before anything is
// published; publish failures are counted per message and do not stop the
// rest.
func (d *Dispatcher) Dispatch(ctx context.Context, candidates []types.FilingCandidate) (Summary, error) {
	summary := Summary{RunID: d.newRunID(), Discovered: len(candidates)}

	if d.opts.KillSwitch != nil && !d.opts.KillSwitch.Enabled() {
		summary.Killed = true
		log.Printf("dispatch: run %s skipped, kill switch is off", summary.RunID)
		return summary, ErrKillSwitch
	}
	if len(candidates) == 0 {
		return summary, nil
	}

	unique := make([]types.FilingCandidate, 0, len(candidates))
	keys := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.AccessionNumber]; dup {
			summary.Deduplicated++
			metrics.Candidates.WithLabelValues(c.Source, "deduplicated").Inc()
			continue
		}
		seen[c.AccessionNumber] = struct{}{}
		unique = append(unique, c)
		keys = append(keys, c.AccessionNumber)
	}

	existing, err := d.checker.CheckExisting(ctx, keys)
	if err != nil {
		return summary, fmt.Errorf("existence check: %w", err)
	}

	var unseen []types.FilingCandidate
	for _, c := range unique {
		if _, ok := existing[c.AccessionNumber]; ok {
			summary.Deduplicated++
			metrics.Candidates.WithLabelValues(c.Source, "deduplicated").Inc()
			continue
		}
		unseen = append(unseen, c)
	}

	unseen, err = d.claim(ctx, summary.RunID, unseen, &summary)
	if err != nil {
		return summary, err
	}

	jobs := make([]job, 0, len(unseen))
	for _, c := range unseen {
		jobs = append(jobs, job{candidate: c, message: c.Message()})
	}

	var enqueued, failed []job
	for start := 0; start < len(jobs); start += d.opts.BatchSize {
		end := min(start+d.opts.BatchSize, len(jobs))
		ok, bad := d.publish(ctx, jobs[start:end])
		enqueued = append(enqueued, ok...)
		failed = append(failed, bad...)
	}

	summary.Enqueued = len(enqueued)
	summary.Errors = len(failed)
	for _, j := range failed {
		summary.FailedKeys = append(summary.FailedKeys, j.message.IdempotencyKey)
	}
	d.release(ctx, summary.RunID, failed)
	d.record(ctx, enqueued)

	log.Printf("dispatch: run %s discovered %d, deduplicated %d, claimed elsewhere %d, enqueued %d, errors %d",
		summary.RunID, summary.Discovered, summary.Deduplicated, summary.ClaimedElsewhere, summary.Enqueued, summary.Errors)
	return summary, nil
}

// claim keeps the candidates this run could claim. Without a claim store
// every candidate is kept.
func (d *Dispatcher) claim(ctx context.Context, runID string, cands []types.FilingCandidate, summary *Summary) ([]types.FilingCandidate, error) {
	if d.opts.Claims == nil || len(cands) == 0 {
		return cands, nil
	}
	keys := make([]string, len(cands))
	for i, c := range cands {
		keys[i] = c.AccessionNumber
	}
	claimed, err := d.opts.Claims.Claim(ctx, runID, keys)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	held := make(map[string]struct{}, len(claimed))
	for _, k := range claimed {
		held[k] = struct{}{}
	}

	kept := cands[:0:0]
	for _, c := range cands {
		if _, ok := held[c.AccessionNumber]; !ok {
			summary.ClaimedElsewhere++
			metrics.Candidates.WithLabelValues(c.Source, "claimed").Inc()
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}

// publish sends one batch and splits it by outcome.
func (d *Dispatcher) publish(ctx context.Context, batch []job) (enqueued, failed []job) {
	msgs := make([]kafka.Message, 0, len(batch))
	sendable := make([]job, 0, len(batch))
	for _, j := range batch {
		body, err := json.Marshal(j.message)
		if err != nil {
			log.Printf("dispatch: %s could not be encoded: %v", j.message.IdempotencyKey, err)
			failed = append(failed, j)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Topic: d.opts.Topic,
			Key:   j.message.IdempotencyKey,
			Value: body,
		})
		sendable = append(sendable, j)
	}

	results := d.publisher.PublishBatch(ctx, msgs)
	for i, j := range sendable {
		var err error
		if i < len(results) {
			err = results[i]
		} else {
			err = errors.New("no publish result")
		}
		if err != nil {
			log.Printf("dispatch: publish %s failed: %v", j.message.IdempotencyKey, err)
			metrics.Candidates.WithLabelValues(j.candidate.Source, "error").Inc()
			failed = append(failed, j)
			continue
		}
		metrics.Candidates.WithLabelValues(j.candidate.Source, "enqueued").Inc()
		enqueued = append(enqueued, j)
	}
	return enqueued, failed
}

// release frees the claims of jobs that were not published so the next run
// can pick them up.
func (d *Dispatcher) release(ctx context.Context, runID string, failed []job) {
	if d.opts.Claims == nil || len(failed) == 0 {
		return
	}
	keys := make([]string, len(failed))
	for i, j := range failed {
		keys[i] = j.message.IdempotencyKey
	}
	if err := d.opts.Claims.Release(ctx, runID, keys); err != nil {
		log.Printf("dispatch: releasing %d claims failed, they expire on their own: %v", len(keys), err)
	}
}

// record writes DISCOVERED status records for the enqueued jobs. A failure
// is logged only: the parser's own PARSED check keeps a republished key from
// being ingested twice.
func (d *Dispatcher) record(ctx context.Context, enqueued []job) {
	if d.opts.Records == nil || len(enqueued) == 0 {
		return
	}
	for _, j := range enqueued {
		rec := types.NewRecord(j.message, types.StatusDiscovered, 0, "")
		if err := d.opts.Records.Add(ctx, lake.Pending{Record: &rec}); err != nil {
			log.Printf("dispatch: DISCOVERED record for %s rejected: %v", j.message.IdempotencyKey, err)
		}
	}
	if err := d.opts.Records.Flush(ctx); err != nil {
		log.Printf("dispatch: writing %d DISCOVERED records failed: %v", len(enqueued), err)
	}
}
