package parser

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"filingbot/lake"
	"filingbot/registry"
	"filingbot/storage"
	"filingbot/types"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchResult struct {
	body string
	err  error
}

// fakeFetcher serves canned responses per path and logs every request.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fetchResult
	calls     []string
}

func (f *fakeFetcher) FetchDocument(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	r, ok := f.responses[path]
	if !ok {
		return nil, registry.ErrNotFound
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

// lakeChecker answers CheckParsed from the filing records in the store.
type lakeChecker struct {
	store *storage.Memory
	err   error
	calls int
}

func (c *lakeChecker) CheckParsed(_ context.Context, keys []string) (map[string]struct{}, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	out := make(map[string]struct{})
	for _, key := range c.store.Keys("data/" + types.TableFilings + "/") {
		for _, rec := range readRecords(c.store, key) {
			if wanted[rec.AccessionNumber] && rec.Status == string(types.StatusParsed) {
				out[rec.AccessionNumber] = struct{}{}
			}
		}
	}
	return out, nil
}

func readRecords(store *storage.Memory, key string) []types.FilingRecord {
	body, _ := store.Get(key)
	recs, err := parquet.Read[types.FilingRecord](bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil
	}
	return recs
}

type doneLog struct {
	mu    sync.Mutex
	calls []error
}

func (d *doneLog) done(err error) {
	d.mu.Lock()
	d.calls = append(d.calls, err)
	d.mu.Unlock()
}

func (d *doneLog) results() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.calls...)
}

type workerEnv struct {
	fetcher *fakeFetcher
	checker *lakeChecker
	store   *storage.Memory
	buffer  *lake.Buffer
	worker  *Worker
}

func newWorkerEnv(maxRows int, responses map[string]fetchResult) *workerEnv {
	store := storage.NewMemory()
	env := &workerEnv{
		fetcher: &fakeFetcher{responses: responses},
		checker: &lakeChecker{store: store},
		store:   store,
		buffer:  lake.NewBuffer(store, lake.Options{MaxRows: maxRows, FlushInterval: time.Hour}),
	}
	env.worker = NewWorker(env.fetcher, env.checker, env.buffer, 64)
	return env
}

func form4Message() types.ParseJobMessage {
	return types.ParseJobMessage{
		IdempotencyKey:         "0001213900-26-001445",
		SubjectID:              "1234567",
		CandidateDocumentPaths: []string{"p1", "p2", "p3"},
		FormType:               "4",
		FilingDate:             "2026-03-02",
		SourceTag:              "company_index",
	}
}

func TestWorker_FallsBackThroughPathsAndPartitions(t *testing.T) {
	env := newWorkerEnv(50, map[string]fetchResult{
		"p3": {body: ownershipXML(defaultOwner, spreadTxns(50))},
	})
	msg := form4Message()
	var d doneLog

	env.worker.Handle(context.Background(), &msg, d.done)

	assert.Equal(t, []string{"p1", "p2", "p3"}, env.fetcher.calls)
	require.Equal(t, []error{nil}, d.results(), "51 buffered entries reach MaxRows and flush inside Handle")

	for _, month := range []string{"01", "02", "03"} {
		keys := env.store.Keys("data/insider_transactions/year=2026/month=" + month + "/")
		assert.Len(t, keys, 1, "month %s", month)
	}
	filings := env.store.Keys("data/filings/year=2026/month=03/")
	require.Len(t, filings, 1)
	recs := readRecords(env.store, filings[0])
	require.Len(t, recs, 1)
	assert.Equal(t, string(types.StatusParsed), recs[0].Status)
	assert.EqualValues(t, 50, recs[0].RowCount)
	assert.Equal(t, "p3", recs[0].Detail)
}

func TestWorker_RedeliveryAfterParsedIsSkipped(t *testing.T) {
	env := newWorkerEnv(50, map[string]fetchResult{
		"p3": {body: ownershipXML(defaultOwner, spreadTxns(50))},
	})
	msg := form4Message()
	var first, second doneLog

	env.worker.Handle(context.Background(), &msg, first.done)
	before := len(env.store.Keys("data/"))
	env.fetcher.calls = nil

	env.worker.Handle(context.Background(), &msg, second.done)

	assert.Equal(t, []error{nil}, second.results())
	assert.Empty(t, env.fetcher.calls)
	assert.Len(t, env.store.Keys("data/"), before)
}

func TestWorker_AllPathsMissingRecordsError(t *testing.T) {
	env := newWorkerEnv(1000, nil)
	msg := form4Message()
	var d doneLog

	env.worker.Handle(context.Background(), &msg, d.done)
	assert.Empty(t, d.results(), "settled only when the ERROR record is durable")
	require.NoError(t, env.buffer.Flush(context.Background()))

	assert.Equal(t, []error{nil}, d.results())
	filings := env.store.Keys("data/filings/")
	require.Len(t, filings, 1)
	recs := readRecords(env.store, filings[0])
	require.Len(t, recs, 1)
	assert.Equal(t, string(types.StatusError), recs[0].Status)
	assert.Contains(t, recs[0].Detail, "p1: not found")
	assert.Empty(t, env.store.Keys("data/insider_transactions/"))
}

func TestWorker_ShortBodyMovesToNextPath(t *testing.T) {
	env := newWorkerEnv(1000, map[string]fetchResult{
		"p1": {body: "<html>Too Many Requests</html>"},
		"p2": {body: ownershipXML(defaultOwner, spreadTxns(2))},
	})
	msg := form4Message()
	var d doneLog

	env.worker.Handle(context.Background(), &msg, d.done)
	require.NoError(t, env.buffer.Flush(context.Background()))

	assert.Equal(t, []string{"p1", "p2"}, env.fetcher.calls)
	assert.Equal(t, []error{nil}, d.results())
	assert.Len(t, env.store.Keys("data/insider_transactions/"), 2)
}

func TestWorker_TransientErrorFailsWithoutTryingLaterPaths(t *testing.T) {
	transient := &registry.TransientError{URL: "p1", StatusCode: 503, Attempts: 5}
	env := newWorkerEnv(1000, map[string]fetchResult{
		"p1": {err: transient},
		"p2": {body: ownershipXML(defaultOwner, spreadTxns(2))},
	})
	msg := form4Message()
	var d doneLog

	env.worker.Handle(context.Background(), &msg, d.done)

	assert.Equal(t, []string{"p1"}, env.fetcher.calls)
	results := d.results()
	require.Len(t, results, 1)
	assert.ErrorAs(t, results[0], &transient)
	assert.Empty(t, env.store.Keys("data/"))
}

func TestWorker_ZeroRowsStillRecordedParsed(t *testing.T) {
	env := newWorkerEnv(1000, map[string]fetchResult{
		"p1": {body: ownershipXML(defaultOwner, spreadTxns(3))},
	})
	msg := form4Message()
	msg.RelatedCIK = "2222222"
	var d doneLog

	env.worker.Handle(context.Background(), &msg, d.done)
	require.NoError(t, env.buffer.Flush(context.Background()))

	assert.Equal(t, []error{nil}, d.results())
	assert.Empty(t, env.store.Keys("data/insider_transactions/"))
	filings := env.store.Keys("data/filings/")
	require.Len(t, filings, 1)
	recs := readRecords(env.store, filings[0])
	assert.EqualValues(t, 0, recs[0].RowCount)
	assert.Equal(t, string(types.StatusParsed), recs[0].Status)
}

func TestWorker_DroppedEntriesNoted(t *testing.T) {
	txns := spreadTxns(2)
	txns = append(txns, fixtureTxn{date: "2026-02-27", code: "S", shares: "n/a", price: "1"})
	env := newWorkerEnv(1000, map[string]fetchResult{
		"p1": {body: ownershipXML(defaultOwner, txns)},
	})
	msg := form4Message()

	env.worker.Handle(context.Background(), &msg, func(error) {})
	require.NoError(t, env.buffer.Flush(context.Background()))

	recs := readRecords(env.store, env.store.Keys("data/filings/")[0])
	assert.EqualValues(t, 2, recs[0].RowCount)
	assert.Equal(t, "p1; dropped 1 invalid entries", recs[0].Detail)
}

func TestWorker_CheckerFailureIsRetried(t *testing.T) {
	env := newWorkerEnv(1000, nil)
	env.checker.err = errors.New("athena unavailable")
	msg := form4Message()
	var d doneLog

	env.worker.Handle(context.Background(), &msg, d.done)

	results := d.results()
	require.Len(t, results, 1)
	assert.ErrorContains(t, results[0], "athena unavailable")
	assert.Empty(t, env.fetcher.calls)
}

func TestWorker_Validate(t *testing.T) {
	w := NewWorker(nil, nil, nil, 0)

	msg := form4Message()
	assert.NoError(t, w.Validate(&msg))

	bad := form4Message()
	bad.IdempotencyKey = "1445"
	assert.Error(t, w.Validate(&bad))

	bad = form4Message()
	bad.CandidateDocumentPaths = nil
	assert.Error(t, w.Validate(&bad))

	bad = form4Message()
	bad.FilingDate = "03/02/2026"
	assert.Error(t, w.Validate(&bad))
}

func TestWorker_ProcessBatch(t *testing.T) {
	env := newWorkerEnv(1000, map[string]fetchResult{
		"a1": {body: ownershipXML(defaultOwner, spreadTxns(2))},
		"c1": {err: &registry.TransientError{URL: "c1", StatusCode: 500, Attempts: 5}},
	})
	ok := form4Message()
	ok.CandidateDocumentPaths = []string{"a1"}
	missing := form4Message()
	missing.IdempotencyKey = "0001213900-26-001446"
	missing.CandidateDocumentPaths = []string{"b1"}
	transient := form4Message()
	transient.IdempotencyKey = "0001213900-26-001447"
	transient.CandidateDocumentPaths = []string{"c1"}
	invalid := form4Message()
	invalid.IdempotencyKey = "not-an-accession"

	results := env.worker.ProcessBatch(context.Background(), []types.ParseJobMessage{ok, missing, transient, invalid})

	require.Len(t, results, 4)
	assert.Equal(t, 1, env.checker.calls, "one PARSED check for the whole batch")
	assert.NoError(t, results[0])
	assert.NoError(t, results[1], "terminal failures are recorded, not retried")
	assert.Error(t, results[2])
	assert.Error(t, results[3])

	var statuses []string
	for _, key := range env.store.Keys("data/filings/") {
		for _, rec := range readRecords(env.store, key) {
			statuses = append(statuses, rec.AccessionNumber+"="+rec.Status)
		}
	}
	assert.ElementsMatch(t, []string{
		"0001213900-26-001445=PARSED",
		"0001213900-26-001446=ERROR",
	}, statuses)
}

func TestWorker_RejectQueuesBehindBufferedOutcome(t *testing.T) {
	env := newWorkerEnv(1000, nil)
	msg := form4Message()
	var d doneLog

	env.worker.Handle(context.Background(), &msg, d.done)
	env.worker.Reject(context.Background(), errors.New("malformed message"), d.done)
	assert.Empty(t, d.results(), "the rejection waits for the ERROR record ahead of it")

	require.NoError(t, env.buffer.Flush(context.Background()))
	results := d.results()
	require.Len(t, results, 2)
	assert.NoError(t, results[0])
	assert.ErrorContains(t, results[1], "malformed")
}

func TestWorker_RejectWithNothingBufferedSettlesAtOnce(t *testing.T) {
	env := newWorkerEnv(1000, nil)
	var d doneLog

	env.worker.Reject(context.Background(), errors.New("invalid message"), d.done)

	results := d.results()
	require.Len(t, results, 1)
	assert.ErrorContains(t, results[0], "invalid")
}

func TestWorker_ClosedBufferLeavesMessageUnsettled(t *testing.T) {
	env := newWorkerEnv(1000, nil)
	require.NoError(t, env.buffer.Close(context.Background()))
	msg := form4Message()
	var d doneLog

	env.worker.Handle(context.Background(), &msg, d.done)
	env.worker.Reject(context.Background(), errors.New("malformed message"), d.done)

	assert.Empty(t, d.results(), "unsettled messages are redelivered after restart")
}

func TestWorker_ProcessBatchSkipsParsedFromOneCheck(t *testing.T) {
	env := newWorkerEnv(1000, map[string]fetchResult{
		"a1": {body: ownershipXML(defaultOwner, spreadTxns(2))},
	})
	first := form4Message()
	first.CandidateDocumentPaths = []string{"a1"}
	require.Equal(t, []error{nil}, env.worker.ProcessBatch(context.Background(), []types.ParseJobMessage{first}))

	env.fetcher.calls = nil
	again := first
	other := form4Message()
	other.IdempotencyKey = "0001213900-26-001446"
	other.CandidateDocumentPaths = []string{"a1"}
	results := env.worker.ProcessBatch(context.Background(), []types.ParseJobMessage{again, other})

	assert.Equal(t, []error{nil, nil}, results)
	assert.Equal(t, []string{"a1"}, env.fetcher.calls, "the PARSED key is not fetched again")
	assert.Equal(t, 2, env.checker.calls)
}

func TestTerminalError(t *testing.T) {
	err := &terminalError{errors.New("no usable document")}
	assert.True(t, isTerminal(err))
	assert.False(t, isTerminal(errors.New("timeout")))
	assert.True(t, strings.HasPrefix(err.Error(), "no usable"))
}
