package lake

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"filingbot/storage"
	"filingbot/types"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orderedStore records the order of puts on top of an in-memory store.
type orderedStore struct {
	*storage.Memory
	mu   sync.Mutex
	keys []string
}

func (s *orderedStore) PutNew(ctx context.Context, key string, body []byte, contentType string) error {
	if err := s.Memory.PutNew(ctx, key, body, contentType); err != nil {
		return err
	}
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return nil
}

func newTestBuffer(opts Options) (*Buffer, *orderedStore) {
	store := &orderedStore{Memory: storage.NewMemory()}
	b := NewBuffer(store, opts)
	n := 0
	b.newID = func() string {
		n++
		return "file" + string(rune('a'+n-1))
	}
	return b, store
}

func txn(acc, date string) types.Row {
	return types.InsiderTransaction{
		AccessionNumber: acc,
		IssuerCIK:       "1234567",
		TransactionDate: date,
		TransactionCode: "S",
		Category:        "open_market_sale",
		Shares:          100,
		FilingDate:      "2026-03-02",
	}
}

func record(acc string, rows int) *types.FilingRecord {
	return &types.FilingRecord{
		AccessionNumber: acc,
		SubjectCIK:      "1234567",
		FormType:        "4",
		FilingDate:      "2026-03-02",
		Status:          string(types.StatusParsed),
		RowCount:        int32(rows),
		RecordedAt:      time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func readTxns(t *testing.T, body []byte) []types.InsiderTransaction {
	t.Helper()
	rows, err := parquet.Read[types.InsiderTransaction](bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	return rows
}

func TestFlush_PartitionsByRowDate(t *testing.T) {
	b, store := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	ctx := context.Background()

	rows := []types.Row{
		txn("0001213900-26-001445", "2026-01-30"),
		txn("0001213900-26-001445", "2026-02-02"),
		txn("0001213900-26-001445", "2026-01-05"),
		txn("0001213900-26-001445", "2025-12-31"),
	}
	require.NoError(t, b.Add(ctx, Pending{Rows: rows, Record: record("0001213900-26-001445", 4)}))
	require.NoError(t, b.Flush(ctx))

	dataKeys := store.Keys("data/insider_transactions/")
	require.Len(t, dataKeys, 3, "one file per distinct month")
	assert.Equal(t, []string{
		"data/insider_transactions/year=2025/month=12/filea.parquet",
		"data/insider_transactions/year=2026/month=01/fileb.parquet",
		"data/insider_transactions/year=2026/month=02/filec.parquet",
	}, dataKeys)

	jan, ok := store.Get("data/insider_transactions/year=2026/month=01/fileb.parquet")
	require.True(t, ok)
	for _, r := range readTxns(t, jan) {
		assert.True(t, strings.HasPrefix(r.TransactionDate, "2026-01"), r.TransactionDate)
	}

	assert.Equal(t, []string{"data/filings/year=2026/month=03/filed.parquet"}, store.Keys("data/filings/"))
}

func TestFlush_StatusRecordsAfterRows(t *testing.T) {
	b, store := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	ctx := context.Background()
	require.NoError(t, b.Add(ctx, Pending{Rows: []types.Row{txn("0001213900-26-001445", "2026-01-30")}, Record: record("0001213900-26-001445", 1)}))
	require.NoError(t, b.Flush(ctx))

	require.Len(t, store.keys, 2)
	assert.Contains(t, store.keys[1], "data/filings/")
}

func TestAdd_FlushesAtMaxRows(t *testing.T) {
	b, store := newTestBuffer(Options{MaxRows: 5, FlushInterval: time.Hour})
	ctx := context.Background()

	var got []error
	done := func(err error) { got = append(got, err) }

	require.NoError(t, b.Add(ctx, Pending{Rows: []types.Row{txn("0001213900-26-000001", "2026-01-02")}, Record: record("0001213900-26-000001", 1), Done: done}))
	assert.Equal(t, StateAccumulating, b.State())
	assert.Empty(t, got)

	rows := []types.Row{txn("0001213900-26-000002", "2026-01-02"), txn("0001213900-26-000002", "2026-01-03")}
	require.NoError(t, b.Add(ctx, Pending{Rows: rows, Record: record("0001213900-26-000002", 2), Done: done}))

	assert.Equal(t, []error{nil, nil}, got)
	assert.Equal(t, StateIdle, b.State())
	assert.Len(t, store.Keys("data/"), 2)
}

func TestTimerFlush(t *testing.T) {
	b, store := newTestBuffer(Options{MaxRows: 1000, FlushInterval: 20 * time.Millisecond})

	flushed := make(chan error, 1)
	require.NoError(t, b.Add(context.Background(), Pending{
		Rows:   []types.Row{txn("0001213900-26-001445", "2026-01-30")},
		Record: record("0001213900-26-001445", 1),
		Done:   func(err error) { flushed <- err },
	}))

	select {
	case err := <-flushed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not flush")
	}
	assert.Len(t, store.Keys("data/"), 2)
	assert.Eventually(t, func() bool { return b.State() == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestDone_ArrivalOrder(t *testing.T) {
	b, _ := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	ctx := context.Background()

	var order []string
	for _, acc := range []string{"0001213900-26-000003", "0001213900-26-000001", "0001213900-26-000002"} {
		acc := acc
		require.NoError(t, b.Add(ctx, Pending{
			Rows:   []types.Row{txn(acc, "2026-01-30")},
			Record: record(acc, 1),
			Done:   func(error) { order = append(order, acc) },
		}))
	}
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, []string{"0001213900-26-000003", "0001213900-26-000001", "0001213900-26-000002"}, order)
}

func TestFlushFailure_FailsEveryEntry(t *testing.T) {
	b, store := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	store.FailPuts = errors.New("s3 unavailable")
	ctx := context.Background()

	var got []error
	for _, acc := range []string{"0001213900-26-000001", "0001213900-26-000002"} {
		require.NoError(t, b.Add(ctx, Pending{
			Rows:   []types.Row{txn(acc, "2026-01-30")},
			Record: record(acc, 1),
			Done:   func(err error) { got = append(got, err) },
		}))
	}

	err := b.Flush(ctx)
	require.Error(t, err)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.ErrorContains(t, e, "s3 unavailable")
	}
	assert.Empty(t, store.Keys("data/filings/"), "no status is recorded without rows")
	assert.Equal(t, StateIdle, b.State())
	assert.Equal(t, 1, b.Stats().FailedFlush)
}

func TestAdd_RejectsRowWithoutDate(t *testing.T) {
	b, _ := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	err := b.Add(context.Background(), Pending{
		Rows:   []types.Row{txn("0001213900-26-001445", "")},
		Record: record("0001213900-26-001445", 1),
	})
	assert.ErrorIs(t, err, ErrNoPartitionDate)
	assert.Equal(t, StateIdle, b.State())
}

func TestZeroRowEntryWritesOnlyStatus(t *testing.T) {
	b, store := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	ctx := context.Background()
	require.NoError(t, b.Add(ctx, Pending{Record: record("0001213900-26-001445", 0)}))
	require.NoError(t, b.Flush(ctx))

	assert.Empty(t, store.Keys("data/insider_transactions/"))
	assert.Len(t, store.Keys("data/filings/"), 1)
}

func TestEmptyEntry_SettlesImmediatelyWhenNothingIsAhead(t *testing.T) {
	b, _ := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	var got []error
	require.NoError(t, b.Add(context.Background(), Pending{Done: func(err error) { got = append(got, err) }}))
	assert.Equal(t, []error{nil}, got)
	assert.Equal(t, StateIdle, b.State())
}

func TestEmptyEntry_WaitsBehindBufferedRows(t *testing.T) {
	b, _ := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	ctx := context.Background()

	var order []string
	require.NoError(t, b.Add(ctx, Pending{
		Rows:   []types.Row{txn("0001213900-26-000001", "2026-01-30")},
		Record: record("0001213900-26-000001", 1),
		Done:   func(error) { order = append(order, "rows") },
	}))
	failure := errors.New("registry unavailable")
	var skipErr error
	require.NoError(t, b.Add(ctx, Pending{Err: failure, Done: func(err error) {
		skipErr = err
		order = append(order, "failed")
	}}))
	assert.Empty(t, order, "the failure waits for the rows ahead of it")

	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, []string{"rows", "failed"}, order)
	assert.Equal(t, failure, skipErr)
}

func TestClose_FlushesAndRejectsLaterAdds(t *testing.T) {
	b, store := newTestBuffer(Options{MaxRows: 1000, FlushInterval: time.Hour})
	ctx := context.Background()
	require.NoError(t, b.Add(ctx, Pending{Rows: []types.Row{txn("0001213900-26-001445", "2026-01-30")}, Record: record("0001213900-26-001445", 1)}))

	require.NoError(t, b.Close(ctx))
	assert.Len(t, store.Keys("data/"), 2)
	assert.ErrorIs(t, b.Add(ctx, Pending{Record: record("0001213900-26-001446", 0)}), ErrClosed)
}

func TestPartitionKey(t *testing.T) {
	k, err := KeyOf(types.Holding{AccessionNumber: "0001555000-26-000012", PeriodOfReport: "2026-06-30"})
	require.NoError(t, err)
	assert.Equal(t, PartitionKey{Table: types.TableHoldings, Year: 2026, Month: time.June}, k)
	assert.Equal(t, "data/holdings/year=2026/month=06/x.parquet", k.ObjectKey("data", "x"))
}
