package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserAgent = "filingbot-test ops@example.com"

// newTestClient returns a client against srv that records backoff delays
// instead of sleeping.
func newTestClient(t *testing.T, srv *httptest.Server, delays *[]time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:     srv.URL,
		DataURL:     srv.URL,
		UserAgent:   testUserAgent,
		Gate:        NopGate{},
		MaxAttempts: 3,
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  5 * time.Second,
	})
	require.NoError(t, err)
	c.sleep = func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	return c
}

func TestNewClient_RequiresUserAgentAndGate(t *testing.T) {
	_, err := NewClient(Options{Gate: NopGate{}})
	assert.Error(t, err)
	_, err = NewClient(Options{UserAgent: testUserAgent})
	assert.Error(t, err)
}

func TestFetchDocument_SendsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "/Archives/edgar/data/1/doc.xml", r.URL.Path)
		_, _ = w.Write([]byte("<ownershipDocument/>"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	body, err := c.FetchDocument(context.Background(), "/Archives/edgar/data/1/doc.xml")
	require.NoError(t, err)
	assert.Equal(t, "<ownershipDocument/>", string(body))
}

func TestFetchDocument_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv, &delays)
	_, err := c.FetchDocument(context.Background(), "/missing")

	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, delays)
}

func TestFetchDocument_HonorsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv, &delays)
	body, err := c.FetchDocument(context.Background(), "/doc")

	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, []time.Duration{2 * time.Second}, delays)
}

func TestFetchDocument_RetryAfterAboveBackoffCapIsHonored(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "90")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv, &delays)
	_, err := c.FetchDocument(context.Background(), "/doc")

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{90 * time.Second}, delays, "the server's hint is not clamped to the backoff cap")
}

func TestFetchDocument_RetryAfterBeyondCeilingGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv, &delays)
	_, err := c.FetchDocument(context.Background(), "/doc")

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, delays, "no early retry against the server's hint")
}

func TestFetchDocument_ThrottledWithoutHintBacksOffExponentially(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(t, srv, &delays)
	_, err := c.FetchDocument(context.Background(), "/doc")

	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestFetchDocument_ServerErrorsExhaustBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := c.FetchDocument(context.Background(), "/doc")

	assert.True(t, IsTransient(err))
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchDocument_RecoversAfterServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("third time"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	body, err := c.FetchDocument(context.Background(), "/doc")
	require.NoError(t, err)
	assert.Equal(t, "third time", string(body))
}

func TestFetchIndex_ZipsParallelArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submissions/CIK0000320193.json", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"cik": "320193",
			"name": "Example Inc.",
			"filings": {"recent": {
				"accessionNumber": ["0000320193-26-000010", "0001140361-26-000123"],
				"filingDate": ["2026-10-01", "2026-09-30"],
				"reportDate": ["2026-09-29", ""],
				"form": ["4", "SC 13G/A"],
				"primaryDocument": ["xslF345X05/wk-form4.xml", "sc13ga.htm"]
			}}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	idx, err := c.FetchIndex(context.Background(), "320193")
	require.NoError(t, err)

	entries := idx.Filings.Recent.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, IndexEntry{
		AccessionNumber: "0000320193-26-000010",
		FilingDate:      "2026-10-01",
		ReportDate:      "2026-09-29",
		Form:            "4",
		PrimaryDocument: "xslF345X05/wk-form4.xml",
	}, entries[0])
	assert.Equal(t, "SC 13G/A", entries[1].Form)
}

func TestEntries_ShortColumns(t *testing.T) {
	r := RecentFilings{
		AccessionNumber: []string{"a", "b"},
		Form:            []string{"4"},
	}
	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "", entries[1].Form)
}

func TestDocumentPaths(t *testing.T) {
	paths := DocumentPaths("0001234567", "0001213900-26-001445", "xslF345X05/form4.xml")
	assert.Equal(t, []string{
		"/Archives/edgar/data/1234567/000121390026001445/form4.xml",
		"/Archives/edgar/data/1234567/000121390026001445/0001213900-26-001445.txt",
		"/Archives/edgar/data/1234567/0001213900-26-001445.txt",
	}, paths)

	assert.Len(t, DocumentPaths("1234567", "0001213900-26-001445", ""), 2)
}

func TestPadCIK(t *testing.T) {
	assert.Equal(t, "0000320193", PadCIK("320193"))
	assert.Equal(t, "0000320193", PadCIK("0000320193"))
	assert.Equal(t, "320193", TrimCIK("0000320193"))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
}
