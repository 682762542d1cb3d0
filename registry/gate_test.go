package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGate_SpacesSequentialCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	gate := NewLocalGate(50) // 20ms spacing
	c, err := NewClient(Options{BaseURL: srv.URL, UserAgent: testUserAgent, Gate: gate})
	require.NoError(t, err)

	const n = 6
	start := time.Now()
	for i := 0; i < n; i++ {
		_, err := c.FetchDocument(context.Background(), "/doc")
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// Allow for float rounding inside the limiter.
	assert.GreaterOrEqual(t, elapsed, time.Duration(n-1)*gate.Spacing()-time.Millisecond)
}

func TestLocalGate_Spacing(t *testing.T) {
	assert.Equal(t, 125*time.Millisecond, NewLocalGate(8).Spacing())
}

func TestLocalGate_CanceledContext(t *testing.T) {
	gate := NewLocalGate(0.001)
	require.NoError(t, gate.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, gate.Wait(ctx))
}

func TestRedisGate_SharesTimelineAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	fixed := time.Now()
	a := NewRedisGate(client, "test:slot", 50)
	b := NewRedisGate(client, "test:slot", 50)
	a.now = func() time.Time { return fixed }
	b.now = func() time.Time { return fixed }

	start := time.Now()
	require.NoError(t, a.Wait(context.Background())) // slot 0
	require.NoError(t, b.Wait(context.Background())) // slot +20ms
	require.NoError(t, a.Wait(context.Background())) // slot +40ms
	elapsed := time.Since(start)

	// Two gates on one key behave like a single gate: the third call waits
	// for two spacings.
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)

	next, err := client.Get(context.Background(), "test:slot").Int64()
	require.NoError(t, err)
	assert.Equal(t, fixed.UnixMilli()+60, next)
}

func TestNopGate(t *testing.T) {
	assert.NoError(t, NopGate{}.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NopGate{}.Wait(ctx))
}
