package registry

import (
	"context"
	"fmt"
	"time"

	"filingbot/metrics"

	"github.com/redis/go-redis/v9"
)

// reserveSlot hands out the next free slot on a shared timeline and returns
// how long the caller has to wait for it, in milliseconds.
var reserveSlot = redis.NewScript(`
local next = tonumber(redis.call('GET', KEYS[1]) or '0')
local now = tonumber(ARGV[1])
local slot = next
if slot < now then
  slot = now
end
redis.call('SET', KEYS[1], slot + tonumber(ARGV[2]), 'PX', ARGV[3])
return slot - now
`)

// RedisGate spaces calls across every process sharing the same Redis key, so
// the aggregate rate stays at rps no matter how many instances run. Slots are
// computed from each caller's clock; hosts are assumed NTP-synchronised.
type RedisGate struct {
	client  redis.UniversalClient
	key     string
	spacing time.Duration
	now     func() time.Time
}

// NewRedisGate returns a shared gate admitting rps calls per second.
func NewRedisGate(client redis.UniversalClient, key string, rps float64) *RedisGate {
	if key == "" {
		key = "filingbot:registry:next-slot"
	}
	return &RedisGate{
		client:  client,
		key:     key,
		spacing: time.Duration(float64(time.Second) / rps),
		now:     time.Now,
	}
}

// Wait reserves a slot and sleeps until it starts.
func (g *RedisGate) Wait(ctx context.Context) error {
	start := time.Now()
	nowMs := g.now().UnixMilli()
	spacingMs := g.spacing.Milliseconds()
	if spacingMs < 1 {
		spacingMs = 1
	}
	// The key only needs to outlive the furthest reservation.
	ttlMs := spacingMs * 1000

	waitMs, err := reserveSlot.Run(ctx, g.client, []string{g.key}, nowMs, spacingMs, ttlMs).Int64()
	if err != nil {
		return fmt.Errorf("reserve registry slot: %w", err)
	}
	if waitMs > 0 {
		if err := sleepCtx(ctx, time.Duration(waitMs)*time.Millisecond); err != nil {
			return err
		}
	}
	metrics.RegistryGateWait.Observe(time.Since(start).Seconds())
	return nil
}
