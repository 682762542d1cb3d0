package deduplication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filingbot/config"

	"github.com/redis/go-redis/v9"
)

// releaseClaim deletes a claim only if it is still held by the caller.
var releaseClaim = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Claims are short-lived Redis markers taken before a key is enqueued, so two
// dispatch runs that overlap cannot both publish a key the lake has not
// recorded yet. They expire on their own once the DISCOVERED record is
// queryable.
type Claims struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewClaims returns a claim store under prefix.
func NewClaims(client redis.UniversalClient, prefix string, ttl time.Duration) *Claims {
	if prefix == "" {
		prefix = "filingbot:claim:"
	}
	if ttl <= 0 {
		ttl = config.ClaimTTL
	}
	return &Claims{client: client, prefix: prefix, ttl: ttl}
}

// Claim tries to take every key for owner and returns the keys it now holds.
// Keys held by another owner are left out.
func (c *Claims) Claim(ctx context.Context, owner string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := c.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.SetNX(ctx, c.prefix+k, owner, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to claim %d keys: %w", len(keys), err)
	}

	claimed := make([]string, 0, len(keys))
	for i, cmd := range cmds {
		if cmd.Val() {
			claimed = append(claimed, keys[i])
		}
	}
	return claimed, nil
}

// Release gives up owner's claims on keys, typically after a failed publish
// so a later run can retry them.
func (c *Claims) Release(ctx context.Context, owner string, keys []string) error {
	for _, k := range keys {
		if err := releaseClaim.Run(ctx, c.client, []string{c.prefix + k}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release claim on %s: %w", k, err)
		}
	}
	return nil
}

// Close closes the underlying Redis client
func (c *Claims) Close() error {
	return c.client.Close()
}
