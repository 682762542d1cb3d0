package registry

import (
	"context"
	"time"

	"filingbot/metrics"

	"golang.org/x/time/rate"
)

// Gate spaces outbound registry calls. Every request waits on the gate first.
type Gate interface {
	Wait(ctx context.Context) error
}

// LocalGate enforces a minimum spacing between calls within one process.
// Several processes each running a LocalGate multiply the aggregate rate;
// size the number of instances accordingly or use RedisGate.
type LocalGate struct {
	limiter *rate.Limiter
}

// NewLocalGate returns a gate admitting at most rps calls per second with no
// burst, i.e. consecutive calls are at least 1/rps apart.
func NewLocalGate(rps float64) *LocalGate {
	return &LocalGate{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the next call may be issued.
func (g *LocalGate) Wait(ctx context.Context) error {
	start := time.Now()
	err := g.limiter.Wait(ctx)
	metrics.RegistryGateWait.Observe(time.Since(start).Seconds())
	return err
}

// Spacing returns the minimum interval between two calls.
func (g *LocalGate) Spacing() time.Duration {
	return time.Duration(float64(time.Second) / float64(g.limiter.Limit()))
}

// NopGate never waits. Tests use it to run the client without real delays.
type NopGate struct{}

func (NopGate) Wait(ctx context.Context) error { return ctx.Err() }
