// Package channel is the public API of the relay trust core. It combines
// the connection pool, circuit breaker, health tracker and entropy engine
// behind a single facade.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blocksprint/relay/foundation/relay/breaker"
	"github.com/blocksprint/relay/foundation/relay/endpoint"
	"github.com/blocksprint/relay/foundation/relay/entropy"
	"github.com/blocksprint/relay/foundation/relay/health"
	"github.com/blocksprint/relay/foundation/relay/pool"
	"github.com/blocksprint/relay/foundation/relay/securebuf"
	"go.uber.org/ratelimit"
)

// ErrConnectionFailed is wrapped around transport errors so callers can
// classify them without knowing the transport.
var ErrConnectionFailed = errors.New("connection failed")

// EventHandler defines a function that is called when events occur in the
// processing of fetches and collections.
type EventHandler func(v string, args ...any)

// FetchObserver is called with the outcome of every fetch so the application
// can feed its metrics without this package knowing about them.
type FetchObserver func(ep endpoint.Endpoint, outcome string, latency time.Duration)

// Worker interface represents the behavior required to be implemented by any
// package providing the background reaping and header refresh support.
type Worker interface {
	Shutdown()
}

// =============================================================================

// Kind classifies an error for caller-side backoff decisions.
type Kind int

// Set of error kinds.
const (
	// KindRetryNow marks transient I/O failures worth retrying immediately
	// against the pool.
	KindRetryNow Kind = iota

	// KindRetryLater marks backpressure and breaker rejections; the caller
	// should back off or fail over to another endpoint.
	KindRetryLater

	// KindFatal marks failures no retry can recover from.
	KindFatal
)

// ErrorKind classifies an error returned by this package.
func ErrorKind(err error) Kind {
	switch {
	case errors.Is(err, entropy.ErrUnavailable):
		return KindFatal
	case errors.Is(err, breaker.ErrOpen),
		errors.Is(err, pool.ErrAcquireTimeout),
		errors.Is(err, pool.ErrShutdown):
		return KindRetryLater
	default:
		return KindRetryNow
	}
}

// =============================================================================

// Config represents the configuration required to construct a channel.
type Config struct {
	Endpoints     *endpoint.Set
	Pool          *pool.Pool
	Breaker       *breaker.Breaker
	Health        *health.Tracker
	Entropy       *entropy.Engine
	EvHandler     EventHandler
	FetchObserver FetchObserver

	// EntropyRate caps entropy collections per second on the public
	// surface. Zero means unlimited.
	EntropyRate int
}

// Channel manages the relay trust core and provides an API for application
// support.
type Channel struct {
	endpoints *endpoint.Set
	pool      *pool.Pool
	breaker   *breaker.Breaker
	health    *health.Tracker
	entropy   *entropy.Engine
	ev        EventHandler
	observe   FetchObserver
	limiter   ratelimit.Limiter

	// Worker is not set here. The call to worker.Run will assign itself
	// and start the background support for the channel.
	Worker Worker
}

// New constructs a channel for relay access.
func New(cfg Config) (*Channel, error) {
	if cfg.Endpoints == nil || cfg.Pool == nil || cfg.Breaker == nil || cfg.Health == nil || cfg.Entropy == nil {
		return nil, errors.New("endpoints, pool, breaker, health and entropy are required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	observe := cfg.FetchObserver
	if observe == nil {
		observe = func(endpoint.Endpoint, string, time.Duration) {}
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.EntropyRate > 0 {
		limiter = ratelimit.New(cfg.EntropyRate)
	}

	return &Channel{
		endpoints: cfg.Endpoints,
		pool:      cfg.Pool,
		breaker:   cfg.Breaker,
		health:    cfg.Health,
		entropy:   cfg.Entropy,
		ev:        ev,
		observe:   observe,
		limiter:   limiter,
	}, nil
}

// Fetch performs one request against the specified endpoint through the
// pool. The outcome is recorded with the health tracker and the breaker; a
// failed connection is discarded rather than returned to the pool.
func (c *Channel) Fetch(ctx context.Context, ep endpoint.Endpoint, payload []byte) ([]byte, error) {
	pc, err := c.pool.Acquire(ctx, ep)
	if err != nil {
		switch {
		case errors.Is(err, breaker.ErrOpen),
			errors.Is(err, pool.ErrAcquireTimeout),
			errors.Is(err, pool.ErrShutdown),
			errors.Is(err, pool.ErrUnknownEndpoint):
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	started := time.Now()
	resp, err := pc.Send(ctx, payload)
	latency := time.Since(started)

	if err != nil {
		c.health.Record(ep, health.OutcomeFailure, latency)
		c.pool.ReleaseFailed(pc)
		c.observe(ep, "failure", latency)
		c.ev("channel: fetch: %s: failed after %s: %s", ep, latency, err)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.health.Record(ep, health.OutcomeSuccess, latency)
	c.pool.Release(pc)
	c.observe(ep, "success", latency)

	return resp, nil
}

// Entropy produces mixed entropy for the public surface, subject to the
// configured rate limit.
func (c *Channel) Entropy(ctx context.Context, tier entropy.Tier, length int) (entropy.Result, error) {
	c.limiter.Take()
	return c.entropy.Collect(ctx, tier, length)
}

// Nonce produces session/nonce material at the specified tier inside a
// zeroizing buffer the caller must Free.
func (c *Channel) Nonce(ctx context.Context, tier entropy.Tier, n int) (*securebuf.Buffer, error) {
	c.limiter.Take()

	res, err := c.entropy.Collect(ctx, tier, n)
	if err != nil {
		return nil, err
	}

	buf, err := securebuf.New(n)
	if err != nil {
		return nil, err
	}
	if err := buf.Write(res.Bytes); err != nil {
		buf.Free()
		return nil, err
	}

	return buf, nil
}

// Health returns the rolling statistics for the specified endpoint.
func (c *Channel) Health(ep endpoint.Endpoint) health.Snapshot {
	return c.health.Snapshot(ep)
}

// BreakerState reports the breaker state for the specified endpoint.
func (c *Channel) BreakerState(ep endpoint.Endpoint) breaker.State {
	return c.breaker.State(ep)
}

// Endpoints returns the configured endpoint set.
func (c *Channel) Endpoints() []endpoint.Endpoint {
	return c.endpoints.Copy()
}

// PoolStats reports current pool occupancy.
func (c *Channel) PoolStats() pool.Stats {
	return c.pool.Stats()
}

// Shutdown cleanly brings the channel down: background work stops first,
// then the pool drains within the context deadline.
func (c *Channel) Shutdown(ctx context.Context) error {
	c.ev("channel: shutdown: started")
	defer c.ev("channel: shutdown: completed")

	if c.Worker != nil {
		c.Worker.Shutdown()
	}

	return c.pool.Shutdown(ctx)
}
