// Package pool manages the bounded set of live transport connections to the
// configured upstream endpoints.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blocksprint/relay/foundation/relay/breaker"
	"github.com/blocksprint/relay/foundation/relay/endpoint"
	"github.com/blocksprint/relay/foundation/relay/health"
	"github.com/blocksprint/relay/foundation/relay/transport"
	"github.com/google/uuid"
)

// Defaults used when the configuration leaves a value unset.
const (
	DefaultMaxConnections = 50
	DefaultMinIdle        = 5
	DefaultIdleTimeout    = 60 * time.Second
)

// Set of pool errors surfaced to callers.
var (
	ErrAcquireTimeout  = errors.New("acquire deadline elapsed waiting for pool capacity")
	ErrShutdown        = errors.New("pool is shut down")
	ErrUnknownEndpoint = errors.New("endpoint is not configured")
)

// EventHandler defines a function that is called when events occur in the
// processing of connections.
type EventHandler func(v string, args ...any)

// connState tracks the lifecycle of one pooled connection.
type connState int

const (
	stateIdle connState = iota
	stateInUse
	stateClosing
)

// Conn is the ownership token for one live transport connection. A Conn is
// exclusively owned by at most one caller between Acquire and Release.
type Conn struct {
	ID       uuid.UUID
	Endpoint endpoint.Endpoint

	tc       transport.Conn
	state    connState
	permit   *breaker.Permit
	lastUsed time.Time
}

// Send performs one request/response exchange on the underlying transport
// connection.
func (c *Conn) Send(ctx context.Context, payload []byte) ([]byte, error) {
	return c.tc.Send(ctx, payload)
}

// =============================================================================

// Config represents the configuration required to construct a pool.
type Config struct {
	Endpoints      *endpoint.Set
	Client         transport.Client
	Breaker        *breaker.Breaker
	Health         *health.Tracker
	MaxConnections int
	MinIdle        int
	IdleTimeout    time.Duration
	Clock          clock.Clock
	EvHandler      EventHandler
}

// Stats represents a point-in-time view of pool occupancy.
type Stats struct {
	Live  int
	InUse int
	Idle  int
}

// Pool owns every live connection and enforces the configured bounds. The
// total number of live connections never exceeds MaxConnections; callers at
// capacity block until a connection is released or their deadline elapses.
type Pool struct {
	endpoints *endpoint.Set
	client    transport.Client
	breaker   *breaker.Breaker
	health    *health.Tracker
	maxConns  int
	minIdle   int
	idleAfter time.Duration
	clock     clock.Clock
	ev        EventHandler

	mu       sync.Mutex
	live     int
	inUse    int
	idle     map[endpoint.Endpoint][]*Conn
	conns    map[*Conn]struct{}
	gate     chan struct{}
	shutdown bool
}

// New constructs a pool with the specified configuration.
func New(cfg Config) (*Pool, error) {
	if cfg.Endpoints == nil {
		return nil, errors.New("endpoint set is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("transport client is required")
	}
	if cfg.Breaker == nil {
		return nil, errors.New("breaker is required")
	}
	if cfg.Health == nil {
		return nil, errors.New("health tracker is required")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = DefaultMinIdle
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &Pool{
		endpoints: cfg.Endpoints,
		client:    cfg.Client,
		breaker:   cfg.Breaker,
		health:    cfg.Health,
		maxConns:  cfg.MaxConnections,
		minIdle:   cfg.MinIdle,
		idleAfter: cfg.IdleTimeout,
		clock:     cfg.Clock,
		ev:        ev,
		idle:      make(map[endpoint.Endpoint][]*Conn),
		conns:     make(map[*Conn]struct{}),
		gate:      make(chan struct{}),
	}, nil
}

// Acquire returns a connection to the specified endpoint, reusing an idle
// one when possible. The breaker is consulted first so an open breaker fails
// fast without any network I/O. When the pool is at capacity with nothing
// idle, Acquire blocks until a connection is released or the context expires.
func (p *Pool) Acquire(ctx context.Context, ep endpoint.Endpoint) (*Conn, error) {
	if !p.endpoints.Contains(ep) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
	}

	permit, err := p.breaker.Allow(ep)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", ep, err)
	}

	p.mu.Lock()
	for {
		if p.shutdown {
			p.mu.Unlock()
			permit.Cancel()
			return nil, ErrShutdown
		}

		// Reuse the most recently parked idle connection for this endpoint.
		if conns := p.idle[ep]; len(conns) > 0 {
			pc := conns[len(conns)-1]
			p.idle[ep] = conns[:len(conns)-1]
			pc.state = stateInUse
			pc.permit = permit
			p.inUse++
			p.mu.Unlock()
			return pc, nil
		}

		// Open a new connection when the bound allows it. The live counter
		// is reserved before dialing so concurrent acquires can never exceed
		// the bound.
		if p.live < p.maxConns {
			p.live++
			p.mu.Unlock()
			return p.dial(ctx, ep, permit)
		}

		// At capacity. Wait for a release or the caller's deadline.
		gate := p.gate
		p.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			permit.Cancel()
			return nil, fmt.Errorf("endpoint %s: %w", ep, ErrAcquireTimeout)
		}

		p.mu.Lock()
	}
}

// dial opens a new connection after the live counter has been reserved.
func (p *Pool) dial(ctx context.Context, ep endpoint.Endpoint, permit *breaker.Permit) (*Conn, error) {
	started := p.clock.Now()

	tc, err := p.client.Connect(ctx, ep)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.broadcast()
		p.mu.Unlock()

		permit.Failure()
		p.health.Record(ep, health.OutcomeFailure, p.clock.Now().Sub(started))
		return nil, fmt.Errorf("connect %s: %w", ep, err)
	}

	pc := &Conn{
		ID:       uuid.New(),
		Endpoint: ep,
		tc:       tc,
		state:    stateInUse,
		permit:   permit,
	}

	p.mu.Lock()
	p.conns[pc] = struct{}{}
	p.inUse++
	p.mu.Unlock()

	p.ev("pool: dial: opened connection %s to %s", pc.ID, ep)
	return pc, nil
}

// Release returns a connection to the pool after successful use. The breaker
// permit resolves as a success. Releasing a connection that is not in use is
// a no-op logged as a defect.
func (p *Pool) Release(pc *Conn) {
	p.mu.Lock()

	if pc.state != stateInUse {
		p.mu.Unlock()
		p.ev("pool: release: DEFECT: double release of connection %s", pc.ID)
		return
	}

	permit := pc.permit
	pc.permit = nil
	pc.state = stateIdle
	pc.lastUsed = p.clock.Now()
	p.inUse--
	p.idle[pc.Endpoint] = append(p.idle[pc.Endpoint], pc)
	p.broadcast()
	p.mu.Unlock()

	permit.Success()
}

// ReleaseFailed discards a connection whose last use failed or was cancelled
// mid-flight. The connection is closed rather than reused since its internal
// state is unknown, and the breaker permit resolves as a failure.
func (p *Pool) ReleaseFailed(pc *Conn) {
	p.mu.Lock()

	if pc.state != stateInUse {
		p.mu.Unlock()
		p.ev("pool: release: DEFECT: double release of connection %s", pc.ID)
		return
	}

	permit := pc.permit
	pc.permit = nil
	pc.state = stateClosing
	delete(p.conns, pc)
	p.live--
	p.inUse--
	p.broadcast()
	p.mu.Unlock()

	permit.Failure()
	pc.tc.Close()
	p.ev("pool: discard: closed failed connection %s to %s", pc.ID, pc.Endpoint)
}

// Stats reports current pool occupancy. InUse counts only connections a
// caller holds; a slot reserved for a dial in flight shows in Live alone.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := 0
	for _, conns := range p.idle {
		idle += len(conns)
	}

	return Stats{
		Live:  p.live,
		InUse: p.inUse,
		Idle:  idle,
	}
}

// Reap closes idle connections beyond the minimum idle target that have not
// been used within the idle timeout. The worker drives this on an interval.
func (p *Pool) Reap() {
	now := p.clock.Now()

	p.mu.Lock()
	var victims []*Conn
	for ep, conns := range p.idle {
		kept := make([]*Conn, 0, len(conns))
		remaining := len(conns)
		for _, pc := range conns {
			if remaining > p.minIdle && now.Sub(pc.lastUsed) >= p.idleAfter {
				pc.state = stateClosing
				delete(p.conns, pc)
				p.live--
				remaining--
				victims = append(victims, pc)
				continue
			}
			kept = append(kept, pc)
		}
		p.idle[ep] = kept
	}
	if len(victims) > 0 {
		p.broadcast()
	}
	p.mu.Unlock()

	for _, pc := range victims {
		pc.tc.Close()
		p.ev("pool: reap: closed idle connection %s to %s", pc.ID, pc.Endpoint)
	}
}

// Replenish opportunistically opens connections up to the minimum idle
// target for every endpoint whose breaker is closed. Dial failures count
// toward the breaker.
func (p *Pool) Replenish(ctx context.Context) {
	for _, ep := range p.endpoints.Copy() {
		for {
			if p.breaker.State(ep) != breaker.StateClosed {
				break
			}

			p.mu.Lock()
			if p.shutdown || len(p.idle[ep]) >= p.minIdle || p.live >= p.maxConns {
				p.mu.Unlock()
				break
			}
			p.live++
			p.mu.Unlock()

			permit, err := p.breaker.Allow(ep)
			if err != nil {
				p.mu.Lock()
				p.live--
				p.broadcast()
				p.mu.Unlock()
				break
			}

			pc, err := p.dial(ctx, ep, permit)
			if err != nil {
				break
			}

			// Establishing a connection is not a request outcome, so the
			// permit is returned uncounted and the connection parked.
			p.mu.Lock()
			pc.permit = nil
			pc.state = stateIdle
			pc.lastUsed = p.clock.Now()
			p.inUse--
			p.idle[ep] = append(p.idle[ep], pc)
			p.broadcast()
			p.mu.Unlock()

			permit.Cancel()
		}
	}
}

// Shutdown drains the pool: new Acquire calls are rejected, idle connections
// close immediately, and in-use connections get until the context deadline to
// be released before they are force-closed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true

	var victims []*Conn
	for ep, conns := range p.idle {
		for _, pc := range conns {
			pc.state = stateClosing
			delete(p.conns, pc)
			p.live--
			victims = append(victims, pc)
		}
		delete(p.idle, ep)
	}
	p.broadcast()
	p.mu.Unlock()

	for _, pc := range victims {
		pc.tc.Close()
	}

	// Wait for in-use connections to come back.
	for {
		p.mu.Lock()
		remaining := len(p.conns)
		gate := p.gate
		p.mu.Unlock()

		if remaining == 0 {
			return nil
		}

		select {
		case <-gate:
			// A connection was released or discarded. Idle parks during
			// shutdown are swept below on the next pass.
			p.sweepIdle()

		case <-ctx.Done():
			p.mu.Lock()
			var forced []*Conn
			for pc := range p.conns {
				if pc.state == stateInUse {
					p.inUse--
				}
				pc.state = stateClosing
				delete(p.conns, pc)
				p.live--
				forced = append(forced, pc)
			}
			p.idle = make(map[endpoint.Endpoint][]*Conn)
			p.mu.Unlock()

			for _, pc := range forced {
				pc.tc.Close()
			}

			p.ev("pool: shutdown: force closed %d connections", len(forced))
			return fmt.Errorf("pool shutdown grace elapsed: %w", ctx.Err())
		}
	}
}

// sweepIdle closes connections parked idle after shutdown began.
func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var victims []*Conn
	for ep, conns := range p.idle {
		for _, pc := range conns {
			pc.state = stateClosing
			delete(p.conns, pc)
			p.live--
			victims = append(victims, pc)
		}
		delete(p.idle, ep)
	}
	p.mu.Unlock()

	for _, pc := range victims {
		pc.tc.Close()
	}
}

// broadcast wakes every caller blocked waiting for capacity. The caller must
// hold the pool's mutex.
func (p *Pool) broadcast() {
	close(p.gate)
	p.gate = make(chan struct{})
}
