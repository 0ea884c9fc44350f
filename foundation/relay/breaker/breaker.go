// Package breaker implements the per-endpoint circuit breaker state machine
// that gates traffic to degraded upstreams.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blocksprint/relay/foundation/relay/endpoint"
)

// Defaults used when the configuration leaves a value unset.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
)

// ErrOpen is returned when the breaker rejects a request without any network
// I/O being attempted.
var ErrOpen = errors.New("breaker open")

// State represents the breaker state for one endpoint.
type State int

// Set of possible breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// EventHandler defines a function that is called when state transitions
// occur in the processing of requests.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to construct a breaker.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	Clock            clock.Clock
	EvHandler        EventHandler
	OnStateChange    func(ep endpoint.Endpoint, from State, to State)
}

// Breaker manages one state machine per endpoint. Transitions for one
// endpoint are serialized under that endpoint's own mutex, so independent
// endpoints never contend.
type Breaker struct {
	threshold     int
	cooldown      time.Duration
	clock         clock.Clock
	ev            EventHandler
	onStateChange func(ep endpoint.Endpoint, from State, to State)

	mu       sync.Mutex
	machines map[endpoint.Endpoint]*machine
}

// New constructs a breaker with the specified configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &Breaker{
		threshold:     cfg.FailureThreshold,
		cooldown:      cfg.Cooldown,
		clock:         cfg.Clock,
		ev:            ev,
		onStateChange: cfg.OnStateChange,
		machines:      make(map[endpoint.Endpoint]*machine),
	}
}

// Allow asks the breaker whether a request against the specified endpoint is
// permitted. On success the returned permit must be resolved with exactly one
// of Success, Failure or Cancel once the outcome of the request is known.
func (b *Breaker) Allow(ep endpoint.Endpoint) (*Permit, error) {
	m := b.machine(ep)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return &Permit{breaker: b, machine: m}, nil

	case StateOpen:
		if b.clock.Now().Sub(m.openedAt) < b.cooldown {
			return nil, ErrOpen
		}
		b.transition(m, StateHalfOpen)
		m.probing = true
		return &Permit{breaker: b, machine: m, probe: true}, nil

	case StateHalfOpen:
		if m.probing {
			return nil, ErrOpen
		}
		m.probing = true
		return &Permit{breaker: b, machine: m, probe: true}, nil
	}

	return nil, ErrOpen
}

// State reports the current state for the specified endpoint, accounting for
// an elapsed cooldown.
func (b *Breaker) State(ep endpoint.Endpoint) State {
	m := b.machine(ep)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateOpen && b.clock.Now().Sub(m.openedAt) >= b.cooldown {
		return StateHalfOpen
	}

	return m.state
}

// machine returns the state machine for the specified endpoint, creating it
// in the Closed state on first use.
func (b *Breaker) machine(ep endpoint.Endpoint) *machine {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, exists := b.machines[ep]
	if !exists {
		m = &machine{ep: ep}
		b.machines[ep] = m
	}

	return m
}

// transition moves the machine to the specified state. The caller must hold
// the machine's mutex.
func (b *Breaker) transition(m *machine, to State) {
	from := m.state
	if from == to {
		return
	}

	m.state = to
	b.ev("breaker: %s: %s -> %s", m.ep, from, to)

	if b.onStateChange != nil {
		b.onStateChange(m.ep, from, to)
	}
}

// =============================================================================

// machine is the breaker state for one endpoint.
type machine struct {
	ep       endpoint.Endpoint
	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Permit represents the right to perform one request. The first call to
// Success, Failure or Cancel resolves the permit; later calls are no-ops.
type Permit struct {
	breaker  *Breaker
	machine  *machine
	probe    bool
	resolved bool
}

// Success reports that the request completed normally. A successful probe
// closes the breaker; in the Closed state the failure counter resets.
func (p *Permit) Success() {
	m := p.machine
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.resolved {
		return
	}
	p.resolved = true

	if p.probe {
		m.probing = false
		m.failures = 0
		p.breaker.transition(m, StateClosed)
		return
	}

	// A permit issued while Closed can resolve after other failures opened
	// the breaker. That stale success must not erase the failure count that
	// opened it.
	if m.state != StateClosed {
		return
	}

	m.failures = 0
}

// Failure reports that the request failed. A failed probe reopens the
// breaker and restarts the cooldown; in the Closed state the consecutive
// failure counter advances and opens the breaker at the threshold.
func (p *Permit) Failure() {
	m := p.machine
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.resolved {
		return
	}
	p.resolved = true

	if p.probe {
		m.probing = false
		m.openedAt = p.breaker.clock.Now()
		p.breaker.transition(m, StateOpen)
		return
	}

	m.failures++
	if m.failures >= p.breaker.threshold && m.state == StateClosed {
		m.openedAt = p.breaker.clock.Now()
		p.breaker.transition(m, StateOpen)
	}
}

// Cancel returns the permit without counting an outcome. This is used when
// the request never reached the network, such as a pool timeout after the
// permit was issued. A cancelled probe frees the probe slot so the next
// caller can probe instead.
func (p *Permit) Cancel() {
	m := p.machine
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.resolved {
		return
	}
	p.resolved = true

	if p.probe {
		m.probing = false
	}
}
