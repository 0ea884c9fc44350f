// Package health maintains rolling latency and error statistics for each
// upstream endpoint over a bounded window of recent samples.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/blocksprint/relay/foundation/relay/endpoint"
)

// DefaultWindow is the number of samples kept per endpoint. Memory per
// endpoint is proportional to this value, independent of uptime.
const DefaultWindow = 1000

// Outcome represents the result of one operation against an endpoint.
type Outcome int

// Set of possible outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// String implements the fmt.Stringer interface.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Snapshot represents the statistics for one endpoint over the current
// window content.
type Snapshot struct {
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	ErrorRate   float64
	SampleCount int
}

// =============================================================================

// sample is one recorded operation.
type sample struct {
	latency time.Duration
	failed  bool
}

// ring is a fixed-capacity FIFO of samples for one endpoint. The oldest
// sample is evicted on overflow and the failure count is adjusted so the
// error rate always reflects the current window content.
type ring struct {
	mu       sync.Mutex
	samples  []sample
	next     int
	full     bool
	failures int
}

func newRing(capacity int) *ring {
	return &ring{
		samples: make([]sample, capacity),
	}
}

func (r *ring) record(s sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full && r.samples[r.next].failed {
		r.failures--
	}
	if s.failed {
		r.failures++
	}

	r.samples[r.next] = s
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

// copyOut takes a copy of the current window content so percentiles can be
// computed without holding the lock writers need.
func (r *ring) copyOut() ([]time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.samples)
	}

	latencies := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		latencies[i] = r.samples[i].latency
	}

	return latencies, r.failures
}

// =============================================================================

// Tracker maintains one bounded ring of samples per endpoint.
type Tracker struct {
	window int
	mu     sync.Mutex
	rings  map[endpoint.Endpoint]*ring
}

// New constructs a tracker. A window of 0 selects DefaultWindow.
func New(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}

	return &Tracker{
		window: window,
		rings:  make(map[endpoint.Endpoint]*ring),
	}
}

// Record adds one sample for the specified endpoint.
func (t *Tracker) Record(ep endpoint.Endpoint, outcome Outcome, latency time.Duration) {
	t.ring(ep).record(sample{
		latency: latency,
		failed:  outcome == OutcomeFailure,
	})
}

// Snapshot computes the statistics for the specified endpoint. The window
// content is copied first and sorted outside the ring's lock so recording
// never waits on a reader.
func (t *Tracker) Snapshot(ep endpoint.Endpoint) Snapshot {
	latencies, failures := t.ring(ep).copyOut()
	n := len(latencies)
	if n == 0 {
		return Snapshot{}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	return Snapshot{
		P50:         latencies[(n-1)*50/100],
		P95:         latencies[(n-1)*95/100],
		P99:         latencies[(n-1)*99/100],
		ErrorRate:   float64(failures) / float64(n),
		SampleCount: n,
	}
}

// ring returns the ring for the specified endpoint, creating it on first use.
func (t *Tracker) ring(ep endpoint.Endpoint) *ring {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, exists := t.rings[ep]
	if !exists {
		r = newRing(t.window)
		t.rings[ep] = r
	}

	return r
}
