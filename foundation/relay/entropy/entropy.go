// Package entropy implements the engine that mixes independent, partially
// untrusted entropy sources into tiered output streams.
package entropy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/errgroup"
)

// MaxLength bounds a single collection to prevent abuse of the public
// entropy surface.
const MaxLength = 4096

// DefaultAdapterTimeout is the budget each adapter other than the OS CSPRNG
// gets per collection.
const DefaultAdapterTimeout = 50 * time.Millisecond

// Set of entropy errors surfaced to callers.
var (
	ErrUnavailable = errors.New("no entropy source available")
	ErrLength      = errors.New("requested length out of range")
)

// EventHandler defines a function that is called when events occur in the
// processing of collections.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to construct an engine.
type Config struct {
	Adapters       []Adapter
	AdapterTimeout time.Duration
	EvHandler      EventHandler
}

// Result represents one completed collection. Served may be lower than
// Requested when adapters were unavailable and the engine downgraded rather
// than fail the caller.
type Result struct {
	Bytes         []byte
	Requested     Tier
	Served        Tier
	Quality       int
	SourcesActive int
}

// Engine mixes adapter output into requested-length byte streams using an
// extract-then-expand construction. Raw adapter bytes never leave the
// engine, since some sources are observable by an adversary.
type Engine struct {
	adapters map[Source]Adapter
	timeout  time.Duration
	ev       EventHandler

	mu      sync.Mutex
	counter uint64
}

// New constructs an engine over the specified adapter set.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Adapters) == 0 {
		return nil, errors.New("at least one adapter is required")
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	adapters := make(map[Source]Adapter)
	for _, a := range cfg.Adapters {
		adapters[a.Source()] = a
	}

	return &Engine{
		adapters: adapters,
		timeout:  cfg.AdapterTimeout,
		ev:       ev,
	}, nil
}

// Collect produces length bytes of mixed entropy at the highest tier the
// available adapters can serve, bounded above by the requested tier.
func (e *Engine) Collect(ctx context.Context, tier Tier, length int) (Result, error) {
	if length < 1 || length > MaxLength {
		return Result{}, fmt.Errorf("%w: %d not in [1, %d]", ErrLength, length, MaxLength)
	}

	samples := e.gather(ctx, tier)
	if len(samples) == 0 {
		return Result{}, ErrUnavailable
	}

	served := e.downgrade(tier, samples)
	if served < tier {
		e.ev("entropy: collect: degraded: serving %s for requested %s", served, tier)
	}

	out, err := e.mix(samples, served, length)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Bytes:         out,
		Requested:     tier,
		Served:        served,
		Quality:       quality(tier, samples),
		SourcesActive: len(samples),
	}, nil
}

// gather queries every adapter the tier requires concurrently. Each adapter
// except the OS CSPRNG runs under its own timeout; failures and timeouts
// leave a gap the caller accounts for instead of propagating.
func (e *Engine) gather(ctx context.Context, tier Tier) map[Source]Sample {
	sources := tier.Sources()
	results := make([]*Sample, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		adapter, exists := e.adapters[src]
		if !exists {
			continue
		}

		g.Go(func() error {
			actx := ctx
			if src != SourceOSRandom {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(ctx, e.timeout)
				defer cancel()
			}

			s, err := adapter.Collect(actx)
			if err != nil {
				e.ev("entropy: gather: source %s unavailable: %s", src, err)
				return nil
			}

			results[i] = &s
			return nil
		})
	}
	g.Wait()

	samples := make(map[Source]Sample)
	for _, s := range results {
		if s != nil {
			samples[s.Source] = *s
		}
	}

	return samples
}

// downgrade determines the tier the gathered samples can honestly serve.
// The requested tier holds while its minimum distinct source count is met;
// otherwise the collection falls back one tier at a time until the count
// for the lower tier holds. Which particular sources failed does not matter,
// only how many distinct sources contributed.
func (e *Engine) downgrade(requested Tier, samples map[Source]Sample) Tier {
	served := requested
	for served > TierFast && len(samples) < served.MinSources() {
		served--
	}

	return served
}

// mix runs the extract-then-expand construction: HKDF extraction keyed by
// the OS CSPRNG sample over the concatenation of every sample, expansion
// bound to the mix counter and the current time so two collections never
// repeat even with identical adapter input.
func (e *Engine) mix(samples map[Source]Sample, served Tier, length int) ([]byte, error) {
	salt := extractionKey(samples)

	var secret []byte
	for _, src := range TierEnhanced.Sources() {
		if s, ok := samples[src]; ok {
			secret = append(secret, s.Bytes...)
		}
	}

	e.mu.Lock()
	e.counter++
	counter := e.counter
	e.mu.Unlock()

	info := make([]byte, 0, 32)
	info = append(info, "relay-entropy-v1"...)
	info = append(info, byte(served))
	info = binary.BigEndian.AppendUint64(info, counter)
	info = binary.BigEndian.AppendUint64(info, uint64(time.Now().UnixNano()))

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("expanding output: %w", err)
	}

	return out, nil
}

// extractionKey selects the salt for extraction: the OS CSPRNG sample when
// present, otherwise the best remaining sample.
func extractionKey(samples map[Source]Sample) []byte {
	if s, ok := samples[SourceOSRandom]; ok {
		return s.Bytes
	}

	var best Sample
	for _, s := range samples {
		if s.Quality > best.Quality {
			best = s
		}
	}

	return best.Bytes
}

// quality scores a collection: the strongest contributing sample, raised by
// source diversity and reduced for every source the requested tier wanted
// but did not get.
func quality(requested Tier, samples map[Source]Sample) int {
	max := 0
	for _, s := range samples {
		if s.Quality > max {
			max = s.Quality
		}
	}

	score := max + 7*(len(samples)-1)

	for _, src := range requested.Sources() {
		if _, ok := samples[src]; !ok {
			score -= 15
		}
	}

	switch {
	case score > 100:
		return 100
	case score < 0:
		return 0
	default:
		return score
	}
}
