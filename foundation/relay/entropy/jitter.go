package entropy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"
)

// jitterRounds is how many timing measurements feed one sample, and
// jitterHistory how many past measurements the collector keeps mixing in.
const (
	jitterRounds  = 32
	jitterHistory = 64
)

// Jitter is the adapter for CPU timing jitter. It accumulates the deltas of
// short busy loops, which wander with scheduler and cache behavior, and
// keeps a rolling history so each sample also reflects past measurements.
type Jitter struct {
	mu          sync.Mutex
	history     []uint64
	accumulator uint64
}

// NewJitter constructs a jitter adapter.
func NewJitter() *Jitter {
	return &Jitter{
		history: make([]uint64, 0, jitterHistory),
	}
}

// Source implements the Adapter interface.
func (j *Jitter) Source() Source {
	return SourceJitter
}

// Collect measures timing jitter and hashes the rolling history into a
// sample.
func (j *Jitter) Collect(ctx context.Context) (Sample, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := 0; i < jitterRounds; i++ {
		j.measure()
	}

	h := sha256.New()
	var b [8]byte
	for _, v := range j.history {
		binary.LittleEndian.PutUint64(b[:], v)
		h.Write(b[:])
	}
	binary.LittleEndian.PutUint64(b[:], uint64(time.Now().UnixNano()))
	h.Write(b[:])

	return Sample{
		Bytes:     h.Sum(nil),
		Source:    SourceJitter,
		Collected: time.Now().UTC(),
		Quality:   70,
	}, nil
}

// measure takes one timing measurement and folds it into the accumulator
// and history. The caller must hold the mutex.
func (j *Jitter) measure() {
	start := time.Now()

	// Busy work whose duration depends on scheduler and cache state.
	acc := j.accumulator
	for i := 0; i < 64; i++ {
		acc = acc*6364136223846793005 + 1442695040888963407
		acc ^= acc >> 29
	}
	j.accumulator = acc

	delta := uint64(time.Since(start).Nanoseconds()) ^ acc

	j.history = append(j.history, delta)
	if len(j.history) > jitterHistory {
		j.history = j.history[1:]
	}
}
