// Package headers tracks the most recently observed block header per chain.
// The chain-header entropy adapter and status surfaces read from here; the
// block ingestion pipeline feeding it is an external collaborator.
package headers

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/patrickmn/go-cache"
)

// recentTTL bounds how long an observed header stays in the recent cache.
// The latest header per chain is kept separately and never expires, since a
// stale header remains a usable entropy input.
const recentTTL = 10 * time.Minute

// Header represents one observed block header.
type Header struct {
	Chain    string
	Hash     []byte
	Height   uint64
	Raw      []byte
	Observed time.Time
}

// Tracker maintains the latest header per chain plus a TTL'd cache of
// recently observed headers.
type Tracker struct {
	mu     sync.RWMutex
	latest map[string]Header
	recent *cache.Cache
}

// NewTracker constructs a tracker.
func NewTracker() *Tracker {
	return &Tracker{
		latest: make(map[string]Header),
		recent: cache.New(recentTTL, recentTTL),
	}
}

// Observe records a header. Headers at or below the currently known height
// for their chain only enter the recent cache.
func (t *Tracker) Observe(h Header) {
	t.recent.Set(fmt.Sprintf("%s/%d", h.Chain, h.Height), h, cache.DefaultExpiration)

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, exists := t.latest[h.Chain]
	if exists && cur.Height >= h.Height {
		return
	}
	t.latest[h.Chain] = h
}

// Latest returns the most recent header observed for the specified chain.
func (t *Tracker) Latest(chain string) (Header, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.latest[chain]
	return h, exists
}

// LatestAny returns the most recently observed header across all chains.
func (t *Tracker) LatestAny() (Header, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best Header
	var found bool
	for _, h := range t.latest {
		if !found || h.Observed.After(best.Observed) {
			best = h
			found = true
		}
	}

	return best, found
}

// Recent returns a recently observed header by chain and height if it has
// not expired from the cache.
func (t *Tracker) Recent(chain string, height uint64) (Header, bool) {
	v, exists := t.recent.Get(fmt.Sprintf("%s/%d", chain, height))
	if !exists {
		return Header{}, false
	}

	return v.(Header), true
}

// Chains returns the set of chains a header has been observed for.
func (t *Tracker) Chains() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	chains := make([]string, 0, len(t.latest))
	for chain := range t.latest {
		chains = append(chains, chain)
	}

	return chains
}

// =============================================================================

// DoubleSHA256 computes the digest bitcoin-style chains identify an 80-byte
// header by.
func DoubleSHA256(raw []byte) []byte {
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	return second[:]
}

// KeccakDigest computes the digest EVM chains identify a header by.
func KeccakDigest(raw []byte) []byte {
	return ethcrypto.Keccak256(raw)
}
