package entropy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"github.com/blocksprint/relay/foundation/relay/headers"
)

// ErrNoHeader is returned while no block header has been observed yet.
var ErrNoHeader = errors.New("no block header observed")

// staleAfter is the header age past which the adapter reports reduced
// quality. A stale header is still a usable input; the engine's mix counter
// keeps repeated collections between blocks from ever repeating output.
const staleAfter = 2 * time.Minute

// ChainHeader is the adapter for blockchain header entropy. Header contents
// are observable by an adversary, which the quality score reflects.
type ChainHeader struct {
	tracker *headers.Tracker
}

// NewChainHeader constructs a chain header adapter reading from the
// specified tracker.
func NewChainHeader(tracker *headers.Tracker) *ChainHeader {
	return &ChainHeader{
		tracker: tracker,
	}
}

// Source implements the Adapter interface.
func (c *ChainHeader) Source() Source {
	return SourceChainHeader
}

// Collect hashes the most recently observed header hash/height pair together
// with a fresh timestamp.
func (c *ChainHeader) Collect(ctx context.Context) (Sample, error) {
	h, ok := c.tracker.LatestAny()
	if !ok {
		return Sample{}, ErrNoHeader
	}

	now := time.Now()

	hash := sha256.New()
	hash.Write([]byte(h.Chain))
	hash.Write(h.Hash)
	hash.Write(h.Raw)

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h.Height)
	hash.Write(b[:])
	binary.BigEndian.PutUint64(b[:], uint64(now.UnixNano()))
	hash.Write(b[:])

	quality := 60
	if now.Sub(h.Observed) > staleAfter {
		quality = 40
	}

	return Sample{
		Bytes:     hash.Sum(nil),
		Source:    SourceChainHeader,
		Collected: now.UTC(),
		Quality:   quality,
	}, nil
}
