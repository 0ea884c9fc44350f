package headers

import (
	"context"
	"encoding/binary"
	"time"
)

// Node knows how to report the latest block header for one chain. The real
// implementations wrap chain RPC clients owned elsewhere in the system.
type Node interface {
	Latest(ctx context.Context) (Header, error)
}

// Refresh polls each node and records whatever it reports. Individual node
// failures are skipped; the tracker keeps serving the last known header.
func (t *Tracker) Refresh(ctx context.Context, nodes []Node) {
	for _, node := range nodes {
		h, err := node.Latest(ctx)
		if err != nil {
			continue
		}
		t.Observe(h)
	}
}

// =============================================================================

// MockNode provides a deterministic node implementation for testing. Each
// call advances the height by one and derives the header bytes from it.
type MockNode struct {
	Chain      string
	BaseHeight uint64
	calls      uint64
}

// Latest returns deterministic header data.
func (mn *MockNode) Latest(ctx context.Context) (Header, error) {
	mn.calls++
	height := mn.BaseHeight + mn.calls

	raw := make([]byte, 80)
	binary.BigEndian.PutUint64(raw[:8], height)
	for i := 8; i < len(raw); i++ {
		raw[i] = byte((int(height) + i) % 256)
	}

	return Header{
		Chain:    mn.Chain,
		Hash:     DoubleSHA256(raw),
		Height:   height,
		Raw:      raw,
		Observed: time.Now().UTC(),
	}, nil
}
