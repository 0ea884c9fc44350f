package entropy

import (
	"context"
	"crypto/rand"
	"time"
)

// osRandomBytes is how much raw material the OS adapter contributes per
// collection.
const osRandomBytes = 32

// OSRandom is the adapter for the operating system CSPRNG. It is the anchor
// source: it carries full quality and is the extraction key for mixing.
type OSRandom struct{}

// Source implements the Adapter interface.
func (OSRandom) Source() Source {
	return SourceOSRandom
}

// Collect reads from the OS CSPRNG. A failure here is the only adapter
// failure that can make a collection fatal.
func (OSRandom) Collect(ctx context.Context) (Sample, error) {
	b := make([]byte, osRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return Sample{}, err
	}

	return Sample{
		Bytes:     b,
		Source:    SourceOSRandom,
		Collected: time.Now().UTC(),
		Quality:   100,
	}, nil
}
