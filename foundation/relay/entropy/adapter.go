package entropy

import (
	"context"
	"time"
)

// Source identifies one entropy source adapter.
type Source int

// Set of known entropy sources.
const (
	SourceOSRandom Source = iota
	SourceJitter
	SourceChainHeader
	SourceHardware
	SourceFingerprint
)

// String implements the fmt.Stringer interface.
func (s Source) String() string {
	switch s {
	case SourceOSRandom:
		return "osrandom"
	case SourceJitter:
		return "jitter"
	case SourceChainHeader:
		return "chainheader"
	case SourceHardware:
		return "hardware"
	case SourceFingerprint:
		return "fingerprint"
	default:
		return "unknown"
	}
}

// Tier represents a named entropy quality level governing which adapters
// must contribute.
type Tier int

// Set of entropy tiers in increasing quality order.
const (
	TierFast Tier = iota
	TierHybrid
	TierEnhanced
)

// String implements the fmt.Stringer interface.
func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierHybrid:
		return "hybrid"
	case TierEnhanced:
		return "enhanced"
	default:
		return "unknown"
	}
}

// ParseTier converts the string form of a tier back to its value.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "fast":
		return TierFast, true
	case "hybrid":
		return TierHybrid, true
	case "enhanced":
		return TierEnhanced, true
	}
	return 0, false
}

// Sources returns the source set the tier draws from.
func (t Tier) Sources() []Source {
	switch t {
	case TierFast:
		return []Source{SourceOSRandom, SourceJitter}
	case TierHybrid:
		return []Source{SourceOSRandom, SourceJitter, SourceChainHeader}
	default:
		return []Source{SourceOSRandom, SourceJitter, SourceChainHeader, SourceHardware, SourceFingerprint}
	}
}

// MinSources returns the minimum distinct source count the tier guarantees.
func (t Tier) MinSources() int {
	switch t {
	case TierFast:
		return 1
	case TierHybrid:
		return 2
	default:
		return 3
	}
}

// =============================================================================

// Sample represents the raw output of one adapter for one collection. A
// sample is immutable once produced and never leaves the engine unmixed.
type Sample struct {
	Bytes     []byte
	Source    Source
	Collected time.Time
	Quality   int
}

// Adapter is implemented by every entropy source. Adapters report their
// unavailability through the error return; the engine tolerates the absence
// or failure of any adapter by tier downgrade.
type Adapter interface {
	Source() Source
	Collect(ctx context.Context) (Sample, error)
}
