package public

import "time"

// entropyRequest represents the query parameters for an entropy collection.
type entropyRequest struct {
	Tier   string `json:"tier" validate:"omitempty,oneof=fast hybrid enhanced"`
	Length int    `json:"length" validate:"required,min=1,max=4096"`
}

// entropyResponse returns mixed entropy to the caller. The served tier may
// be lower than requested when adapters were unavailable.
type entropyResponse struct {
	Bytes     string `json:"bytes"`
	Requested string `json:"requested_tier"`
	Served    string `json:"served_tier"`
	Quality   int    `json:"quality"`
	Sources   int    `json:"sources_active"`
}

// endpointStatus represents one endpoint in the status response.
type endpointStatus struct {
	Endpoint    string        `json:"endpoint"`
	Breaker     string        `json:"breaker"`
	P50         time.Duration `json:"p50_ns"`
	P95         time.Duration `json:"p95_ns"`
	P99         time.Duration `json:"p99_ns"`
	ErrorRate   float64       `json:"error_rate"`
	SampleCount int           `json:"sample_count"`
}

// statusResponse represents the pool and breaker overview.
type statusResponse struct {
	Live      int              `json:"live_connections"`
	InUse     int              `json:"in_use"`
	Idle      int              `json:"idle"`
	Endpoints []endpointStatus `json:"endpoints"`
}
