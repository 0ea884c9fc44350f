// Package endpoint maintains the set of configured upstream endpoints the
// relay is allowed to talk to.
package endpoint

import (
	"fmt"
	"sync"
)

// Endpoint identifies one upstream node by address and protocol. Endpoints
// are created at configuration load and are never removed while configured.
type Endpoint struct {
	Host     string
	Protocol string
}

// New constructs a new endpoint value.
func New(host string, protocol string) Endpoint {
	return Endpoint{
		Host:     host,
		Protocol: protocol,
	}
}

// String implements the fmt.Stringer interface.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Protocol, e.Host)
}

// Match validates if the specified host matches this endpoint.
func (e Endpoint) Match(host string) bool {
	return e.Host == host
}

// =============================================================================

// Set represents the data representation to maintain the set of configured
// endpoints.
type Set struct {
	mu  sync.RWMutex
	set map[Endpoint]struct{}
}

// NewSet constructs a new set to manage the configured endpoints.
func NewSet() *Set {
	return &Set{
		set: make(map[Endpoint]struct{}),
	}
}

// Add adds a new endpoint to the set.
func (s *Set) Add(ep Endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.set[ep]
	if !exists {
		s.set[ep] = struct{}{}
		return true
	}

	return false
}

// Contains reports whether the specified endpoint is configured.
func (s *Set) Contains(ep Endpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.set[ep]
	return exists
}

// Copy returns a list of the configured endpoints.
func (s *Set) Copy() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eps := make([]Endpoint, 0, len(s.set))
	for ep := range s.set {
		eps = append(eps, ep)
	}

	return eps
}

// Count reports the number of configured endpoints.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.set)
}
