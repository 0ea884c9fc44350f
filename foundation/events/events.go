// Package events allows clients to subscribe to the stream of operational
// events produced by the relay core (breaker transitions, pool activity,
// entropy downgrades).
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// messageBuffer is the per-subscriber channel depth. A message is dropped
// for a subscriber whose channel is full, so the buffer needs to cover the
// time a websocket write can take.
const messageBuffer = 100

// Events maintains a mapping of unique id and channels so goroutines
// can subscribe and receive relay events.
type Events struct {
	subscribers map[string]chan string
	mu          sync.RWMutex
	drops       uint64
}

// New constructs an Events for subscribing and receiving events.
func New() *Events {
	return &Events{
		subscribers: make(map[string]chan string),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.subscribers {
		delete(evt.subscribers, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.subscribers[id]
	if exists {
		return ch
	}

	evt.subscribers[id] = make(chan string, messageBuffer)
	return evt.subscribers[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.subscribers[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.subscribers, id)
	close(ch)
	return nil
}

// Send delivers a message to every subscribed channel. Send will not block
// waiting for a receiver on any given channel; a full channel drops the
// message and the drop is counted.
func (evt *Events) Send(s string) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.subscribers {
		select {
		case ch <- s:
		default:
			atomic.AddUint64(&evt.drops, 1)
		}
	}
}

// Drops reports how many messages have been dropped on full subscriber
// channels since construction.
func (evt *Events) Drops() uint64 {
	return atomic.LoadUint64(&evt.drops)
}
