// Package securebuf provides a fixed-capacity buffer for secret material
// that is zeroized when freed, so nonce and session bytes do not linger in
// memory after use.
package securebuf

import (
	"errors"
	"sync"
)

// Set of buffer errors.
var (
	ErrFreed    = errors.New("buffer has been freed")
	ErrCapacity = errors.New("data exceeds buffer capacity")
)

// Buffer holds up to a fixed number of secret bytes.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	n     int
	freed bool
}

// New constructs a buffer with the specified capacity.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}

	return &Buffer{
		data: make([]byte, capacity),
	}, nil
}

// Write replaces the buffer content with the provided data.
func (b *Buffer) Write(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.freed {
		return ErrFreed
	}
	if len(data) > len(b.data) {
		return ErrCapacity
	}

	// Clear out any previous content beyond the new length.
	for i := len(data); i < b.n; i++ {
		b.data[i] = 0
	}

	copy(b.data, data)
	b.n = len(data)
	return nil
}

// Read copies the buffer content into dst and reports how many bytes were
// copied.
func (b *Buffer) Read(dst []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.freed {
		return 0, ErrFreed
	}

	return copy(dst, b.data[:b.n]), nil
}

// ReadToSlice returns a copy of the buffer content. The caller owns the
// returned slice and its own zeroization.
func (b *Buffer) ReadToSlice() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.freed {
		return nil, ErrFreed
	}

	out := make([]byte, b.n)
	copy(out, b.data[:b.n])
	return out, nil
}

// Len reports the number of bytes currently stored.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.freed {
		return 0
	}
	return b.n
}

// Capacity reports the fixed capacity of the buffer.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Clone returns an independent buffer with the same capacity and content.
func (b *Buffer) Clone() (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.freed {
		return nil, ErrFreed
	}

	clone := &Buffer{
		data: make([]byte, len(b.data)),
		n:    b.n,
	}
	copy(clone.data, b.data[:b.n])
	return clone, nil
}

// Free zeroizes the content and marks the buffer unusable. Free is safe to
// call more than once.
func (b *Buffer) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.freed {
		return
	}

	for i := range b.data {
		b.data[i] = 0
	}
	b.n = 0
	b.freed = true
}
