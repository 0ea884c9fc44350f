// Package transport defines the collaborator interface the pool uses to talk
// to upstream nodes, plus a length-prefixed TCP implementation of it.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/blocksprint/relay/foundation/relay/endpoint"
	"github.com/cenkalti/backoff/v4"
)

// maxFrame bounds the size of a single request or response frame.
const maxFrame = 16 << 20

// ErrFrameTooLarge is returned when a peer announces a frame beyond maxFrame.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Client knows how to open a transport connection to an endpoint. The pool
// owns the lifecycle of every Conn a Client produces.
type Client interface {
	Connect(ctx context.Context, ep endpoint.Endpoint) (Conn, error)
}

// Conn represents one live transport connection.
type Conn interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// =============================================================================

// TCPClient implements Client over plain TCP with 4-byte big-endian length
// prefixed frames. Dialing retries with exponential backoff until the
// context expires or the retry budget is spent.
type TCPClient struct {
	dialTimeout time.Duration
	maxRetries  uint64
}

// NewTCPClient constructs a TCP transport client.
func NewTCPClient(dialTimeout time.Duration, maxRetries uint64) *TCPClient {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	return &TCPClient{
		dialTimeout: dialTimeout,
		maxRetries:  maxRetries,
	}
}

// Connect opens a connection to the specified endpoint.
func (c *TCPClient) Connect(ctx context.Context, ep endpoint.Endpoint) (Conn, error) {
	var nc net.Conn

	op := func() error {
		d := net.Dialer{Timeout: c.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", ep.Host)
		if err != nil {
			return err
		}
		nc = conn
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}

	return &tcpConn{nc: nc}, nil
}

// =============================================================================

// tcpConn frames payloads over one TCP connection. A Conn is used by at most
// one caller at a time, which the pool guarantees.
type tcpConn struct {
	nc net.Conn
}

// Send writes one frame and reads one frame back, honoring the context
// deadline on both directions.
func (c *tcpConn) Send(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) > maxFrame {
		return nil, ErrFrameTooLarge
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.nc.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))
	if _, err := c.nc.Write(size[:]); err != nil {
		return nil, fmt.Errorf("write size: %w", err)
	}
	if _, err := c.nc.Write(payload); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}

	if _, err := io.ReadFull(c.nc, size[:]); err != nil {
		return nil, fmt.Errorf("read size: %w", err)
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > maxFrame {
		return nil, ErrFrameTooLarge
	}

	resp := make([]byte, n)
	if _, err := io.ReadFull(c.nc, resp); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return resp, nil
}

// Close closes the underlying network connection.
func (c *tcpConn) Close() error {
	return c.nc.Close()
}
