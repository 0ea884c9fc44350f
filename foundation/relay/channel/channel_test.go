package channel_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blocksprint/relay/foundation/relay/breaker"
	"github.com/blocksprint/relay/foundation/relay/channel"
	"github.com/blocksprint/relay/foundation/relay/endpoint"
	"github.com/blocksprint/relay/foundation/relay/entropy"
	"github.com/blocksprint/relay/foundation/relay/health"
	"github.com/blocksprint/relay/foundation/relay/pool"
	"github.com/blocksprint/relay/foundation/relay/transport"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// =============================================================================

// flakyConn echoes payloads until its client is flipped to failing.
type flakyConn struct {
	client *flakyClient
}

func (c *flakyConn) Send(ctx context.Context, payload []byte) ([]byte, error) {
	if c.client.failing.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return payload, nil
}

func (c *flakyConn) Close() error {
	return nil
}

// flakyClient always dials but its connections fail on demand.
type flakyClient struct {
	failing atomic.Bool
}

func (c *flakyClient) Connect(ctx context.Context, ep endpoint.Endpoint) (transport.Conn, error) {
	return &flakyConn{client: c}, nil
}

// =============================================================================

type stubAdapter struct {
	src entropy.Source
}

func (a stubAdapter) Source() entropy.Source {
	return a.src
}

func (a stubAdapter) Collect(ctx context.Context) (entropy.Sample, error) {
	return entropy.Sample{
		Bytes:     []byte(fmt.Sprintf("sample-%s", a.src)),
		Source:    a.src,
		Collected: time.Now(),
		Quality:   80,
	}, nil
}

// =============================================================================

type harness struct {
	channel *channel.Channel
	client  *flakyClient
	clock   *clock.Mock
	ep      endpoint.Endpoint
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewMock()
	client := &flakyClient{}
	ep := endpoint.New("node-a:8333", "tcp")

	endpoints := endpoint.NewSet()
	endpoints.Add(ep)

	hlt := health.New(health.DefaultWindow)
	brk := breaker.New(breaker.Config{Clock: clk})

	p, err := pool.New(pool.Config{
		Endpoints: endpoints,
		Client:    client,
		Breaker:   brk,
		Health:    hlt,
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("constructing pool: %v", err)
	}

	eng, err := entropy.New(entropy.Config{
		Adapters: []entropy.Adapter{
			stubAdapter{src: entropy.SourceOSRandom},
			stubAdapter{src: entropy.SourceJitter},
		},
	})
	if err != nil {
		t.Fatalf("constructing entropy engine: %v", err)
	}

	ch, err := channel.New(channel.Config{
		Endpoints: endpoints,
		Pool:      p,
		Breaker:   brk,
		Health:    hlt,
		Entropy:   eng,
	})
	if err != nil {
		t.Fatalf("constructing channel: %v", err)
	}

	return &harness{channel: ch, client: client, clock: clk, ep: ep}
}

// =============================================================================

func Test_FetchLifecycle(t *testing.T) {
	t.Log("Given the need to fetch through the pool with breaker protection.")
	{
		t.Logf("\tTest 0:\tWhen the endpoint degrades, recovers and is probed.")
		{
			h := newHarness(t)

			payload := []byte("getheaders")
			resp, err := h.channel.Fetch(context.Background(), h.ep, payload)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to fetch: %v", failed, err)
			}
			if !bytes.Equal(resp, payload) {
				t.Fatalf("\t%s\tTest 0:\tShould get the response back.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to fetch.", success)

			// Three consecutive transport failures open the breaker.
			h.client.failing.Store(true)
			for i := 0; i < 3; i++ {
				_, err := h.channel.Fetch(context.Background(), h.ep, payload)
				if !errors.Is(err, channel.ErrConnectionFailed) {
					t.Fatalf("\t%s\tTest 0:\tShould report a connection failure: got %v", failed, err)
				}
				if kind := channel.ErrorKind(err); kind != channel.KindRetryNow {
					t.Fatalf("\t%s\tTest 0:\tShould classify transport failures retry-now: got %d", failed, kind)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould report each transport failure.", success)

			if state := h.channel.BreakerState(h.ep); state != breaker.StateOpen {
				t.Fatalf("\t%s\tTest 0:\tShould have opened the breaker: got %s", failed, state)
			}
			t.Logf("\t%s\tTest 0:\tShould have opened the breaker.", success)

			_, err = h.channel.Fetch(context.Background(), h.ep, payload)
			if !errors.Is(err, breaker.ErrOpen) {
				t.Fatalf("\t%s\tTest 0:\tShould fail fast while open: got %v", failed, err)
			}
			if kind := channel.ErrorKind(err); kind != channel.KindRetryLater {
				t.Fatalf("\t%s\tTest 0:\tShould classify a breaker rejection retry-later: got %d", failed, kind)
			}
			t.Logf("\t%s\tTest 0:\tShould fail fast while open.", success)

			// After the cooldown the probe fetch succeeds and closes the
			// breaker again.
			h.client.failing.Store(false)
			h.clock.Add(30 * time.Second)

			if _, err := h.channel.Fetch(context.Background(), h.ep, payload); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould succeed on the probe: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould succeed on the probe.", success)

			if state := h.channel.BreakerState(h.ep); state != breaker.StateClosed {
				t.Fatalf("\t%s\tTest 0:\tShould have closed the breaker: got %s", failed, state)
			}
			t.Logf("\t%s\tTest 0:\tShould have closed the breaker.", success)
		}

		t.Logf("\tTest 1:\tWhen fetch outcomes feed the health tracker.")
		{
			h := newHarness(t)

			for i := 0; i < 4; i++ {
				if _, err := h.channel.Fetch(context.Background(), h.ep, []byte("req")); err != nil {
					t.Fatalf("\t%s\tTest 1:\tShould be able to fetch: %v", failed, err)
				}
			}

			snap := h.channel.Health(h.ep)
			if snap.SampleCount != 4 {
				t.Fatalf("\t%s\tTest 1:\tShould have recorded 4 samples: got %d", failed, snap.SampleCount)
			}
			t.Logf("\t%s\tTest 1:\tShould have recorded every fetch.", success)

			if snap.ErrorRate != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould have a zero error rate: got %f", failed, snap.ErrorRate)
			}
			t.Logf("\t%s\tTest 1:\tShould have a zero error rate.", success)
		}
	}
}

func Test_Nonce(t *testing.T) {
	t.Log("Given the need to hand out nonce material in zeroizing buffers.")
	{
		t.Logf("\tTest 0:\tWhen requesting two nonces.")
		{
			h := newHarness(t)

			first, err := h.channel.Nonce(context.Background(), entropy.TierFast, 32)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to get a nonce: %v", failed, err)
			}
			defer first.Free()

			second, err := h.channel.Nonce(context.Background(), entropy.TierFast, 32)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to get a second nonce: %v", failed, err)
			}
			defer second.Free()
			t.Logf("\t%s\tTest 0:\tShould be able to get two nonces.", success)

			a, err := first.ReadToSlice()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the first nonce: %v", failed, err)
			}
			b, err := second.ReadToSlice()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the second nonce: %v", failed, err)
			}

			if len(a) != 32 || len(b) != 32 {
				t.Fatalf("\t%s\tTest 0:\tShould get 32 byte nonces: got %d and %d", failed, len(a), len(b))
			}
			t.Logf("\t%s\tTest 0:\tShould get 32 byte nonces.", success)

			if bytes.Equal(a, b) {
				t.Fatalf("\t%s\tTest 0:\tShould get distinct nonces.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould get distinct nonces.", success)

			first.Free()
			if _, err := first.ReadToSlice(); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould refuse reads after Free.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse reads after Free.", success)
		}
	}
}

func Test_ErrorKind(t *testing.T) {
	type table struct {
		name string
		err  error
		kind channel.Kind
	}

	tt := []table{
		{"entropy exhausted", fmt.Errorf("collecting: %w", entropy.ErrUnavailable), channel.KindFatal},
		{"breaker open", fmt.Errorf("endpoint x: %w", breaker.ErrOpen), channel.KindRetryLater},
		{"acquire timeout", fmt.Errorf("endpoint x: %w", pool.ErrAcquireTimeout), channel.KindRetryLater},
		{"pool shut down", pool.ErrShutdown, channel.KindRetryLater},
		{"transport failure", fmt.Errorf("%w: broken pipe", channel.ErrConnectionFailed), channel.KindRetryNow},
	}

	t.Log("Given the need to classify errors for caller backoff decisions.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen classifying %s.", testID, tst.name)
			{
				if kind := channel.ErrorKind(tst.err); kind != tst.kind {
					t.Fatalf("\t%s\tTest %d:\tShould classify as %d: got %d", failed, testID, tst.kind, kind)
				}
				t.Logf("\t%s\tTest %d:\tShould classify correctly.", success, testID)
			}
		}
	}
}
