package health_test

import (
	"testing"
	"time"

	"github.com/blocksprint/relay/foundation/relay/endpoint"
	"github.com/blocksprint/relay/foundation/relay/health"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================

func Test_Percentiles(t *testing.T) {
	t.Log("Given the need to report latency percentiles for an endpoint.")
	{
		t.Logf("\tTest 0:\tWhen recording a known latency distribution.")
		{
			tracker := health.New(health.DefaultWindow)
			ep := endpoint.New("node-a:8333", "tcp")

			for i := 1; i <= 100; i++ {
				tracker.Record(ep, health.OutcomeSuccess, time.Duration(i)*time.Millisecond)
			}

			snap := tracker.Snapshot(ep)

			if snap.SampleCount != 100 {
				t.Fatalf("\t%s\tTest 0:\tShould report 100 samples: got %d", failed, snap.SampleCount)
			}
			t.Logf("\t%s\tTest 0:\tShould report 100 samples.", success)

			if snap.P50 != 50*time.Millisecond {
				t.Fatalf("\t%s\tTest 0:\tShould report a p50 of 50ms: got %v", failed, snap.P50)
			}
			if snap.P95 != 95*time.Millisecond {
				t.Fatalf("\t%s\tTest 0:\tShould report a p95 of 95ms: got %v", failed, snap.P95)
			}
			if snap.P99 != 99*time.Millisecond {
				t.Fatalf("\t%s\tTest 0:\tShould report a p99 of 99ms: got %v", failed, snap.P99)
			}
			t.Logf("\t%s\tTest 0:\tShould report the expected percentiles.", success)

			if snap.ErrorRate != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould report a zero error rate: got %f", failed, snap.ErrorRate)
			}
			t.Logf("\t%s\tTest 0:\tShould report a zero error rate.", success)
		}

		t.Logf("\tTest 1:\tWhen an endpoint has no samples.")
		{
			tracker := health.New(health.DefaultWindow)
			snap := tracker.Snapshot(endpoint.New("node-z:8333", "tcp"))

			if snap.SampleCount != 0 || snap.P50 != 0 || snap.ErrorRate != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould report a zero snapshot: got %+v", failed, snap)
			}
			t.Logf("\t%s\tTest 1:\tShould report a zero snapshot.", success)
		}
	}
}

func Test_ErrorRate(t *testing.T) {
	t.Log("Given the need to report an error rate over the window.")
	{
		t.Logf("\tTest 0:\tWhen a quarter of requests fail.")
		{
			tracker := health.New(health.DefaultWindow)
			ep := endpoint.New("node-a:8333", "tcp")

			for i := 0; i < 100; i++ {
				outcome := health.OutcomeSuccess
				if i%4 == 0 {
					outcome = health.OutcomeFailure
				}
				tracker.Record(ep, outcome, 10*time.Millisecond)
			}

			snap := tracker.Snapshot(ep)
			if snap.ErrorRate != 0.25 {
				t.Fatalf("\t%s\tTest 0:\tShould report an error rate of 0.25: got %f", failed, snap.ErrorRate)
			}
			t.Logf("\t%s\tTest 0:\tShould report an error rate of 0.25.", success)
		}
	}
}

func Test_BoundedWindow(t *testing.T) {
	t.Log("Given the need to keep memory bounded under sustained traffic.")
	{
		t.Logf("\tTest 0:\tWhen recording far more samples than the window holds.")
		{
			const window = 1_000
			tracker := health.New(window)
			ep := endpoint.New("node-a:8333", "tcp")

			// The first 999_000 samples fail. Only the final window of
			// successes should remain visible.
			for i := 0; i < 1_000_000; i++ {
				outcome := health.OutcomeSuccess
				if i < 999_000 {
					outcome = health.OutcomeFailure
				}
				tracker.Record(ep, outcome, time.Millisecond)
			}

			snap := tracker.Snapshot(ep)

			if snap.SampleCount != window {
				t.Fatalf("\t%s\tTest 0:\tShould hold exactly %d samples: got %d", failed, window, snap.SampleCount)
			}
			t.Logf("\t%s\tTest 0:\tShould hold exactly %d samples.", success, window)

			if snap.ErrorRate != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould have evicted every failed sample: got error rate %f", failed, snap.ErrorRate)
			}
			t.Logf("\t%s\tTest 0:\tShould have evicted every failed sample.", success)
		}
	}
}
