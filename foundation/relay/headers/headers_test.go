package headers_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blocksprint/relay/foundation/relay/headers"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================

func Test_Tracker(t *testing.T) {
	t.Log("Given the need to track the latest header per chain.")
	{
		t.Logf("\tTest 0:\tWhen observing headers in and out of order.")
		{
			tracker := headers.NewTracker()

			tracker.Observe(headers.Header{Chain: "bitcoin", Height: 100, Observed: time.Now()})
			tracker.Observe(headers.Header{Chain: "bitcoin", Height: 102, Observed: time.Now()})
			tracker.Observe(headers.Header{Chain: "bitcoin", Height: 101, Observed: time.Now()})

			h, exists := tracker.Latest("bitcoin")
			if !exists {
				t.Fatalf("\t%s\tTest 0:\tShould find a latest header.", failed)
			}
			if h.Height != 102 {
				t.Fatalf("\t%s\tTest 0:\tShould keep the highest header: got height %d", failed, h.Height)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the highest header.", success)

			if _, exists := tracker.Recent("bitcoin", 101); !exists {
				t.Fatalf("\t%s\tTest 0:\tShould keep out of order headers in the recent cache.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould keep out of order headers in the recent cache.", success)

			if _, exists := tracker.Latest("ethereum"); exists {
				t.Fatalf("\t%s\tTest 0:\tShould not report an unobserved chain.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not report an unobserved chain.", success)
		}

		t.Logf("\tTest 1:\tWhen observing headers across chains.")
		{
			tracker := headers.NewTracker()

			now := time.Now()
			tracker.Observe(headers.Header{Chain: "bitcoin", Height: 100, Observed: now.Add(-time.Minute)})
			tracker.Observe(headers.Header{Chain: "ethereum", Height: 9000, Observed: now})

			h, exists := tracker.LatestAny()
			if !exists || h.Chain != "ethereum" {
				t.Fatalf("\t%s\tTest 1:\tShould return the most recently observed header: got %+v", failed, h)
			}
			t.Logf("\t%s\tTest 1:\tShould return the most recently observed header.", success)

			if len(tracker.Chains()) != 2 {
				t.Fatalf("\t%s\tTest 1:\tShould report both chains.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould report both chains.", success)
		}
	}
}

func Test_Refresh(t *testing.T) {
	t.Log("Given the need to poll nodes for fresh headers.")
	{
		t.Logf("\tTest 0:\tWhen refreshing from a set of nodes.")
		{
			tracker := headers.NewTracker()
			nodes := []headers.Node{
				&headers.MockNode{Chain: "bitcoin", BaseHeight: 800_000},
				&headers.MockNode{Chain: "ethereum", BaseHeight: 18_000_000},
			}

			tracker.Refresh(context.Background(), nodes)
			tracker.Refresh(context.Background(), nodes)

			h, exists := tracker.Latest("bitcoin")
			if !exists || h.Height != 800_002 {
				t.Fatalf("\t%s\tTest 0:\tShould have advanced the bitcoin height: got %+v", failed, h)
			}
			t.Logf("\t%s\tTest 0:\tShould have advanced the bitcoin height.", success)

			if len(h.Raw) != 80 {
				t.Fatalf("\t%s\tTest 0:\tShould carry an 80 byte raw header: got %d", failed, len(h.Raw))
			}
			t.Logf("\t%s\tTest 0:\tShould carry an 80 byte raw header.", success)
		}
	}
}

func Test_HTTPNode(t *testing.T) {
	t.Log("Given the need to poll an HTTP source for the latest header.")
	{
		t.Logf("\tTest 0:\tWhen the source reports a header.")
		{
			raw := make([]byte, 80)
			for i := range raw {
				raw[i] = byte(i)
			}
			hash := headers.DoubleSHA256(raw)

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"hash":%q,"height":800100,"raw":%q}`,
					hex.EncodeToString(hash), hex.EncodeToString(raw))
			}))
			defer srv.Close()

			node := headers.NewHTTPNode("bitcoin", srv.URL)

			h, err := node.Latest(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to fetch the header: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to fetch the header.", success)

			if h.Chain != "bitcoin" || h.Height != 800_100 {
				t.Fatalf("\t%s\tTest 0:\tShould decode chain and height: got %+v", failed, h)
			}
			if len(h.Raw) != 80 || len(h.Hash) != 32 {
				t.Fatalf("\t%s\tTest 0:\tShould decode the hex fields: raw %d, hash %d", failed, len(h.Raw), len(h.Hash))
			}
			t.Logf("\t%s\tTest 0:\tShould decode every field.", success)

			// Feeding the refresh loop lands the header in the tracker.
			tracker := headers.NewTracker()
			tracker.Refresh(context.Background(), []headers.Node{node})

			if _, exists := tracker.Latest("bitcoin"); !exists {
				t.Fatalf("\t%s\tTest 0:\tShould feed the tracker through Refresh.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould feed the tracker through Refresh.", success)
		}

		t.Logf("\tTest 1:\tWhen the source is unhealthy.")
		{
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}))
			defer srv.Close()

			node := headers.NewHTTPNode("bitcoin", srv.URL)
			if _, err := node.Latest(context.Background()); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould report a non-200 response.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould report a non-200 response.", success)
		}

		t.Logf("\tTest 2:\tWhen the source reports malformed hex.")
		{
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"hash":"zzzz","height":1,"raw":"00"}`)
			}))
			defer srv.Close()

			node := headers.NewHTTPNode("bitcoin", srv.URL)
			if _, err := node.Latest(context.Background()); err == nil {
				t.Fatalf("\t%s\tTest 2:\tShould report malformed hex.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould report malformed hex.", success)
		}
	}
}

func Test_Digests(t *testing.T) {
	t.Log("Given the need to identify headers by their chain's digest.")
	{
		t.Logf("\tTest 0:\tWhen hashing known input.")
		{
			// DoubleSHA256 of an empty input is a fixed value.
			const want = "5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456"

			got := headers.DoubleSHA256(nil)
			if hex.EncodeToString(got) != want {
				t.Fatalf("\t%s\tTest 0:\tShould produce the known double digest: got %x", failed, got)
			}
			t.Logf("\t%s\tTest 0:\tShould produce the known double digest.", success)

			if len(headers.KeccakDigest([]byte("header"))) != 32 {
				t.Fatalf("\t%s\tTest 0:\tShould produce a 32 byte keccak digest.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould produce a 32 byte keccak digest.", success)
		}
	}
}
