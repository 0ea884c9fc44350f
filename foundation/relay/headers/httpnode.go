package headers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPNode polls an HTTP source that reports the latest block header for
// one chain as JSON: {"hash": hex, "height": n, "raw": hex}. Chain indexers
// and node sidecars expose this shape.
type HTTPNode struct {
	Chain  string
	URL    string
	Client *http.Client
}

// NewHTTPNode constructs a node polling the specified URL for the
// specified chain.
func NewHTTPNode(chain string, url string) *HTTPNode {
	return &HTTPNode{
		Chain:  chain,
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Latest fetches and decodes the source's current header.
func (n *HTTPNode) Latest(ctx context.Context) (Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.URL, nil)
	if err != nil {
		return Header{}, fmt.Errorf("constructing request: %w", err)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return Header{}, fmt.Errorf("polling %s: %w", n.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Header{}, fmt.Errorf("polling %s: status %s", n.URL, resp.Status)
	}

	var doc struct {
		Hash   string `json:"hash"`
		Height uint64 `json:"height"`
		Raw    string `json:"raw"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Header{}, fmt.Errorf("decoding header: %w", err)
	}

	hash, err := hex.DecodeString(doc.Hash)
	if err != nil {
		return Header{}, fmt.Errorf("decoding hash: %w", err)
	}

	raw, err := hex.DecodeString(doc.Raw)
	if err != nil {
		return Header{}, fmt.Errorf("decoding raw header: %w", err)
	}

	return Header{
		Chain:    n.Chain,
		Hash:     hash,
		Height:   doc.Height,
		Raw:      raw,
		Observed: time.Now().UTC(),
	}, nil
}
