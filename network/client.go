package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/luca-patrignani/darshcoin/consensus"
)

// DefaultMaxChainSize is the largest /get_chain body a Client accepts.
const DefaultMaxChainSize int64 = 64 << 20

// Client fetches chains from peers. It implements consensus.Fetcher.
type Client struct {
	client  *http.Client
	scheme  string
	maxSize int64
}

func NewClient(opts ...clientOption) Client {
	c := Client{
		client:  &http.Client{Timeout: consensus.DefaultFetchTimeout},
		scheme:  "http",
		maxSize: DefaultMaxChainSize,
	}
	for _, opt := range opts {
		c = opt(c)
	}
	return c
}

// FetchChain asks the peer at address (host:port) for its chain.
func (c Client) FetchChain(ctx context.Context, address string) (consensus.PeerChain, error) {
	url := c.scheme + "://" + address + "/get_chain"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return consensus.PeerChain{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return consensus.PeerChain{}, fmt.Errorf("failed to reach peer %s: %w", address, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return consensus.PeerChain{}, fmt.Errorf("peer %s answered with status code %d", address, resp.StatusCode)
	}
	body := &io.LimitedReader{R: resp.Body, N: c.maxSize + 1}
	var chain consensus.PeerChain
	if err := json.NewDecoder(body).Decode(&chain); err != nil {
		if body.N <= 0 {
			return consensus.PeerChain{}, fmt.Errorf("chain of peer %s exceeds %d bytes", address, c.maxSize)
		}
		return consensus.PeerChain{}, fmt.Errorf("failed to decode chain of peer %s: %w", address, err)
	}
	return chain, nil
}
