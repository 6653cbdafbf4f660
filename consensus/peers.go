package consensus

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultPeerPort is used for peer addresses registered without a port.
const DefaultPeerPort = 5000

// PeerSet is the set of peers a node reconciles with. Addresses are stored
// as host:port. The set only grows through Add.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]struct{}
}

func NewPeerSet(addresses ...string) (*PeerSet, error) {
	ps := &PeerSet{peers: make(map[string]struct{})}
	for _, addr := range addresses {
		if _, err := ps.Add(addr); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// Add registers a peer and returns its normalized host:port form.
// Both URLs ("http://127.0.0.1:5001/") and bare addresses ("127.0.0.1:5001")
// are accepted; only the host and port are kept.
func (ps *PeerSet) Add(address string) (string, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.peers[normalized] = struct{}{}
	return normalized, nil
}

// Peers returns the registered peers in lexical order.
func (ps *PeerSet) Peers() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	peers := make([]string, 0, len(ps.peers))
	for p := range ps.peers {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// NormalizeAddress reduces a peer URL or address to host:port, using
// DefaultPeerPort when no port is given.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("empty peer address")
	}
	if strings.Contains(address, "://") {
		u, err := url.Parse(address)
		if err != nil {
			return "", fmt.Errorf("invalid peer address %q: %w", address, err)
		}
		address = u.Host
	}
	host, port, err := splitHostPort(address, DefaultPeerPort)
	if err != nil {
		return "", fmt.Errorf("invalid peer address %q: %w", address, err)
	}
	if host == "" {
		return "", fmt.Errorf("invalid peer address %q: missing host", address)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("invalid peer address %q: bad port %q", address, port)
	}
	return net.JoinHostPort(host, port), nil
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = addr + ":" + strconv.Itoa(defaultPort)
		host, port, err = net.SplitHostPort(addr)
		if err != nil {
			return "", "", err
		}
	}
	return host, port, nil
}
