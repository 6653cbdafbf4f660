package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"
)

const (
	multicastIpAddress = "239.0.0.1"
	keyLength          = 8
	marker             = "darshcoin "
	maxPacketSize      = 1024
)

const (
	DefaultPort     uint16 = 53552
	DefaultInterval        = 5 * time.Second
)

// Discover announces the address of a node and collects the addresses
// announced by other nodes. Discovered entries are received on Entries
// after Start succeeds.
type Discover struct {
	Address  string
	Entries  chan Entry
	port     uint16
	interval time.Duration
	logger   *slog.Logger
	conn     *net.UDPConn
	sendConn *net.UDPConn
	key      []byte
	done     chan struct{}
}

// Entry is a single announcement received from another node.
type Entry struct {
	Address string
	Time    time.Time
}

type option func(Discover) Discover

func WithPort(port uint16) option {
	return func(d Discover) Discover {
		d.port = port
		return d
	}
}

// WithInterval sets the time between two announcements.
func WithInterval(interval time.Duration) option {
	return func(d Discover) Discover {
		d.interval = interval
		return d
	}
}

func WithLogger(logger *slog.Logger) option {
	return func(d Discover) Discover {
		d.logger = logger
		return d
	}
}

// New prepares the announcement of address. Nothing is sent before Start.
func New(address string, opts ...option) *Discover {
	d := Discover{
		Address:  address,
		port:     DefaultPort,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		d = opt(d)
	}
	return &d
}

// Start joins the multicast group and starts announcing and listening in
// the background.
func (d *Discover) Start() error {
	d.Entries = make(chan Entry, 10)
	d.key = []byte(fmt.Sprintf("%08x", rand.Uint32()))
	d.done = make(chan struct{})
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", multicastIpAddress, d.port))
	if err != nil {
		return err
	}
	d.conn, err = net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to join multicast group: %w", err)
	}
	d.sendConn, err = net.DialUDP("udp", nil, addr)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to dial multicast group: %w", err), d.conn.Close())
	}
	go d.listen()
	go d.announce()
	return nil
}

// Close stops announcing and listening. Entries is closed once the listener
// has returned.
func (d *Discover) Close() error {
	close(d.done)
	err1 := d.conn.Close()
	err2 := d.sendConn.Close()
	return errors.Join(err1, err2)
}

func (d *Discover) listen() {
	defer close(d.Entries)
	buffer := make([]byte, maxPacketSize)
	for {
		n, _, err := d.conn.ReadFromUDP(buffer)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.logger.Error("discovery listener stopped", "error", err.Error())
			}
			return
		}
		address, ok := decode(buffer[:n], d.key)
		if !ok {
			continue
		}
		select {
		case d.Entries <- Entry{Address: address, Time: time.Now()}:
		default:
			d.logger.Debug("discovery entry dropped", "address", address)
		}
	}
}

func (d *Discover) announce() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	packet := encode(d.key, d.Address)
	for {
		if _, err := d.sendConn.Write(packet); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.logger.Error("discovery announcer stopped", "error", err.Error())
			}
			return
		}
		select {
		case <-ticker.C:
		case <-d.done:
			return
		}
	}
}

func encode(key []byte, address string) []byte {
	packet := make([]byte, 0, len(key)+len(marker)+len(address))
	packet = append(packet, key...)
	packet = append(packet, marker...)
	return append(packet, address...)
}

// decode extracts the announced address of a packet. Packets sent with
// ownKey, foreign packets and empty announcements are rejected.
func decode(packet []byte, ownKey []byte) (string, bool) {
	if len(packet) < keyLength+len(marker) {
		return "", false
	}
	if bytes.Equal(packet[:keyLength], ownKey) {
		return "", false
	}
	body := packet[keyLength:]
	if !bytes.HasPrefix(body, []byte(marker)) {
		return "", false
	}
	address := string(body[len(marker):])
	if address == "" {
		return "", false
	}
	return address, true
}
