// Package discovery lets darshcoin nodes on the same LAN find each other
// through UDP multicast.
//
// Every node periodically announces its advertised host:port to the group
// 239.0.0.1 and listens for the announcements of the others:
//
//	d := discovery.New("192.168.1.10:5003", discovery.WithPort(53552))
//	if err := d.Start(); err != nil {
//		return err
//	}
//	defer d.Close()
//
//	for entry := range d.Entries {
//		peers.Add(entry.Address)
//	}
//
// Behavior:
//   - Each instance prefixes its packets with a random 8-byte key to filter
//     out its own announcements.
//   - Packets without the darshcoin marker are ignored.
//   - Entries are dropped, not queued, when the consumer falls behind.
//   - Network errors stop the goroutine that hit them and are logged.
package discovery
