package main

import (
	"fmt"
	"net"
	"strings"
)

// guessIpAddress takes a base IP address and a partial address string,
// and fills in the missing octets from the base address.
func guessIpAddress(baseAddress net.IP, partialAddr string) (net.IP, error) {
	ip := make(net.IP, len(baseAddress))
	copy(ip, baseAddress)
	octets := strings.Split(partialAddr, ".")
	if len(octets) == 1 && octets[0] == "" {
		return ip, nil
	}
	if len(octets) > len(ip) {
		return net.IP{}, fmt.Errorf("too many octets in %q", partialAddr)
	}
	for i := 0; i < len(octets); i++ {
		var octet byte
		_, err := fmt.Sscanf(octets[i], "%d", &octet)
		if err != nil {
			return net.IP{}, err
		}
		ip[len(ip)-len(octets)+i] = octet
	}
	return ip, nil
}

// expandPeer completes a partial IPv4 peer address such as "42:5001" or
// "0.42" with the octets of base. URLs, host names and full addresses are
// returned unchanged.
func expandPeer(base net.IP, peer string) (string, error) {
	if strings.Contains(peer, "://") {
		return peer, nil
	}
	host, port, err := net.SplitHostPort(peer)
	if err != nil {
		host, port = peer, ""
	}
	if !isPartialIPv4(host) {
		return peer, nil
	}
	ip, err := guessIpAddress(base.To4(), host)
	if err != nil {
		return "", fmt.Errorf("invalid peer %q: %w", peer, err)
	}
	if port == "" {
		return ip.String(), nil
	}
	return net.JoinHostPort(ip.String(), port), nil
}

func isPartialIPv4(host string) bool {
	octets := strings.Split(host, ".")
	if host == "" || len(octets) >= 4 {
		return false
	}
	for _, o := range octets {
		if o == "" || strings.Trim(o, "0123456789") != "" {
			return false
		}
	}
	return true
}

// localIPv4 returns the first non-loopback IPv4 address of the host.
func localIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := ifi.Addrs()
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			default:
				continue
			}
			if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4, nil
			}
		}
	}
	return net.IPv4(127, 0, 0, 1).To4(), nil
}
