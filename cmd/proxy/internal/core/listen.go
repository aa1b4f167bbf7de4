package core

import (
	"context"
	"net"
	"net/netip"
	"strings"
)

// ListenNetwork picks the address family from the bind host's syntax:
// anything containing a colon is treated as IPv6. The unspecified IPv6
// address binds a dual-stack socket, so IPv4 peers are accepted on it too.
func ListenNetwork(host string) string {
	if addr, err := netip.ParseAddr(host); err == nil && addr.Is6() && addr.IsUnspecified() {
		return "tcp"
	}
	if strings.Contains(host, ":") {
		return "tcp6"
	}
	return "tcp4"
}

// Listen binds the relay listener with SO_REUSEADDR set.
func Listen(ctx context.Context, host, port string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	return lc.Listen(ctx, ListenNetwork(host), net.JoinHostPort(host, port))
}
