package core

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
)

// Connection is one accepted inbound socket.
type Connection struct {
	// ID is assigned at accept time, starting at 1. It is only used to
	// correlate log lines.
	ID   uint64
	Peer netip.AddrPort
	Conn net.Conn
	// Log is tagged with the connection ID.
	Log *slog.Logger
}

// AccessChecker decides whether a peer address may use the relay.
type AccessChecker interface {
	Allowed(addr netip.Addr) bool
}

// ConnectionHandler takes full ownership of an accepted connection and must
// close it before returning. The returned error is classified with KindOf
// and logged by the server.
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, conn *Connection) error
}

// Dialer opens outbound connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ProbeResponder answers the fixed HTTP probe request locally. buffered holds
// the bytes already read past the probe request prefix.
type ProbeResponder interface {
	Respond(ctx context.Context, conn net.Conn, buffered []byte) error
}
