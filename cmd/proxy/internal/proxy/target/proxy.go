package target_proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/core"
)

type TargetProxy struct {
	Parser *Parser
	Engine *Engine
	// Probe answers connections classified as Probe. It must be set whenever
	// Parser.ProbePrefix is.
	Probe            core.ProbeResponder
	HandshakeTimeout time.Duration
}

// HandleConnection implements core.ConnectionHandler.
// It takes full ownership of the connection lifecycle.
func (p *TargetProxy) HandleConnection(ctx context.Context, c *core.Connection) error {
	conn := c.Conn

	// 1. Handshake
	if p.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(p.HandshakeTimeout))
	}
	// Shutdown wakes a handshake blocked on a silent peer.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	res, err := p.Parser.Parse(conn)
	if !stop() {
		closeConn(conn)
		c.Log.Debug("Handshake interrupted by shutdown")
		return nil
	}
	if err != nil {
		closeConn(conn)
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch res.Kind {
	case Probe:
		defer closeConn(conn)
		if p.Probe == nil {
			return fmt.Errorf("%w: probe path disabled", core.ErrMalformedHandshake)
		}
		c.Log.Info("Probe request received")
		return p.Probe.Respond(ctx, conn, res.Payload)

	case Relay:
		// 2. Relay until either side closes
		c.Log.Info("Relay requested", "target", res.Target.Address(), "payload_bytes", len(res.Payload))
		return p.Engine.Relay(ctx, c.Log, conn, res.Target, res.Payload)

	default:
		closeConn(conn)
		return fmt.Errorf("%w: unclassified handshake", core.ErrMalformedHandshake)
	}
}
