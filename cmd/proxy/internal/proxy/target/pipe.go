package target_proxy

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	directionClientToTarget = "client->target"
	directionTargetToClient = "target->client"
)

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// closeConn shuts down both directions of c where the transport supports it
// and then releases it. Errors are ignored: c may already be closed.
func closeConn(c net.Conn) {
	if c == nil {
		return
	}
	if hc, ok := c.(halfCloser); ok {
		_ = hc.CloseRead()
		_ = hc.CloseWrite()
	}
	_ = c.Close()
}

// pair is the client and target stream of one relay. close may be called
// from either forwarding direction; both streams are released exactly once.
type pair struct {
	client net.Conn
	target net.Conn

	once   sync.Once
	closed atomic.Bool

	// lastActive is the offset from created of the most recent chunk moved
	// in either direction.
	created    time.Time
	lastActive atomic.Int64
}

func newPair(client, target net.Conn) *pair {
	return &pair{client: client, target: target, created: time.Now()}
}

// touch records traffic on the pair.
func (p *pair) touch() {
	p.lastActive.Store(int64(time.Since(p.created)))
}

// idleFor is the time since the last chunk in either direction.
func (p *pair) idleFor() time.Duration {
	return time.Since(p.created) - time.Duration(p.lastActive.Load())
}

func (p *pair) close() {
	p.once.Do(func() {
		p.closed.Store(true)
		closeConn(p.client)
		closeConn(p.target)
	})
}

// tornDown reports whether close has started.
func (p *pair) tornDown() bool {
	return p.closed.Load()
}
