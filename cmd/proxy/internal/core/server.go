package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/logger"
)

// DefaultMaxConnections caps concurrently handled connections when
// Server.MaxConnections is not set.
const DefaultMaxConnections = 1024

// Server is the generic TCP relay server.
// It depends ONLY on interfaces, not concrete implementations.
// A nil Access rejects every peer.
type Server struct {
	Listener          net.Listener
	Access            AccessChecker
	ConnectionHandler ConnectionHandler
	Logger            *slog.Logger
	MaxConnections    int64

	nextID   atomic.Uint64
	active   atomic.Int64
	rejected atomic.Uint64
	handlers sync.WaitGroup
}

// Stats is a point-in-time view of the server counters.
type Stats struct {
	Active   int64  `json:"active_connections"`
	Accepted uint64 `json:"accepted_connections"`
	Rejected uint64 `json:"rejected_connections"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Active:   s.active.Load(),
		Accepted: s.nextID.Load(),
		Rejected: s.rejected.Load(),
	}
}

// Serve accepts connections until ctx is cancelled, in which case it closes
// the listener and returns nil. A slot of the connection semaphore is held
// from before Accept until the handler returns, so at most MaxConnections
// connections are in flight. Serve returns only after every handler it
// started has returned.
func (s *Server) Serve(ctx context.Context) error {
	defer s.handlers.Wait()

	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limit := s.MaxConnections
	if limit <= 0 {
		limit = DefaultMaxConnections
	}
	sem := semaphore.NewWeighted(limit)

	stop := context.AfterFunc(ctx, func() {
		s.Listener.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		conn, err := s.Listener.Accept()
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			s.Logger.Warn("Accept failed, retrying", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.dispatch(ctx, conn, sem)
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, sem *semaphore.Weighted) {
	peer := peerAddr(conn.RemoteAddr())
	s.Logger.Debug("Received connection", "peer", conn.RemoteAddr().String())

	if !peer.IsValid() || s.Access == nil || !s.Access.Allowed(peer.Addr()) {
		s.rejected.Add(1)
		s.Logger.Warn("Connection rejected", "peer", conn.RemoteAddr().String(), "error", ErrAccessDenied)
		conn.Close()
		sem.Release(1)
		return
	}

	id := s.nextID.Add(1)
	c := &Connection{
		ID:   id,
		Peer: peer,
		Conn: conn,
		Log:  logger.ForConnection(s.Logger, id),
	}
	c.Log.Info("Connection accepted", "peer", peer.String())

	s.active.Add(1)
	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		defer sem.Release(1)
		defer s.active.Add(-1)

		// Delegate the entire lifecycle to the handler
		if err := s.ConnectionHandler.HandleConnection(ctx, c); err != nil {
			c.Log.Warn("Connection closed with error", "kind", KindOf(err), "error", err)
			return
		}
		c.Log.Info("Connection closed")
	}()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		return time.Second
	}
	return d
}

func peerAddr(addr net.Addr) netip.AddrPort {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		ap := tcp.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
