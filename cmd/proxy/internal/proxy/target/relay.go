package target_proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/core"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultBufferSize     = 4096
)

// Engine connects to the destination and splices bytes between it and the
// client until either side closes.
type Engine struct {
	Dialer         core.Dialer
	ConnectTimeout time.Duration
	// IdleTimeout bounds each read and write of a forwarding direction.
	// The deadline is pushed forward on every chunk. Zero disables it.
	IdleTimeout time.Duration
	BufferSize  int
}

// Relay takes ownership of client. It returns once both forwarding directions
// have ended and both streams are closed. A nil error means both directions
// ended on end-of-stream or teardown.
func (e *Engine) Relay(ctx context.Context, log *slog.Logger, client net.Conn, target Target, payload []byte) error {
	addr := target.Address()

	dialCtx, cancel := context.WithTimeout(ctx, e.connectTimeout())
	defer cancel()

	log.Info("Connecting to target", "target", addr)
	backend, err := e.dialer().DialContext(dialCtx, "tcp", addr)
	if err != nil {
		closeConn(client)
		return fmt.Errorf("%w: %s: %w", core.ErrDestinationUnreachable, addr, err)
	}
	log.Info("Connected to target", "target", addr, "local_addr", backend.LocalAddr().String())

	p := newPair(client, backend)
	stop := context.AfterFunc(ctx, p.close)
	defer stop()

	// 1. Initial payload goes out before any forwarding starts
	if len(payload) > 0 {
		e.pushWriteDeadline(backend)
		if _, err := backend.Write(payload); err != nil {
			p.close()
			return fmt.Errorf("%w: %s: %w", core.ErrInitialPayloadWrite, addr, err)
		}
		p.touch()
		log.Debug("Forwarded initial payload", "bytes", len(payload), "direction", directionClientToTarget)
	}

	// 2. Pipe Data
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)

	go func() {
		defer wg.Done()
		errs[0] = e.forward(log, p, client, backend, directionClientToTarget)
	}()

	go func() {
		defer wg.Done()
		errs[1] = e.forward(log, p, backend, client, directionTargetToClient)
	}()

	wg.Wait()
	return errors.Join(errs...)
}

// forward copies src to dst one chunk at a time. Whatever ends the direction
// closes the whole pair, which unblocks the opposite direction.
//
// A read deadline that expires while the opposite direction is still moving
// data is not idleness: the deadline is pushed forward and the read retried.
func (e *Engine) forward(log *slog.Logger, p *pair, src, dst net.Conn, direction string) error {
	defer p.close()

	buf := make([]byte, e.bufferSize())
	for {
		e.pushReadDeadline(src, p)
		n, err := src.Read(buf)
		if n > 0 {
			p.touch()
			e.pushWriteDeadline(dst)
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return e.directionFailed(log, p, direction, "write", werr)
			}
			p.touch()
			log.Debug("Forwarded bytes", "bytes", n, "direction", direction)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Stream closed", "direction", direction)
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) && !p.tornDown() && p.idleFor() < e.IdleTimeout {
				continue
			}
			return e.directionFailed(log, p, direction, "read", err)
		}
	}
}

func (e *Engine) directionFailed(log *slog.Logger, p *pair, direction, op string, err error) error {
	if p.tornDown() && errors.Is(err, net.ErrClosed) {
		log.Debug("Stream stopped by teardown", "direction", direction)
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		log.Warn("Idle timeout", "direction", direction, "op", op, "timeout", e.IdleTimeout)
	} else {
		log.Error("Forwarding failed", "direction", direction, "op", op, "error", err)
	}
	return fmt.Errorf("%w: %s %s: %w", core.ErrRelayIO, direction, op, err)
}

// pushReadDeadline arms c to time out when the pair as a whole has been
// quiet for IdleTimeout.
func (e *Engine) pushReadDeadline(c net.Conn, p *pair) {
	if e.IdleTimeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(e.IdleTimeout - p.idleFor()))
	}
}

func (e *Engine) pushWriteDeadline(c net.Conn) {
	if e.IdleTimeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(e.IdleTimeout))
	}
}

func (e *Engine) dialer() core.Dialer {
	if e.Dialer != nil {
		return e.Dialer
	}
	return &net.Dialer{}
}

func (e *Engine) connectTimeout() time.Duration {
	if e.ConnectTimeout > 0 {
		return e.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (e *Engine) bufferSize() int {
	if e.BufferSize > 0 {
		return e.BufferSize
	}
	return DefaultBufferSize
}
