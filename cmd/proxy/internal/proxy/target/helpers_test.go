package target_proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/logger"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string {
	return string(b.Bytes())
}

func testLogger(w io.Writer) *slog.Logger {
	return logger.ForConnection(slog.New(logger.NewHandler(w, slog.LevelDebug)), 1)
}

// destination is a loopback listener that serves one connection with fn and
// records everything it received.
type destination struct {
	ln       net.Listener
	received syncBuffer
	conns    chan net.Conn
	done     chan struct{}
}

func startDestination(t *testing.T, fn func(conn net.Conn, d *destination)) *destination {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen destination: %v", err)
	}
	d := &destination{ln: ln, conns: make(chan net.Conn, 1), done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })

	go func() {
		defer close(d.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		d.conns <- conn
		defer conn.Close()
		fn(conn, d)
	}()
	return d
}

func (d *destination) target() Target {
	addr := d.ln.Addr().(*net.TCPAddr)
	return Target{Host: "127.0.0.1", Port: uint16(addr.Port)}
}

func (d *destination) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("destination connection was not closed")
	}
}

// echo writes back every chunk it reads, transformed by fn.
func echo(fn func([]byte) []byte) func(net.Conn, *destination) {
	return func(conn net.Conn, d *destination) {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				d.received.Write(buf[:n])
				if _, werr := conn.Write(fn(buf[:n])); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
}

func identity(b []byte) []byte { return b }

// socketPair returns both ends of a loopback TCP connection.
func socketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- conn
	}()

	peer, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	local := <-accepted
	if local == nil {
		t.Fatalf("accept failed")
	}
	t.Cleanup(func() {
		peer.Close()
		local.Close()
	})
	return peer, local
}
