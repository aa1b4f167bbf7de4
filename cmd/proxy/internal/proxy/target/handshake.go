package target_proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/core"
)

const (
	// DefaultMaxHeaderBytes bounds the bytes accepted before the end-of-header
	// marker.
	DefaultMaxHeaderBytes = 64 << 10

	commandPrefix = "TARGET "
	readChunkSize = 1024
)

var headerTerminator = []byte("\n\n")

// Kind classifies the first bytes of a connection.
type Kind int

const (
	Malformed Kind = iota
	Relay
	Probe
)

func (k Kind) String() string {
	switch k {
	case Relay:
		return "relay"
	case Probe:
		return "probe"
	default:
		return "malformed"
	}
}

// Target is the destination named by a TARGET command.
type Target struct {
	Host string
	Port uint16
}

// Address returns host:port, bracketing IPv6 literals.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// Result is the outcome of reading a handshake. For Relay, Payload holds the
// bytes after the header; for Probe, the bytes after the probe prefix.
type Result struct {
	Kind    Kind
	Target  Target
	Payload []byte
}

// Parser reads the handshake from a raw stream:
//
//	TARGET <host>:<port>\n\n<optional initial payload>
//
// A nil ProbePrefix disables probe classification.
type Parser struct {
	ProbePrefix    []byte
	MaxHeaderBytes int
}

// Parse accumulates bytes until the stream is classified. Every Malformed
// result comes with an error wrapping core.ErrMalformedHandshake, including
// the peer closing before the header is complete.
func (p *Parser) Parse(r io.Reader) (Result, error) {
	limit := p.MaxHeaderBytes
	if limit <= 0 {
		limit = DefaultMaxHeaderBytes
	}

	// The probe prefix is matched against the start of the stream only.
	// Once the accumulated bytes diverge from it the check is never repeated.
	probeCandidate := len(p.ProbePrefix) > 0

	var data []byte
	chunk := make([]byte, readChunkSize)
	scanFrom := 0
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)

			if probeCandidate {
				if bytes.HasPrefix(data, p.ProbePrefix) {
					return Result{Kind: Probe, Payload: data[len(p.ProbePrefix):]}, nil
				}
				if !bytes.HasPrefix(p.ProbePrefix, data) {
					probeCandidate = false
				}
			}

			if i := bytes.Index(data[scanFrom:], headerTerminator); i >= 0 {
				i += scanFrom
				if i > limit {
					return malformed("header exceeds %d bytes", limit)
				}
				return parseHeader(data[:i], data[i+len(headerTerminator):])
			}
			if len(data) > limit {
				return malformed("header exceeds %d bytes", limit)
			}
			// the marker may straddle two reads
			scanFrom = len(data) - len(headerTerminator) + 1
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return malformed("connection closed before end of header (%d bytes read)", len(data))
			}
			return malformed("read handshake: %w", err)
		}
	}
}

func parseHeader(header, body []byte) (Result, error) {
	text := strings.TrimSpace(strings.ToValidUTF8(string(header), ""))

	cmd, ok := strings.CutPrefix(text, commandPrefix)
	if !ok {
		return malformed("invalid command %q", truncate(text, 64))
	}

	host, portStr, err := net.SplitHostPort(strings.TrimSpace(cmd))
	if err != nil {
		return malformed("invalid target %q: %v", truncate(cmd, 64), err)
	}
	if host == "" {
		return malformed("empty host in target %q", cmd)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return malformed("invalid port %q", truncate(portStr, 16))
	}

	return Result{
		Kind:    Relay,
		Target:  Target{Host: host, Port: uint16(port)},
		Payload: body,
	}, nil
}

func malformed(format string, args ...any) (Result, error) {
	return Result{Kind: Malformed}, fmt.Errorf("%w: "+format, append([]any{core.ErrMalformedHandshake}, args...)...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
