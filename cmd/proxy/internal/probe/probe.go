package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/core"
)

const (
	DefaultPath          = "/ip"
	DefaultLookupURL     = "https://api.ipify.org?format=json"
	DefaultLookupTimeout = 5 * time.Second

	requestTimeout  = 5 * time.Second
	maxRequestBytes = 8 << 10
	maxLookupBytes  = 64 << 10
)

// RequestPrefix is the fixed byte prefix that classifies a connection as a
// probe, e.g. "GET /ip HTTP/1." for both HTTP/1.0 and HTTP/1.1 clients.
func RequestPrefix(path string) []byte {
	return []byte("GET " + path + " HTTP/1.")
}

// Lookuper performs the single outbound lookup behind a probe and returns a
// JSON document.
type Lookuper interface {
	Lookup(ctx context.Context) ([]byte, error)
}

// HTTPLookup fetches a JSON document with a GET request.
type HTTPLookup struct {
	Client *http.Client
	URL    string
}

func (l *HTTPLookup) Lookup(ctx context.Context) ([]byte, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", l.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup %s: unexpected status %s", l.URL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBytes))
	if err != nil {
		return nil, fmt.Errorf("lookup %s: read body: %w", l.URL, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("lookup %s: response is not valid JSON", l.URL)
	}
	return body, nil
}

// Responder answers a probe request with the lookup result: 200 with the
// JSON body, or 500 with a JSON error when the lookup fails. The caller
// closes the connection.
type Responder struct {
	Lookup  Lookuper
	Timeout time.Duration
}

func (r *Responder) Respond(ctx context.Context, conn net.Conn, buffered []byte) error {
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))
	if err := drainRequest(conn, buffered); err != nil {
		return fmt.Errorf("%w: read request: %w", core.ErrProbeFailed, err)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status := http.StatusOK
	body, lookupErr := r.Lookup.Lookup(lookupCtx)
	if lookupErr != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": lookupErr.Error()})
	}

	_ = conn.SetWriteDeadline(time.Now().Add(requestTimeout))
	if err := writeResponse(conn, status, body); err != nil {
		return fmt.Errorf("%w: write response: %w", core.ErrProbeFailed, err)
	}
	if lookupErr != nil {
		return fmt.Errorf("%w: %w", core.ErrProbeFailed, lookupErr)
	}
	return nil
}

// drainRequest consumes the rest of the request header so that closing the
// connection after the response does not reset it.
func drainRequest(conn net.Conn, buffered []byte) error {
	data := append([]byte(nil), buffered...)
	chunk := make([]byte, 1024)
	for {
		if bytes.Contains(data, []byte("\r\n\r\n")) || bytes.Contains(data, []byte("\n\n")) {
			return nil
		}
		if len(data) > maxRequestBytes {
			return fmt.Errorf("request header exceeds %d bytes", maxRequestBytes)
		}
		n, err := conn.Read(chunk)
		data = append(data, chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func writeResponse(w io.Writer, status int, body []byte) error {
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"application/json"}},
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		Close:         true,
	}
	return resp.Write(w)
}
