package probe

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/core"
)

func respondOverPipe(t *testing.T, r *Responder, buffered []byte, rest string) (*http.Response, string, error) {
	t.Helper()
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		defer server.Close()
		done <- r.Respond(context.Background(), server, buffered)
	}()

	if rest != "" {
		if _, err := io.WriteString(client, rest); err != nil {
			t.Fatalf("write rest of request: %v", err)
		}
	}

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	select {
	case err := <-done:
		return resp, string(body), err
	case <-time.After(3 * time.Second):
		t.Fatalf("Respond did not return")
		return nil, "", nil
	}
}

func TestRespondWithLookupBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ip":"203.0.113.7"}`)
	}))
	defer upstream.Close()

	r := &Responder{Lookup: &HTTPLookup{Client: upstream.Client(), URL: upstream.URL}}
	resp, body, err := respondOverPipe(t, r, []byte("1\r\nHost: relay\r\n\r\n"), "")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if body != `{"ip":"203.0.113.7"}` {
		t.Fatalf("body = %q", body)
	}
	if !resp.Close {
		t.Fatalf("expected Connection: close")
	}
}

func TestRespondReadsRestOfRequest(t *testing.T) {
	r := &Responder{Lookup: lookupFunc(func(context.Context) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})}
	resp, _, err := respondOverPipe(t, r, []byte("1\r\n"), "Host: relay\r\nAccept: */*\r\n\r\n")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRespondLookupFailureIs500(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusBadGateway)
	}))
	defer upstream.Close()

	r := &Responder{Lookup: &HTTPLookup{Client: upstream.Client(), URL: upstream.URL}}
	resp, body, err := respondOverPipe(t, r, []byte("1\r\n\r\n"), "")
	if !errors.Is(err, core.ErrProbeFailed) {
		t.Fatalf("expected probe failure, got %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"error"`) {
		t.Fatalf("expected JSON error body, got %q", body)
	}
}

func TestHTTPLookupRejectsInvalidJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "203.0.113.7")
	}))
	defer upstream.Close()

	l := &HTTPLookup{Client: upstream.Client(), URL: upstream.URL}
	if _, err := l.Lookup(context.Background()); err == nil {
		t.Fatalf("expected invalid JSON error")
	}
}

func TestRequestPrefix(t *testing.T) {
	if got := string(RequestPrefix("/ip")); got != "GET /ip HTTP/1." {
		t.Fatalf("prefix = %q", got)
	}
}

type lookupFunc func(context.Context) ([]byte, error)

func (f lookupFunc) Lookup(ctx context.Context) ([]byte, error) { return f(ctx) }
