package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"testing"
)

type fakeResolver map[string][]netip.Addr

func (r fakeResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	addrs, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

type staticSource []string

func (s staticSource) Name() string { return "test" }

func (s staticSource) Entries(context.Context) ([]string, error) { return s, nil }

type failingSource struct{}

func (failingSource) Name() string { return "broken" }

func (failingSource) Entries(context.Context) ([]string, error) {
	return nil, errors.New("unavailable")
}

var resolver = fakeResolver{
	"localhost": {netip.MustParseAddr("127.0.0.1"), netip.MustParseAddr("::1")},
}

func TestLiteralAndResolvedEntries(t *testing.T) {
	l, err := New(context.Background(), resolver, []string{"95.31.142.219", " localhost ", ""})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, addr := range []string{"95.31.142.219", "127.0.0.1", "::1"} {
		if !l.Allowed(netip.MustParseAddr(addr)) {
			t.Fatalf("%s should be allowed", addr)
		}
	}
	if l.Allowed(netip.MustParseAddr("10.0.0.1")) {
		t.Fatalf("10.0.0.1 must be denied")
	}
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
}

func TestMappedAndZonedAddresses(t *testing.T) {
	l, err := New(context.Background(), nil, []string{"127.0.0.1", "fe80::1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Allowed(netip.MustParseAddr("::ffff:127.0.0.1")) {
		t.Fatalf("IPv4-mapped loopback should be allowed")
	}
	if !l.Allowed(netip.MustParseAddr("fe80::1%eth0")) {
		t.Fatalf("zoned address should match its unzoned entry")
	}
}

func TestPrefixEntries(t *testing.T) {
	l, err := New(context.Background(), nil, []string{"10.1.2.3/16"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Allowed(netip.MustParseAddr("10.1.200.9")) {
		t.Fatalf("address inside prefix should be allowed")
	}
	if l.Allowed(netip.MustParseAddr("10.2.0.1")) {
		t.Fatalf("address outside prefix must be denied")
	}
}

func TestUnresolvableEntryIsAnError(t *testing.T) {
	if _, err := New(context.Background(), resolver, []string{"missing.example"}); err == nil {
		t.Fatalf("expected resolution error")
	}
	if _, err := New(context.Background(), nil, []string{"localhost"}); err == nil {
		t.Fatalf("expected error without resolver")
	}
	if _, err := New(context.Background(), nil, []string{"10.0.0.0/99"}); err == nil {
		t.Fatalf("expected prefix parse error")
	}
}

func TestBuildMergesSources(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := Build(context.Background(), resolver, log, staticSource{"10.0.0.1"}, staticSource{"localhost"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !l.Allowed(netip.MustParseAddr("10.0.0.1")) || !l.Allowed(netip.MustParseAddr("::1")) {
		t.Fatalf("entries from both sources should be allowed")
	}

	if _, err := Build(context.Background(), resolver, log, failingSource{}); err == nil {
		t.Fatalf("expected source error")
	}
}

func TestEmptyListDeniesEverything(t *testing.T) {
	l, err := New(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Allowed(netip.MustParseAddr("127.0.0.1")) {
		t.Fatalf("empty list must deny")
	}
	var nilList *List
	if nilList.Allowed(netip.MustParseAddr("127.0.0.1")) {
		t.Fatalf("nil list must deny")
	}
}
