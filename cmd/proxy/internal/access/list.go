// Package access holds the immutable set of peer addresses allowed to use
// the relay.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
)

// Source yields allow-list entries: IP literals, CIDR prefixes or host names.
type Source interface {
	Name() string
	Entries(ctx context.Context) ([]string, error)
}

// Resolver resolves host name entries. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// List is built once at startup and never modified afterwards, so Allowed
// needs no locking.
type List struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// Build collects the entries of every source and resolves them into a List.
func Build(ctx context.Context, resolver Resolver, log *slog.Logger, sources ...Source) (*List, error) {
	var entries []string
	for _, src := range sources {
		e, err := src.Entries(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load allow-list source %s: %w", src.Name(), err)
		}
		log.Info("Loaded allow-list source", "source", src.Name(), "entries", len(e))
		entries = append(entries, e...)
	}
	return New(ctx, resolver, entries)
}

// New parses entries. Host names are resolved to every address they map to;
// an entry that cannot be parsed or resolved is an error.
func New(ctx context.Context, resolver Resolver, entries []string) (*List, error) {
	l := &List{addrs: make(map[netip.Addr]struct{})}

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid allow-list prefix %q: %w", entry, err)
			}
			l.prefixes = append(l.prefixes, prefix.Masked())
			continue
		}

		if addr, err := netip.ParseAddr(entry); err == nil {
			l.add(addr)
			continue
		}

		if resolver == nil {
			return nil, fmt.Errorf("allow-list entry %q is a host name but no resolver is configured", entry)
		}
		addrs, err := resolver.LookupNetIP(ctx, "ip", entry)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve allow-list host %q: %w", entry, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("allow-list host %q resolved to no addresses", entry)
		}
		for _, addr := range addrs {
			l.add(addr)
		}
	}

	return l, nil
}

func (l *List) add(addr netip.Addr) {
	l.addrs[normalize(addr)] = struct{}{}
}

// Allowed reports whether addr is in the list.
func (l *List) Allowed(addr netip.Addr) bool {
	if l == nil || !addr.IsValid() {
		return false
	}
	addr = normalize(addr)
	if _, ok := l.addrs[addr]; ok {
		return true
	}
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Len is the number of distinct addresses plus prefixes.
func (l *List) Len() int {
	return len(l.addrs) + len(l.prefixes)
}

func normalize(addr netip.Addr) netip.Addr {
	return addr.Unmap().WithZone("")
}
