package memory

import (
	"context"
	"strings"
)

// Source is the static allow-list configured at startup.
type Source struct {
	entries []string
}

// NewSource creates a source from a comma-separated list.
// Format: "addr|cidr|hostname,..."
// Example: "127.0.0.1,::1,localhost,10.0.0.0/8"
func NewSource(list string) *Source {
	var entries []string
	for _, e := range strings.Split(list, ",") {
		if e = strings.TrimSpace(e); e != "" {
			entries = append(entries, e)
		}
	}
	return &Source{entries: entries}
}

func (s *Source) Name() string { return "static" }

func (s *Source) Entries(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.entries...), nil
}
