package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKey is the set holding allowed peer entries.
const DefaultKey = "xrelay:allowed-sources"

// Source reads the members of a Redis set once when the access list is built.
type Source struct {
	client goredis.Cmdable
	key    string
}

func NewSource(client goredis.Cmdable, key string) *Source {
	if key == "" {
		key = DefaultKey
	}
	return &Source{client: client, key: key}
}

func (s *Source) Name() string { return "redis" }

func (s *Source) Entries(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read set %s: %w", s.key, err)
	}
	return members, nil
}
