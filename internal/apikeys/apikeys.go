// Package apikeys answers whether a client token is registered.
package apikeys

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Guest is accepted by every registry.
const Guest = "guest"

type Registry interface {
	Valid(ctx context.Context, token string) (bool, error)
}

// Static is a fixed key set, typically from API_KEYS.
type Static map[string]struct{}

func NewStatic(keys ...string) Static {
	s := make(Static, len(keys)+1)
	s[Guest] = struct{}{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

// ParseStatic reads a comma separated key list.
func ParseStatic(csv string) Static { return NewStatic(strings.Split(csv, ",")...) }

func (s Static) Valid(_ context.Context, token string) (bool, error) {
	_, ok := s[token]
	return ok, nil
}

// Redis checks membership in a Redis set so keys can be issued without a
// restart.
type Redis struct {
	rdb redis.UniversalClient
	set string
}

func NewRedis(rdb redis.UniversalClient, set string) *Redis {
	if set == "" {
		set = "dg:apikeys"
	}
	return &Redis{rdb: rdb, set: set}
}

func (r *Redis) Valid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	if token == Guest {
		return true, nil
	}
	ok, err := r.rdb.SIsMember(ctx, r.set, token).Result()
	if err != nil {
		return false, fmt.Errorf("apikeys sismember: %w", err)
	}
	return ok, nil
}

// Add registers keys; used by provisioning scripts and tests.
func (r *Redis) Add(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := r.rdb.SAdd(ctx, r.set, members...).Err(); err != nil {
		return fmt.Errorf("apikeys sadd: %w", err)
	}
	return nil
}
