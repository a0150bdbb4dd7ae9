package admission

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed token_bucket.lua
var tokenBucketScript string

// Redis keeps buckets in Redis so several gateway replicas share balances.
// Refill and consume run as one Lua script.
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	scriptSHA string
	ttlFloor  time.Duration
}

var _ Backend = (*Redis)(nil)

func NewRedis(ctx context.Context, client redis.UniversalClient, prefix string) (*Redis, error) {
	if prefix == "" {
		prefix = "dg:bucket:"
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("admission redis ping: %w", err)
	}
	sha, err := client.ScriptLoad(ctx, tokenBucketScript).Result()
	if err != nil {
		return nil, fmt.Errorf("admission redis script load: %w", err)
	}
	return &Redis{client: client, prefix: prefix, scriptSHA: sha, ttlFloor: time.Second}, nil
}

func (r *Redis) Take(ctx context.Context, key string, lim Limit, cost float64, now time.Time) (Decision, error) {
	args := []any{
		lim.Capacity,
		lim.RefillPerSec,
		float64(now.UnixMicro()) / 1e6,
		cost,
		r.ttlFloor.Milliseconds(),
	}
	keys := []string{r.prefix + key}

	res, err := r.client.EvalSha(ctx, r.scriptSHA, keys, args...).Result()
	if err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT") {
		res, err = r.client.Eval(ctx, tokenBucketScript, keys, args...).Result()
	}
	if err != nil {
		return Decision{}, err
	}

	values, ok := res.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, errors.New("admission: unexpected token bucket reply")
	}
	allowed, _ := values[0].(int64)
	remaining := toFloat(values[1])
	retry := toFloat(values[2])

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retry * float64(time.Second)),
	}, nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}
