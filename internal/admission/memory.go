package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const numShards = 64

// Bucket is one client's token state.
type Bucket struct {
	Tokens     float64
	Limit      Limit
	LastRefill time.Time
}

// Memory keeps buckets in process. Each shard is single-writer so refill and
// consume for a key happen under one lock.
type Memory struct {
	shards [numShards]bucketShard
}

type bucketShard struct {
	mu sync.Mutex
	m  map[string]*Bucket
}

var _ Backend = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i].m = make(map[string]*Bucket)
	}
	return m
}

func (m *Memory) Take(_ context.Context, key string, lim Limit, cost float64, now time.Time) (Decision, error) {
	s := m.pick(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.m[key]
	if b == nil {
		b = &Bucket{Tokens: lim.Capacity, Limit: lim, LastRefill: now}
		s.m[key] = b
	}
	b.Limit = lim
	b.Tokens = refill(b.Tokens, b.LastRefill, now, lim)
	if now.After(b.LastRefill) {
		b.LastRefill = now
	}

	if cost > b.Tokens {
		return Decision{Remaining: b.Tokens, RetryAfter: retryAfter(cost-b.Tokens, lim)}, nil
	}
	b.Tokens -= cost
	return Decision{Allowed: true, Remaining: b.Tokens}, nil
}

// Peek returns a copy of key's bucket as of now without creating it.
func (m *Memory) Peek(key string, now time.Time) (Bucket, bool) {
	s := m.pick(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.m[key]
	if b == nil {
		return Bucket{}, false
	}
	out := *b
	out.Tokens = refill(b.Tokens, b.LastRefill, now, b.Limit)
	return out, true
}

// Sweep drops buckets that would be full again by now; a dropped bucket is
// indistinguishable from a fresh one.
func (m *Memory) Sweep(now time.Time) int {
	dropped := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, b := range s.m {
			if refill(b.Tokens, b.LastRefill, now, b.Limit) >= b.Limit.Capacity {
				delete(s.m, k)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}

// RunJanitor sweeps every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := m.Sweep(now); n > 0 && log != nil {
				log.Debug("admission buckets swept", "dropped", n, "remaining", m.Size())
			}
		}
	}
}

func (m *Memory) Size() int {
	total := 0
	for i := range m.shards {
		m.shards[i].mu.Lock()
		total += len(m.shards[i].m)
		m.shards[i].mu.Unlock()
	}
	return total
}

func (m *Memory) pick(key string) *bucketShard {
	h := xxhash.Sum64String(key)
	return &m.shards[h&(numShards-1)]
}
