package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/ocean-datagate/internal/qerr"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var tiers = map[Tier]Limit{
	TierKey:  {Capacity: 100, RefillPerSec: 1},
	TierAnon: {Capacity: 10, RefillPerSec: 0.5},
}

func newMemController(t *testing.T) (*Controller, *Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	mem := NewMemory()
	c, err := NewController(mem, tiers, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, mem, clk
}

// newMiniBackend returns a Redis backend on miniredis.
func newMiniBackend(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := NewRedis(ctx, rdb, "")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	return r, mr
}

func TestAdmit_DeductsExactlyCost(t *testing.T) {
	c, mem, clk := newMemController(t)
	id := Identity{Tier: TierKey, Key: "abc"}

	d, err := c.Admit(context.Background(), id, 12.5)
	if err != nil || !d.Allowed {
		t.Fatalf("admit: %+v err=%v", d, err)
	}
	b, ok := mem.Peek(id.String(), clk.Now())
	if !ok || b.Tokens != 87.5 {
		t.Fatalf("tokens=%v want 87.5", b.Tokens)
	}
}

func TestAdmit_RejectionLeavesBalanceUnchanged(t *testing.T) {
	c, mem, clk := newMemController(t)
	id := Identity{Tier: TierKey, Key: "abc"}
	ctx := context.Background()

	if _, err := c.Admit(ctx, id, 90); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	before, _ := mem.Peek(id.String(), clk.Now())

	d, err := c.Admit(ctx, id, 50)
	if !qerr.Is(err, qerr.KindThrottle) || d.Allowed {
		t.Fatalf("expected throttle, got %+v err=%v", d, err)
	}
	if d.RetryAfter != 40*time.Second {
		t.Fatalf("retryAfter=%v want 40s", d.RetryAfter)
	}
	after, _ := mem.Peek(id.String(), clk.Now())
	if before.Tokens != after.Tokens {
		t.Fatalf("rejection changed balance: %v -> %v", before.Tokens, after.Tokens)
	}
}

func TestAdmit_RefillAllowsRetry(t *testing.T) {
	c, _, clk := newMemController(t)
	id := Identity{Tier: TierKey, Key: "abc"}
	ctx := context.Background()

	if _, err := c.Admit(ctx, id, 100); err != nil {
		t.Fatalf("full bucket should afford capacity: %v", err)
	}
	if _, err := c.Admit(ctx, id, 100); !qerr.Is(err, qerr.KindThrottle) {
		t.Fatalf("immediate repeat should be throttled, got %v", err)
	}
	clk.Advance(100 * time.Second)
	if _, err := c.Admit(ctx, id, 100); err != nil {
		t.Fatalf("refilled bucket should admit: %v", err)
	}
}

func TestAdmit_CostAboveCapacityIsScope(t *testing.T) {
	c, mem, _ := newMemController(t)
	id := Identity{Tier: TierAnon, Key: "10.0.0.1"}

	_, err := c.Admit(context.Background(), id, 11)
	if !qerr.Is(err, qerr.KindScope) {
		t.Fatalf("expected scope error, got %v", err)
	}
	if mem.Size() != 0 {
		t.Fatal("scope rejection must not create a bucket")
	}
}

func TestAdmit_UnknownTierUsesAnon(t *testing.T) {
	c, _, _ := newMemController(t)
	if l := c.LimitFor(Identity{Tier: "partner"}); l != tiers[TierAnon] {
		t.Fatalf("limit=%+v", l)
	}
}

func TestAdmit_ConcurrentSameClientNeverOverAdmits(t *testing.T) {
	c, _, _ := newMemController(t)
	id := Identity{Tier: TierKey, Key: "burst"}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Admit(context.Background(), id, 10); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if admitted.Load() != 10 {
		t.Fatalf("admitted=%d want 10", admitted.Load())
	}
}

type recordObserver struct {
	mu  sync.Mutex
	got []Decision
}

func (r *recordObserver) Observe(_ context.Context, _ Identity, d Decision) {
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
}

func TestAdmit_ObserverSeesBothOutcomes(t *testing.T) {
	obs := &recordObserver{}
	clk := &fakeClock{t: time.Unix(0, 0)}
	c, err := NewController(NewMemory(), tiers, WithClock(clk.Now), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}
	id := Identity{Tier: TierAnon, Key: "ip"}
	_, _ = c.Admit(context.Background(), id, 10)
	_, _ = c.Admit(context.Background(), id, 10)
	if len(obs.got) != 2 || !obs.got[0].Allowed || obs.got[1].Allowed || obs.got[1].Cost != 10 {
		t.Fatalf("unexpected observations %+v", obs.got)
	}
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(NewMemory(), map[Tier]Limit{TierKey: {Capacity: 1, RefillPerSec: 1}}); err == nil {
		t.Fatal("expected error without anon tier")
	}
	if _, err := NewController(NewMemory(), map[Tier]Limit{TierAnon: {Capacity: 0, RefillPerSec: 1}}); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestMemory_SweepDropsOnlyFullBuckets(t *testing.T) {
	mem := NewMemory()
	lim := Limit{Capacity: 10, RefillPerSec: 1}
	now := time.Unix(0, 0)

	_, _ = mem.Take(context.Background(), "a", lim, 5, now)
	_, _ = mem.Take(context.Background(), "b", lim, 1, now)

	if n := mem.Sweep(now.Add(2 * time.Second)); n != 1 {
		t.Fatalf("dropped=%d want 1", n)
	}
	if _, ok := mem.Peek("a", now); !ok {
		t.Fatal("partially drained bucket should survive")
	}
	if n := mem.Sweep(now.Add(10 * time.Second)); n != 1 || mem.Size() != 0 {
		t.Fatalf("dropped=%d size=%d", n, mem.Size())
	}
}

func TestRedis_TakeMatchesMemorySemantics(t *testing.T) {
	r, mr := newMiniBackend(t)
	ctx := context.Background()
	lim := Limit{Capacity: 100, RefillPerSec: 1}
	now := time.Unix(1_700_000_000, 0)

	d, err := r.Take(ctx, "key:abc", lim, 90, now)
	if err != nil || !d.Allowed || d.Remaining != 10 {
		t.Fatalf("first take: %+v err=%v", d, err)
	}

	d, err = r.Take(ctx, "key:abc", lim, 50, now)
	if err != nil || d.Allowed {
		t.Fatalf("expected rejection: %+v err=%v", d, err)
	}
	if d.Remaining != 10 || d.RetryAfter != 40*time.Second {
		t.Fatalf("rejection: remaining=%v retry=%v", d.Remaining, d.RetryAfter)
	}

	d, err = r.Take(ctx, "key:abc", lim, 50, now.Add(40*time.Second))
	if err != nil || !d.Allowed || d.Remaining != 0 {
		t.Fatalf("after refill: %+v err=%v", d, err)
	}

	if ttl := mr.TTL("dg:bucket:key:abc"); ttl <= 0 {
		t.Fatalf("bucket key should expire, ttl=%v", ttl)
	}
}

func TestRedis_ControllerThrottle(t *testing.T) {
	r, _ := newMiniBackend(t)
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c, err := NewController(r, tiers, WithClock(clk.Now))
	if err != nil {
		t.Fatal(err)
	}
	id := Identity{Tier: TierAnon, Key: "10.1.1.1"}
	if _, err := c.Admit(context.Background(), id, 8); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := c.Admit(context.Background(), id, 8); !qerr.Is(err, qerr.KindThrottle) {
		t.Fatalf("expected throttle, got %v", err)
	}
}
