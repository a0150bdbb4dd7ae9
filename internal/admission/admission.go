// Package admission gates priced requests through per-client token buckets.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/ocean-datagate/internal/qerr"
)

type Tier string

const (
	TierKey  Tier = "key"
	TierAnon Tier = "anon"
)

// Limit is the bucket shape for one tier.
type Limit struct {
	Capacity     float64
	RefillPerSec float64
}

// Identity names a client bucket.
type Identity struct {
	Tier Tier
	Key  string
}

func (id Identity) String() string { return string(id.Tier) + ":" + id.Key }

type Decision struct {
	Allowed    bool
	Cost       float64
	Remaining  float64
	RetryAfter time.Duration
}

// Backend refills and consumes one bucket atomically. A rejected take must
// leave the balance as it would be without the attempt.
type Backend interface {
	Take(ctx context.Context, key string, lim Limit, cost float64, now time.Time) (Decision, error)
}

// Observer is told about every decision that reached a bucket.
type Observer interface {
	Observe(ctx context.Context, id Identity, d Decision)
}

type Controller struct {
	backend   Backend
	tiers     map[Tier]Limit
	observers []Observer
	now       func() time.Time
}

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(b Backend, tiers map[Tier]Limit, opts ...Option) (*Controller, error) {
	for t, l := range tiers {
		if l.Capacity <= 0 || l.RefillPerSec <= 0 {
			return nil, fmt.Errorf("admission: tier %q needs positive capacity and refill", t)
		}
	}
	if _, ok := tiers[TierAnon]; !ok {
		return nil, fmt.Errorf("admission: anon tier is required")
	}
	c := &Controller{backend: b, tiers: tiers, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// LimitFor returns the bucket shape applied to id; unknown tiers fall back
// to the anonymous tier.
func (c *Controller) LimitFor(id Identity) Limit {
	if l, ok := c.tiers[id.Tier]; ok {
		return l
	}
	return c.tiers[TierAnon]
}

// Admit charges cost to id's bucket. A cost above the tier capacity is a
// scope error and touches no bucket; a short balance is a throttle error
// carrying the wait until the bucket can cover cost.
func (c *Controller) Admit(ctx context.Context, id Identity, cost float64) (Decision, error) {
	lim := c.LimitFor(id)
	if cost > lim.Capacity {
		return Decision{Cost: cost}, qerr.Scope(qerr.MsgOutOfScope)
	}

	d, err := c.backend.Take(ctx, id.String(), lim, cost, c.now())
	if err != nil {
		return Decision{}, qerr.Store(fmt.Errorf("admission take %s: %w", id, err))
	}
	d.Cost = cost
	for _, o := range c.observers {
		o.Observe(ctx, id, d)
	}
	if !d.Allowed {
		return d, qerr.Throttle(d.RetryAfter)
	}
	return d, nil
}

// refill returns the balance after elapsed time, capped at capacity.
func refill(tokens float64, last, now time.Time, lim Limit) float64 {
	elapsed := now.Sub(last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return min(lim.Capacity, tokens+elapsed*lim.RefillPerSec)
}

func retryAfter(short float64, lim Limit) time.Duration {
	return time.Duration(short / lim.RefillPerSec * float64(time.Second))
}
