// Package redisstore serves documents indexed in Redis: JSON bodies, a
// timestamp zset, a geo set and H3 cell sets per collection.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/ocean-datagate/internal/core/observability"
	"github.com/mohammed-shakir/ocean-datagate/internal/geo"
	h3mapper "github.com/mohammed-shakir/ocean-datagate/internal/mapper/h3"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
)

const backend = "redis"

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

type Store struct {
	rdb    redis.UniversalClient
	mapper *h3mapper.Mapper
	batch  int
}

var _ store.Store = (*Store)(nil)

// New dials addr and pings it before returning.
func New(ctx context.Context, addr string, mapper *h3mapper.Mapper, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}
	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp(backend, "ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(rdb, mapper), nil
}

// NewFromClient wraps an existing client; mapper may be nil to disable the
// cell index.
func NewFromClient(rdb redis.UniversalClient, mapper *h3mapper.Mapper) *Store {
	return &Store{rdb: rdb, mapper: mapper, batch: 256}
}

// Client exposes the connection for components sharing it.
func (s *Store) Client() redis.UniversalClient { return s.rdb }

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	observability.ObserveStoreOp(backend, "ping", err, time.Since(start).Seconds())
	return err
}

func (s *Store) Find(ctx context.Context, q store.Query) (store.Cursor, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ids, ordered, seeded, err := s.seed(ctx, q)
	if err != nil {
		return nil, err
	}
	c := &cursor{s: s, q: q}
	if !seeded {
		c.next = s.scan(q)
		return c, nil
	}
	if !ordered {
		if ids, err = s.orderByTime(ctx, q, ids); err != nil {
			return nil, err
		}
	}
	c.next = sliceBatches(ids, s.batch)
	return c, nil
}

// seed picks candidate ids from the most selective index the ops allow.
// ordered is true when ids already follow the query's natural order.
func (s *Store) seed(ctx context.Context, q store.Query) (ids []string, ordered, seeded bool, err error) {
	for _, op := range q.Ops {
		if (op.Kind == store.OpEq || op.Kind == store.OpIn) && op.Field == "_id" {
			if op.Kind == store.OpEq {
				return []string{op.Value}, false, true, nil
			}
			return dedupe(op.Values), false, true, nil
		}
	}
	for _, op := range q.Ops {
		if (op.Kind == store.OpEq || op.Kind == store.OpIn) && op.Field == "metadata" {
			vals := op.Values
			if op.Kind == store.OpEq {
				vals = []string{op.Value}
			}
			ids, err := s.union(ctx, q.Collection, metaKeysFor(q.Collection, vals))
			return ids, false, true, err
		}
	}
	if near, ok := q.NearOp(); ok {
		ids, err := s.geoRadius(ctx, q.Collection, near)
		if err != nil {
			return nil, false, false, err
		}
		if !reachesPolarCap(near) {
			return ids, q.Sort == store.SortNatural, true, nil
		}
		polar, err := s.polarCandidates(ctx, q, near)
		if err != nil {
			return nil, false, false, err
		}
		ids = dedupe(append(ids, polar...))
		if q.Sort != store.SortNatural {
			return ids, false, true, nil
		}
		ids, err = s.orderByDistance(ctx, q.Collection, near, ids)
		return ids, true, true, err
	}
	if s.mapper == nil {
		return nil, false, false, nil
	}
	for _, op := range q.Ops {
		var cells []string
		var err error
		switch op.Kind {
		case store.OpWithinPolygon:
			cells, err = s.mapper.CoverPolygon(op.Polygon)
		case store.OpWithinBox:
			cells, err = s.mapper.CoverBox(op.LowerLeft, op.UpperRight)
		default:
			continue
		}
		if errors.Is(err, h3mapper.ErrTooLarge) {
			continue
		}
		if err != nil {
			return nil, false, false, err
		}
		keys := make([]string, len(cells))
		for i, c := range cells {
			keys[i] = cellKey(q.Collection, c)
		}
		ids, err := s.union(ctx, q.Collection, keys)
		return ids, false, true, err
	}
	return nil, false, false, nil
}

func (s *Store) geoRadius(ctx context.Context, coll string, near store.Op) ([]string, error) {
	start := time.Now()
	locs, err := s.rdb.GeoRadius(ctx, geoKey(coll), near.Center[0], near.Center[1], &redis.GeoRadiusQuery{
		// Redis uses a slightly larger earth radius; Match trims the rim
		Radius: near.RadiusKm*1.001 + 0.01,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	observability.ObserveStoreOp(backend, "georadius", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis GEORADIUS %s: %w", coll, err)
	}
	ids := make([]string, len(locs))
	for i, l := range locs {
		ids[i] = l.Name
	}
	return ids, nil
}

// reachesPolarCap reports circles extending past the geo set's latitude band.
func reachesPolarCap(near store.Op) bool {
	dLat := near.RadiusKm / kmPerDeg
	return near.Center[1]+dLat > maxGeoLat || near.Center[1]-dLat < -maxGeoLat
}

// polarCandidates finds documents the geo set cannot hold: the cell cover
// of the circle when it is small enough, otherwise every id in the time
// range.
func (s *Store) polarCandidates(ctx context.Context, q store.Query, near store.Op) ([]string, error) {
	if s.mapper != nil {
		cells, err := s.mapper.CoverCircle(near.Center, near.RadiusKm)
		switch {
		case err == nil:
			keys := make([]string, len(cells))
			for i, c := range cells {
				keys[i] = cellKey(q.Collection, c)
			}
			return s.union(ctx, q.Collection, keys)
		case !errors.Is(err, h3mapper.ErrTooLarge):
			return nil, err
		}
	}
	var ids []string
	next := s.scan(store.Query{Collection: q.Collection, Ops: q.Ops})
	for {
		batch, err := next(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return ids, nil
		}
		ids = append(ids, batch...)
	}
}

// orderByDistance sorts ids by (distance from the near center, id),
// dropping documents outside the radius.
func (s *Store) orderByDistance(ctx context.Context, coll string, near store.Op, ids []string) ([]string, error) {
	type ranked struct {
		id string
		km float64
	}
	var rows []ranked
	for i := 0; i < len(ids); i += s.batch {
		docs, err := s.fetch(ctx, coll, ids[i:min(i+s.batch, len(ids))])
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			pt, ok := d.Geolocation.Point()
			if !ok {
				continue
			}
			if km := geo.DistanceKm(near.Center, pt); km <= near.RadiusKm {
				rows = append(rows, ranked{id: d.ID, km: km})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].km != rows[j].km {
			return rows[i].km < rows[j].km
		}
		return rows[i].id < rows[j].id
	})
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.id
	}
	return out, nil
}

func metaKeysFor(coll string, metaIDs []string) []string {
	keys := make([]string, len(metaIDs))
	for i, m := range metaIDs {
		keys[i] = metaKey(coll, m)
	}
	return keys
}

// union runs SUNION in chunks so a large cover never builds one huge
// command.
func (s *Store) union(ctx context.Context, coll string, keys []string) ([]string, error) {
	const chunk = 512
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i < len(keys); i += chunk {
		end := min(i+chunk, len(keys))
		start := time.Now()
		members, err := s.rdb.SUnion(ctx, keys[i:end]...).Result()
		observability.ObserveStoreOp(backend, "sunion", err, time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("redis SUNION %s (%d keys): %w", coll, end-i, err)
		}
		for _, m := range members {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// orderByTime sorts candidate ids by (timestamp, id), dropping ids with no
// indexed document and ids outside the query's time range.
func (s *Store) orderByTime(ctx context.Context, q store.Query, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	cmds := make([]*redis.FloatCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.ZScore(ctx, tsKey(q.Collection), id)
		}
		return nil
	})
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	observability.ObserveStoreOp(backend, "zscore", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis ZSCORE %s (%d ids): %w", q.Collection, len(ids), err)
	}

	lo, hi := scoreBounds(q)
	type scored struct {
		id    string
		score float64
	}
	rows := make([]scored, 0, len(ids))
	for i, c := range cmds {
		sc, err := c.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis ZSCORE %s %q: %w", q.Collection, ids[i], err)
		}
		if sc < lo || sc >= hi {
			continue
		}
		rows = append(rows, scored{id: ids[i], score: sc})
	}
	desc := q.Sort == store.SortTimeDesc
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return (rows[i].score < rows[j].score) != desc
		}
		return (rows[i].id < rows[j].id) != desc
	})
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.id
	}
	return out, nil
}

// scoreBounds is the [lo, hi) score window of the query's time range.
func scoreBounds(q store.Query) (lo, hi float64) {
	lo, hi = math.Inf(-1), math.Inf(1)
	for _, op := range q.Ops {
		if op.Kind != store.OpTimeRange {
			continue
		}
		if op.Start != nil {
			lo = float64(op.Start.UnixMilli())
		}
		if op.End != nil {
			hi = float64(op.End.UnixMilli())
		}
	}
	return lo, hi
}

// scan pages through the timestamp zset when no index narrows the search.
func (s *Store) scan(q store.Query) func(context.Context) ([]string, error) {
	lo, hi := scoreBounds(q)
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: int64(s.batch)}
	if !math.IsInf(lo, -1) {
		rng.Min = strconv.FormatFloat(lo, 'f', -1, 64)
	}
	if !math.IsInf(hi, 1) {
		rng.Max = "(" + strconv.FormatFloat(hi, 'f', -1, 64)
	}
	desc := q.Sort == store.SortTimeDesc
	done := false

	return func(ctx context.Context) ([]string, error) {
		if done {
			return nil, nil
		}
		start := time.Now()
		var ids []string
		var err error
		if desc {
			ids, err = s.rdb.ZRevRangeByScore(ctx, tsKey(q.Collection), rng).Result()
		} else {
			ids, err = s.rdb.ZRangeByScore(ctx, tsKey(q.Collection), rng).Result()
		}
		observability.ObserveStoreOp(backend, "zrangebyscore", err, time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("redis ZRANGEBYSCORE %s: %w", q.Collection, err)
		}
		rng.Offset += int64(len(ids))
		if len(ids) < s.batch {
			done = true
		}
		return ids, nil
	}
}

func sliceBatches(ids []string, n int) func(context.Context) ([]string, error) {
	return func(context.Context) ([]string, error) {
		if len(ids) == 0 {
			return nil, nil
		}
		k := min(n, len(ids))
		out := ids[:k]
		ids = ids[k:]
		return out, nil
	}
}

// fetch loads documents for ids with MGET, skipping ids whose body is gone.
func (s *Store) fetch(ctx context.Context, coll string, ids []string) ([]*store.Document, error) {
	keys := docKeys(coll, ids)
	start := time.Now()
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	observability.ObserveStoreOp(backend, "mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}
	out := make([]*store.Document, 0, len(vals))
	for i, v := range vals {
		var raw []byte
		switch t := v.(type) {
		case nil:
			continue // missing key
		case string:
			raw = []byte(t)
		case []byte:
			raw = t
		default:
			raw = fmt.Append(nil, t)
		}
		var d store.Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, &d)
	}
	return out, nil
}

type cursor struct {
	s    *Store
	q    store.Query
	next func(context.Context) ([]string, error)

	buf     []*store.Document
	skipped int
	emitted int
	done    bool
}

func (c *cursor) Next(ctx context.Context) (*store.Document, error) {
	for {
		if c.done || (c.q.Limit > 0 && c.emitted >= c.q.Limit) {
			return nil, io.EOF
		}
		if len(c.buf) == 0 {
			if err := c.fill(ctx); err != nil {
				return nil, err
			}
			if c.done {
				return nil, io.EOF
			}
			continue
		}
		d := c.buf[0]
		c.buf = c.buf[1:]
		if c.skipped < c.q.Skip {
			c.skipped++
			continue
		}
		c.emitted++
		d.Project(c.q.Projection)
		return d, nil
	}
}

func (c *cursor) fill(ctx context.Context) error {
	for len(c.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := c.next(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			c.done = true
			return nil
		}
		docs, err := c.s.fetch(ctx, c.q.Collection, ids)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if store.MatchAll(d, c.q.Ops) {
				c.buf = append(c.buf, d)
			}
		}
	}
	return nil
}

// Close drops buffered documents; Redis holds no server-side cursor.
func (c *cursor) Close(context.Context) error {
	c.done = true
	c.buf = nil
	return nil
}

func dedupe(xs []string) []string {
	seen := make(map[string]struct{}, len(xs))
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; !ok {
			seen[x] = struct{}{}
			out = append(out, x)
		}
	}
	return out
}
