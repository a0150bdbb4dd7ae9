// Package metacache keeps recently served metadata documents in memory.
// Metadata documents change rarely and are shared by many data searches,
// so batchmeta lookups and metadata-as-filter searches read through it.
package metacache

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/ocean-datagate/internal/core/observability"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
)

type entry struct {
	coll string
	doc  *store.Document
}

// Cache is a read-through cache over one store.
type Cache struct {
	st  store.Store
	lru *expirable.LRU[uint64, entry]
}

func New(st store.Store, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 4096
	}
	return &Cache{st: st, lru: expirable.NewLRU[uint64, entry](size, nil, ttl)}
}

func key(coll, id string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(coll)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(id)
	return d.Sum64()
}

func (c *Cache) get(coll, id string) (*store.Document, bool) {
	e, ok := c.lru.Get(key(coll, id))
	if !ok || e.coll != coll || e.doc.ID != id {
		return nil, false
	}
	return e.doc.Clone(), true
}

// Put stores copies of docs.
func (c *Cache) Put(coll string, docs ...*store.Document) {
	for _, d := range docs {
		c.lru.Add(key(coll, d.ID), entry{coll: coll, doc: d.Clone()})
	}
}

// Evict drops one document; it reports whether it was cached.
func (c *Cache) Evict(coll, id string) bool {
	return c.lru.Remove(key(coll, id))
}

func (c *Cache) Len() int { return c.lru.Len() }

// Lookup returns the documents of coll with the given ids in id order of
// first appearance, fetching misses from the store in one query. Unknown
// ids are skipped.
func (c *Cache) Lookup(ctx context.Context, coll string, ids []string) ([]*store.Document, error) {
	found := make(map[string]*store.Document, len(ids))
	var missing []string
	for _, id := range ids {
		if _, dup := found[id]; dup {
			continue
		}
		if d, ok := c.get(coll, id); ok {
			found[id] = d
			observability.IncMetaCacheHit()
			continue
		}
		observability.IncMetaCacheMiss()
		found[id] = nil
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		cur, err := c.st.Find(ctx, store.Query{Collection: coll, Ops: []store.Op{store.In("_id", missing)}})
		if err != nil {
			return nil, fmt.Errorf("metadata lookup %s: %w", coll, err)
		}
		docs, err := store.Drain(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("metadata lookup %s: %w", coll, err)
		}
		c.Put(coll, docs...)
		for _, d := range docs {
			found[d.ID] = d
		}
	}

	out := make([]*store.Document, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, id := range ids {
		if d := found[id]; d != nil && !seen[id] {
			seen[id] = true
			out = append(out, d)
		}
	}
	return out, nil
}
