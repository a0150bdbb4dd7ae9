// Package memstore is an in-process Store backed by fixture documents.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/ocean-datagate/internal/core/observability"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	colls map[string][]*store.Document
}

var _ store.Store = (*Store)(nil)

func New() *Store { return &Store{colls: map[string][]*store.Document{}} }

// Put replaces the contents of coll.
func (s *Store) Put(coll string, docs ...*store.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colls[coll] = append([]*store.Document(nil), docs...)
}

// LoadDir builds a store from ReadDir(dir).
func LoadDir(dir string) (*Store, error) {
	s := New()
	colls, err := ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for coll, docs := range colls {
		s.Put(coll, docs...)
	}
	return s, nil
}

// ReadDir reads every <collection>.json file in dir; each holds a JSON
// array of documents.
func ReadDir(dir string) (map[string][]*store.Document, error) {
	out := map[string][]*store.Document{}
	if dir == "" {
		return out, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list fixtures: %w", err)
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read fixture %s: %w", f, err)
		}
		var docs []*store.Document
		if err := json.Unmarshal(b, &docs); err != nil {
			return nil, fmt.Errorf("decode fixture %s: %w", f, err)
		}
		out[strings.TrimSuffix(filepath.Base(f), ".json")] = docs
	}
	return out, nil
}

func (s *Store) Find(ctx context.Context, q store.Query) (store.Cursor, error) {
	start := time.Now()
	cur, err := s.find(ctx, q)
	observability.ObserveStoreOp("memory", "find", err, time.Since(start).Seconds())
	return cur, err
}

func (s *Store) find(ctx context.Context, q store.Query) (store.Cursor, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	src := s.colls[q.Collection]
	matched := make([]*store.Document, 0, len(src))
	for _, d := range src {
		if store.MatchAll(d, q.Ops) {
			matched = append(matched, d)
		}
	}
	s.mu.RUnlock()

	store.SortDocs(matched, q)
	matched = store.Window(matched, q.Skip, q.Limit)

	out := make([]*store.Document, len(matched))
	for i, d := range matched {
		c := d.Clone()
		c.Project(q.Projection)
		out[i] = c
	}
	return store.NewSliceCursor(out), nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
