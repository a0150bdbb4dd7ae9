package metacache

import (
	"context"
	"testing"
	"time"

	"github.com/mohammed-shakir/ocean-datagate/internal/store"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/memstore"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/storetest"
)

// countingStore records how many Find calls reach the backend.
type countingStore struct {
	store.Store
	finds int
}

func (c *countingStore) Find(ctx context.Context, q store.Query) (store.Cursor, error) {
	c.finds++
	return c.Store.Find(ctx, q)
}

func newCache(t *testing.T, ttl time.Duration) (*Cache, *countingStore) {
	t.Helper()
	ms := memstore.New()
	ms.Put("argoMeta", storetest.ProfileMeta()...)
	cs := &countingStore{Store: ms}
	return New(cs, 16, ttl), cs
}

func TestLookup_ReadsThrough(t *testing.T) {
	c, cs := newCache(t, time.Minute)
	ctx := context.Background()

	docs, err := c.Lookup(ctx, "argoMeta", []string{"6990503_m0", "4902911_m0", "6990503_m0", "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != "6990503_m0" || docs[1].ID != "4902911_m0" {
		t.Fatalf("unexpected docs %v", docs)
	}
	if cs.finds != 1 || c.Len() != 2 {
		t.Fatalf("finds=%d len=%d", cs.finds, c.Len())
	}

	if _, err := c.Lookup(ctx, "argoMeta", []string{"4902911_m0"}); err != nil {
		t.Fatal(err)
	}
	if cs.finds != 1 {
		t.Fatal("cached id should not reach the store")
	}
}

func TestLookup_ReturnsCopies(t *testing.T) {
	c, _ := newCache(t, time.Minute)
	ctx := context.Background()
	first, _ := c.Lookup(ctx, "argoMeta", []string{"5906001_m0"})
	first[0].PlatformType = "changed"
	again, _ := c.Lookup(ctx, "argoMeta", []string{"5906001_m0"})
	if again[0].PlatformType != "SOLO_II" {
		t.Fatal("callers must not be able to mutate cached documents")
	}
}

func TestEvict(t *testing.T) {
	c, cs := newCache(t, time.Minute)
	ctx := context.Background()
	_, _ = c.Lookup(ctx, "argoMeta", []string{"4902911_m0"})
	if !c.Evict("argoMeta", "4902911_m0") {
		t.Fatal("expected cached entry")
	}
	if c.Evict("argoMeta", "4902911_m0") {
		t.Fatal("second evict should report nothing removed")
	}
	_, _ = c.Lookup(ctx, "argoMeta", []string{"4902911_m0"})
	if cs.finds != 2 {
		t.Fatalf("evicted id should be refetched, finds=%d", cs.finds)
	}
}

func TestCollectionsDoNotCollide(t *testing.T) {
	c, _ := newCache(t, time.Minute)
	c.Put("tcMeta", &store.Document{ID: "4902911_m0", Name: "storm"})
	docs, err := c.Lookup(context.Background(), "argoMeta", []string{"4902911_m0"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Name != "" || docs[0].Platform != "4902911" {
		t.Fatalf("got %+v", docs)
	}
}

func TestExpiry(t *testing.T) {
	c, cs := newCache(t, 20*time.Millisecond)
	ctx := context.Background()
	_, _ = c.Lookup(ctx, "argoMeta", []string{"4902911_m0"})
	time.Sleep(60 * time.Millisecond)
	_, _ = c.Lookup(ctx, "argoMeta", []string{"4902911_m0"})
	if cs.finds != 2 {
		t.Fatalf("expired entry should be refetched, finds=%d", cs.finds)
	}
}
