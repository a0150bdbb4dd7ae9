package redisstore

import (
	"context"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"

	h3mapper "github.com/mohammed-shakir/ocean-datagate/internal/mapper/h3"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/memstore"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/storetest"
)

// newMini returns a store on miniredis with a res 3 cell index.
func newMini(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	m, err := h3mapper.New(3, 4096)
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := New(ctx, mr.Addr(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func index(t *testing.T, s *Store, coll string, docs []*store.Document) {
	t.Helper()
	if err := s.Put(context.Background(), coll, docs...); err != nil {
		t.Fatalf("index: %v", err)
	}
}

func collect(t *testing.T, s store.Store, q store.Query) []string {
	t.Helper()
	cur, err := s.Find(context.Background(), q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	docs, err := store.Drain(context.Background(), cur)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestFind_MatchesMemoryBackend(t *testing.T) {
	rs, _ := newMini(t)
	rs.batch = 7 // force several MGET round-trips

	docs := storetest.Profiles(40)
	index(t, rs, "argo", docs)
	ms := memstore.New()
	ms.Put("argo", docs...)

	start := storetest.Epoch.Add(48 * time.Hour)
	end := storetest.Epoch.Add(20 * 24 * time.Hour)
	box := orb.Polygon{orb.Ring{{-41, -11}, {-33, -11}, {-33, 0}, {-41, 0}, {-41, -11}}}

	queries := map[string]store.Query{
		"scan all":        {Collection: "argo"},
		"time window":     {Collection: "argo", Ops: []store.Op{store.TimeRange(&start, &end)}},
		"most recent":     {Collection: "argo", Sort: store.SortTimeDesc, Limit: 5},
		"page":            {Collection: "argo", Sort: store.SortTimeAsc, Skip: 10, Limit: 10},
		"metadata seeded": {Collection: "argo", Ops: []store.Op{store.In("metadata", []string{"5906001_m0", "6990503_m0"}), store.TimeRange(&start, &end)}},
		"id seeded":       {Collection: "argo", Ops: []store.Op{store.In("_id", []string{"6990503_003", "4902911_010", "missing"})}},
		"polygon cover":   {Collection: "argo", Ops: []store.Op{store.TimeRange(&start, nil), store.WithinPolygon(box)}},
		"box cover":       {Collection: "argo", Ops: []store.Op{store.WithinBox(orb.Point{-36, -10}, orb.Point{-30, 5})}, Sort: store.SortTimeDesc},
		"variables":       {Collection: "argo", Ops: []store.Op{store.Variables([]string{"doxy"}, nil)}, Limit: 4},
		"global box scan": {Collection: "argo", Ops: []store.Op{store.WithinBox(orb.Point{-180, -90}, orb.Point{180, 90}), store.Sources(nil, []string{"argo_bgc"})}},
	}
	for name, q := range queries {
		want := collect(t, ms, q)
		got := collect(t, rs, q)
		if len(want) == 0 {
			t.Fatalf("%s: fixture produced no matches", name)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s:\n redis %v\nmemory %v", name, got, want)
		}
	}
}

func TestFind_NearUsesGeoIndex(t *testing.T) {
	rs, _ := newMini(t)
	index(t, rs, "argo", storetest.Profiles(10))

	got := collect(t, rs, store.Query{
		Collection: "argo",
		Ops:        []store.Op{store.Near(orb.Point{-40, -10}, 150)},
	})
	if len(got) == 0 || got[0] != "4902911_000" {
		t.Fatalf("nearest first expected, got %v", got)
	}
	for _, id := range got {
		if id == "4902911_005" {
			t.Fatalf("point 550 km away returned: %v", got)
		}
	}
}

func TestFind_MissingBodyIsSkipped(t *testing.T) {
	rs, mr := newMini(t)
	docs := storetest.Profiles(3)
	index(t, rs, "argo", docs)
	mr.Del(docKey("argo", docs[0].ID))

	got := collect(t, rs, store.Query{Collection: "argo"})
	if len(got) != len(docs)-1 {
		t.Fatalf("got %d docs want %d", len(got), len(docs)-1)
	}
}

func TestFind_CanceledContext(t *testing.T) {
	rs, _ := newMini(t)
	index(t, rs, "argo", storetest.Profiles(3))

	ctx, cancel := context.WithCancel(context.Background())
	cur, err := rs.Find(ctx, store.Query{Collection: "argo"})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := cur.Next(ctx); err == nil {
		t.Fatal("expected context error")
	}
	_ = cur.Close(context.Background())
}

func TestPing(t *testing.T) {
	rs, mr := newMini(t)
	if err := rs.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mr.Close()
	if err := rs.Ping(context.Background()); err == nil {
		t.Fatal("ping should fail once redis is gone")
	}
}

func TestPut_PolarDocumentSkipsGeoSet(t *testing.T) {
	rs, mr := newMini(t)
	ts := storetest.Epoch
	polar := &store.Document{ID: "polar_001", Geolocation: store.NewGeoPoint(10, -86.5), Timestamp: &ts}
	if err := rs.Put(context.Background(), "argo", polar); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if mr.Exists(geoKey("argo")) {
		t.Fatal("polar document should not enter the geo set")
	}
	got := collect(t, rs, store.Query{Collection: "argo", Ops: []store.Op{
		store.WithinBox(orb.Point{0, -87.5}, orb.Point{20, -85.5}),
	}})
	if !reflect.DeepEqual(got, []string{"polar_001"}) {
		t.Fatalf("got %v", got)
	}
}

func TestFind_NearReachesPolarDocuments(t *testing.T) {
	rs, _ := newMini(t)
	ts := storetest.Epoch
	index(t, rs, "argo", []*store.Document{
		{ID: "polar_001", Geolocation: store.NewGeoPoint(10, -86.5), Timestamp: &ts},
		{ID: "rim_001", Geolocation: store.NewGeoPoint(10, -84.0), Timestamp: &ts},
	})
	ms := memstore.New()
	ms.Put("argo",
		&store.Document{ID: "polar_001", Geolocation: store.NewGeoPoint(10, -86.5), Timestamp: &ts},
		&store.Document{ID: "rim_001", Geolocation: store.NewGeoPoint(10, -84.0), Timestamp: &ts},
	)

	cases := map[string]struct {
		q    store.Query
		want []string
	}{
		// small enough for a cell cover
		"cover": {
			q:    store.Query{Collection: "argo", Ops: []store.Op{store.Near(orb.Point{10, -84.5}, 300)}},
			want: []string{"rim_001", "polar_001"},
		},
		// past the cover's reach, falls back to a scan
		"scan": {
			q:    store.Query{Collection: "argo", Ops: []store.Op{store.Near(orb.Point{0, -89.5}, 400)}},
			want: []string{"polar_001"},
		},
	}
	for name, tc := range cases {
		got := collect(t, rs, tc.q)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %v want %v", name, got, tc.want)
		}
		if mem := collect(t, ms, tc.q); !reflect.DeepEqual(got, mem) {
			t.Fatalf("%s: redis %v memstore %v", name, got, mem)
		}
	}
}
