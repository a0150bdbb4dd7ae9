package kafkaconsumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/ocean-datagate/internal/invalidation"
	"github.com/mohammed-shakir/ocean-datagate/internal/metacache"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/memstore"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/storetest"
)

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "metadata-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(seq uint64, ids ...string) []byte {
	ev := invalidation.Event{
		Version: 1, Op: "update", Collection: "argoMeta", IDs: ids, Seq: seq, TS: time.Now().UTC(),
	}
	b, _ := json.Marshal(ev)
	return b
}

// warmCache returns a metadata cache holding every argo metadata document.
func warmCache(t *testing.T) *metacache.Cache {
	t.Helper()
	ms := memstore.New()
	ms.Put("argoMeta", storetest.ProfileMeta()...)
	mc := metacache.New(ms, 16, time.Minute)
	mc.Put("argoMeta", storetest.ProfileMeta()...)
	return mc
}

func newConsumerForTest(mc *metacache.Cache) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "metadata-invalidation", GroupID: "g", DedupeSize: 64}
	return New(cfg, slog.Default(), mc)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	mc := warmCache(t)
	before := mc.Len()
	c := newConsumerForTest(mc)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 10, Value: eventBytes(1, "4902911_m0")}
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 11, Value: eventBytes(2, "6990503_m0")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if mc.Len() != before-2 {
		t.Fatalf("cache len=%d want %d", mc.Len(), before-2)
	}
}

func TestProcessOne_SkipsStaleSequence(t *testing.T) {
	mc := warmCache(t)
	c := newConsumerForTest(mc)
	ctx := context.Background()

	id := storetest.ProfileMeta()[0].ID
	msg := &sarama.ConsumerMessage{Offset: 1, Value: eventBytes(5, id)}
	if err := c.ProcessOne(ctx, msg); err != nil {
		t.Fatal(err)
	}

	// The document is cached again after the first invalidation; a replay
	// with an older sequence must leave it alone.
	mc.Put("argoMeta", storetest.ProfileMeta()[0])
	stale := &sarama.ConsumerMessage{Offset: 2, Value: eventBytes(4, id)}
	before := mc.Len()
	if err := c.ProcessOne(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if mc.Len() != before {
		t.Fatalf("stale event evicted: len=%d want %d", mc.Len(), before)
	}
}

func TestProcessOne_MalformedIsMarkedAndSkipped(t *testing.T) {
	mc := warmCache(t)
	before := mc.Len()
	c := newConsumerForTest(mc)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 4, Value: []byte(`{"version":1,"op":"update","collection":"argoMeta","ids":[],"ts":"2025-01-01T00:00:00Z"}`)}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 {
		t.Fatalf("bad messages should still be marked; marked=%v", s.marked)
	}
	if mc.Len() != before {
		t.Fatalf("cache changed: len=%d want %d", mc.Len(), before)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	c := newConsumerForTest(warmCache(t))
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: eventBytes(1, "a")}
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 2, Value: eventBytes(2, "a")}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 1, Value: eventBytes(1, "b")}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 2, Value: eventBytes(2, "b")}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestVersionDedupe(t *testing.T) {
	d := newVersionDedupe(2)
	if !d.shouldApply("k", 3) || d.shouldApply("k", 3) || d.shouldApply("k", 2) {
		t.Fatal("expected only strictly newer sequences to apply")
	}
	if !d.shouldApply("k", 0) || !d.shouldApply("k", 0) {
		t.Fatal("unsequenced events always apply")
	}
	if !d.shouldApply("k", 4) {
		t.Fatal("newer sequence should apply")
	}
}
