// Command seed loads JSON fixtures into the Redis document store and,
// optionally, announces rewritten metadata documents on the invalidation
// topic so running gateways drop their cached copies.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/ocean-datagate/internal/catalog"
	"github.com/mohammed-shakir/ocean-datagate/internal/invalidation"
	h3mapper "github.com/mohammed-shakir/ocean-datagate/internal/mapper/h3"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/memstore"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/redisstore"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

// isMetaCollection reports whether coll holds metadata documents that
// gateways may have cached.
func isMetaCollection(coll string) bool {
	return strings.HasSuffix(coll, "Meta") || coll == catalog.GridsMeta || coll == catalog.TimeseriesMeta
}

func seedRedis(ctx context.Context, rs *redisstore.Store, colls map[string][]*store.Document) error {
	names := make([]string, 0, len(colls))
	for c := range colls {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, coll := range names {
		if err := rs.Put(ctx, coll, colls[coll]...); err != nil {
			return err
		}
		fmt.Printf("seeded %s: %d documents\n", coll, len(colls[coll]))
	}
	return nil
}

func notify(brokers []string, topic string, colls map[string][]*store.Document) error {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	seq := uint64(time.Now().UnixNano())
	for coll, docs := range colls {
		if !isMetaCollection(coll) || len(docs) == 0 {
			continue
		}
		ev := invalidation.Event{Version: 1, Op: "update", Collection: coll, Seq: seq, TS: time.Now().UTC()}
		for _, d := range docs {
			ev.IDs = append(ev.IDs, d.ID)
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, _, err := prod.SendMessage(&sarama.ProducerMessage{
			Topic: topic, Key: sarama.StringEncoder(coll), Value: sarama.ByteEncoder(b),
		}); err != nil {
			return fmt.Errorf("send invalidation for %s: %w", coll, err)
		}
		fmt.Printf("invalidated %s: %d ids\n", coll, len(ev.IDs))
	}
	return nil
}

func run() error {
	dir := flag.String("dir", getenv("STORE_FIXTURES", ""), "directory of <collection>.json fixtures")
	redisAddr := flag.String("redis", getenv("REDIS_ADDR", "localhost:6379"), "redis address")
	res := flag.Int("res", 3, "H3 resolution of the cell index; must match STORE_H3_RES")
	doNotify := flag.Bool("notify", false, "publish invalidation events for metadata collections")
	brokers := flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "kafka brokers")
	topic := flag.String("topic", getenv("KAFKA_TOPIC", "metadata-invalidation"), "invalidation topic")
	flag.Parse()

	if *dir == "" {
		return fmt.Errorf("-dir is required")
	}
	colls, err := memstore.ReadDir(*dir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	m, err := h3mapper.New(*res, 4096)
	if err != nil {
		return err
	}
	rs, err := redisstore.New(ctx, *redisAddr, m)
	if err != nil {
		return err
	}
	defer func() { _ = rs.Close() }()

	if err := seedRedis(ctx, rs, colls); err != nil {
		return err
	}
	if *doNotify {
		return notify(strings.Split(*brokers, ","), *topic, colls)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}
