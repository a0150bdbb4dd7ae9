package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/ocean-datagate/internal/core/observability"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
)

// Redis geo sets only accept latitudes inside the Web Mercator band; polar
// documents are reachable through the cell index and scans only.
const (
	maxGeoLat = 85.05112878
	kmPerDeg  = 111.19
)

// Put writes docs and their index entries in one pipeline. Rewriting a
// document whose location or metadata changed leaves the old index entries
// behind; Find re-checks every candidate, so they only cost a lookup.
func (s *Store) Put(ctx context.Context, coll string, docs ...*store.Document) error {
	start := time.Now()
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, d := range docs {
			b, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode %s/%s: %w", coll, d.ID, err)
			}
			p.Set(ctx, docKey(coll, d.ID), b, 0)

			var score float64
			if d.Timestamp != nil {
				score = float64(d.Timestamp.UnixMilli())
			}
			p.ZAdd(ctx, tsKey(coll), redis.Z{Score: score, Member: d.ID})

			for _, m := range d.Metadata {
				p.SAdd(ctx, metaKey(coll, m), d.ID)
			}

			pt, ok := d.Geolocation.Point()
			if !ok {
				continue
			}
			if pt[1] >= -maxGeoLat && pt[1] <= maxGeoLat {
				p.GeoAdd(ctx, geoKey(coll), &redis.GeoLocation{Name: d.ID, Longitude: pt[0], Latitude: pt[1]})
			}
			if s.mapper == nil {
				continue
			}
			cell, err := s.mapper.CellForPoint(pt[0], pt[1])
			if err != nil {
				return fmt.Errorf("index %s/%s: %w", coll, d.ID, err)
			}
			p.SAdd(ctx, cellKey(coll, cell), d.ID)
		}
		return nil
	})
	observability.ObserveStoreOp(backend, "put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis put %s: %w", coll, err)
	}
	return nil
}
