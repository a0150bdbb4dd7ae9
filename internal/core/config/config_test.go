package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Store.Driver != "memory" || cfg.Buckets.Driver != "memory" {
		t.Fatalf("drivers=%q/%q", cfg.Store.Driver, cfg.Buckets.Driver)
	}
	if cfg.Cost.MetaDiscount != 100 || cfg.Cost.MaxBulkTimeSeries != 50 {
		t.Fatalf("cost defaults=%+v", cfg.Cost)
	}
	if cfg.Store.RedisPoolSize != 64 || cfg.Store.RedisDialTimeout != 2*time.Second {
		t.Fatalf("store defaults=%+v", cfg.Store)
	}
	if cfg.Stream.FlushEvery != 100 || cfg.Stream.CloseGrace != 2*time.Second {
		t.Fatalf("stream defaults=%+v", cfg.Stream)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "REDIS")
	t.Setenv("STORE_H3_RES", "99")
	t.Setenv("BUCKET_ANON_CAPACITY", "250")
	t.Setenv("QUERY_TIMEOUT", "5s")
	t.Setenv("INVALIDATION_ENABLED", "yes")
	t.Setenv("GRID_COLLECTIONS", " a ,,b ")
	t.Setenv("METACACHE_SIZE", "not-a-number")
	t.Setenv("REDIS_POOL_SIZE", "16")
	t.Setenv("REDIS_READ_TIMEOUT", "750ms")

	cfg := FromEnv()
	if cfg.Store.Driver != "redis" || cfg.Store.H3Res != 3 || cfg.Store.RedisPoolSize != 16 || cfg.Store.RedisReadTimeout != 750*time.Millisecond {
		t.Fatalf("store=%+v", cfg.Store)
	}
	if cfg.Buckets.AnonCap != 250 || cfg.Stream.QueryTimeout != 5*time.Second || !cfg.Invalidation.Enabled {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.GridCollections) != 2 || cfg.GridCollections[1] != "b" {
		t.Fatalf("grids=%v", cfg.GridCollections)
	}
	if cfg.MetaCacheSize != 4096 {
		t.Fatalf("bad int should fall back, got %d", cfg.MetaCacheSize)
	}
}
