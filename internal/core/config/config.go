package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreCfg struct {
	Driver    string // memory | redis
	Fixtures  string
	RedisAddr string
	H3Res     int
	H3MaxCell int

	RedisPoolSize     int
	RedisMinIdleConns int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
}

type CostCfg struct {
	BaseUnit          float64
	UnitPrice         float64
	MetaDiscount      float64
	MaxBulk           float64
	MaxBulkTimeSeries float64
}

type BucketCfg struct {
	Driver      string // memory | redis
	KeyCapacity float64
	KeyRefill   float64
	AnonCap     float64
	AnonRefill  float64
	IdleSweep   time.Duration
}

type StreamCfg struct {
	QueryTimeout time.Duration
	CloseGrace   time.Duration
	FlushEvery   int
}

type KafkaCfg struct {
	Brokers string
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	GroupID string
}

type AuditCfg struct {
	Enabled bool
	Topic   string
	Queue   int
}

type MetricsCfg struct {
	Enabled bool
	Path    string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	Version         string
	CORSOrigins     []string
	APIKeys         string
	APIKeysRedisSet string
	GridCollections []string
	TimeSeries      []string
	MetaCacheSize   int
	MetaCacheTTL    time.Duration
	ReadyTimeout    time.Duration

	Store        StoreCfg
	Cost         CostCfg
	Buckets      BucketCfg
	Stream       StreamCfg
	Kafka        KafkaCfg
	Invalidation InvalidationCfg
	Audit        AuditCfg
	Metrics      MetricsCfg
}

func FromEnv() Config {
	h3Res := getint("STORE_H3_RES", 3)
	if h3Res < 0 || h3Res > 15 {
		h3Res = 3
	}

	return Config{
		Addr:            getenv("ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		Version:         getenv("APP_VERSION", "dev"),
		CORSOrigins:     splitCSV(getenv("CORS_ORIGINS", "*")),
		APIKeys:         getenv("API_KEYS", ""),
		APIKeysRedisSet: getenv("API_KEYS_REDIS_SET", ""),
		GridCollections: splitCSV(getenv("GRID_COLLECTIONS", "rg09,kg21,ohc,glodap")),
		TimeSeries:      splitCSV(getenv("TIMESERIES", "noaasst,copernicussla,ccmpwind")),
		MetaCacheSize:   getint("METACACHE_SIZE", 4096),
		MetaCacheTTL:    getduration("METACACHE_TTL", 10*time.Minute),
		ReadyTimeout:    getduration("READY_TIMEOUT", time.Second),

		Store: StoreCfg{
			Driver:    strings.ToLower(getenv("STORE_DRIVER", "memory")),
			Fixtures:  getenv("STORE_FIXTURES", ""),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			H3Res:     h3Res,
			H3MaxCell: getint("STORE_H3_MAX_CELLS", 4096),

			RedisPoolSize:     getint("REDIS_POOL_SIZE", 64),
			RedisMinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 4),
			RedisDialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			RedisReadTimeout:  getduration("REDIS_READ_TIMEOUT", 2*time.Second),
		},
		Cost: CostCfg{
			BaseUnit:          getfloat("COST_BASE_UNIT", 1),
			UnitPrice:         getfloat("COST_UNIT_PRICE", 0.0001),
			MetaDiscount:      getfloat("COST_META_DISCOUNT", 100),
			MaxBulk:           getfloat("COST_MAX_BULK", 1e6),
			MaxBulkTimeSeries: getfloat("COST_MAX_BULK_TIMESERIES", 50),
		},
		Buckets: BucketCfg{
			Driver:      strings.ToLower(getenv("BUCKET_DRIVER", "memory")),
			KeyCapacity: getfloat("BUCKET_KEY_CAPACITY", 1e6),
			KeyRefill:   getfloat("BUCKET_KEY_REFILL", 1e3),
			AnonCap:     getfloat("BUCKET_ANON_CAPACITY", 100),
			AnonRefill:  getfloat("BUCKET_ANON_REFILL", 1),
			IdleSweep:   getduration("BUCKET_IDLE_SWEEP", time.Minute),
		},
		Stream: StreamCfg{
			QueryTimeout: getduration("QUERY_TIMEOUT", 30*time.Second),
			CloseGrace:   getduration("STREAM_CLOSE_GRACE", 2*time.Second),
			FlushEvery:   getint("STREAM_FLUSH_EVERY", 100),
		},
		Kafka: KafkaCfg{Brokers: getenv("KAFKA_BROKERS", "localhost:9092")},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "metadata-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "datagate-metacache"),
		},
		Audit: AuditCfg{
			Enabled: getbool("AUDIT_ENABLED", false),
			Topic:   getenv("AUDIT_TOPIC", "datagate-admission"),
			Queue:   getint("AUDIT_QUEUE", 1024),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", true),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
