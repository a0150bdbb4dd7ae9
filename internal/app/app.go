// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/ocean-datagate/internal/admission"
	"github.com/mohammed-shakir/ocean-datagate/internal/apikeys"
	"github.com/mohammed-shakir/ocean-datagate/internal/audit"
	"github.com/mohammed-shakir/ocean-datagate/internal/catalog"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/config"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/health"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/middleware"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/router"
	"github.com/mohammed-shakir/ocean-datagate/internal/cost"
	"github.com/mohammed-shakir/ocean-datagate/internal/invalidation/kafkaconsumer"
	h3mapper "github.com/mohammed-shakir/ocean-datagate/internal/mapper/h3"
	"github.com/mohammed-shakir/ocean-datagate/internal/metacache"
	"github.com/mohammed-shakir/ocean-datagate/internal/metrics"
	"github.com/mohammed-shakir/ocean-datagate/internal/pipeline"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/memstore"
	"github.com/mohammed-shakir/ocean-datagate/internal/store/redisstore"
)

type App struct {
	Handler http.Handler
	Meta    *metacache.Cache

	cfg      config.Config
	logger   *slog.Logger
	buckets  *admission.Memory
	consumer *kafkaconsumer.Consumer
	closers  []func() error
}

// Options carries dependencies the caller already built.
type Options struct {
	Metrics *metrics.Provider
	// Store overrides cfg.Store when set.
	Store store.Store
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	st, rdb, err := a.openStore(ctx, opts.Store)
	if err != nil {
		return nil, err
	}
	ready := map[string]health.Pinger{"store": st}

	backend, err := a.openBuckets(ctx, &rdb)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		ready["redis"] = redisPinger{rdb}
	}

	var ctlOpts []admission.Option
	if cfg.Audit.Enabled {
		pub, err := audit.Dial(splitBrokers(cfg.Kafka.Brokers), cfg.Audit.Topic, cfg.Audit.Queue, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		ctlOpts = append(ctlOpts, admission.WithObserver(pub))
	}
	ctl, err := admission.NewController(backend, map[admission.Tier]admission.Limit{
		admission.TierKey:  {Capacity: cfg.Buckets.KeyCapacity, RefillPerSec: cfg.Buckets.KeyRefill},
		admission.TierAnon: {Capacity: cfg.Buckets.AnonCap, RefillPerSec: cfg.Buckets.AnonRefill},
	}, ctlOpts...)
	if err != nil {
		return nil, err
	}

	var keys apikeys.Registry = apikeys.ParseStatic(cfg.APIKeys)
	if cfg.APIKeysRedisSet != "" {
		if rdb == nil {
			return nil, errors.New("API_KEYS_REDIS_SET needs a redis store or bucket driver")
		}
		keys = apikeys.NewRedis(rdb, cfg.APIKeysRedisSet)
	}

	a.Meta = metacache.New(st, cfg.MetaCacheSize, cfg.MetaCacheTTL)
	if cfg.Invalidation.Enabled {
		kc := kafkaconsumer.FromEnv()
		kc.Brokers = splitBrokers(cfg.Kafka.Brokers)
		kc.Topic, kc.GroupID = cfg.Invalidation.Topic, cfg.Invalidation.GroupID
		a.consumer = kafkaconsumer.New(kc, logger, a.Meta)
	}

	deps := router.Deps{
		Logger:    logger,
		Catalog:   catalog.New(cfg.GridCollections, cfg.TimeSeries),
		Admission: ctl,
		Keys:      keys,
		Cost: cost.Params{
			BaseUnitCost:      cfg.Cost.BaseUnit,
			UnitPrice:         cfg.Cost.UnitPrice,
			MetadataDiscount:  cfg.Cost.MetaDiscount,
			MaxBulk:           cfg.Cost.MaxBulk,
			MaxBulkTimeSeries: cfg.Cost.MaxBulkTimeSeries,
		},
		Pipeline: pipeline.New(st, a.Meta, logger, pipeline.Config{
			QueryTimeout: cfg.Stream.QueryTimeout,
			CloseGrace:   cfg.Stream.CloseGrace,
			FlushEvery:   cfg.Stream.FlushEvery,
		}),
		CORS:  middleware.CORSOptions{AllowedOrigins: cfg.CORSOrigins},
		Ready: health.Readiness(cfg.ReadyTimeout, ready),
	}
	if opts.Metrics != nil && cfg.Metrics.Enabled {
		deps.Metrics, deps.MetricsPath = opts.Metrics.Handler(), cfg.Metrics.Path
	}
	a.Handler = router.New(deps)
	return a, nil
}

// openStore returns the document store and, for the redis driver, the
// client behind it.
func (a *App) openStore(ctx context.Context, override store.Store) (store.Store, redis.UniversalClient, error) {
	if override != nil {
		return override, nil, nil
	}
	switch a.cfg.Store.Driver {
	case "memory", "":
		ms, err := memstore.LoadDir(a.cfg.Store.Fixtures)
		if err != nil {
			return nil, nil, err
		}
		return ms, nil, nil
	case "redis":
		m, err := h3mapper.New(a.cfg.Store.H3Res, a.cfg.Store.H3MaxCell)
		if err != nil {
			return nil, nil, err
		}
		sc := a.cfg.Store
		rs, err := redisstore.New(ctx, sc.RedisAddr, m,
			redisstore.WithPoolSize(sc.RedisPoolSize),
			redisstore.WithMinIdleConns(sc.RedisMinIdleConns),
			redisstore.WithDialTimeout(sc.RedisDialTimeout),
			redisstore.WithReadTimeout(sc.RedisReadTimeout),
		)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, rs.Close)
		return rs, rs.Client(), nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", a.cfg.Store.Driver)
	}
}

// openBuckets picks the admission backend. The redis driver reuses the
// store's client when there is one.
func (a *App) openBuckets(ctx context.Context, rdb *redis.UniversalClient) (admission.Backend, error) {
	switch a.cfg.Buckets.Driver {
	case "memory", "":
		a.buckets = admission.NewMemory()
		return a.buckets, nil
	case "redis":
		if *rdb == nil {
			c := redis.NewClient(&redis.Options{
				Addr: a.cfg.Store.RedisAddr,
				MaintNotificationsConfig: &maintnotifications.Config{
					Mode: maintnotifications.ModeDisabled,
				},
			})
			a.closers = append(a.closers, c.Close)
			*rdb = c
		}
		return admission.NewRedis(ctx, *rdb, "")
	default:
		return nil, fmt.Errorf("unknown BUCKET_DRIVER %q", a.cfg.Buckets.Driver)
	}
}

// Start launches background work: the bucket janitor and the invalidation
// consumer. Both stop with ctx.
func (a *App) Start(ctx context.Context) {
	if a.buckets != nil {
		go a.buckets.RunJanitor(ctx, a.cfg.Buckets.IdleSweep, a.logger)
	}
	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil {
				a.logger.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

type redisPinger struct{ c redis.UniversalClient }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

func splitBrokers(s string) []string {
	var out []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
