package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/ocean-datagate/internal/core/observability"
	"github.com/mohammed-shakir/ocean-datagate/internal/invalidation"
	mylog "github.com/mohammed-shakir/ocean-datagate/internal/logger"
)

// Evictor drops one cached metadata document.
type Evictor interface {
	Evict(collection, id string) bool
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	evictor Evictor
	dedupe  *versionDedupe
}

func New(cfg Config, logger *slog.Logger, ev Evictor) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:     cfg,
		logger:  logger,
		evictor: ev,
		dedupe:  newVersionDedupe(cfg.DedupeSize),
	}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.evictor == nil {
		return errors.New("kafkaconsumer: missing metadata cache")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "invalidation")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "metadata invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "metadata invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.ErrorContext(ctx, "kafka consumer error",
					"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(c.cfg.RetryBackoff):
				}
			}
		}
	}
}

// ProcessOne applies a single invalidation message. Malformed messages are
// logged and skipped so one bad payload cannot wedge the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("decode_error")
		c.logger.ErrorContext(ctx, "invalidation decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("invalid")
		c.logger.WarnContext(ctx, "invalidation event rejected",
			"offset", msg.Offset, "collection", ev.Collection, "err", err)
		return nil
	}

	evicted, stale := 0, 0
	for _, id := range ev.IDs {
		if !c.dedupe.shouldApply(ev.Collection+"/"+id, ev.Seq) {
			stale++
			continue
		}
		if c.evictor.Evict(ev.Collection, id) {
			evicted++
		}
	}
	if stale == len(ev.IDs) {
		obs.IncInvalidation("stale")
	} else {
		obs.IncInvalidation("applied")
	}

	c.logger.DebugContext(ctx, "metadata invalidated",
		"op", ev.Op, "collection", ev.Collection, "ids", len(ev.IDs),
		"evicted", evicted, "stale", stale, "seq", ev.Seq)
	return nil
}
