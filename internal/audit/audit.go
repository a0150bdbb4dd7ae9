// Package audit publishes admission decisions to Kafka for offline quota
// accounting.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/ocean-datagate/internal/admission"
)

type Event struct {
	TS           time.Time `json:"ts"`
	Client       string    `json:"client"`
	Tier         string    `json:"tier"`
	Cost         float64   `json:"cost"`
	Allowed      bool      `json:"allowed"`
	Remaining    float64   `json:"remaining"`
	RetryAfterMS int64     `json:"retry_after_ms,omitempty"`
}

// Publisher queues events and hands them to an async producer. Publish
// never blocks the request path; a full queue drops the event.
type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	now     func() time.Time
	stopped chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// Dial connects an async producer to brokers.
func Dial(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: create async producer: %w", err)
	}
	return NewPublisher(prod, topic, queueSize, logger), nil
}

// NewPublisher takes ownership of prod; Close closes it.
func NewPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		now:     time.Now,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("audit marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Client),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("audit producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish queues ev. Events published after Close count as dropped.
func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Observe implements admission.Observer.
func (p *Publisher) Observe(_ context.Context, id admission.Identity, d admission.Decision) {
	p.Publish(Event{
		TS:           p.now().UTC(),
		Client:       id.Key,
		Tier:         string(id.Tier),
		Cost:         d.Cost,
		Allowed:      d.Allowed,
		Remaining:    d.Remaining,
		RetryAfterMS: d.RetryAfter.Milliseconds(),
	})
}

// Dropped reports how many events were discarded on a full queue or after
// Close.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Close drains the queue and closes the producer. Later calls are no-ops.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("audit: close producer: %w", err)
	}
	return nil
}
