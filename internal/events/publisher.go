// Package events provides best-effort publishing of pipeline telemetry.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"voice-relay-service/internal/observability/metrics"
)

// Backend names accepted by New.
const (
	BackendNone  = "none"
	BackendKafka = "kafka"
	BackendRedis = "redis"
)

// Config holds publisher configuration.
type Config struct {
	Backend      string
	Brokers      []string
	RedisURL     string
	TopicPrefix  string
	Principal    string
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

type message struct {
	ctx     context.Context
	topic   string
	key     string
	payload []byte
}

// Publisher queues events in memory and writes them from a small worker
// pool. When no sink is configured it runs in log-only mode.
type Publisher struct {
	sink         Sink
	principal    string
	prefix       string
	writeTimeout time.Duration
	metrics      *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan message
	wg     sync.WaitGroup
}

// New creates a publisher for the configured backend. A backend that cannot
// be reached at startup degrades to log-only mode.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		log.Info().Msg("Event bus disabled (nil config), using log-only mode")
		return NewWithSink(&Config{}, nil)
	}

	var sink Sink
	switch cfg.Backend {
	case BackendKafka:
		if len(cfg.Brokers) == 0 {
			log.Warn().Msg("Kafka backend selected without brokers, using log-only mode")
			break
		}
		sink = NewKafkaSink(cfg.Brokers, cfg.Principal, cfg.WriteTimeout)
	case BackendRedis:
		s, err := NewRedisSink(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Str("url", cfg.RedisURL).Msg("Failed to connect to Redis bus, using log-only mode")
			break
		}
		sink = s
	case BackendNone, "":
		log.Info().Msg("Event bus disabled, using log-only mode")
	default:
		log.Warn().Str("backend", cfg.Backend).Msg("Unknown bus backend, using log-only mode")
	}
	return NewWithSink(cfg, sink)
}

// NewWithSink creates a publisher writing to sink. A nil sink means log-only.
func NewWithSink(cfg *Config, sink Sink) *Publisher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := &Publisher{
		sink:         sink,
		principal:    cfg.Principal,
		prefix:       cfg.TopicPrefix,
		writeTimeout: timeout,
		metrics:      metrics.DefaultMetrics,
		queue:        make(chan message, size),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	log.Info().
		Str("backend", p.backend()).
		Str("topicPrefix", p.prefix).
		Str("principal", p.principal).
		Int("queueSize", size).
		Int("workers", workers).
		Msg("Event publisher initialized")
	return p
}

// Topic returns the fully qualified topic name.
func (p *Publisher) Topic(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

// Publish encodes payload and queues it. Full queues and encoding failures
// are logged and counted.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload any) {
	full := p.Topic(topic)

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("topic", full).Msg("Failed to marshal event")
		p.metrics.RecordBusDropped("marshal")
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.RecordBusDropped("closed")
		return
	}

	select {
	case p.queue <- message{ctx: context.WithoutCancel(ctx), topic: full, key: key, payload: data}:
	default:
		log.Warn().Str("topic", full).Str("key", key).Msg("Event queue full, dropping event")
		p.metrics.RecordBusDropped("queue_full")
	}
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.write(msg)
	}
}

func (p *Publisher) write(msg message) {
	start := time.Now()

	log.Debug().
		Str("principal", p.principal).
		Str("topic", msg.topic).
		Str("key", msg.key).
		RawJSON("payload", msg.payload).
		Msg("Publishing event")

	if p.sink == nil {
		p.metrics.RecordBusPublish(msg.topic, p.backend(), nil, time.Since(start).Seconds())
		return
	}

	ctx, cancel := context.WithTimeout(msg.ctx, p.writeTimeout)
	defer cancel()

	err := p.sink.Write(ctx, msg.topic, msg.key, msg.payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("backend", p.sink.Name()).
			Str("topic", msg.topic).
			Str("key", msg.key).
			Msg("Failed to publish event")
	}
	p.metrics.RecordBusPublish(msg.topic, p.backend(), err, time.Since(start).Seconds())
}

func (p *Publisher) backend() string {
	if p.sink == nil {
		return "log"
	}
	return p.sink.Name()
}

// Close stops accepting events, drains the queue until ctx is done and
// closes the sink. It is safe to call more than once.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Int("pending", len(p.queue)).Msg("Event queue not drained before shutdown")
		err = ctx.Err()
	}

	if p.sink != nil {
		if e := p.sink.Close(); e != nil {
			log.Error().Err(e).Str("backend", p.sink.Name()).Msg("Error closing event sink")
			err = errors.Join(err, e)
		}
	}
	return err
}
