// Package publisher delivers committed link lifecycle events to Kafka.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sundayezeilo/linkservice/internal/shortener"
)

const (
	DefaultTopic        = "link-lifecycle-events"
	DefaultSource       = "link-service"
	DefaultWriteTimeout = 5 * time.Second
	DefaultBatchTimeout = 10 * time.Millisecond
	DefaultBatchSize    = 100
	DefaultQueueSize    = 1024

	HeaderSource        = "source"
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
)

var (
	ErrClosed    = errors.New("publisher closed")
	ErrQueueFull = errors.New("publish queue full")
)

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Metrics counts delivery outcomes per event type.
type Metrics interface {
	EventPublished(eventType string)
	EventPublishFailed(eventType string)
}

type nopMetrics struct{}

func (nopMetrics) EventPublished(string)     {}
func (nopMetrics) EventPublishFailed(string) {}

// Config holds configuration for the Kafka publisher.
type Config struct {
	Brokers      []string
	Topic        string
	Source       string
	WriteTimeout time.Duration
	// BatchTimeout bounds how long the writer waits to fill a batch. kafka-go
	// defaults to one second, which caps a synchronous writer at one batch
	// per second.
	BatchTimeout time.Duration
	// BatchSize is the most events handed to the writer in one call.
	BatchSize int
	QueueSize int
	Logger    *slog.Logger
	Metrics   Metrics
}

type pending struct {
	event shortener.Event
	msg   kafka.Message
}

// KafkaPublisher implements shortener.EventPublisher. Publish only enqueues;
// a single worker writes messages in the order they were handed over, so
// events for one link reach the topic in commit order. Failed sends are
// logged and counted, never retried.
type KafkaPublisher struct {
	writer    messageWriter
	source    string
	timeout   time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan pending
	done   chan struct{}
}

var _ shortener.EventPublisher = (*KafkaPublisher)(nil)

// New creates a publisher writing to cfg.Topic on cfg.Brokers. Messages are
// partitioned by key so all events of a link land on one partition.
func New(cfg Config) *KafkaPublisher {
	cfg = cfg.withDefaults()
	return newWithWriter(newKafkaWriter(cfg), cfg)
}

func newKafkaWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           cfg.BatchTimeout,
		BatchSize:              cfg.BatchSize,
		AllowAutoTopicCreation: true,
	}
}

func newWithWriter(w messageWriter, cfg Config) *KafkaPublisher {
	cfg = cfg.withDefaults()

	p := &KafkaPublisher{
		writer:    w,
		source:    cfg.Source,
		timeout:   cfg.WriteTimeout,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		queue:     make(chan pending, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	return c
}

// Publish hands events to the background worker without waiting for the
// broker. It never fails from the caller's point of view.
func (p *KafkaPublisher) Publish(ctx context.Context, events []shortener.Event) {
	for _, e := range events {
		msg, err := p.message(e)
		if err != nil {
			p.failed(ctx, e, err)
			continue
		}
		p.enqueue(ctx, pending{event: e, msg: msg})
	}
}

func (p *KafkaPublisher) message(e shortener.Event) (kafka.Message, error) {
	value, err := EncodeEvent(e)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: HeaderSource, Value: []byte(p.source)},
		{Key: HeaderEventType, Value: []byte(e.Type)},
	}
	if e.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(e.CorrelationID)})
	}

	return kafka.Message{
		Key:     []byte(e.Key()),
		Value:   value,
		Headers: headers,
		Time:    e.OccurredAt,
	}, nil
}

func (p *KafkaPublisher) enqueue(ctx context.Context, item pending) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.failed(ctx, item.event, ErrClosed)
		return
	}

	select {
	case p.queue <- item:
	default:
		p.failed(ctx, item.event, ErrQueueFull)
	}
}

func (p *KafkaPublisher) run() {
	defer close(p.done)

	batch := make([]pending, 0, p.batchSize)
	for item := range p.queue {
		batch = append(batch[:0], item)
		batch = p.drain(batch)
		p.write(batch)
	}
}

// drain appends whatever is already queued, up to the batch size, without
// waiting for more.
func (p *KafkaPublisher) drain(batch []pending) []pending {
	for len(batch) < p.batchSize {
		select {
		case item, ok := <-p.queue:
			if !ok {
				return batch
			}
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

func (p *KafkaPublisher) write(batch []pending) {
	msgs := make([]kafka.Message, len(batch))
	for i, item := range batch {
		msgs[i] = item.msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	err := p.writer.WriteMessages(ctx, msgs...)
	cancel()

	var perMessage kafka.WriteErrors
	if err != nil && !(errors.As(err, &perMessage) && len(perMessage) == len(batch)) {
		perMessage = nil
	}

	for i, item := range batch {
		itemErr := err
		if perMessage != nil {
			itemErr = perMessage[i]
		}
		if itemErr != nil {
			p.failed(ctx, item.event, itemErr)
			continue
		}

		p.metrics.EventPublished(string(item.event.Type))
		p.logger.Debug("lifecycle event published",
			"event_type", string(item.event.Type),
			"link_id", item.event.Link.ID.String(),
			"code", item.event.Link.Code,
			"request_id", item.event.CorrelationID,
		)
	}
}

func (p *KafkaPublisher) failed(ctx context.Context, e shortener.Event, err error) {
	p.metrics.EventPublishFailed(string(e.Type))
	p.logger.ErrorContext(context.WithoutCancel(ctx), "failed to publish lifecycle event",
		"event_type", string(e.Type),
		"link_id", e.Link.ID.String(),
		"code", e.Link.Code,
		"request_id", e.CorrelationID,
		"reason", err.Error(),
	)
}

// Close stops accepting events, waits for queued ones to be written and
// closes the writer. Events still queued when ctx expires are abandoned.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		return errors.Join(ctx.Err(), p.writer.Close())
	}
	return p.writer.Close()
}
