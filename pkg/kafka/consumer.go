package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/appctx"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
	partitionBuffer   = 16
)

// MessageHandler processes incoming Kafka messages. A returned error means the
// message was not handled and must be delivered again.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	MinBackoff    time.Duration
	MaxBackoff    time.Duration
}

// Consumer reads the inbound topic with one worker per partition. Messages of
// a partition are handled one at a time and committed only after the handler
// succeeds. A handler error ends the session: uncommitted messages are
// redelivered from the last committed offset when the reader is re-created.
type Consumer struct {
	cfg       ConsumerConfig
	logger    ectologger.Logger
	handler   MessageHandler
	newReader func() messageReader

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.RWMutex
	healthy bool
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	c := &Consumer{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}
	c.newReader = func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    10e3, // 10KB
			MaxBytes:    10e6, // 10MB
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.FirstOffset,
		})
	}
	return c
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.cfg.Topic,
		"group": c.cfg.ConsumerGroup,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop(context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

// Health reports whether a reader session is active.
func (c *Consumer) Health() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Consumer) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := c.cfg.MinBackoff
	for ctx.Err() == nil {
		err := c.session(ctx)
		if ctx.Err() != nil {
			break
		}

		metrics.ConsumerRestartsTotal.Inc()
		c.logger.WithContext(ctx).WithError(err).Warnf("Consumer session ended, redelivering from last commit in %s", backoff)

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}

	c.logger.WithContext(ctx).Info("Consumer loop stopping")
}

// session reads until ctx ends or a handler fails and returns the cause.
func (c *Consumer) session(ctx context.Context) error {
	reader := c.newReader()
	c.setHealthy(true)
	defer func() {
		c.setHealthy(false)
		if err := reader.Close(); err != nil {
			c.logger.WithContext(ctx).WithError(err).Warn("Failed to close reader")
		}
	}()

	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var workers sync.WaitGroup
	partitions := make(map[int]chan kafka.Message)
	defer func() {
		for _, ch := range partitions {
			close(ch)
		}
		workers.Wait()
	}()

	for {
		msg, err := reader.FetchMessage(sctx)
		if err != nil {
			if sctx.Err() != nil {
				return context.Cause(sctx)
			}
			if !errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			}
			return err
		}

		ch, ok := partitions[msg.Partition]
		if !ok {
			ch = make(chan kafka.Message, partitionBuffer)
			partitions[msg.Partition] = ch
			workers.Add(1)
			go c.partitionWorker(sctx, cancel, reader, ch, &workers)
		}

		select {
		case ch <- msg:
		case <-sctx.Done():
			return context.Cause(sctx)
		}
	}
}

func (c *Consumer) partitionWorker(ctx context.Context, fail context.CancelCauseFunc, reader messageReader, ch <-chan kafka.Message, wg *sync.WaitGroup) {
	defer wg.Done()

	for msg := range ch {
		if ctx.Err() != nil {
			return
		}
		if err := c.processMessage(ctx, msg); err != nil {
			fail(err)
			return
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			fail(err)
			return
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	incoming := newIncomingMessage(msg)

	ctx = tracing.ExtractTraceParent(ctx, incoming.TraceParent)
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()
	ctx = appctx.SetMessageRef(ctx, incoming.Ref())

	if err := c.handler(ctx, incoming); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Failed to process message (not committing)")
		return err
	}
	return nil
}
