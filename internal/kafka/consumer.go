package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message is fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the part of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers   []string
	GroupID   string
	Topic     string
	Workers   int
	DLQPrefix string
}

type Consumer struct {
	r       Reader
	dlq     Writer
	cfg     ConsumerConfig
	log     *zap.Logger
	backoff time.Duration
}

// NewConsumer joins cfg.GroupID on cfg.Topic. Offsets are committed
// explicitly after each message, never on an interval.
func NewConsumer(cfg ConsumerConfig, dlq Writer, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return NewConsumerWithReader(r, dlq, cfg, log)
}

func NewConsumerWithReader(r Reader, dlq Writer, cfg ConsumerConfig, log *zap.Logger) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Consumer{r: r, dlq: dlq, cfg: cfg, log: log, backoff: 200 * time.Millisecond}
}

// Start fetches until ctx is done. Messages of one partition always go to
// the same worker, so per-partition order and commit order are preserved.
// On shutdown fetching stops, the message each worker is handling finishes,
// queued messages are dropped uncommitted and the reader closes.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() {
		if err := c.r.Close(); err != nil {
			c.log.Warn("close kafka reader", zap.Error(err))
		}
	}()

	jobs := make([]chan kafka.Message, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if ctx.Err() != nil {
					// Not started: left uncommitted for the next owner.
					continue
				}
				c.process(ctx, h, m)
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	c.log.Info("consumer started",
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
		zap.Int("workers", c.cfg.Workers),
	)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopping", zap.String("topic", c.cfg.Topic))
				stop()
				return nil
			}
			c.log.Error("fetch message", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}

		select {
		case jobs[m.Partition%len(jobs)] <- m:
		case <-ctx.Done():
			// m stays uncommitted and is redelivered to the next owner.
			stop()
			return nil
		}
	}
}

// process runs h detached from shutdown so a message that started is
// finished, reported and committed.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	ctx = context.WithoutCancel(ctx)
	labels := []string{m.Topic, c.cfg.GroupID}
	log := c.log.With(
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)

	start := time.Now()
	err := c.safeHandle(ctx, h, m)
	ConsumerProcessingDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

	if err != nil {
		ConsumerMessagesFailed.WithLabelValues(labels...).Inc()
		dl := deadLetter(m, c.cfg.DLQPrefix, c.cfg.GroupID, err)
		if dlqErr := c.dlq.WriteMessages(ctx, dl); dlqErr != nil {
			log.Error("dead-letter publish failed, leaving offset uncommitted",
				zap.String("dlq_topic", dl.Topic),
				zap.NamedError("handler_error", err),
				zap.Error(dlqErr),
			)
			return
		}
		ConsumerDLQPublished.WithLabelValues(labels...).Inc()
		log.Warn("message dead-lettered", zap.String("dlq_topic", dl.Topic), zap.Error(err))
	} else {
		ConsumerMessagesProcessed.WithLabelValues(labels...).Inc()
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		log.Error("commit offset", zap.Error(err))
	}
}

func (c *Consumer) safeHandle(ctx context.Context, h Handler, m kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, m)
}
