package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	relayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_messages_published_total",
		Help: "Outbox rows published to the broker",
	}, []string{"topic"})

	relayFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed",
	}, []string{"topic"})
)

type Store interface {
	LockBatch(ctx context.Context, batchSize int, lease time.Duration) ([]Message, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int, retryIn time.Duration) error
	ExtendLease(ctx context.Context, ids []int64, lease time.Duration) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type RelayConfig struct {
	BatchSize   int
	Interval    time.Duration
	Lease       time.Duration
	MaxAttempts int
	// A row that failed n times waits RetryBase*2^(n-1), capped at RetryMax.
	RetryBase time.Duration
	RetryMax  time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:   100,
		Interval:    500 * time.Millisecond,
		Lease:       5 * time.Second,
		MaxAttempts: 10,
		RetryBase:   time.Second,
		RetryMax:    5 * time.Minute,
	}
}

// Relay moves pending outbox rows onto the broker and marks them sent.
type Relay struct {
	store Store
	pub   Publisher
	cfg   RelayConfig
	log   *zap.Logger
}

func NewRelay(store Store, pub Publisher, cfg RelayConfig, log *zap.Logger) *Relay {
	def := DefaultRelayConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = max(def.RetryMax, cfg.RetryBase)
	}
	return &Relay{store: store, pub: pub, cfg: cfg, log: log}
}

// Run flushes on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	r.log.Info("outbox relay started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("batch_size", r.cfg.BatchSize),
	)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopping")
			return nil
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("outbox flush failed", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch and returns how many rows were sent. The lease
// of the rows not yet published is renewed once half of it has passed.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.store.LockBatch(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	leasedAt := time.Now()
	sent := make([]int64, 0, len(msgs))
	for i, m := range msgs {
		if time.Since(leasedAt) > r.cfg.Lease/2 {
			if err := r.store.ExtendLease(ctx, messageIDs(msgs[i:]), r.cfg.Lease); err != nil {
				r.log.Warn("outbox lease extension failed", zap.Int("remaining", len(msgs)-i), zap.Error(err))
			} else {
				leasedAt = time.Now()
			}
		}

		if err := r.pub.Publish(ctx, m.Topic, []byte(m.AggregateID), m.Payload, m.Headers); err != nil {
			relayFailed.WithLabelValues(m.Topic).Inc()
			retryIn := r.retryDelay(m.Attempts)
			r.log.Warn("outbox publish failed",
				zap.Int64("outbox_id", m.ID),
				zap.String("aggregate_id", m.AggregateID),
				zap.Int("attempts", m.Attempts+1),
				zap.Duration("retry_in", retryIn),
				zap.Error(err),
			)
			if markErr := r.store.MarkFailed(ctx, m.ID, err.Error(), r.cfg.MaxAttempts, retryIn); markErr != nil {
				r.log.Error("outbox mark failed", zap.Int64("outbox_id", m.ID), zap.Error(markErr))
			}
			continue
		}
		relayPublished.WithLabelValues(m.Topic).Inc()
		sent = append(sent, m.ID)
	}

	if err := r.store.MarkSent(ctx, sent); err != nil {
		// Rows stay leased and will be republished after the lease expires.
		return 0, err
	}
	return len(sent), nil
}

// retryDelay is the wait after a row's (attempts+1)th failed publish.
func (r *Relay) retryDelay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.cfg.RetryBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         r.cfg.RetryMax,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 0; i < attempts && d < r.cfg.RetryMax; i++ {
		d = b.NextBackOff()
	}
	return d
}

func messageIDs(msgs []Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
