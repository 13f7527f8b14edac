package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes synchronously: Publish returns once the brokers have
// acknowledged the write, so a caller can decide what to do on failure.
type Producer struct {
	w Writer
}

// NewWriter builds a writer with no default topic; every message names its own.
// Keys hash to partitions so all events of one sale stay ordered.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewProducer(brokers []string) *Producer {
	return NewProducerWithWriter(NewWriter(brokers))
}

func NewProducerWithWriter(w Writer) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	start := time.Now()
	err := p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    start,
		Headers: toHeaders(headers),
	})
	ProducerPublishDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		ProducerPublishErrors.WithLabelValues(topic).Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	ProducerMessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

// toHeaders converts headers in key order so the wire layout is stable.
func toHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	return out
}

// HeaderMap flattens message headers; a repeated key keeps its last value.
func HeaderMap(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
