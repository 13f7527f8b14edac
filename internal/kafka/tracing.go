package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-realtime-sales/internal/tracing"
)

// ContextFromMessage continues the trace whose context the producer
// injected into m's headers.
func ContextFromMessage(ctx context.Context, m kafka.Message) context.Context {
	return tracing.Extract(ctx, HeaderMap(m.Headers))
}
