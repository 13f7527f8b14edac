package fulfillment

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-realtime-sales/internal/kafka"
	"github.com/ariefcatur/go-realtime-sales/internal/sales"
)

type Processor interface {
	Process(ctx context.Context, s *sales.Sale) (Outcome, error)
}

type StatusReporter interface {
	Report(ctx context.Context, out Outcome) error
}

// Deduper remembers sales whose outcome was delivered.
type Deduper interface {
	Seen(ctx context.Context, saleID string) (bool, error)
	MarkDone(ctx context.Context, saleID string) error
}

// Handler turns one sales topic message into one reported outcome.
type Handler struct {
	proc  Processor
	rep   StatusReporter
	dedup Deduper
	log   *zap.Logger
}

func NewHandler(proc Processor, rep StatusReporter, dedup Deduper, log *zap.Logger) *Handler {
	return &Handler{proc: proc, rep: rep, dedup: dedup, log: log}
}

// Handle returns nil once the outcome is delivered, or when the message is
// not a SaleCreated event or its sale was already fulfilled. Any error
// sends the message to the dead-letter topic.
func (h *Handler) Handle(ctx context.Context, m kafka.Message) error {
	ctx = kafkax.ContextFromMessage(ctx, m)
	headers := kafkax.HeaderMap(m.Headers)
	if et, ok := headers[sales.HeaderEventType]; ok && et != sales.EventSaleCreated {
		h.log.Debug("ignoring event", zap.String("event_type", et))
		return nil
	}

	sale, err := sales.DecodeSale(m.Value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	log := h.log.With(zap.String("sale_id", sale.ID))

	seen, err := h.dedup.Seen(ctx, sale.ID)
	if err != nil {
		log.Warn("dedup lookup failed, processing anyway", zap.Error(err))
	} else if seen {
		duplicatesTotal.Inc()
		log.Info("sale already fulfilled, skipping redelivery")
		return nil
	}

	out, err := h.proc.Process(ctx, sale)
	if err != nil {
		return err
	}
	if err := h.rep.Report(ctx, out); err != nil {
		return err
	}

	if err := h.dedup.MarkDone(ctx, sale.ID); err != nil {
		log.Warn("dedup mark failed", zap.Error(err))
	}
	return nil
}
