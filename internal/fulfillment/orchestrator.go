package fulfillment

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sales/internal/httpclient"
	"github.com/ariefcatur/go-realtime-sales/internal/inventory"
	"github.com/ariefcatur/go-realtime-sales/internal/sales"
	"github.com/ariefcatur/go-realtime-sales/internal/tracing"
)

var tracer = tracing.Tracer("fulfillment")

// Inventory is the stock collaborator. *inventory.Client implements it.
type Inventory interface {
	CheckAvailability(ctx context.Context, items []inventory.StockItem) (inventory.AvailabilityResult, error)
	DecreaseStock(ctx context.Context, items []inventory.StockItem) (inventory.DecreaseResult, error)
}

// Outcome is the terminal result of fulfilling one sale.
type Outcome struct {
	SaleID string
	Status sales.Status
	Entry  sales.HistoryEntry
	// Retryable is set when the collaborator was unreachable (open breaker or
	// deadline), so submitting the sale again later could succeed.
	Retryable bool
}

func (o Outcome) update() sales.StatusUpdate {
	return sales.StatusUpdate{ID: o.SaleID, Status: o.Status, History: o.Entry}
}

// Orchestrator checks then decrements stock for a sale and decides its
// terminal status. Check and decrement are separate calls, so stock can
// change between them; the inventory service has the last word.
//
// Process is not idempotent: running it twice for the same sale decrements
// stock twice. Callers suppress redelivery before calling it.
type Orchestrator struct {
	inv Inventory
	log *zap.Logger
	now func() time.Time
}

func NewOrchestrator(inv Inventory, log *zap.Logger) *Orchestrator {
	return &Orchestrator{inv: inv, log: log, now: time.Now}
}

// Process always yields exactly one Outcome unless it panics, in which case
// the error wraps ErrUnhandled.
func (o *Orchestrator) Process(ctx context.Context, s *sales.Sale) (out Outcome, err error) {
	ctx, span := tracer.Start(ctx, "fulfillment.Process", trace.WithAttributes(
		attribute.String("sale.id", s.ID),
		attribute.Int("sale.items", len(s.Items)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sale %s: %v", ErrUnhandled, s.ID, r)
			o.log.Error("orchestration panicked",
				zap.String("sale_id", s.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			span.SetStatus(codes.Error, "panic")
		}
	}()

	out = o.run(ctx, s)
	outcomesTotal.WithLabelValues(string(out.Status), out.Entry.Action).Inc()
	span.SetAttributes(
		attribute.String("sale.status", string(out.Status)),
		attribute.String("sale.action", out.Entry.Action),
	)
	o.log.Info("sale fulfilled",
		zap.String("sale_id", s.ID),
		zap.String("status", string(out.Status)),
		zap.String("action", out.Entry.Action),
		zap.Bool("retryable", out.Retryable),
	)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, s *sales.Sale) Outcome {
	items := stockItems(s.Items)

	avail, err := o.checkAvailability(ctx, items)
	if err != nil {
		o.log.Warn("availability check failed", zap.String("sale_id", s.ID), zap.Error(err))
		return o.failed(s, sales.ActionStockCheckFailed, "availability check failed: "+err.Error(), httpclient.Transient(err))
	}
	if !avail.Available {
		details := "insufficient stock"
		if len(avail.Missing) > 0 {
			details += ": " + inventory.Describe(avail.Missing)
		}
		return o.failed(s, sales.ActionStockCheckFailed, details, false)
	}

	dec, err := o.decreaseStock(ctx, items)
	if err != nil {
		o.log.Warn("stock decrease failed", zap.String("sale_id", s.ID), zap.Error(err))
		return o.failed(s, sales.ActionStockDecreaseFailed, "stock decrease failed: "+err.Error(), httpclient.Transient(err))
	}
	if !dec.Success {
		details := "stock decrease rejected"
		if len(dec.Failed) > 0 {
			details += ": " + inventory.Describe(dec.Failed)
		}
		return o.failed(s, sales.ActionStockDecreaseFailed, details, false)
	}

	return Outcome{
		SaleID: s.ID,
		Status: sales.StatusConfirmed,
		Entry:  o.entry(s, sales.ActionStockDecreased, fmt.Sprintf("stock decreased for %d item(s)", len(items))),
	}
}

func (o *Orchestrator) checkAvailability(ctx context.Context, items []inventory.StockItem) (inventory.AvailabilityResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.CheckAvailability")
	defer span.End()
	res, err := o.inv.CheckAvailability(ctx, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check availability")
	}
	return res, err
}

func (o *Orchestrator) decreaseStock(ctx context.Context, items []inventory.StockItem) (inventory.DecreaseResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.DecreaseStock")
	defer span.End()
	res, err := o.inv.DecreaseStock(ctx, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decrease stock")
	}
	return res, err
}

// RetryableSuffix marks history details of failures a later resubmission
// could fix.
const RetryableSuffix = " (retryable)"

func (o *Orchestrator) failed(s *sales.Sale, action, details string, retryable bool) Outcome {
	if retryable {
		details += RetryableSuffix
	}
	return Outcome{
		SaleID:    s.ID,
		Status:    sales.StatusFailed,
		Entry:     o.entry(s, action, details),
		Retryable: retryable,
	}
}

func (o *Orchestrator) entry(s *sales.Sale, action, details string) sales.HistoryEntry {
	return sales.HistoryEntry{
		Timestamp: sales.NextTimestamp(s.LastEventAt(), o.now()),
		Action:    action,
		Details:   details,
	}
}

func stockItems(items []sales.SaleItem) []inventory.StockItem {
	out := make([]inventory.StockItem, 0, len(items))
	for _, it := range items {
		out = append(out, inventory.StockItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
