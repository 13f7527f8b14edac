package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-realtime-sales/internal/inventory"
	"github.com/ariefcatur/go-realtime-sales/internal/redisx"
	"github.com/ariefcatur/go-realtime-sales/internal/sales"
)

type fakeReporter struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (r *fakeReporter) Report(_ context.Context, out Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, out)
	if r.err != nil {
		return &ReportError{Outcome: out, Err: r.err}
	}
	return nil
}

type failingDeduper struct{}

func (failingDeduper) Seen(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (failingDeduper) MarkDone(context.Context, string) error { return errors.New("redis down") }

func saleMessage(t *testing.T) kafka.Message {
	t.Helper()
	b, err := sales.EncodeSale(scenarioSale())
	require.NoError(t, err)
	return kafka.Message{
		Topic: sales.TopicSales,
		Key:   []byte("sale-1"),
		Value: b,
		Headers: []kafka.Header{
			{Key: sales.HeaderEventType, Value: []byte(sales.EventSaleCreated)},
		},
	}
}

func TestHandle_ConfirmedPathReportsOnce(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{Available: true}, dec: inventory.DecreaseResult{Success: true}}
	rep := &fakeReporter{}
	h := NewHandler(newTestOrchestrator(t, inv), rep, redisx.NewMemoryDeduper(), zaptest.NewLogger(t))

	require.NoError(t, h.Handle(context.Background(), saleMessage(t)))

	require.Len(t, rep.outcomes, 1)
	assert.Equal(t, sales.StatusConfirmed, rep.outcomes[0].Status)
	assert.Equal(t, sales.ActionStockDecreased, rep.outcomes[0].Entry.Action)
}

func TestHandle_CheckFailedNeverDecrements(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{Available: false, Missing: []inventory.Shortage{{ProductID: 1, AvailableQty: 1}}}}
	rep := &fakeReporter{}
	h := NewHandler(newTestOrchestrator(t, inv), rep, redisx.NewMemoryDeduper(), zaptest.NewLogger(t))

	require.NoError(t, h.Handle(context.Background(), saleMessage(t)))

	require.Len(t, rep.outcomes, 1)
	assert.Equal(t, sales.StatusFailed, rep.outcomes[0].Status)
	assert.Equal(t, sales.ActionStockCheckFailed, rep.outcomes[0].Entry.Action)
	assert.Zero(t, inv.decrements)
}

func TestHandle_DecreaseTransportFailureStillReportsOnce(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{Available: true}, decErr: errors.New("connection reset")}
	rep := &fakeReporter{}
	h := NewHandler(newTestOrchestrator(t, inv), rep, redisx.NewMemoryDeduper(), zaptest.NewLogger(t))

	require.NoError(t, h.Handle(context.Background(), saleMessage(t)))

	require.Len(t, rep.outcomes, 1)
	assert.Equal(t, sales.StatusFailed, rep.outcomes[0].Status)
	assert.Equal(t, sales.ActionStockDecreaseFailed, rep.outcomes[0].Entry.Action)
}

func TestHandle_RedeliveryIsSuppressedByDedup(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{Available: true}, dec: inventory.DecreaseResult{Success: true}}
	rep := &fakeReporter{}
	h := NewHandler(newTestOrchestrator(t, inv), rep, redisx.NewMemoryDeduper(), zaptest.NewLogger(t))

	m := saleMessage(t)
	require.NoError(t, h.Handle(context.Background(), m))
	require.NoError(t, h.Handle(context.Background(), m))

	assert.Equal(t, 1, inv.decrements)
	assert.Len(t, rep.outcomes, 1)
}

func TestHandle_FailedReportIsNotMarkedDone(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{Available: true}, dec: inventory.DecreaseResult{Success: true}}
	rep := &fakeReporter{err: errors.New("store down")}
	dedup := redisx.NewMemoryDeduper()
	h := NewHandler(newTestOrchestrator(t, inv), rep, dedup, zaptest.NewLogger(t))

	err := h.Handle(context.Background(), saleMessage(t))
	assert.ErrorIs(t, err, ErrReport)

	seen, _ := dedup.Seen(context.Background(), "sale-1")
	assert.False(t, seen)
}

func TestHandle_DedupOutageStillProcesses(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{Available: true}, dec: inventory.DecreaseResult{Success: true}}
	rep := &fakeReporter{}
	h := NewHandler(newTestOrchestrator(t, inv), rep, failingDeduper{}, zaptest.NewLogger(t))

	require.NoError(t, h.Handle(context.Background(), saleMessage(t)))
	assert.Len(t, rep.outcomes, 1)
}

func TestHandle_MalformedPayload(t *testing.T) {
	inv := &fakeInventory{}
	rep := &fakeReporter{}
	h := NewHandler(newTestOrchestrator(t, inv), rep, redisx.NewMemoryDeduper(), zaptest.NewLogger(t))

	err := h.Handle(context.Background(), kafka.Message{Topic: "sales", Value: []byte(`{"id":`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Zero(t, inv.checks)
	assert.Empty(t, rep.outcomes)
}

func TestHandle_IgnoresOtherEventTypes(t *testing.T) {
	inv := &fakeInventory{}
	rep := &fakeReporter{}
	h := NewHandler(newTestOrchestrator(t, inv), rep, redisx.NewMemoryDeduper(), zaptest.NewLogger(t))

	m := saleMessage(t)
	m.Headers = []kafka.Header{{Key: sales.HeaderEventType, Value: []byte("SaleCancelled")}}
	require.NoError(t, h.Handle(context.Background(), m))
	assert.Zero(t, inv.checks)
}

func TestHandle_PanicSurfacesAsUnhandled(t *testing.T) {
	inv := &fakeInventory{panicOn: "check"}
	rep := &fakeReporter{}
	h := NewHandler(newTestOrchestrator(t, inv), rep, redisx.NewMemoryDeduper(), zaptest.NewLogger(t))

	err := h.Handle(context.Background(), saleMessage(t))
	assert.ErrorIs(t, err, ErrUnhandled)
	assert.Empty(t, rep.outcomes)
}
