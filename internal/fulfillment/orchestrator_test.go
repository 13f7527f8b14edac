package fulfillment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-realtime-sales/internal/apperr"
	"github.com/ariefcatur/go-realtime-sales/internal/inventory"
	"github.com/ariefcatur/go-realtime-sales/internal/sales"
)

type fakeInventory struct {
	mu         sync.Mutex
	avail      inventory.AvailabilityResult
	availErr   error
	dec        inventory.DecreaseResult
	decErr     error
	panicOn    string
	checks     int
	decrements int
	decreased  []inventory.StockItem
}

func (f *fakeInventory) CheckAvailability(_ context.Context, _ []inventory.StockItem) (inventory.AvailabilityResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.panicOn == "check" {
		panic("nil map write")
	}
	return f.avail, f.availErr
}

func (f *fakeInventory) DecreaseStock(_ context.Context, items []inventory.StockItem) (inventory.DecreaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decrements++
	f.decreased = append(f.decreased, items...)
	return f.dec, f.decErr
}

var created = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func scenarioSale() *sales.Sale {
	return sales.NewSale("sale-1", "c1", []sales.SaleItem{
		{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
	}, created)
}

func newTestOrchestrator(t *testing.T, inv Inventory) *Orchestrator {
	o := NewOrchestrator(inv, zaptest.NewLogger(t))
	o.now = func() time.Time { return created.Add(time.Second) }
	return o
}

func TestProcess_Confirmed(t *testing.T) {
	inv := &fakeInventory{
		avail: inventory.AvailabilityResult{Available: true},
		dec:   inventory.DecreaseResult{Success: true},
	}
	sale := scenarioSale()
	require.Equal(t, "25.00", sale.TotalAmount.StringFixed(2))

	out, err := newTestOrchestrator(t, inv).Process(context.Background(), sale)
	require.NoError(t, err)

	assert.Equal(t, "sale-1", out.SaleID)
	assert.Equal(t, sales.StatusConfirmed, out.Status)
	assert.Equal(t, sales.ActionStockDecreased, out.Entry.Action)
	assert.False(t, out.Retryable)
	assert.Equal(t, 1, inv.decrements)
	assert.Equal(t, []inventory.StockItem{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}, inv.decreased)

	sale.AppendHistory(out.Entry)
	require.Len(t, sale.History, 2)
	assert.Equal(t, sales.ActionSaleCreated, sale.History[0].Action)
	assert.Equal(t, sales.ActionStockDecreased, sale.History[1].Action)
}

func TestProcess_InsufficientStockNeverDecrements(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{
		Available: false,
		Missing:   []inventory.Shortage{{ProductID: 1, AvailableQty: 1}},
	}}

	out, err := newTestOrchestrator(t, inv).Process(context.Background(), scenarioSale())
	require.NoError(t, err)

	assert.Equal(t, sales.StatusFailed, out.Status)
	assert.Equal(t, sales.ActionStockCheckFailed, out.Entry.Action)
	assert.Contains(t, out.Entry.Details, "product 1: available 1")
	assert.False(t, out.Retryable)
	assert.Zero(t, inv.decrements)
}

func TestProcess_CheckUnavailable(t *testing.T) {
	inv := &fakeInventory{availErr: apperr.Unavailable("inventory", 503, errors.New("unexpected status 503"))}

	out, err := newTestOrchestrator(t, inv).Process(context.Background(), scenarioSale())
	require.NoError(t, err)

	assert.Equal(t, sales.StatusFailed, out.Status)
	assert.Equal(t, sales.ActionStockCheckFailed, out.Entry.Action)
	assert.Contains(t, out.Entry.Details, "availability check failed")
	assert.NotContains(t, out.Entry.Details, RetryableSuffix)
	assert.False(t, out.Retryable)
	assert.Zero(t, inv.decrements)
}

func TestProcess_OpenBreakerIsRetryable(t *testing.T) {
	inv := &fakeInventory{availErr: apperr.Unavailable("inventory", 0, gobreaker.ErrOpenState)}

	out, err := newTestOrchestrator(t, inv).Process(context.Background(), scenarioSale())
	require.NoError(t, err)

	assert.Equal(t, sales.StatusFailed, out.Status)
	assert.True(t, out.Retryable)
	assert.True(t, strings.HasSuffix(out.Entry.Details, RetryableSuffix))
	assert.Equal(t, out.Entry.Details, out.update().History.Details)
}

func TestProcess_DecreaseTransportFailure(t *testing.T) {
	inv := &fakeInventory{
		avail:  inventory.AvailabilityResult{Available: true},
		decErr: apperr.Unavailable("inventory", 0, errors.New("connection refused")),
	}

	out, err := newTestOrchestrator(t, inv).Process(context.Background(), scenarioSale())
	require.NoError(t, err)

	assert.Equal(t, sales.StatusFailed, out.Status)
	assert.Equal(t, sales.ActionStockDecreaseFailed, out.Entry.Action)
	assert.Contains(t, out.Entry.Details, "connection refused")
}

func TestProcess_DecreaseRejected(t *testing.T) {
	inv := &fakeInventory{
		avail: inventory.AvailabilityResult{Available: true},
		dec:   inventory.DecreaseResult{Success: false, Failed: []inventory.Shortage{{ProductID: 2, AvailableQty: 0}}},
	}

	out, err := newTestOrchestrator(t, inv).Process(context.Background(), scenarioSale())
	require.NoError(t, err)

	assert.Equal(t, sales.StatusFailed, out.Status)
	assert.Equal(t, sales.ActionStockDecreaseFailed, out.Entry.Action)
	assert.Equal(t, "stock decrease rejected: product 2: available 0", out.Entry.Details)
}

func TestProcess_PanicIsUnhandled(t *testing.T) {
	inv := &fakeInventory{panicOn: "check"}

	_, err := newTestOrchestrator(t, inv).Process(context.Background(), scenarioSale())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnhandled)
	assert.Contains(t, err.Error(), "sale-1")
}

func TestProcess_EntryNeverPrecedesHistory(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{Available: true}, dec: inventory.DecreaseResult{Success: true}}
	o := newTestOrchestrator(t, inv)
	o.now = func() time.Time { return created.Add(-time.Hour) }

	out, err := o.Process(context.Background(), scenarioSale())
	require.NoError(t, err)
	assert.Equal(t, created, out.Entry.Timestamp)
}

// Processing the same sale twice decrements stock twice. Redelivery is
// only suppressed by the Handler's dedup store.
func TestProcess_IsNotIdempotent(t *testing.T) {
	inv := &fakeInventory{avail: inventory.AvailabilityResult{Available: true}, dec: inventory.DecreaseResult{Success: true}}
	o := newTestOrchestrator(t, inv)

	for i := 0; i < 2; i++ {
		out, err := o.Process(context.Background(), scenarioSale())
		require.NoError(t, err)
		assert.Equal(t, sales.StatusConfirmed, out.Status)
	}
	assert.Equal(t, 2, inv.decrements)
}
