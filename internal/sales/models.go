package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// History action tags.
const (
	ActionSaleCreated         = "SaleCreated"
	ActionStockCheckFailed    = "StockCheckFailed"
	ActionStockDecreaseFailed = "StockDecreaseFailed"
	ActionStockDecreased      = "StockDecreased"
)

// DefaultCustomerID is used when the gateway did not forward a customer.
const DefaultCustomerID = "anon"

type SaleItem struct {
	ProductID int             `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func (i SaleItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// Sale is the aggregate carried on the sales topic and held by the record store.
type Sale struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId"`
	Items       []SaleItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	History     []HistoryEntry  `json:"history"`
}

// Total sums unitPrice*quantity over items without rounding.
func Total(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// NewSale builds a sale in Created with its total fixed and the creation entry recorded.
func NewSale(id, customerID string, items []SaleItem, now time.Time) *Sale {
	if customerID == "" {
		customerID = DefaultCustomerID
	}
	now = now.UTC()
	s := &Sale{
		ID:          id,
		CustomerID:  customerID,
		Items:       append([]SaleItem(nil), items...),
		TotalAmount: Total(items),
		Status:      StatusCreated,
		CreatedAt:   now,
	}
	s.AppendHistory(HistoryEntry{
		Timestamp: now,
		Action:    ActionSaleCreated,
		Details:   "order created, processing",
	})
	return s
}

// AppendHistory appends e, clamping its timestamp so history never goes backwards.
func (s *Sale) AppendHistory(e HistoryEntry) HistoryEntry {
	e.Timestamp = NextTimestamp(s.LastEventAt(), e.Timestamp)
	s.History = append(s.History, e)
	return e
}

// LastEventAt is the timestamp of the newest history entry, or CreatedAt.
func (s *Sale) LastEventAt() time.Time {
	if n := len(s.History); n > 0 {
		return s.History[n-1].Timestamp
	}
	return s.CreatedAt
}

// NextTimestamp returns candidate, or last when candidate is before it.
func NextTimestamp(last, candidate time.Time) time.Time {
	candidate = candidate.UTC()
	if candidate.Before(last) {
		return last.UTC()
	}
	return candidate
}
