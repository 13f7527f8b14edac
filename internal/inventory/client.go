package inventory

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-realtime-sales/internal/apperr"
	"github.com/ariefcatur/go-realtime-sales/internal/httpclient"
)

const serviceName = "inventory"

// StockItem is one line of a check or decrease request.
type StockItem struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

// Shortage names a product that cannot cover the requested quantity.
type Shortage struct {
	ProductID    int `json:"productId"`
	AvailableQty int `json:"availableQty"`
}

type AvailabilityResult struct {
	Available bool       `json:"available"`
	Missing   []Shortage `json:"missing"`
}

type DecreaseResult struct {
	Success bool       `json:"success"`
	Failed  []Shortage `json:"failed"`
}

// Doer is satisfied by *httpclient.Client.
type Doer interface {
	DoJSON(ctx context.Context, method, url string, in, out any) error
}

// Client talks to the inventory service. It never holds stock itself.
type Client struct {
	base string
	http Doer
}

func NewClient(baseURL string, d Doer) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), http: d}
}

func (c *Client) CheckAvailability(ctx context.Context, items []StockItem) (AvailabilityResult, error) {
	var out AvailabilityResult
	if err := c.post(ctx, "/products/availability", items, &out); err != nil {
		return AvailabilityResult{}, err
	}
	return out, nil
}

// DecreaseStock is not idempotent: every successful call removes stock.
func (c *Client) DecreaseStock(ctx context.Context, items []StockItem) (DecreaseResult, error) {
	var out DecreaseResult
	if err := c.post(ctx, "/products/decrease", items, &out); err != nil {
		return DecreaseResult{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, items []StockItem, out any) error {
	err := c.http.DoJSON(ctx, http.MethodPost, c.base+path, items, out)
	if err == nil {
		return nil
	}
	return apperr.Unavailable(serviceName, httpclient.StatusCode(err), fmt.Errorf("POST %s: %w", path, err))
}

// Describe renders shortages as "product <id>: available <n>" lines.
func Describe(s []Shortage) string {
	parts := make([]string, 0, len(s))
	for _, m := range s {
		parts = append(parts, fmt.Sprintf("product %d: available %d", m.ProductID, m.AvailableQty))
	}
	return strings.Join(parts, "; ")
}
