package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-realtime-sales/internal/apperr"
	"github.com/ariefcatur/go-realtime-sales/internal/httpclient"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", httpclient.New(httpclient.DefaultConfig(t.Name(), time.Second), zaptest.NewLogger(t)))
}

var items = []StockItem{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}

func TestCheckAvailability(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/products/availability", r.URL.Path)

		var got []StockItem
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, items, got)

		_, _ = w.Write([]byte(`{"available":false,"missing":[{"productId":1,"availableQty":1}]}`))
	})

	res, err := c.CheckAvailability(context.Background(), items)
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, []Shortage{{ProductID: 1, AvailableQty: 1}}, res.Missing)
}

func TestDecreaseStock(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/decrease", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	res, err := c.DecreaseStock(context.Background(), items)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Failed)
}

func TestNonSuccessIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := c.DecreaseStock(context.Background(), items)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrCollaboratorUnavailable)

	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "inventory returned status 400", appErr.Message)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "product 1: available 1; product 4: available 0",
		Describe([]Shortage{{ProductID: 1, AvailableQty: 1}, {ProductID: 4, AvailableQty: 0}}))
	assert.Empty(t, Describe(nil))
}
