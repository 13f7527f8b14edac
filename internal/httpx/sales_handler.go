package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sales/internal/apperr"
	"github.com/ariefcatur/go-realtime-sales/internal/sales"
)

// HeaderCustomerID is set by the gateway from the caller's token.
const HeaderCustomerID = "X-Customer-Id"

type SalesService interface {
	Create(ctx context.Context, in sales.CreateSaleInput) (*sales.Sale, error)
	Get(ctx context.Context, id string) (*sales.Sale, error)
	Status(ctx context.Context, id string) (sales.Status, error)
	History(ctx context.Context, id string) ([]sales.HistoryEntry, error)
	ApplyStatusUpdate(ctx context.Context, id string, up sales.StatusUpdate) (sales.HistoryEntry, error)
}

type SalesHandler struct {
	Service SalesService
	Log     *zap.Logger
}

type CreateSaleResp struct {
	ID     string       `json:"id"`
	Status sales.Status `json:"status"`
}

type SaleResp struct {
	ID          string           `json:"id"`
	CustomerID  string           `json:"customerId"`
	Items       []sales.SaleItem `json:"items"`
	Status      sales.Status     `json:"status"`
	TotalAmount string           `json:"totalAmount"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type StatusResp struct {
	ID     string       `json:"id"`
	Status sales.Status `json:"status"`
}

type errorResp struct {
	Error apperr.AppError `json:"error"`
}

func (h *SalesHandler) Register(r chi.Router) {
	r.Route("/api/sales", func(r chi.Router) {
		r.Post("/", h.createSale)
		r.Get("/{id}", h.getSale)
		r.Get("/{id}/status", h.getStatus)
		r.Get("/{id}/history", h.getHistory)
		r.Put("/{id}/status", h.updateStatus)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *SalesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal(err)
	}
	if appErr.Status >= 500 {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, appErr.Status, errorResp{Error: apperr.AppError{Code: appErr.Code, Message: appErr.Message}})
}

func (h *SalesHandler) createSale(w http.ResponseWriter, r *http.Request) {
	var in sales.CreateSaleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, r, apperr.InvalidInput("invalid json"))
		return
	}
	if in.CustomerID == "" {
		in.CustomerID = r.Header.Get(HeaderCustomerID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sale, err := h.Service.Create(ctx, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CreateSaleResp{ID: sale.ID, Status: sale.Status})
}

func (h *SalesHandler) getSale(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	sale, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SaleResp{
		ID:          sale.ID,
		CustomerID:  sale.CustomerID,
		Items:       sale.Items,
		Status:      sale.Status,
		TotalAmount: displayAmount(sale.TotalAmount),
		CreatedAt:   sale.CreatedAt,
	})
}

func (h *SalesHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Service.Status(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResp{ID: id, Status: st})
}

func (h *SalesHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	hist, err := h.Service.History(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *SalesHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var up sales.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		h.writeError(w, r, apperr.InvalidInput("invalid json"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Service.ApplyStatusUpdate(ctx, chi.URLParam(r, "id"), up); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// displayAmount rounds to the smallest currency unit for presentation only.
func displayAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
