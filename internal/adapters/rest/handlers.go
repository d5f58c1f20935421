// Package rest is the HTTP boundary: it decodes requests into typed inputs,
// delegates to the reconciliation coordinator, and maps the error taxonomy
// onto status codes. No business logic lives here.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tillpoint/internal/checkout"
	"tillpoint/internal/observability"
	"tillpoint/internal/realtime"
)

// IdempotencyStore lets the checkout endpoint absorb duplicate client
// retries keyed by the Idempotency-Key header. Nil disables the feature.
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// Handler holds the boundary's dependencies.
type Handler struct {
	coordinator *checkout.Coordinator
	idem        IdempotencyStore
	hub         *realtime.Hub
	metrics     *observability.Metrics
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

// NewHandler constructs a Handler. idem and hub may be nil.
func NewHandler(coordinator *checkout.Coordinator, idem IdempotencyStore, hub *realtime.Hub, metrics *observability.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		coordinator: coordinator,
		idem:        idem,
		hub:         hub,
		metrics:     metrics,
		logger:      logger,
	}
}

type checkoutRequest struct {
	Items []checkout.LineItem `json:"items"`
}

type checkoutResponse struct {
	SaleID int64           `json:"saleId"`
	Total  decimal.Decimal `json:"total"`
}

type paymentRequest struct {
	SaleID     int64           `json:"saleId"`
	CardNumber string          `json:"cardNumber"`
	Amount     decimal.Decimal `json:"amount"`
}

type paymentResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const indeterminateStatus = "Indeterminate"

// Checkout handles POST /checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("checkout")
	var opErr error
	defer func() { span.End(opErr) }()

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		opErr = err
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if h.idem != nil && key != "" {
		h.checkoutIdempotent(w, r, req, key, &opErr)
		return
	}

	record, err := h.coordinator.Checkout(r.Context(), req.Items)
	if err != nil {
		opErr = err
		h.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{SaleID: record.ID, Total: record.Total})
}

// checkoutIdempotent runs the checkout under an idempotency key: the first
// request wins the lock and remembers its response, retries replay it.
func (h *Handler) checkoutIdempotent(w http.ResponseWriter, r *http.Request, req checkoutRequest, key string, opErr *error) {
	ctx := r.Context()

	locked, err := h.idem.TryLock(ctx, "checkout", key)
	if err != nil {
		*opErr = err
		h.logger.Error("idempotency lock failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
		return
	}

	if !locked {
		stored, found, err := h.idem.Recall(ctx, "checkout", key)
		if err != nil {
			*opErr = err
			writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		if !found {
			// First request still in flight; the client should retry later.
			writeError(w, http.StatusConflict, "checkout with this idempotency key is in progress")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(stored))
		return
	}

	record, err := h.coordinator.Checkout(ctx, req.Items)
	if err != nil {
		*opErr = err
		h.writeCheckoutError(w, err)
		return
	}

	resp := checkoutResponse{SaleID: record.ID, Total: record.Total}
	if encoded, err := json.Marshal(resp); err == nil {
		if err := h.idem.Remember(ctx, "checkout", key, string(encoded)); err != nil {
			h.logger.Error("idempotency remember failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case checkout.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "sale could not be recorded; safe to retry")
	default:
		h.logger.Error("checkout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Payment handles POST /payment.
func (h *Handler) Payment(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("payment")
	var opErr error
	defer func() { span.End(opErr) }()

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		opErr = err
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.coordinator.Pay(r.Context(), req.SaleID, req.CardNumber, req.Amount)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, paymentResponse{Status: string(result.Status)})
	case errors.Is(err, checkout.ErrSaleNotFound):
		opErr = err
		writeError(w, http.StatusNotFound, "sale not found")
	case errors.Is(err, checkout.ErrAmountMismatch):
		opErr = err
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, checkout.ErrPaymentIndeterminate):
		opErr = err
		// The charge may or may not have happened; only the gateway knows.
		writeJSON(w, http.StatusBadGateway, paymentResponse{Status: indeterminateStatus})
	default:
		opErr = err
		h.logger.Error("payment failed", zap.Int64("sale_id", req.SaleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Sale handles GET /sales/{id}.
func (h *Handler) Sale(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("get_sale")
	var opErr error
	defer func() { span.End(opErr) }()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		opErr = err
		writeError(w, http.StatusBadRequest, "sale id must be an integer")
		return
	}

	record, err := h.coordinator.Sale(r.Context(), id)
	if errors.Is(err, checkout.ErrSaleNotFound) {
		opErr = err
		writeError(w, http.StatusNotFound, "sale not found")
		return
	}
	if err != nil {
		opErr = err
		h.logger.Error("sale lookup failed", zap.Int64("sale_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Feed handles GET /ws: a websocket stream of sale status events.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, "feed disabled")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.hub.Register <- conn

	// Drain client frames; the feed is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.hub.Unregister <- conn
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
