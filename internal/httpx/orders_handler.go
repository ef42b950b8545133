package httpx

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"net/http"
	"time"
)

type OrderReader interface {
	GetStatus(ctx context.Context, orderID string) (orders.Status, error)
	GetWithItems(ctx context.Context, orderID string) (orders.OrderWithItems, error)
}

type SessionReader interface {
	RetrieveSession(ctx context.Context, id string) (payment.CheckoutSession, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (string, bool, error)
	Set(ctx context.Context, orderID, status string) error
}

type OrdersHandler struct {
	Orders   OrderReader
	Sessions SessionReader
	Cache    StatusCache // optional
	Log      *logging.Logger
}

type orderStatusResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type successResp struct {
	Order         orders.OrderWithItems `json:"order"`
	PaymentStatus string                `json:"payment_status"`
	Confirmed     bool                  `json:"confirmed"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getStatus)
	r.Get("/checkout/success", h.success)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(orderID); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if s, ok, err := h.Cache.Get(ctx, orderID); err == nil && ok {
			writeJSON(w, http.StatusOK, orderStatusResp{OrderID: orderID, Status: s})
			return
		}
	}

	// 2) fallback DB
	status, err := h.Orders.GetStatus(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.Log.Error(logging.Fields{Step: "get_order_status", OrderID: orderID}, err)
		writeError(w, http.StatusInternalServerError, "Failed to load order")
		return
	}
	// drafts flip to paid when the webhook lands; only settled orders are cached
	if h.Cache != nil && status.Settled() {
		_ = h.Cache.Set(ctx, orderID, string(status))
	}
	writeJSON(w, http.StatusOK, orderStatusResp{OrderID: orderID, Status: string(status)})
}

// success backs the page the gateway redirects to. The order may still be a
// draft if the webhook has not arrived yet.
func (h *OrdersHandler) success(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Sessions.RetrieveSession(ctx, sessionID)
	if errors.Is(err, payment.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		h.Log.Error(logging.Fields{Step: "retrieve_session", SessionID: sessionID}, err)
		writeError(w, http.StatusBadGateway, "Failed to load payment session")
		return
	}
	if sess.OrderID == "" {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	// an open or expired session must not reveal the order's contact details
	if sess.PaymentStatus != payment.StatusPaid {
		writeError(w, http.StatusPaymentRequired, "Payment not completed")
		return
	}

	o, err := h.Orders.GetWithItems(ctx, sess.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		h.Log.Error(logging.Fields{Step: "load_order", OrderID: sess.OrderID, SessionID: sessionID}, err)
		writeError(w, http.StatusInternalServerError, "Failed to load order")
		return
	}
	writeJSON(w, http.StatusOK, successResp{Order: o, PaymentStatus: sess.PaymentStatus, Confirmed: o.Status.Settled()})
}
