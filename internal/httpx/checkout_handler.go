package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-storefront-checkout/internal/checkout"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/go-chi/chi/v5"
	"net/http"
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

type CheckoutHandler struct {
	Checkout Checkouter
	Limiter  *RateLimiter // optional
}

type checkoutResp struct {
	Success bool `json:"success"`
	checkout.Result
}

type checkoutErrorResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Product string `json:"product,omitempty"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	if h.Limiter != nil {
		r.With(h.Limiter.Middleware).Post("/checkout", h.create)
		return
	}
	r.Post("/checkout", h.create)
}

func (h *CheckoutHandler) create(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, checkoutErrorResp{Error: "invalid json", Kind: string(checkout.KindInvalidInput)})
		return
	}

	// the orchestrator bounds each call itself and must not be cut off
	// halfway through compensation
	res, err := h.Checkout.Checkout(context.WithoutCancel(r.Context()), req)
	if err != nil {
		var ce *checkout.Error
		if !errors.As(err, &ce) {
			writeJSON(w, http.StatusInternalServerError, checkoutErrorResp{Error: "An unexpected error occurred. Please try again.", Kind: string(checkout.KindUnexpected)})
			return
		}
		writeJSON(w, checkoutStatus(ce), checkoutErrorResp{Error: ce.Message, Kind: string(ce.Kind), Product: ce.Product})
		return
	}
	writeJSON(w, http.StatusOK, checkoutResp{Success: true, Result: res})
}

func checkoutStatus(e *checkout.Error) int {
	switch e.Kind.Class() {
	case checkout.ClassInput:
		return http.StatusBadRequest
	case checkout.ClassCatalog, checkout.ClassInventory:
		return http.StatusConflict
	}
	switch {
	case errors.Is(e, inventory.ErrInsufficientInventory):
		return http.StatusConflict
	case e.Kind == checkout.KindPaymentSessionFailed:
		return http.StatusBadGateway
	case e.Kind == checkout.KindCatalogUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
