package httpx

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-storefront-checkout/internal/fulfillment"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/go-chi/chi/v5"
	"io"
	"net/http"
)

const (
	SignatureHeader = "Stripe-Signature"
	maxWebhookBody  = 64 << 10
)

type Processor interface {
	Process(ctx context.Context, payload []byte, signature string) (fulfillment.Outcome, error)
}

type WebhookHandler struct {
	Processor Processor
	Log       *logging.Logger
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/stripe", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.Log.Error(logging.Fields{Step: "webhook", Message: "panic"}, errors.New(panicText(rec)))
			writeError(w, http.StatusInternalServerError, "Webhook handler failed")
		}
	}()

	// verification needs the exact bytes that were signed
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		writeError(w, http.StatusBadRequest, "Missing signature")
		return
	}

	// redelivery is the gateway's job; a dropped connection must not abort us
	_, err = h.Processor.Process(context.WithoutCancel(r.Context()), payload, sig)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, fulfillment.ErrSignatureInvalid):
		writeError(w, http.StatusBadRequest, "Invalid signature")
	case errors.Is(err, fulfillment.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, "Missing order_id in session metadata")
	default:
		writeError(w, http.StatusInternalServerError, "Webhook handler failed")
	}
}

func panicText(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}
