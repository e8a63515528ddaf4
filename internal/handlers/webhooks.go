package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courseloft/api/internal/payments"
	"github.com/courseloft/api/internal/platform/httpx"
	"github.com/courseloft/api/internal/platform/observability"
	"github.com/courseloft/api/internal/services"
)

const maxWebhookBody = 64 * 1024

// WebhookHandlers receives payment provider event deliveries.
type WebhookHandlers struct {
	reconciler    services.Reconciler
	signingSecret string
}

// NewWebhookHandlers constructs the webhook handlers. signingSecret is the
// provider's endpoint secret used to verify delivery signatures.
func NewWebhookHandlers(reconciler services.Reconciler, signingSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		reconciler:    reconciler,
		signingSecret: signingSecret,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/webhooks/stripe", h.stripeEvent)
}

// stripeEvent verifies the delivery signature and reconciles the referenced
// session. The provider retries on anything but 2xx, so only errors that a
// retry could fix return a non-2xx status.
func (h *WebhookHandlers) stripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	session, err := payments.ParseCheckoutCompleted(body, r.Header.Get("Stripe-Signature"), h.signingSecret)
	if errors.Is(err, payments.ErrUnhandledEvent) {
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": false})
		return
	}
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "event signature could not be verified", http.StatusBadRequest))
		return
	}

	result, err := h.reconciler.Reconcile(ctx, session.SessionID)
	if errors.Is(err, services.ErrReconcileMismatch) {
		// A session that disagrees with its own metadata never heals on
		// retry. Acknowledge the delivery and leave the order to operators.
		observability.FromContext(ctx).Error("webhook session mismatch",
			zap.String("sessionId", session.SessionID),
			zap.Error(err),
		)
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": false})
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received": true,
		"handled":  true,
		"orderId":  result.Order.ID,
		"replayed": result.Replayed,
	})
}
