package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courseloft/api/internal/platform/httpx"
	"github.com/courseloft/api/internal/platform/observability"
	"github.com/courseloft/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the checkout session and completion endpoints.
type CheckoutHandlers struct {
	checkout   services.CheckoutService
	reconciler services.Reconciler
	successURL string
	failureURL string
}

// NewCheckoutHandlers constructs the checkout handlers. successURL and
// failureURL are the storefront pages the completion endpoint redirects to.
func NewCheckoutHandlers(checkout services.CheckoutService, reconciler services.Reconciler, successURL, failureURL string) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout:   checkout,
		reconciler: reconciler,
		successURL: successURL,
		failureURL: failureURL,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout/session", h.createSession)
	r.Get("/checkout/complete", h.complete)
}

type checkoutItemPayload struct {
	ItemID string `json:"itemId"`
	Price  int64  `json:"price"`
}

type checkoutSessionRequest struct {
	Email       string                `json:"email"`
	CustomerRef string                `json:"customerRef"`
	PromoCode   string                `json:"promoCode"`
	Total       int64                 `json:"total"`
	Items       []checkoutItemPayload `json:"items"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Total     int64  `json:"total"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutSessionRequest
	if err := decodeBody(r, maxCheckoutRequestBody, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	cmd := services.CreateCheckoutIntentCommand{
		Email:         strings.TrimSpace(req.Email),
		CustomerRef:   strings.TrimSpace(req.CustomerRef),
		PromoCode:     strings.TrimSpace(req.PromoCode),
		DeclaredTotal: req.Total,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CheckoutItemInput{
			ItemID: strings.TrimSpace(item.ItemID),
			Price:  item.Price,
		})
	}

	intent, err := h.checkout.CreateCheckoutIntent(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{
		SessionID: intent.SessionID,
		URL:       intent.RedirectURL,
		Total:     intent.Total,
	})
}

// complete is the browser return URL after payment. It reconciles the session
// and always answers with a redirect, never a JSON body in front of the buyer.
// The failure page is reserved for payments that did not really happen: a
// session that was never captured or whose amounts disagree with the order.
// Once the provider reports the payment captured, a transient reconcile
// failure must not tell the buyer the purchase failed; the webhook delivery
// retries the reconciliation, so the buyer lands on the success page.
func (h *CheckoutHandlers) complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" || h.reconciler == nil {
		http.Redirect(w, r, h.failureURL, http.StatusSeeOther)
		return
	}

	if _, err := h.reconciler.Reconcile(ctx, sessionID); err != nil {
		if errors.Is(err, services.ErrReconcileMismatch) || errors.Is(err, services.ErrReconcileNotCaptured) {
			http.Redirect(w, r, h.failureURL, http.StatusSeeOther)
			return
		}
		observability.FromContext(ctx).Warn("checkout completion deferred to webhook",
			zap.String("sessionId", sessionID),
			zap.Error(err),
		)
	}

	http.Redirect(w, r, h.successURL, http.StatusSeeOther)
}
