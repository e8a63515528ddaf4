package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/courseloft/api/internal/services"
)

type stubCheckoutService struct {
	createFunc func(ctx context.Context, cmd services.CreateCheckoutIntentCommand) (services.CheckoutIntent, error)
}

func (s *stubCheckoutService) CreateCheckoutIntent(ctx context.Context, cmd services.CreateCheckoutIntentCommand) (services.CheckoutIntent, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.CheckoutIntent{}, errors.New("not implemented")
}

type stubReconciler struct {
	reconcileFunc func(ctx context.Context, sessionID string) (services.ReconcileResult, error)
}

func (s *stubReconciler) Reconcile(ctx context.Context, sessionID string) (services.ReconcileResult, error) {
	if s.reconcileFunc != nil {
		return s.reconcileFunc(ctx, sessionID)
	}
	return services.ReconcileResult{}, errors.New("not implemented")
}

func TestCheckoutHandlersCreateSessionSuccess(t *testing.T) {
	router := chi.NewRouter()
	var captured services.CreateCheckoutIntentCommand
	service := &stubCheckoutService{
		createFunc: func(_ context.Context, cmd services.CreateCheckoutIntentCommand) (services.CheckoutIntent, error) {
			captured = cmd
			return services.CheckoutIntent{
				SessionID:   "cs_123",
				RedirectURL: "https://pay.example/cs_123",
				Total:       9600,
			}, nil
		},
	}

	handler := NewCheckoutHandlers(service, nil, "https://shop.example/thanks", "https://shop.example/sorry")
	handler.Routes(router)

	payload := `{"email":"buyer@example.com","total":9600,"items":[{"itemId":"c1","price":4200},{"itemId":"c2","price":5400}]}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/session", bytes.NewBufferString(payload))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp checkoutSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != "cs_123" || resp.URL != "https://pay.example/cs_123" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if captured.Email != "buyer@example.com" || captured.DeclaredTotal != 9600 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 2 || captured.Items[0].ItemID != "c1" || captured.Items[1].Price != 5400 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
}

func TestCheckoutHandlersCreateSessionMapsTotalMismatch(t *testing.T) {
	router := chi.NewRouter()
	handler := NewCheckoutHandlers(&stubCheckoutService{
		createFunc: func(context.Context, services.CreateCheckoutIntentCommand) (services.CheckoutIntent, error) {
			return services.CheckoutIntent{}, services.ErrCheckoutTotalMismatch
		},
	}, nil, "", "")
	handler.Routes(router)

	payload := `{"email":"buyer@example.com","total":1,"items":[{"itemId":"c1","price":4200}]}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/session", bytes.NewBufferString(payload))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var errResp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp["error"] != "total_mismatch" {
		t.Fatalf("expected error code total_mismatch, got %#v", errResp["error"])
	}
}

func TestCheckoutHandlersCreateSessionRejectsEmptyBody(t *testing.T) {
	router := chi.NewRouter()
	handler := NewCheckoutHandlers(&stubCheckoutService{}, nil, "", "")
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/checkout/session", bytes.NewBufferString(""))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersCompleteRedirectsToSuccess(t *testing.T) {
	router := chi.NewRouter()
	var reconciled string
	handler := NewCheckoutHandlers(nil, &stubReconciler{
		reconcileFunc: func(_ context.Context, sessionID string) (services.ReconcileResult, error) {
			reconciled = sessionID
			return services.ReconcileResult{}, nil
		},
	}, "https://shop.example/thanks", "https://shop.example/sorry")
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/checkout/complete?session_id=cs_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected status 303, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://shop.example/thanks" {
		t.Fatalf("expected success redirect, got %q", got)
	}
	if reconciled != "cs_123" {
		t.Fatalf("expected reconciliation of cs_123, got %q", reconciled)
	}
}

func TestCheckoutHandlersCompleteRedirectsToFailureOnError(t *testing.T) {
	router := chi.NewRouter()
	handler := NewCheckoutHandlers(nil, &stubReconciler{
		reconcileFunc: func(context.Context, string) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrReconcileNotCaptured
		},
	}, "https://shop.example/thanks", "https://shop.example/sorry")
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/checkout/complete?session_id=cs_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected status 303, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://shop.example/sorry" {
		t.Fatalf("expected failure redirect, got %q", got)
	}
}

func TestCheckoutHandlersCompleteTransientFailureStillSucceeds(t *testing.T) {
	router := chi.NewRouter()
	handler := NewCheckoutHandlers(nil, &stubReconciler{
		reconcileFunc: func(context.Context, string) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrReconcileUnavailable
		},
	}, "https://shop.example/thanks", "https://shop.example/sorry")
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/checkout/complete?session_id=cs_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// The payment is captured; the webhook delivery retries the
	// reconciliation, so the buyer must not see a failure page.
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected status 303, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://shop.example/thanks" {
		t.Fatalf("expected success redirect, got %q", got)
	}
}

func TestCheckoutHandlersCompleteMismatchRedirectsToFailure(t *testing.T) {
	router := chi.NewRouter()
	handler := NewCheckoutHandlers(nil, &stubReconciler{
		reconcileFunc: func(context.Context, string) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrReconcileMismatch
		},
	}, "https://shop.example/thanks", "https://shop.example/sorry")
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/checkout/complete?session_id=cs_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected status 303, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://shop.example/sorry" {
		t.Fatalf("expected failure redirect, got %q", got)
	}
}

func TestCheckoutHandlersCompleteRequiresSessionID(t *testing.T) {
	router := chi.NewRouter()
	handler := NewCheckoutHandlers(nil, &stubReconciler{}, "https://shop.example/thanks", "https://shop.example/sorry")
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/checkout/complete", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected status 303, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://shop.example/sorry" {
		t.Fatalf("expected failure redirect, got %q", got)
	}
}
