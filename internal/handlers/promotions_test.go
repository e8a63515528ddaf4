package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/courseloft/api/internal/domain"
	"github.com/courseloft/api/internal/services"
)

type stubPromotionService struct {
	resolveFunc func(rawCode string, cartItemIDs []string) (domain.PromoCode, error)
}

func (s *stubPromotionService) Resolve(rawCode string, cartItemIDs []string) (domain.PromoCode, error) {
	if s.resolveFunc != nil {
		return s.resolveFunc(rawCode, cartItemIDs)
	}
	return domain.PromoCode{}, errors.New("not implemented")
}

func (s *stubPromotionService) ResolveRedemption(string) (domain.PromoCode, error) {
	return domain.PromoCode{}, errors.New("not implemented")
}

func TestPromotionHandlersValidateSuccess(t *testing.T) {
	router := chi.NewRouter()
	var capturedCode string
	var capturedItems []string
	handler := NewPromotionHandlers(&stubPromotionService{
		resolveFunc: func(rawCode string, cartItemIDs []string) (domain.PromoCode, error) {
			capturedCode = rawCode
			capturedItems = cartItemIDs
			return domain.PromoCode{Code: "SAVE50", PercentageDiscount: 50, AllowedItemIDs: []string{"c1"}}, nil
		},
	})
	handler.Routes(router)

	payload := `{"code":"save50","itemIds":["c1","c2"]}`
	req := httptest.NewRequest(http.MethodPost, "/promotions/validate", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp promoValidateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "SAVE50" || resp.Percentage != 50 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if capturedCode != "save50" || len(capturedItems) != 2 {
		t.Fatalf("unexpected service call %q %v", capturedCode, capturedItems)
	}
}

func TestPromotionHandlersValidateMapsErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown", services.ErrPromoUnknownCode, http.StatusNotFound, "promo_unknown"},
		{"malformed", services.ErrPromoInvalidFormat, http.StatusBadRequest, "promo_invalid"},
		{"not applicable", services.ErrPromoNotApplicable, http.StatusBadRequest, "promo_not_applicable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := chi.NewRouter()
			handler := NewPromotionHandlers(&stubPromotionService{
				resolveFunc: func(string, []string) (domain.PromoCode, error) {
					return domain.PromoCode{}, tc.err
				},
			})
			handler.Routes(router)

			req := httptest.NewRequest(http.MethodPost, "/promotions/validate", bytes.NewBufferString(`{"code":"x","itemIds":[]}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var errResp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if errResp["error"] != tc.wantCode {
				t.Fatalf("expected error code %s, got %#v", tc.wantCode, errResp["error"])
			}
		})
	}
}
