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

	domain "github.com/courseloft/api/internal/domain"
	"github.com/courseloft/api/internal/services"
)

type stubGiftService struct {
	giftFunc  func(ctx context.Context, cmd services.GiftCommand) (services.GiftResult, error)
	claimFunc func(ctx context.Context, recipientEmail string) ([]services.ItemResult, error)
}

func (s *stubGiftService) Gift(ctx context.Context, cmd services.GiftCommand) (services.GiftResult, error) {
	if s.giftFunc != nil {
		return s.giftFunc(ctx, cmd)
	}
	return services.GiftResult{}, errors.New("not implemented")
}

func (s *stubGiftService) ClaimPending(ctx context.Context, recipientEmail string) ([]services.ItemResult, error) {
	if s.claimFunc != nil {
		return s.claimFunc(ctx, recipientEmail)
	}
	return nil, errors.New("not implemented")
}

func TestGiftHandlersCreateGiftSuccess(t *testing.T) {
	router := chi.NewRouter()
	var captured services.GiftCommand
	handler := NewGiftHandlers(&stubGiftService{
		giftFunc: func(_ context.Context, cmd services.GiftCommand) (services.GiftResult, error) {
			captured = cmd
			return services.GiftResult{
				Order: domain.Order{ID: "ord_gift_1"},
				Gifts: []domain.Gift{
					{ID: "gft_1", ItemID: "c1"},
					{ID: "gft_2", ItemID: "c2"},
				},
				Claimed: false,
			}, nil
		},
	})
	handler.Routes(router)

	payload := `{"giverEmail":"giver@example.com","recipientEmail":"friend@example.com","itemIds":["c1","c2"]}`
	req := httptest.NewRequest(http.MethodPost, "/gifts", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp giftResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.OrderID != "ord_gift_1" || resp.Claimed {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.GiftIDs) != 2 {
		t.Fatalf("expected two gift ids, got %v", resp.GiftIDs)
	}
	if captured.GiverEmail != "giver@example.com" || len(captured.ItemIDs) != 2 {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestGiftHandlersCreateGiftMapsInvalidInput(t *testing.T) {
	router := chi.NewRouter()
	handler := NewGiftHandlers(&stubGiftService{
		giftFunc: func(context.Context, services.GiftCommand) (services.GiftResult, error) {
			return services.GiftResult{}, services.ErrGiftInvalidInput
		},
	})
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/gifts", bytes.NewBufferString(`{"giverEmail":"giver@example.com"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var errResp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp["error"] != "invalid_request" {
		t.Fatalf("expected error code invalid_request, got %#v", errResp["error"])
	}
}
