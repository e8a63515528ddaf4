package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/courseloft/api/internal/platform/httpx"
	"github.com/courseloft/api/internal/services"
)

const maxGiftRequestBody = 4 * 1024

// GiftHandlers exposes the gift purchase endpoint.
type GiftHandlers struct {
	gifts services.GiftService
}

// NewGiftHandlers constructs the gift handlers.
func NewGiftHandlers(gifts services.GiftService) *GiftHandlers {
	return &GiftHandlers{gifts: gifts}
}

// Routes registers gift endpoints under the provided router.
func (h *GiftHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/gifts", h.createGift)
}

type giftRequest struct {
	GiverEmail     string   `json:"giverEmail"`
	RecipientEmail string   `json:"recipientEmail"`
	ItemIDs        []string `json:"itemIds"`
}

type giftResponse struct {
	OrderID string   `json:"orderId"`
	Claimed bool     `json:"claimed"`
	GiftIDs []string `json:"giftIds"`
}

func (h *GiftHandlers) createGift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gifts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("gifts_unavailable", "gift service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req giftRequest
	if err := decodeBody(r, maxGiftRequestBody, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	result, err := h.gifts.Gift(ctx, services.GiftCommand{
		GiverEmail:     strings.TrimSpace(req.GiverEmail),
		RecipientEmail: strings.TrimSpace(req.RecipientEmail),
		ItemIDs:        req.ItemIDs,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := giftResponse{
		OrderID: result.Order.ID,
		Claimed: result.Claimed,
	}
	for _, gift := range result.Gifts {
		resp.GiftIDs = append(resp.GiftIDs, gift.ID)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
