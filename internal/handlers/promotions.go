package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/courseloft/api/internal/platform/httpx"
	"github.com/courseloft/api/internal/services"
)

const maxPromoRequestBody = 4 * 1024

// PromotionHandlers exposes promo code validation for the storefront.
type PromotionHandlers struct {
	promotions services.PromotionService
}

// NewPromotionHandlers constructs the promotion handlers.
func NewPromotionHandlers(promotions services.PromotionService) *PromotionHandlers {
	return &PromotionHandlers{promotions: promotions}
}

// Routes registers promotion endpoints under the provided router.
func (h *PromotionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/promotions/validate", h.validate)
}

type promoValidateRequest struct {
	Code    string   `json:"code"`
	ItemIDs []string `json:"itemIds"`
}

type promoValidateResponse struct {
	Code       string   `json:"code"`
	Percentage int      `json:"percentage"`
	ItemIDs    []string `json:"itemIds,omitempty"`
}

func (h *PromotionHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotions_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req promoValidateRequest
	if err := decodeBody(r, maxPromoRequestBody, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	itemIDs := make([]string, 0, len(req.ItemIDs))
	for _, raw := range req.ItemIDs {
		if id := strings.TrimSpace(raw); id != "" {
			itemIDs = append(itemIDs, id)
		}
	}

	promo, err := h.promotions.Resolve(req.Code, itemIDs)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, promoValidateResponse{
		Code:       promo.Code,
		Percentage: promo.PercentageDiscount,
		ItemIDs:    promo.AllowedItemIDs,
	})
}
