package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/courseloft/api/internal/platform/httpx"
	"github.com/courseloft/api/internal/services"
)

const maxInternalRequestBody = 4 * 1024

// InternalHandlers exposes endpoints called by trusted backend systems, not
// by the storefront. The router mounts them behind service auth middleware.
type InternalHandlers struct {
	gifts       services.GiftService
	enrollments services.EnrollmentService
}

// NewInternalHandlers constructs the internal handlers.
func NewInternalHandlers(gifts services.GiftService, enrollments services.EnrollmentService) *InternalHandlers {
	return &InternalHandlers{
		gifts:       gifts,
		enrollments: enrollments,
	}
}

// Routes registers internal endpoints under the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/internal/signup-hook", h.signupHook)
	r.Post("/internal/enrollments/deactivate", h.deactivate)
}

type signupHookRequest struct {
	Email string `json:"email"`
}

type deactivateRequest struct {
	Email  string `json:"email"`
	ItemID string `json:"itemId"`
}

// signupHook is called by the auth system after account creation and claims
// any gifts waiting on the new address.
func (h *InternalHandlers) signupHook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gifts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("gifts_unavailable", "gift service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req signupHookRequest
	if err := decodeBody(r, maxInternalRequestBody, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	results, err := h.gifts.ClaimPending(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	var claimed, failed int
	for _, result := range results {
		if result.Err != nil {
			failed++
		} else {
			claimed++
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"claimed": claimed,
		"failed":  failed,
	})
}

func (h *InternalHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.enrollments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("enrollments_unavailable", "enrollment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req deactivateRequest
	if err := decodeBody(r, maxInternalRequestBody, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	if err := h.enrollments.Deactivate(ctx, strings.TrimSpace(req.Email), strings.TrimSpace(req.ItemID)); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"deactivated": true})
}
