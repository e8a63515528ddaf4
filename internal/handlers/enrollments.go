package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/courseloft/api/internal/domain"
	"github.com/courseloft/api/internal/platform/httpx"
	"github.com/courseloft/api/internal/platform/pagination"
	"github.com/courseloft/api/internal/services"
)

const maxEnrollmentRequestBody = 4 * 1024

// EnrollmentHandlers exposes the free-enrollment, redemption, and listing
// endpoints.
type EnrollmentHandlers struct {
	enrollments services.EnrollmentService
}

// NewEnrollmentHandlers constructs the enrollment handlers.
func NewEnrollmentHandlers(enrollments services.EnrollmentService) *EnrollmentHandlers {
	return &EnrollmentHandlers{enrollments: enrollments}
}

// Routes registers enrollment endpoints under the provided router.
func (h *EnrollmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/enrollments/free", h.enrollFree)
	r.Post("/enrollments/redeem", h.redeem)
	r.Get("/enrollments", h.list)
}

type freeEnrollRequest struct {
	Email  string `json:"email"`
	ItemID string `json:"itemId"`
}

type redeemRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type enrollmentPayload struct {
	ItemID    string `json:"itemId"`
	Active    bool   `json:"active"`
	OrderID   string `json:"orderId,omitempty"`
	GrantedAt string `json:"grantedAt,omitempty"`
}

func enrollmentToPayload(enrollment domain.Enrollment) enrollmentPayload {
	payload := enrollmentPayload{
		ItemID:  enrollment.ItemID,
		Active:  enrollment.Active,
		OrderID: enrollment.OrderID,
	}
	if !enrollment.GrantedAt.IsZero() {
		payload.GrantedAt = enrollment.GrantedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func (h *EnrollmentHandlers) enrollFree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.enrollments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("enrollments_unavailable", "enrollment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req freeEnrollRequest
	if err := decodeBody(r, maxEnrollmentRequestBody, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	enrollment, err := h.enrollments.GrantFree(ctx, strings.TrimSpace(req.Email), strings.TrimSpace(req.ItemID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, enrollmentToPayload(enrollment))
}

func (h *EnrollmentHandlers) redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.enrollments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("enrollments_unavailable", "enrollment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req redeemRequest
	if err := decodeBody(r, maxEnrollmentRequestBody, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	enrollment, err := h.enrollments.Redeem(ctx, strings.TrimSpace(req.Email), strings.TrimSpace(req.Code))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, enrollmentToPayload(enrollment))
}

func (h *EnrollmentHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.enrollments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("enrollments_unavailable", "enrollment service unavailable", http.StatusServiceUnavailable))
		return
	}

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "email query parameter is required", http.StatusBadRequest))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: 50})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	params = pagination.Must(params)

	enrollments, err := h.enrollments.List(ctx, email)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	page, nextToken, err := paginateEnrollments(enrollments, params)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	payload := make([]enrollmentPayload, 0, len(page))
	for _, enrollment := range page {
		payload = append(payload, enrollmentToPayload(enrollment))
	}
	response := map[string]any{"enrollments": payload}
	if nextToken != "" {
		response["nextPageToken"] = nextToken
	}
	writeJSONResponse(w, http.StatusOK, response)
}

// paginateEnrollments windows the full listing by item id. A user's enrollment
// set is small, so the repository returns it whole and the cursor is applied here.
func paginateEnrollments(enrollments []domain.Enrollment, params pagination.Params) ([]domain.Enrollment, string, error) {
	start := 0
	if len(params.Cursor.StartAfter) > 0 {
		lastItem, ok := params.Cursor.StartAfter[0].(string)
		if !ok {
			return nil, "", pagination.ErrInvalidPageToken
		}
		for i, enrollment := range enrollments {
			if enrollment.ItemID == lastItem {
				start = i + 1
				break
			}
		}
	}
	if start >= len(enrollments) {
		return nil, "", nil
	}

	end := start + params.PageSize
	if end >= len(enrollments) {
		return enrollments[start:], "", nil
	}

	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{enrollments[end-1].ItemID},
	})
	if err != nil {
		return nil, "", err
	}
	return enrollments[start:end], token, nil
}
