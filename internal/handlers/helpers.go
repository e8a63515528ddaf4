package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/courseloft/api/internal/platform/httpx"
	"github.com/courseloft/api/internal/services"
)

const defaultMaxBodySize = 8 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeBody(r *http.Request, limit int64, target any) error {
	data, err := readLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps service sentinels onto the canonical error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPromoUnknownCode):
		httpx.WriteError(ctx, w, httpx.NewError("promo_unknown", "not a valid code", http.StatusNotFound))
	case errors.Is(err, services.ErrPromoInvalidFormat):
		httpx.WriteError(ctx, w, httpx.NewError("promo_invalid", "malformed promo code", http.StatusBadRequest))
	case errors.Is(err, services.ErrPromoNotApplicable):
		httpx.WriteError(ctx, w, httpx.NewError("promo_not_applicable", "code does not apply to these items", http.StatusBadRequest))
	case errors.Is(err, services.ErrPromoNotRedemption):
		httpx.WriteError(ctx, w, httpx.NewError("not_redemption_code", "not a redemption code", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutTotalMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("total_mismatch", "declared total does not match item prices", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrEnrollmentInvalidInput),
		errors.Is(err, services.ErrGiftInvalidInput),
		errors.Is(err, services.ErrReconcileInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid request", http.StatusBadRequest))
	case errors.Is(err, services.ErrEnrollmentNotFree):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_free", "item is not free", http.StatusBadRequest))
	case errors.Is(err, services.ErrEnrollmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("enrollment_not_found", "no enrollment found", http.StatusNotFound))
	case errors.Is(err, services.ErrReconcileMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("session_mismatch", "payment details could not be verified", http.StatusInternalServerError))
	case errors.Is(err, services.ErrReconcileNotCaptured):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_captured", "payment has not completed", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable),
		errors.Is(err, services.ErrEnrollmentUnavailable),
		errors.Is(err, services.ErrGiftUnavailable),
		errors.Is(err, services.ErrReconcileUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "a dependency is unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
	}
}
