package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/courseloft/api/internal/domain"
	"github.com/courseloft/api/internal/payments"
	"github.com/courseloft/api/internal/repositories"
)

var (
	// ErrReconcileInvalidInput indicates a missing or malformed session reference.
	ErrReconcileInvalidInput = errors.New("reconcile: invalid input")
	// ErrReconcileNotCaptured indicates the provider does not report the payment as captured.
	ErrReconcileNotCaptured = errors.New("reconcile: payment not captured")
	// ErrReconcileMismatch indicates the retrieved session disagrees with its own
	// metadata. This is the tamper boundary and is never silently reconciled.
	ErrReconcileMismatch = errors.New("reconcile: session mismatch")
	// ErrReconcileUnavailable indicates a dependency failure before the order was persisted.
	ErrReconcileUnavailable = errors.New("reconcile: unavailable")
)

type sessionRetriever interface {
	RetrieveSession(ctx context.Context, sessionID string) (payments.SessionDetails, error)
}

type enrollmentGranter interface {
	Grant(ctx context.Context, email, itemID, orderID string) (domain.Enrollment, error)
}

// ReconcilerDeps wires the dependencies required by the reconciler.
type ReconcilerDeps struct {
	Payments    sessionRetriever
	Catalog     CatalogClient
	Orders      repositories.OrderRepository
	Enrollments enrollmentGranter
	Carts       repositories.CartRepository
	Promotions  PromotionService
	Dispatcher  SideEffectDispatcher
	Sale        domain.SaleConfiguration
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type reconcilerService struct {
	payments    sessionRetriever
	catalog     CatalogClient
	orders      repositories.OrderRepository
	enrollments enrollmentGranter
	carts       repositories.CartRepository
	promotions  PromotionService
	dispatcher  SideEffectDispatcher
	sale        domain.SaleConfiguration
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

var _ Reconciler = (*reconcilerService)(nil)

// NewReconciler constructs the reconciler validating required dependencies.
func NewReconciler(deps ReconcilerDeps) (Reconciler, error) {
	if deps.Payments == nil {
		return nil, errors.New("reconciler: payment provider is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("reconciler: catalog client is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("reconciler: order repository is required")
	}
	if deps.Enrollments == nil {
		return nil, errors.New("reconciler: enrollment service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconcilerService{
		payments:    deps.Payments,
		catalog:     deps.Catalog,
		orders:      deps.Orders,
		enrollments: deps.Enrollments,
		carts:       deps.Carts,
		promotions:  deps.Promotions,
		dispatcher:  deps.Dispatcher,
		sale:        deps.Sale,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reconcile turns a completed provider session into durable order and
// enrollment records. Everything is re-fetched from the provider; nothing the
// client supplied at redirect time is trusted. Safe to re-run for the same
// session: the order insert conflicts and grants are idempotent.
func (s *reconcilerService) Reconcile(ctx context.Context, sessionID string) (ReconcileResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ReconcileResult{}, ErrReconcileInvalidInput
	}

	details, err := s.payments.RetrieveSession(ctx, sessionID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: retrieve session: %v", ErrReconcileUnavailable, err)
	}
	if details.Status != payments.StatusSucceeded || !details.Captured {
		return ReconcileResult{}, fmt.Errorf("%w: status %s", ErrReconcileNotCaptured, details.Status)
	}

	email := domain.NormalizeEmail(details.Metadata[metadataUserEmail])
	itemIDs := splitItemIDs(details.Metadata[metadataItemIDs])
	if email == "" || len(itemIDs) == 0 {
		return ReconcileResult{}, fmt.Errorf("%w: session metadata incomplete", ErrReconcileMismatch)
	}

	if raw := details.Metadata[metadataTotal]; raw != "" {
		expected, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || expected != details.AmountTotal {
			return ReconcileResult{}, fmt.Errorf("%w: charged %d, expected %s", ErrReconcileMismatch, details.AmountTotal, raw)
		}
	}

	items, err := s.catalog.GetItems(ctx, itemIDs)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: catalog lookup: %v", ErrReconcileUnavailable, err)
	}

	order := s.buildOrder(ctx, details, email, itemIDs, items)

	replayed := false
	if err := s.orders.Insert(ctx, order); err != nil {
		if !repositories.IsConflict(err) {
			return ReconcileResult{}, fmt.Errorf("%w: persist order: %v", ErrReconcileUnavailable, err)
		}
		// Duplicate delivery: reuse the already-persisted order and continue,
		// since the earlier run may have died before granting.
		existing, loadErr := s.orders.FindByID(ctx, order.ID)
		if loadErr != nil {
			return ReconcileResult{}, fmt.Errorf("%w: load replayed order: %v", ErrReconcileUnavailable, loadErr)
		}
		order = existing
		replayed = true
		s.logger(ctx, "reconcile.order.replayed", map[string]any{
			"orderId":   order.ID,
			"sessionId": sessionID,
		})
	}

	results := s.grantAll(ctx, email, itemIDs, order.ID)
	for _, result := range results {
		if result.Err != nil {
			s.logger(ctx, "reconcile.enrollment.failed", map[string]any{
				"orderId":   order.ID,
				"itemId":    result.ItemID,
				"userEmail": email,
				"error":     result.Err.Error(),
			})
		}
	}

	s.clearCart(ctx, email)

	if !replayed && s.dispatcher != nil {
		s.dispatcher.SubmitOrderConfirmation(ctx, order)
		for _, item := range order.Items {
			s.dispatcher.SubmitEvent(ctx, AnalyticsEvent{
				Name:      "course_purchased",
				UserEmail: email,
				OrderID:   order.ID,
				Properties: map[string]any{
					"itemId":    item.ItemID,
					"unitPrice": item.UnitPrice,
				},
				OccurredAt: s.now(),
			})
		}
	}

	return ReconcileResult{Order: order, Replayed: replayed, Items: results}, nil
}

// buildOrder assembles the immutable order record. The total charged comes
// from the provider; per-item attribution comes from the catalog at
// reconciliation time, not from stale cart data.
func (s *reconcilerService) buildOrder(ctx context.Context, details payments.SessionDetails, email string, itemIDs []string, items []domain.CatalogItem) domain.Order {
	promoCode := strings.TrimSpace(details.Metadata[metadataPromoCode])
	var promo *domain.PromoCode
	if promoCode != "" && s.promotions != nil {
		if resolved, err := s.promotions.Resolve(promoCode, itemIDs); err == nil {
			promo = &resolved
		} else {
			s.logger(ctx, "reconcile.promo.unresolved", map[string]any{
				"promoCode": promoCode,
				"error":     err.Error(),
			})
		}
	}

	now := s.now()
	lines := make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		unitPrice := ComputePrice(item.BasePrice, item.ID, PricingContext{Sale: s.sale, Promo: promo})
		lines = append(lines, orderLineFromCatalog(item, unitPrice, now))
	}

	reference := details.IntentID
	if reference == "" {
		reference = details.SessionID
	}

	return domain.Order{
		ID:               "ord_" + reference,
		OwnerEmail:       email,
		Items:            lines,
		Total:            details.AmountTotal,
		PaymentMethod:    domain.PaymentMethodCharge,
		PaymentReference: reference,
		Type:             domain.OrderTypePurchase,
		Source:           strings.TrimSpace(details.Metadata[metadataSource]),
		PromoCode:        promoCode,
		CreatedAt:        now,
	}
}

// grantAll fans out one grant per item and settles every result. A failed
// grant never aborts the batch and never rolls back granted items.
func (s *reconcilerService) grantAll(ctx context.Context, email string, itemIDs []string, orderID string) []ItemResult {
	type indexed struct {
		index  int
		result ItemResult
	}

	ch := make(chan indexed, len(itemIDs))
	for i, itemID := range itemIDs {
		go func(i int, itemID string) {
			_, err := s.enrollments.Grant(ctx, email, itemID, orderID)
			ch <- indexed{index: i, result: ItemResult{ItemID: itemID, Err: err}}
		}(i, itemID)
	}

	results := make([]ItemResult, len(itemIDs))
	for range itemIDs {
		settled := <-ch
		results[settled.index] = settled.result
	}
	return results
}

func (s *reconcilerService) clearCart(ctx context.Context, email string) {
	if s.carts == nil {
		return
	}
	if err := s.carts.Clear(ctx, email); err != nil {
		s.logger(ctx, "reconcile.cart.clear.failed", map[string]any{
			"userEmail": email,
			"error":     err.Error(),
		})
	}
}

func splitItemIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
