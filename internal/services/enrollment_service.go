package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/courseloft/api/internal/domain"
	"github.com/courseloft/api/internal/repositories"
)

var (
	// ErrEnrollmentInvalidInput indicates the caller supplied invalid parameters.
	ErrEnrollmentInvalidInput = errors.New("enrollment: invalid input")
	// ErrEnrollmentNotFound indicates no enrollment exists for the owner/item pair.
	ErrEnrollmentNotFound = errors.New("enrollment: not found")
	// ErrEnrollmentNotFree indicates the free path was used for a priced item.
	ErrEnrollmentNotFree = errors.New("enrollment: item is not free")
	// ErrEnrollmentUnavailable indicates a dependency failure.
	ErrEnrollmentUnavailable = errors.New("enrollment: unavailable")
)

// EnrollmentServiceDeps wires the dependencies required by the enrollment service.
type EnrollmentServiceDeps struct {
	Enrollments repositories.EnrollmentRepository
	Orders      repositories.OrderRepository
	Catalog     CatalogClient
	Promotions  PromotionService
	Dispatcher  SideEffectDispatcher
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	NewID       func() string
}

type enrollmentService struct {
	enrollments repositories.EnrollmentRepository
	orders      repositories.OrderRepository
	catalog     CatalogClient
	promotions  PromotionService
	dispatcher  SideEffectDispatcher
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string
}

var _ EnrollmentService = (*enrollmentService)(nil)

// NewEnrollmentService constructs an EnrollmentService validating required dependencies.
func NewEnrollmentService(deps EnrollmentServiceDeps) (EnrollmentService, error) {
	if deps.Enrollments == nil {
		return nil, errors.New("enrollment service: enrollment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("enrollment service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("enrollment service: catalog client is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("enrollment service: promotion service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string {
			return ulid.Make().String()
		}
	}

	return &enrollmentService{
		enrollments: deps.Enrollments,
		orders:      deps.Orders,
		catalog:     deps.Catalog,
		promotions:  deps.Promotions,
		dispatcher:  deps.Dispatcher,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  newID,
	}, nil
}

// Grant flips an existing enrollment active or creates a new one. Re-granting
// under a new order re-points the enrollment at the latest granting order and
// never produces a second record for the pair.
func (s *enrollmentService) Grant(ctx context.Context, email, itemID, orderID string) (domain.Enrollment, error) {
	key := domain.NormalizeEmail(email)
	item := strings.TrimSpace(itemID)
	if key == "" || item == "" {
		return domain.Enrollment{}, fmt.Errorf("%w: email and item id are required", ErrEnrollmentInvalidInput)
	}

	existing, err := s.enrollments.FindByOwnerAndItem(ctx, key, item)
	switch {
	case err == nil:
		existing.Active = true
		existing.OrderID = strings.TrimSpace(orderID)
		return s.enrollments.Save(ctx, existing)
	case repositories.IsNotFound(err):
		return s.enrollments.Save(ctx, domain.Enrollment{
			OwnerEmail: key,
			ItemID:     item,
			Active:     true,
			OrderID:    strings.TrimSpace(orderID),
			GrantedAt:  s.now(),
		})
	default:
		return domain.Enrollment{}, fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
}

// GrantFree enrolls the user in a zero-price item, recording a zero-total
// order so the enrollment's originating order resolves.
func (s *enrollmentService) GrantFree(ctx context.Context, email, itemID string) (domain.Enrollment, error) {
	key := domain.NormalizeEmail(email)
	item := strings.TrimSpace(itemID)
	if key == "" || item == "" {
		return domain.Enrollment{}, fmt.Errorf("%w: email and item id are required", ErrEnrollmentInvalidInput)
	}

	catalogItem, err := s.catalog.GetItem(ctx, item)
	if err != nil {
		return domain.Enrollment{}, fmt.Errorf("%w: catalog lookup: %v", ErrEnrollmentUnavailable, err)
	}
	if catalogItem.BasePrice != 0 {
		return domain.Enrollment{}, ErrEnrollmentNotFree
	}

	order := domain.Order{
		ID:            "ord_free_" + s.newID(),
		OwnerEmail:    key,
		Items:         []domain.OrderLineItem{orderLineFromCatalog(catalogItem, 0, s.now())},
		Total:         0,
		PaymentMethod: domain.PaymentMethodFree,
		Type:          domain.OrderTypePurchase,
		CreatedAt:     s.now(),
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Enrollment{}, fmt.Errorf("%w: record free order: %v", ErrEnrollmentUnavailable, err)
	}

	enrollment, err := s.Grant(ctx, key, item, order.ID)
	if err != nil {
		return domain.Enrollment{}, err
	}

	if s.dispatcher != nil {
		s.dispatcher.SubmitEvent(ctx, AnalyticsEvent{
			Name:       "course_enrolled_free",
			UserEmail:  key,
			OrderID:    order.ID,
			Properties: map[string]any{"itemId": item},
			OccurredAt: s.now(),
		})
	}
	return enrollment, nil
}

// Redeem grants the item mapped to a redemption code. The code stays valid
// for other users; single-use per user rests on the idempotent grant.
func (s *enrollmentService) Redeem(ctx context.Context, email, code string) (domain.Enrollment, error) {
	key := domain.NormalizeEmail(email)
	if key == "" {
		return domain.Enrollment{}, fmt.Errorf("%w: email is required", ErrEnrollmentInvalidInput)
	}

	promo, err := s.promotions.ResolveRedemption(code)
	if err != nil {
		return domain.Enrollment{}, err
	}
	item := promo.AllowedItemIDs[0]

	catalogItem, err := s.catalog.GetItem(ctx, item)
	if err != nil {
		return domain.Enrollment{}, fmt.Errorf("%w: catalog lookup: %v", ErrEnrollmentUnavailable, err)
	}

	order := domain.Order{
		ID:            "ord_redeem_" + s.newID(),
		OwnerEmail:    key,
		Items:         []domain.OrderLineItem{orderLineFromCatalog(catalogItem, 0, s.now())},
		Total:         0,
		PaymentMethod: domain.PaymentMethodRedemption,
		Type:          domain.OrderTypeRedemption,
		PromoCode:     promo.Code,
		CreatedAt:     s.now(),
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Enrollment{}, fmt.Errorf("%w: record redemption order: %v", ErrEnrollmentUnavailable, err)
	}

	enrollment, err := s.Grant(ctx, key, item, order.ID)
	if err != nil {
		return domain.Enrollment{}, err
	}

	if s.dispatcher != nil {
		s.dispatcher.SubmitEvent(ctx, AnalyticsEvent{
			Name:       "course_redeemed",
			UserEmail:  key,
			OrderID:    order.ID,
			Properties: map[string]any{"itemId": item, "code": promo.Code},
			OccurredAt: s.now(),
		})
	}
	return enrollment, nil
}

// Deactivate flips the enrollment inactive. History is preserved; records are
// never deleted.
func (s *enrollmentService) Deactivate(ctx context.Context, email, itemID string) error {
	key := domain.NormalizeEmail(email)
	item := strings.TrimSpace(itemID)
	if key == "" || item == "" {
		return fmt.Errorf("%w: email and item id are required", ErrEnrollmentInvalidInput)
	}

	existing, err := s.enrollments.FindByOwnerAndItem(ctx, key, item)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ErrEnrollmentNotFound
		}
		return fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}

	existing.Active = false
	if _, err := s.enrollments.Save(ctx, existing); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	return nil
}

// List returns every enrollment for the owner.
func (s *enrollmentService) List(ctx context.Context, email string) ([]domain.Enrollment, error) {
	key := domain.NormalizeEmail(email)
	if key == "" {
		return nil, fmt.Errorf("%w: email is required", ErrEnrollmentInvalidInput)
	}
	enrollments, err := s.enrollments.ListByOwner(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	return enrollments, nil
}

// IsEntitled reports whether any active enrollment exists for the pair.
func (s *enrollmentService) IsEntitled(ctx context.Context, email, itemID string) (bool, error) {
	key := domain.NormalizeEmail(email)
	item := strings.TrimSpace(itemID)
	if key == "" || item == "" {
		return false, fmt.Errorf("%w: email and item id are required", ErrEnrollmentInvalidInput)
	}

	enrollments, err := s.enrollments.ListByOwner(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	for _, enrollment := range enrollments {
		if enrollment.ItemID == item && enrollment.Active {
			return true, nil
		}
	}
	return false, nil
}

func orderLineFromCatalog(item domain.CatalogItem, unitPrice int64, now time.Time) domain.OrderLineItem {
	return domain.OrderLineItem{
		ItemID:          item.ID,
		Title:           item.Title,
		UnitPrice:       unitPrice,
		CreatorID:       item.CreatorID,
		PreorderAtOrder: item.IsPreorder(now),
	}
}
