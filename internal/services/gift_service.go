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
	// ErrGiftInvalidInput indicates the caller supplied invalid parameters.
	ErrGiftInvalidInput = errors.New("gift: invalid input")
	// ErrGiftUnavailable indicates a dependency failure.
	ErrGiftUnavailable = errors.New("gift: unavailable")
)

// GiftServiceDeps wires the dependencies required by the gift service.
type GiftServiceDeps struct {
	Gifts       repositories.GiftRepository
	Orders      repositories.OrderRepository
	Users       repositories.UserRepository
	Enrollments enrollmentGranter
	Catalog     CatalogClient
	Dispatcher  SideEffectDispatcher
	Sale        domain.SaleConfiguration
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	NewID       func() string
}

type giftService struct {
	gifts       repositories.GiftRepository
	orders      repositories.OrderRepository
	users       repositories.UserRepository
	enrollments enrollmentGranter
	catalog     CatalogClient
	dispatcher  SideEffectDispatcher
	sale        domain.SaleConfiguration
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string
}

var _ GiftService = (*giftService)(nil)

// NewGiftService constructs a GiftService validating required dependencies.
func NewGiftService(deps GiftServiceDeps) (GiftService, error) {
	if deps.Gifts == nil {
		return nil, errors.New("gift service: gift repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("gift service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("gift service: user repository is required")
	}
	if deps.Enrollments == nil {
		return nil, errors.New("gift service: enrollment service is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("gift service: catalog client is required")
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

	return &giftService{
		gifts:       deps.Gifts,
		orders:      deps.Orders,
		users:       deps.Users,
		enrollments: deps.Enrollments,
		catalog:     deps.Catalog,
		dispatcher:  deps.Dispatcher,
		sale:        deps.Sale,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  newID,
	}, nil
}

// Gift records one order under the giver and one gift record per item. A
// recipient with an existing account is granted and claimed immediately;
// otherwise the gifts wait for the signup hook.
func (s *giftService) Gift(ctx context.Context, cmd GiftCommand) (GiftResult, error) {
	giver := domain.NormalizeEmail(cmd.GiverEmail)
	recipient := domain.NormalizeEmail(cmd.RecipientEmail)
	if giver == "" || recipient == "" {
		return GiftResult{}, fmt.Errorf("%w: giver and recipient emails are required", ErrGiftInvalidInput)
	}
	if len(cmd.ItemIDs) == 0 {
		return GiftResult{}, fmt.Errorf("%w: at least one item is required", ErrGiftInvalidInput)
	}
	itemIDs := make([]string, 0, len(cmd.ItemIDs))
	for _, raw := range cmd.ItemIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return GiftResult{}, fmt.Errorf("%w: item id is required", ErrGiftInvalidInput)
		}
		itemIDs = append(itemIDs, id)
	}

	items, err := s.catalog.GetItems(ctx, itemIDs)
	if err != nil {
		return GiftResult{}, fmt.Errorf("%w: catalog lookup: %v", ErrGiftUnavailable, err)
	}

	now := s.now()
	order := domain.Order{
		ID:            "ord_gift_" + s.newID(),
		OwnerEmail:    giver,
		PaymentMethod: domain.PaymentMethodGift,
		Type:          domain.OrderTypeGift,
		CreatedAt:     now,
	}
	titles := make(map[string]string, len(items))
	for _, item := range items {
		price := ComputePrice(item.BasePrice, item.ID, PricingContext{Sale: s.sale})
		order.Items = append(order.Items, orderLineFromCatalog(item, price, now))
		order.Total += price
		titles[item.ID] = item.Title
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return GiftResult{}, fmt.Errorf("%w: record gift order: %v", ErrGiftUnavailable, err)
	}

	recipientExists := s.recipientExists(ctx, recipient)

	result := GiftResult{Order: order, Claimed: recipientExists}
	for _, itemID := range itemIDs {
		gift, err := s.gifts.Insert(ctx, domain.Gift{
			RecipientEmail: recipient,
			GiverEmail:     giver,
			ItemID:         itemID,
			OrderID:        order.ID,
			CreatedAt:      now,
		})
		if err != nil {
			return result, fmt.Errorf("%w: record gift: %v", ErrGiftUnavailable, err)
		}

		if recipientExists {
			if grantErr := s.claimGift(ctx, gift); grantErr != nil {
				// The gift record stays unclaimed; the signup hook or an
				// operator re-run picks it up.
				s.logger(ctx, "gift.immediate_claim.failed", map[string]any{
					"giftId": gift.ID,
					"itemId": gift.ItemID,
					"error":  grantErr.Error(),
				})
				result.Claimed = false
			} else {
				gift.Claimed = true
			}
		}

		if s.dispatcher != nil {
			s.dispatcher.SubmitGiftNotification(ctx, gift, titles[itemID])
			s.dispatcher.SubmitEvent(ctx, AnalyticsEvent{
				Name:       "course_gifted",
				UserEmail:  giver,
				OrderID:    order.ID,
				Properties: map[string]any{"itemId": itemID, "recipient": recipient},
				OccurredAt: now,
			})
		}

		result.Gifts = append(result.Gifts, gift)
	}

	return result, nil
}

// ClaimPending grants every unclaimed gift addressed to the email. Called by
// the auth system's signup hook. Per-gift failures are settled individually.
func (s *giftService) ClaimPending(ctx context.Context, recipientEmail string) ([]ItemResult, error) {
	recipient := domain.NormalizeEmail(recipientEmail)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient email is required", ErrGiftInvalidInput)
	}

	pending, err := s.gifts.ListUnclaimedByRecipient(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: list gifts: %v", ErrGiftUnavailable, err)
	}

	results := make([]ItemResult, 0, len(pending))
	for _, gift := range pending {
		claimErr := s.claimGift(ctx, gift)
		if claimErr != nil {
			s.logger(ctx, "gift.claim.failed", map[string]any{
				"giftId": gift.ID,
				"itemId": gift.ItemID,
				"error":  claimErr.Error(),
			})
		}
		results = append(results, ItemResult{ItemID: gift.ItemID, Err: claimErr})
	}
	return results, nil
}

// claimGift grants the entitlement first, then marks the record claimed, so a
// crash in between leaves an unclaimed gift whose re-claim is an idempotent grant.
func (s *giftService) claimGift(ctx context.Context, gift domain.Gift) error {
	if _, err := s.enrollments.Grant(ctx, gift.RecipientEmail, gift.ItemID, gift.OrderID); err != nil {
		return err
	}
	return s.gifts.MarkClaimed(ctx, gift.ID, s.now())
}

func (s *giftService) recipientExists(ctx context.Context, email string) bool {
	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return true
	}
	if !repositories.IsNotFound(err) {
		s.logger(ctx, "gift.recipient_lookup.failed", map[string]any{
			"recipient": email,
			"error":     err.Error(),
		})
	}
	return false
}
