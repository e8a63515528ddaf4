package services

import (
	"context"
	"time"

	domain "github.com/courseloft/api/internal/domain"
)

// CatalogClient resolves authoritative course data from the CMS.
type CatalogClient interface {
	GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error)
	GetItems(ctx context.Context, itemIDs []string) ([]domain.CatalogItem, error)
}

// AnalyticsEvent is a single tracking event submitted to the analytics sink.
type AnalyticsEvent struct {
	Name       string         `json:"name"`
	UserEmail  string         `json:"userEmail,omitempty"`
	OrderID    string         `json:"orderId,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// AnalyticsPublisher submits tracking events to the analytics sink.
type AnalyticsPublisher interface {
	PublishEvent(ctx context.Context, event AnalyticsEvent) (string, error)
}

// PricingContext carries the sale and promo inputs for a price computation.
// Both are passed by value; pricing never reads ambient configuration.
type PricingContext struct {
	Sale  domain.SaleConfiguration
	Promo *domain.PromoCode
}

// PricedItem is a cart entry with its server-derived unit price.
type PricedItem struct {
	Item      domain.CatalogItem
	UnitPrice int64
}

// PricedCart is the result of pricing a full cart.
type PricedCart struct {
	Items []PricedItem
	Total int64
}

// PromotionService validates submitted promo and redemption codes.
type PromotionService interface {
	Resolve(rawCode string, cartItemIDs []string) (domain.PromoCode, error)
	ResolveRedemption(rawCode string) (domain.PromoCode, error)
}

// CreateCheckoutIntentCommand is the client-submitted checkout request.
type CreateCheckoutIntentCommand struct {
	Email         string
	CustomerRef   string
	PromoCode     string
	DeclaredTotal int64
	Items         []CheckoutItemInput
}

// CheckoutItemInput is a client cart entry. Price is the price-at-add-time the
// client displayed; it is validated against DeclaredTotal and then discarded.
type CheckoutItemInput struct {
	ItemID string
	Price  int64
}

// CheckoutIntent is the provider session handed back to the client.
type CheckoutIntent struct {
	SessionID   string
	RedirectURL string
	Total       int64
}

// CheckoutService builds payment-provider checkout sessions.
type CheckoutService interface {
	CreateCheckoutIntent(ctx context.Context, cmd CreateCheckoutIntentCommand) (CheckoutIntent, error)
}

// ItemResult records the per-item outcome of an enrollment fan-out.
type ItemResult struct {
	ItemID string
	Err    error
}

// ReconcileResult summarises a reconciliation run.
type ReconcileResult struct {
	Order    domain.Order
	Replayed bool
	Items    []ItemResult
}

// Reconciler turns a confirmed payment session into order and enrollment records.
type Reconciler interface {
	Reconcile(ctx context.Context, sessionID string) (ReconcileResult, error)
}

// EnrollmentService owns entitlement grants and queries.
type EnrollmentService interface {
	Grant(ctx context.Context, email, itemID, orderID string) (domain.Enrollment, error)
	GrantFree(ctx context.Context, email, itemID string) (domain.Enrollment, error)
	Redeem(ctx context.Context, email, code string) (domain.Enrollment, error)
	Deactivate(ctx context.Context, email, itemID string) error
	List(ctx context.Context, email string) ([]domain.Enrollment, error)
	IsEntitled(ctx context.Context, email, itemID string) (bool, error)
}

// GiftCommand describes a gift purchase by the giver.
type GiftCommand struct {
	GiverEmail     string
	RecipientEmail string
	ItemIDs        []string
}

// GiftResult reports the created order, per-item gift records, and whether the
// recipient already held an account (and so was granted immediately).
type GiftResult struct {
	Order   domain.Order
	Gifts   []domain.Gift
	Claimed bool
}

// GiftService creates gift records and claims them on recipient signup.
type GiftService interface {
	Gift(ctx context.Context, cmd GiftCommand) (GiftResult, error)
	ClaimPending(ctx context.Context, recipientEmail string) ([]ItemResult, error)
}

// SideEffectDispatcher submits best-effort work (mail, analytics). Failures
// are logged by the dispatcher and never propagated to callers.
type SideEffectDispatcher interface {
	SubmitOrderConfirmation(ctx context.Context, order domain.Order)
	SubmitGiftNotification(ctx context.Context, gift domain.Gift, itemTitle string)
	SubmitEvent(ctx context.Context, event AnalyticsEvent)
}
