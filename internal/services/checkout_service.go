package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/courseloft/api/internal/domain"
	"github.com/courseloft/api/internal/payments"
	"github.com/courseloft/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutTotalMismatch indicates the declared total disagrees with the item prices.
	ErrCheckoutTotalMismatch = errors.New("checkout: declared total mismatch")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// Metadata keys bridging session creation and reconciliation. The session is
// the only state shared between the two requests.
const (
	metadataItemIDs   = "itemIds"
	metadataUserEmail = "userEmail"
	metadataPromoCode = "promoCode"
	metadataTotal     = "total"
	metadataSummary   = "summary"
	metadataSource    = "source"
)

type checkoutSessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	RetrieveCustomer(ctx context.Context, customerID string) (payments.Customer, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Catalog    CatalogClient
	Promotions PromotionService
	Payments   checkoutSessionCreator
	Users      repositories.UserRepository
	Carts      repositories.CartRepository
	Sale       domain.SaleConfiguration
	SuccessURL string
	CancelURL  string
	Currency   string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	catalog    CatalogClient
	promotions PromotionService
	payments   checkoutSessionCreator
	users      repositories.UserRepository
	carts      repositories.CartRepository
	sale       domain.SaleConfiguration
	successURL string
	cancelURL  string
	currency   string
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog client is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("checkout service: promotion service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("checkout service: success and cancel urls are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}

	return &checkoutService{
		catalog:    deps.Catalog,
		promotions: deps.Promotions,
		payments:   deps.Payments,
		users:      deps.Users,
		carts:      deps.Carts,
		sale:       deps.Sale,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		currency:   currency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutIntent validates the submitted cart, re-derives prices server
// side, and creates the provider session. The session request is assembled
// fully before the single remote creation call.
func (s *checkoutService) CreateCheckoutIntent(ctx context.Context, cmd CreateCheckoutIntentCommand) (CheckoutIntent, error) {
	email := domain.NormalizeEmail(cmd.Email)
	if email == "" {
		return CheckoutIntent{}, fmt.Errorf("%w: email is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return CheckoutIntent{}, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}
	if cmd.DeclaredTotal <= 0 {
		return CheckoutIntent{}, fmt.Errorf("%w: declared total must be positive", ErrCheckoutInvalidInput)
	}

	itemIDs := make([]string, 0, len(cmd.Items))
	var declaredSum int64
	for _, item := range cmd.Items {
		id := strings.TrimSpace(item.ItemID)
		if id == "" {
			return CheckoutIntent{}, fmt.Errorf("%w: item id is required", ErrCheckoutInvalidInput)
		}
		itemIDs = append(itemIDs, id)
		declaredSum += item.Price
	}
	if declaredSum != cmd.DeclaredTotal {
		return CheckoutIntent{}, ErrCheckoutTotalMismatch
	}

	// The client-declared prices are only consistency-checked above; the
	// charged prices come from the catalog and pricing engine below.
	var promo *domain.PromoCode
	promoCode := strings.TrimSpace(cmd.PromoCode)
	if promoCode != "" {
		resolved, err := s.promotions.Resolve(promoCode, itemIDs)
		if err != nil {
			return CheckoutIntent{}, err
		}
		promo = &resolved
		promoCode = resolved.Code
	}

	items, err := s.catalog.GetItems(ctx, itemIDs)
	if err != nil {
		return CheckoutIntent{}, fmt.Errorf("%w: catalog lookup: %v", ErrCheckoutUnavailable, err)
	}

	priced := PriceCart(items, PricingContext{Sale: s.sale, Promo: promo})

	s.ensureUser(ctx, email)
	s.mirrorCart(ctx, email, itemIDs, priced.Total)

	req := s.buildSessionRequest(ctx, email, cmd.CustomerRef, promoCode, priced)

	session, err := s.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutIntent{}, fmt.Errorf("%w: create session: %v", ErrCheckoutUnavailable, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"sessionId": session.ID,
		"userEmail": email,
		"total":     priced.Total,
		"itemCount": len(priced.Items),
	})

	return CheckoutIntent{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		Total:       priced.Total,
	}, nil
}

// buildSessionRequest is pure assembly; the remote call happens in the caller.
func (s *checkoutService) buildSessionRequest(ctx context.Context, email, customerRef, promoCode string, priced PricedCart) payments.CheckoutSessionRequest {
	lineItems := make([]payments.CheckoutLineItem, 0, len(priced.Items))
	titles := make([]string, 0, len(priced.Items))
	itemIDs := make([]string, 0, len(priced.Items))
	for _, entry := range priced.Items {
		lineItems = append(lineItems, payments.CheckoutLineItem{
			Name:        entry.Item.Title,
			Description: lineItemDescription(entry.Item),
			SKU:         entry.Item.ID,
			Amount:      entry.UnitPrice,
			Currency:    s.currency,
		})
		titles = append(titles, entry.Item.Title)
		itemIDs = append(itemIDs, entry.Item.ID)
	}

	metadata := map[string]string{
		metadataItemIDs:   strings.Join(itemIDs, ","),
		metadataUserEmail: email,
		metadataTotal:     fmt.Sprintf("%d", priced.Total),
	}
	if promoCode != "" {
		metadata[metadataPromoCode] = promoCode
	}
	if summary := strings.Join(titles, ", "); summary != "" {
		metadata[metadataSummary] = summary
	}

	req := payments.CheckoutSessionRequest{
		Currency:       s.currency,
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		Metadata:       metadata,
		IdempotencyKey: checkoutIdempotencyKey(email, itemIDs, priced.Total),
		Items:          lineItems,
	}

	if ref := strings.TrimSpace(customerRef); ref != "" && s.isValidCustomerRef(ctx, ref) {
		req.CustomerID = ref
	} else {
		req.CustomerEmail = email
	}

	return req
}

// isValidCustomerRef confirms the stored reference still resolves to a live
// provider customer. Not-found, deleted, and lookup failure all fail closed:
// the session falls back to email prefill, which is always safe. No retries.
func (s *checkoutService) isValidCustomerRef(ctx context.Context, ref string) bool {
	customer, err := s.payments.RetrieveCustomer(ctx, ref)
	if err != nil {
		s.logger(ctx, "checkout.customer_ref.invalid", map[string]any{
			"reason": err.Error(),
		})
		return false
	}
	if customer.Deleted {
		s.logger(ctx, "checkout.customer_ref.deleted", map[string]any{
			"customerRef": ref,
		})
		return false
	}
	return true
}

// ensureUser lazily creates the account on first checkout. Failures are
// logged only; checkout must not depend on profile persistence.
func (s *checkoutService) ensureUser(ctx context.Context, email string) {
	if s.users == nil {
		return
	}
	if _, err := s.users.FindByEmail(ctx, email); err == nil || !repositories.IsNotFound(err) {
		return
	}
	if _, err := s.users.Upsert(ctx, domain.User{Email: email}); err != nil {
		s.logger(ctx, "checkout.user.create.failed", map[string]any{
			"userEmail": email,
			"error":     err.Error(),
		})
	}
}

// mirrorCart stores the server-side cart copy so the reconciler can clear it
// after payment. Failures are logged only.
func (s *checkoutService) mirrorCart(ctx context.Context, email string, itemIDs []string, total int64) {
	if s.carts == nil {
		return
	}
	cart := domain.Cart{OwnerEmail: email, DeclaredTotal: total, UpdatedAt: s.now()}
	for _, id := range itemIDs {
		cart.Items = append(cart.Items, domain.CartItem{ItemID: id})
	}
	if _, err := s.carts.Replace(ctx, cart); err != nil {
		s.logger(ctx, "checkout.cart.mirror.failed", map[string]any{
			"userEmail": email,
			"error":     err.Error(),
		})
	}
}

func lineItemDescription(item domain.CatalogItem) string {
	parts := make([]string, 0, 2)
	if item.CreatorName != "" {
		parts = append(parts, "by "+item.CreatorName)
	}
	if item.Slug != "" {
		parts = append(parts, item.Slug)
	}
	return strings.Join(parts, " / ")
}

func checkoutIdempotencyKey(email string, itemIDs []string, total int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", email, strings.Join(itemIDs, ","), total)))
	return "checkout_" + hex.EncodeToString(sum[:16])
}
