package domain

import (
	"strings"
	"time"
)

// CatalogItem is the read-only course record owned by the CMS. Prices are
// integer minor currency units. Cross-references (creator, lessons) are
// expressed as ids resolved on read, never embedded references.
type CatalogItem struct {
	ID          string
	Title       string
	BasePrice   int64
	CreatorID   string
	CreatorName string
	LaunchDate  *time.Time
	Slug        string
	ImageURL    string
}

// IsPreorder reports whether the item has not launched yet at the given time.
func (c CatalogItem) IsPreorder(now time.Time) bool {
	return c.LaunchDate != nil && c.LaunchDate.After(now)
}

// CartItem is one entry in a user's cart, priced at the time it was added.
type CartItem struct {
	ItemID      string
	Title       string
	Price       int64
	CreatorName string
	Slug        string
	ImageURL    string
}

// Cart mirrors the client cart server-side, keyed by owner email so a
// logged-in user can recover it. The declared total is never trusted for
// payment creation; it is re-validated against the item sum.
type Cart struct {
	OwnerEmail    string
	Items         []CartItem
	DeclaredTotal int64
	UpdatedAt     time.Time
}

// ItemTotal sums the per-item prices, independent of the declared total.
func (c Cart) ItemTotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Price
	}
	return total
}

// PromoCode is a percentage discount, optionally restricted to specific
// items. Redemption codes are 100%-off single-item entries in a separate
// namespace, flagged so callers can record the payment method correctly.
type PromoCode struct {
	Code               string
	PercentageDiscount int
	AllowedItemIDs     []string
	Redemption         bool
}

// AppliesTo reports whether the code discounts the given item. A code with
// no allow-list applies to every item.
func (p PromoCode) AppliesTo(itemID string) bool {
	if len(p.AllowedItemIDs) == 0 {
		return true
	}
	for _, id := range p.AllowedItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// SaleItemOverride pins an explicit sale price for a single item, taking
// precedence over the global percentage while the sale is active.
type SaleItemOverride struct {
	ItemID    string
	SalePrice int64
}

// SaleConfiguration describes a storewide sale. It is loaded once per process
// and passed by value into pricing; core logic never reads ambient state.
type SaleConfiguration struct {
	Active                   bool
	GlobalDiscountPercentage int
	ItemOverrides            []SaleItemOverride
}

// OverrideFor returns the per-item sale price when one is configured.
func (s SaleConfiguration) OverrideFor(itemID string) (int64, bool) {
	for _, o := range s.ItemOverrides {
		if o.ItemID == itemID {
			return o.SalePrice, true
		}
	}
	return 0, false
}

// PaymentMethod discriminates how an order was settled.
type PaymentMethod string

const (
	PaymentMethodCharge     PaymentMethod = "provider-charge"
	PaymentMethodAltCharge  PaymentMethod = "provider-alt-charge"
	PaymentMethodRedemption PaymentMethod = "redemption"
	PaymentMethodGift       PaymentMethod = "manual-gift"
	PaymentMethodFree       PaymentMethod = "free"
)

// OrderType categorises the transaction that produced the order.
type OrderType string

const (
	OrderTypePurchase     OrderType = "purchase"
	OrderTypeGift         OrderType = "gift"
	OrderTypeSubscription OrderType = "subscription"
	OrderTypeRedemption   OrderType = "redemption"
)

// OrderLineItem records what was actually charged for one item, with the
// catalog attribution resolved at reconciliation time.
type OrderLineItem struct {
	ItemID          string
	Title           string
	UnitPrice       int64
	CreatorID       string
	PreorderAtOrder bool
}

// Order is the immutable record of a completed transaction. It is created
// exactly once per confirmed payment and never mutated.
type Order struct {
	ID               string
	OwnerEmail       string
	Items            []OrderLineItem
	Total            int64
	PaymentMethod    PaymentMethod
	PaymentReference string
	Type             OrderType
	Source           string
	PromoCode        string
	CreatedAt        time.Time
}

// Enrollment grants a user access to one item. Records are never deleted:
// deactivation flips Active to false and re-grant flips it back, so current
// entitlement for (owner, item) is "any record with Active=true".
type Enrollment struct {
	ID         string
	OwnerEmail string
	ItemID     string
	Active     bool
	OrderID    string
	GrantedAt  time.Time
	UpdatedAt  time.Time
}

// Gift records one gifted item. Claimed flips to true once the recipient has
// an account and the enrollment has been granted.
type Gift struct {
	ID             string
	RecipientEmail string
	GiverEmail     string
	ItemID         string
	Claimed        bool
	OrderID        string
	CreatedAt      time.Time
	ClaimedAt      *time.Time
}

// User is keyed by email and created lazily on first checkout. CustomerRef
// names a record in the payment provider's customer database and may be
// stale at any time; it must be revalidated before reuse.
type User struct {
	Email       string
	Name        string
	CustomerRef string
	Subscribed  bool
	Role        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeEmail lower-cases and trims an email for use as a document key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
