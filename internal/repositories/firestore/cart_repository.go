package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/courseloft/api/internal/domain"
	pfirestore "github.com/courseloft/api/internal/platform/firestore"
	"github.com/courseloft/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists the single active cart per user, keyed by the
// owner's normalised email address.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
	now  func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil),
		now:  time.Now,
	}, nil
}

// Get loads the cart for the given owner.
func (r *CartRepository) Get(ctx context.Context, ownerEmail string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := domain.NormalizeEmail(ownerEmail)
	if key == "" {
		return domain.Cart{}, errors.New("owner email is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := toDomainCart(doc.Data)
	cart.OwnerEmail = key
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	return cart, nil
}

// Replace overwrites the owner's cart with the given contents.
func (r *CartRepository) Replace(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := domain.NormalizeEmail(cart.OwnerEmail)
	if key == "" {
		return domain.Cart{}, errors.New("owner email is required")
	}

	doc := fromDomainCart(cart, r.now().UTC())
	if _, err := r.base.Set(ctx, key, doc); err != nil {
		return domain.Cart{}, err
	}

	saved := toDomainCart(doc)
	saved.OwnerEmail = key
	return saved, nil
}

// Clear removes the owner's cart. Clearing an absent cart is not an error.
func (r *CartRepository) Clear(ctx context.Context, ownerEmail string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	key := domain.NormalizeEmail(ownerEmail)
	if key == "" {
		return errors.New("owner email is required")
	}
	return r.base.Delete(ctx, key)
}

type cartDocument struct {
	OwnerEmail    string             `firestore:"ownerEmail"`
	Items         []cartItemDocument `firestore:"items"`
	DeclaredTotal int64              `firestore:"declaredTotal"`
	UpdatedAt     time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ItemID string `firestore:"itemId"`
}

func toDomainCart(doc cartDocument) domain.Cart {
	cart := domain.Cart{
		OwnerEmail:    doc.OwnerEmail,
		DeclaredTotal: doc.DeclaredTotal,
		UpdatedAt:     doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{ItemID: strings.TrimSpace(item.ItemID)})
	}
	return cart
}

func fromDomainCart(cart domain.Cart, now time.Time) cartDocument {
	doc := cartDocument{
		OwnerEmail:    domain.NormalizeEmail(cart.OwnerEmail),
		DeclaredTotal: cart.DeclaredTotal,
		UpdatedAt:     now,
	}
	for _, item := range cart.Items {
		id := strings.TrimSpace(item.ItemID)
		if id == "" {
			continue
		}
		doc.Items = append(doc.Items, cartItemDocument{ItemID: id})
	}
	return doc
}
