package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/courseloft/api/internal/domain"
	pfirestore "github.com/courseloft/api/internal/platform/firestore"
	"github.com/courseloft/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists finalised orders. Order IDs are derived from the
// payment reference, so inserting is create-only: a replayed reference fails
// with a conflict instead of producing a duplicate order.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
	now  func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
		now:  time.Now,
	}, nil
}

// Insert creates the order document. An existing document under the same ID
// surfaces as a conflict error.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order id is required")
	}

	doc := fromDomainOrder(order, r.now().UTC())
	_, err := r.base.Create(ctx, id, doc)
	return err
}

// FindByID loads the order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	order := toDomainOrder(doc.Data)
	order.ID = doc.ID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = doc.CreateTime
	}
	return order, nil
}

// ListByOwner returns the owner's orders, newest first.
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerEmail string) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	key := domain.NormalizeEmail(ownerEmail)
	if key == "" {
		return nil, errors.New("owner email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("ownerEmail", "==", key).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := toDomainOrder(doc.Data)
		order.ID = doc.ID
		orders = append(orders, order)
	}
	return orders, nil
}

type orderDocument struct {
	OwnerEmail       string              `firestore:"ownerEmail"`
	Items            []orderItemDocument `firestore:"items"`
	Total            int64               `firestore:"total"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	PaymentReference string              `firestore:"paymentReference"`
	Type             string              `firestore:"type"`
	Source           string              `firestore:"source,omitempty"`
	PromoCode        string              `firestore:"promoCode,omitempty"`
	CreatedAt        time.Time           `firestore:"createdAt"`
}

type orderItemDocument struct {
	ItemID          string `firestore:"itemId"`
	Title           string `firestore:"title"`
	UnitPrice       int64  `firestore:"unitPrice"`
	CreatorID       string `firestore:"creatorId,omitempty"`
	PreorderAtOrder bool   `firestore:"preorderAtOrder"`
}

func toDomainOrder(doc orderDocument) domain.Order {
	order := domain.Order{
		OwnerEmail:       doc.OwnerEmail,
		Total:            doc.Total,
		PaymentMethod:    domain.PaymentMethod(doc.PaymentMethod),
		PaymentReference: doc.PaymentReference,
		Type:             domain.OrderType(doc.Type),
		Source:           doc.Source,
		PromoCode:        doc.PromoCode,
		CreatedAt:        doc.CreatedAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
			ItemID:          item.ItemID,
			Title:           item.Title,
			UnitPrice:       item.UnitPrice,
			CreatorID:       item.CreatorID,
			PreorderAtOrder: item.PreorderAtOrder,
		})
	}
	return order
}

func fromDomainOrder(order domain.Order, now time.Time) orderDocument {
	doc := orderDocument{
		OwnerEmail:       domain.NormalizeEmail(order.OwnerEmail),
		Total:            order.Total,
		PaymentMethod:    string(order.PaymentMethod),
		PaymentReference: strings.TrimSpace(order.PaymentReference),
		Type:             string(order.Type),
		Source:           strings.TrimSpace(order.Source),
		PromoCode:        strings.TrimSpace(order.PromoCode),
		CreatedAt:        order.CreatedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ItemID:          strings.TrimSpace(item.ItemID),
			Title:           item.Title,
			UnitPrice:       item.UnitPrice,
			CreatorID:       strings.TrimSpace(item.CreatorID),
			PreorderAtOrder: item.PreorderAtOrder,
		})
	}
	return doc
}
