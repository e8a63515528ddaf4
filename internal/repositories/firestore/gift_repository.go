package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/courseloft/api/internal/domain"
	pfirestore "github.com/courseloft/api/internal/platform/firestore"
	"github.com/courseloft/api/internal/repositories"
)

const giftCollection = "gifts"

// GiftRepository persists gift records awaiting the recipient's signup.
type GiftRepository struct {
	base  *pfirestore.BaseRepository[giftDocument]
	now   func() time.Time
	newID func() string
}

var _ repositories.GiftRepository = (*GiftRepository)(nil)

// NewGiftRepository constructs a Firestore-backed gift repository.
func NewGiftRepository(provider *pfirestore.Provider) (*GiftRepository, error) {
	if provider == nil {
		return nil, errors.New("gift repository requires firestore provider")
	}
	return &GiftRepository{
		base: pfirestore.NewBaseRepository[giftDocument](provider, giftCollection, nil, nil),
		now:  time.Now,
		newID: func() string {
			return "gft_" + ulid.Make().String()
		},
	}, nil
}

// Insert creates a new gift record and returns it with its assigned ID.
func (r *GiftRepository) Insert(ctx context.Context, gift domain.Gift) (domain.Gift, error) {
	if r == nil || r.base == nil {
		return domain.Gift{}, errors.New("gift repository not initialised")
	}
	recipient := domain.NormalizeEmail(gift.RecipientEmail)
	item := strings.TrimSpace(gift.ItemID)
	if recipient == "" || item == "" {
		return domain.Gift{}, errors.New("recipient email and item id are required")
	}

	id := strings.TrimSpace(gift.ID)
	if id == "" {
		id = r.newID()
	}

	doc := fromDomainGift(gift, r.now().UTC())
	if _, err := r.base.Create(ctx, id, doc); err != nil {
		return domain.Gift{}, err
	}

	saved := toDomainGift(doc)
	saved.ID = id
	return saved, nil
}

// ListUnclaimedByRecipient returns pending gifts for the recipient.
func (r *GiftRepository) ListUnclaimedByRecipient(ctx context.Context, recipientEmail string) ([]domain.Gift, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("gift repository not initialised")
	}
	key := domain.NormalizeEmail(recipientEmail)
	if key == "" {
		return nil, errors.New("recipient email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("recipientEmail", "==", key).Where("claimed", "==", false)
	})
	if err != nil {
		return nil, err
	}

	gifts := make([]domain.Gift, 0, len(docs))
	for _, doc := range docs {
		gift := toDomainGift(doc.Data)
		gift.ID = doc.ID
		gifts = append(gifts, gift)
	}
	return gifts, nil
}

// MarkClaimed flags the gift as claimed at the given time.
func (r *GiftRepository) MarkClaimed(ctx context.Context, giftID string, claimedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("gift repository not initialised")
	}
	if strings.TrimSpace(giftID) == "" {
		return errors.New("gift id is required")
	}

	_, err := r.base.Update(ctx, giftID, []firestore.Update{
		{Path: "claimed", Value: true},
		{Path: "claimedAt", Value: claimedAt.UTC()},
	})
	return err
}

type giftDocument struct {
	RecipientEmail string     `firestore:"recipientEmail"`
	GiverEmail     string     `firestore:"giverEmail"`
	ItemID         string     `firestore:"itemId"`
	Claimed        bool       `firestore:"claimed"`
	OrderID        string     `firestore:"orderId,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	ClaimedAt      *time.Time `firestore:"claimedAt,omitempty"`
}

func toDomainGift(doc giftDocument) domain.Gift {
	return domain.Gift{
		RecipientEmail: doc.RecipientEmail,
		GiverEmail:     doc.GiverEmail,
		ItemID:         doc.ItemID,
		Claimed:        doc.Claimed,
		OrderID:        doc.OrderID,
		CreatedAt:      doc.CreatedAt,
		ClaimedAt:      doc.ClaimedAt,
	}
}

func fromDomainGift(gift domain.Gift, now time.Time) giftDocument {
	doc := giftDocument{
		RecipientEmail: domain.NormalizeEmail(gift.RecipientEmail),
		GiverEmail:     domain.NormalizeEmail(gift.GiverEmail),
		ItemID:         strings.TrimSpace(gift.ItemID),
		Claimed:        gift.Claimed,
		OrderID:        strings.TrimSpace(gift.OrderID),
		CreatedAt:      gift.CreatedAt,
		ClaimedAt:      gift.ClaimedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return doc
}
