package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/courseloft/api/internal/domain"
	pfirestore "github.com/courseloft/api/internal/platform/firestore"
	"github.com/courseloft/api/internal/repositories"
)

const enrollmentCollection = "enrollments"

// EnrollmentRepository persists course entitlements. The document ID is
// derived from owner and item, so each user holds at most one enrollment per
// course and re-granting flips the existing record instead of adding a second.
type EnrollmentRepository struct {
	base *pfirestore.BaseRepository[enrollmentDocument]
	now  func() time.Time
}

var _ repositories.EnrollmentRepository = (*EnrollmentRepository)(nil)

// NewEnrollmentRepository constructs a Firestore-backed enrollment repository.
func NewEnrollmentRepository(provider *pfirestore.Provider) (*EnrollmentRepository, error) {
	if provider == nil {
		return nil, errors.New("enrollment repository requires firestore provider")
	}
	return &EnrollmentRepository{
		base: pfirestore.NewBaseRepository[enrollmentDocument](provider, enrollmentCollection, nil, nil),
		now:  time.Now,
	}, nil
}

// EnrollmentID derives the deterministic document ID for an owner and item.
func EnrollmentID(ownerEmail, itemID string) string {
	return fmt.Sprintf("%s__%s", domain.NormalizeEmail(ownerEmail), strings.TrimSpace(itemID))
}

// FindByOwnerAndItem loads the enrollment for the owner and item pair.
func (r *EnrollmentRepository) FindByOwnerAndItem(ctx context.Context, ownerEmail, itemID string) (domain.Enrollment, error) {
	if r == nil || r.base == nil {
		return domain.Enrollment{}, errors.New("enrollment repository not initialised")
	}
	key := domain.NormalizeEmail(ownerEmail)
	item := strings.TrimSpace(itemID)
	if key == "" || item == "" {
		return domain.Enrollment{}, errors.New("owner email and item id are required")
	}

	doc, err := r.base.Get(ctx, EnrollmentID(key, item))
	if err != nil {
		return domain.Enrollment{}, err
	}

	enrollment := toDomainEnrollment(doc.Data)
	enrollment.ID = doc.ID
	if enrollment.GrantedAt.IsZero() {
		enrollment.GrantedAt = doc.CreateTime
	}
	if enrollment.UpdatedAt.IsZero() {
		enrollment.UpdatedAt = doc.UpdateTime
	}
	return enrollment, nil
}

// Save upserts the enrollment under its deterministic ID.
func (r *EnrollmentRepository) Save(ctx context.Context, enrollment domain.Enrollment) (domain.Enrollment, error) {
	if r == nil || r.base == nil {
		return domain.Enrollment{}, errors.New("enrollment repository not initialised")
	}
	key := domain.NormalizeEmail(enrollment.OwnerEmail)
	item := strings.TrimSpace(enrollment.ItemID)
	if key == "" || item == "" {
		return domain.Enrollment{}, errors.New("owner email and item id are required")
	}

	doc := fromDomainEnrollment(enrollment, r.now().UTC())
	id := EnrollmentID(key, item)
	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return domain.Enrollment{}, err
	}

	saved := toDomainEnrollment(doc)
	saved.ID = id
	return saved, nil
}

// ListByOwner returns every enrollment for the owner, active or not.
func (r *EnrollmentRepository) ListByOwner(ctx context.Context, ownerEmail string) ([]domain.Enrollment, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("enrollment repository not initialised")
	}
	key := domain.NormalizeEmail(ownerEmail)
	if key == "" {
		return nil, errors.New("owner email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("ownerEmail", "==", key)
	})
	if err != nil {
		return nil, err
	}

	enrollments := make([]domain.Enrollment, 0, len(docs))
	for _, doc := range docs {
		enrollment := toDomainEnrollment(doc.Data)
		enrollment.ID = doc.ID
		enrollments = append(enrollments, enrollment)
	}
	return enrollments, nil
}

type enrollmentDocument struct {
	OwnerEmail string    `firestore:"ownerEmail"`
	ItemID     string    `firestore:"itemId"`
	Active     bool      `firestore:"active"`
	OrderID    string    `firestore:"orderId,omitempty"`
	GrantedAt  time.Time `firestore:"grantedAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func toDomainEnrollment(doc enrollmentDocument) domain.Enrollment {
	return domain.Enrollment{
		OwnerEmail: doc.OwnerEmail,
		ItemID:     doc.ItemID,
		Active:     doc.Active,
		OrderID:    doc.OrderID,
		GrantedAt:  doc.GrantedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func fromDomainEnrollment(enrollment domain.Enrollment, now time.Time) enrollmentDocument {
	doc := enrollmentDocument{
		OwnerEmail: domain.NormalizeEmail(enrollment.OwnerEmail),
		ItemID:     strings.TrimSpace(enrollment.ItemID),
		Active:     enrollment.Active,
		OrderID:    strings.TrimSpace(enrollment.OrderID),
		GrantedAt:  enrollment.GrantedAt,
		UpdatedAt:  now,
	}
	if doc.GrantedAt.IsZero() {
		doc.GrantedAt = now
	}
	return doc
}
