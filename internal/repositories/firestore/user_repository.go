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

const userCollection = "users"

// UserRepository persists user accounts keyed by their normalised email address.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
	now  func() time.Time
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base: pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil),
		now:  time.Now,
	}, nil
}

// FindByEmail loads the user account for the given email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	key := domain.NormalizeEmail(email)
	if key == "" {
		return domain.User{}, errors.New("email is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.User{}, err
	}

	user := toDomainUser(doc.Data)
	user.Email = key
	if user.CreatedAt.IsZero() {
		user.CreatedAt = doc.CreateTime
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = doc.UpdateTime
	}
	return user, nil
}

// Upsert writes the account, creating it on first sight of the email.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	key := domain.NormalizeEmail(user.Email)
	if key == "" {
		return domain.User{}, errors.New("email is required")
	}

	now := r.now().UTC()
	doc := fromDomainUser(user, now)
	if _, err := r.base.Set(ctx, key, doc); err != nil {
		return domain.User{}, err
	}

	saved := toDomainUser(doc)
	saved.Email = key
	return saved, nil
}

type userDocument struct {
	Email       string    `firestore:"email"`
	Name        string    `firestore:"name,omitempty"`
	CustomerRef string    `firestore:"customerRef,omitempty"`
	Subscribed  bool      `firestore:"subscribed"`
	Role        string    `firestore:"role,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func toDomainUser(doc userDocument) domain.User {
	return domain.User{
		Email:       doc.Email,
		Name:        strings.TrimSpace(doc.Name),
		CustomerRef: strings.TrimSpace(doc.CustomerRef),
		Subscribed:  doc.Subscribed,
		Role:        strings.TrimSpace(doc.Role),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func fromDomainUser(user domain.User, now time.Time) userDocument {
	doc := userDocument{
		Email:       domain.NormalizeEmail(user.Email),
		Name:        strings.TrimSpace(user.Name),
		CustomerRef: strings.TrimSpace(user.CustomerRef),
		Subscribed:  user.Subscribed,
		Role:        strings.ToLower(strings.TrimSpace(user.Role)),
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return doc
}
