package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/courseloft/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err represents a write that lost to an existing record.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err represents a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// UserRepository persists user accounts keyed by normalised email address.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
}

// CartRepository owns the single active cart per user.
type CartRepository interface {
	Get(ctx context.Context, ownerEmail string) (domain.Cart, error)
	Replace(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Clear(ctx context.Context, ownerEmail string) error
}

// OrderRepository persists finalised orders. Insert is create-only so a
// replayed payment reference surfaces as a conflict instead of a second order.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByOwner(ctx context.Context, ownerEmail string) ([]domain.Order, error)
}

// EnrollmentRepository persists course entitlements. Enrollments are never
// deleted; revocation flips the active flag.
type EnrollmentRepository interface {
	FindByOwnerAndItem(ctx context.Context, ownerEmail, itemID string) (domain.Enrollment, error)
	Save(ctx context.Context, enrollment domain.Enrollment) (domain.Enrollment, error)
	ListByOwner(ctx context.Context, ownerEmail string) ([]domain.Enrollment, error)
}

// GiftRepository persists pending and claimed gift records.
type GiftRepository interface {
	Insert(ctx context.Context, gift domain.Gift) (domain.Gift, error)
	ListUnclaimedByRecipient(ctx context.Context, recipientEmail string) ([]domain.Gift, error)
	MarkClaimed(ctx context.Context, giftID string, claimedAt time.Time) error
}
