package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/courseloft/api/internal/domain"
)

type fakeGiftRepo struct {
	gifts     map[string]domain.Gift
	insertErr error
	listErr   error
	claimErr  error
	counter   int
}

func newFakeGiftRepo() *fakeGiftRepo {
	return &fakeGiftRepo{gifts: map[string]domain.Gift{}}
}

func (f *fakeGiftRepo) Insert(_ context.Context, gift domain.Gift) (domain.Gift, error) {
	if f.insertErr != nil {
		return domain.Gift{}, f.insertErr
	}
	f.counter++
	gift.ID = fmt.Sprintf("gft_%03d", f.counter)
	f.gifts[gift.ID] = gift
	return gift, nil
}

func (f *fakeGiftRepo) ListUnclaimedByRecipient(_ context.Context, recipientEmail string) ([]domain.Gift, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Gift
	for _, gift := range f.gifts {
		if gift.RecipientEmail == domain.NormalizeEmail(recipientEmail) && !gift.Claimed {
			out = append(out, gift)
		}
	}
	return out, nil
}

func (f *fakeGiftRepo) MarkClaimed(_ context.Context, giftID string, claimedAt time.Time) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	gift, ok := f.gifts[giftID]
	if !ok {
		return notFoundErr()
	}
	gift.Claimed = true
	gift.ClaimedAt = &claimedAt
	f.gifts[giftID] = gift
	return nil
}

type fakeUserRepo struct {
	users map[string]domain.User
}

func newFakeUserRepo(emails ...string) *fakeUserRepo {
	repo := &fakeUserRepo{users: map[string]domain.User{}}
	for _, email := range emails {
		key := domain.NormalizeEmail(email)
		repo.users[key] = domain.User{Email: key}
	}
	return repo
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (domain.User, error) {
	user, ok := f.users[domain.NormalizeEmail(email)]
	if !ok {
		return domain.User{}, notFoundErr()
	}
	return user, nil
}

func (f *fakeUserRepo) Upsert(_ context.Context, user domain.User) (domain.User, error) {
	key := domain.NormalizeEmail(user.Email)
	user.Email = key
	f.users[key] = user
	return user, nil
}

type giftFixture struct {
	svc        GiftService
	gifts      *fakeGiftRepo
	orders     *fakeOrderRepo
	users      *fakeUserRepo
	granter    *fakeGranter
	dispatcher *recordingDispatcher
}

func newGiftFixture(t *testing.T, users *fakeUserRepo) giftFixture {
	t.Helper()
	gifts := newFakeGiftRepo()
	orders := newFakeOrderRepo()
	granter := &fakeGranter{}
	dispatcher := &recordingDispatcher{}
	catalog := &fakeCatalog{items: map[string]domain.CatalogItem{
		"c1": {ID: "c1", Title: "Typography", BasePrice: 4200},
		"c2": {ID: "c2", Title: "Layout Basics", BasePrice: 5400},
	}}

	counter := 0
	svc, err := NewGiftService(GiftServiceDeps{
		Gifts:       gifts,
		Orders:      orders,
		Users:       users,
		Enrollments: granter,
		Catalog:     catalog,
		Dispatcher:  dispatcher,
		Clock: func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		},
		NewID: func() string {
			counter++
			return fmt.Sprintf("%08d", counter)
		},
	})
	if err != nil {
		t.Fatalf("NewGiftService: %v", err)
	}
	return giftFixture{svc: svc, gifts: gifts, orders: orders, users: users, granter: granter, dispatcher: dispatcher}
}

func TestGiftToUnknownRecipientStaysUnclaimed(t *testing.T) {
	fx := newGiftFixture(t, newFakeUserRepo())

	result, err := fx.svc.Gift(context.Background(), GiftCommand{
		GiverEmail:     "giver@example.com",
		RecipientEmail: "Friend@Example.com",
		ItemIDs:        []string{"c1", "c2"},
	})
	if err != nil {
		t.Fatalf("Gift: %v", err)
	}

	if result.Claimed {
		t.Error("gift to an unknown recipient must stay unclaimed")
	}
	if len(result.Gifts) != 2 {
		t.Fatalf("expected one gift per item, got %d", len(result.Gifts))
	}
	for _, gift := range result.Gifts {
		if gift.Claimed {
			t.Errorf("gift %s must be unclaimed", gift.ID)
		}
		if gift.RecipientEmail != "friend@example.com" {
			t.Errorf("expected normalised recipient, got %q", gift.RecipientEmail)
		}
	}

	if result.Order.OwnerEmail != "giver@example.com" {
		t.Errorf("order must belong to the giver, got %q", result.Order.OwnerEmail)
	}
	if result.Order.PaymentMethod != domain.PaymentMethodGift || result.Order.Type != domain.OrderTypeGift {
		t.Errorf("unexpected order discriminators %+v", result.Order)
	}
	if result.Order.Total != 9600 {
		t.Errorf("unexpected order total %d", result.Order.Total)
	}
	if len(fx.granter.granted) != 0 {
		t.Error("no grant may happen before the recipient signs up")
	}
	if len(fx.dispatcher.gifts) != 2 {
		t.Errorf("expected a notification per gift, got %d", len(fx.dispatcher.gifts))
	}
}

func TestGiftToExistingRecipientGrantsImmediately(t *testing.T) {
	fx := newGiftFixture(t, newFakeUserRepo("friend@example.com"))

	result, err := fx.svc.Gift(context.Background(), GiftCommand{
		GiverEmail:     "giver@example.com",
		RecipientEmail: "friend@example.com",
		ItemIDs:        []string{"c1"},
	})
	if err != nil {
		t.Fatalf("Gift: %v", err)
	}

	if !result.Claimed {
		t.Error("expected immediate claim for an existing account")
	}
	if len(fx.granter.granted) != 1 || fx.granter.granted[0] != "c1" {
		t.Errorf("unexpected grants %v", fx.granter.granted)
	}
	for _, gift := range fx.gifts.gifts {
		if !gift.Claimed {
			t.Errorf("gift %s should be claimed", gift.ID)
		}
	}
}

func TestGiftValidatesInput(t *testing.T) {
	fx := newGiftFixture(t, newFakeUserRepo())

	cases := []GiftCommand{
		{RecipientEmail: "friend@example.com", ItemIDs: []string{"c1"}},
		{GiverEmail: "giver@example.com", ItemIDs: []string{"c1"}},
		{GiverEmail: "giver@example.com", RecipientEmail: "friend@example.com"},
		{GiverEmail: "giver@example.com", RecipientEmail: "friend@example.com", ItemIDs: []string{" "}},
	}
	for i, cmd := range cases {
		if _, err := fx.svc.Gift(context.Background(), cmd); !errors.Is(err, ErrGiftInvalidInput) {
			t.Errorf("case %d: expected ErrGiftInvalidInput, got %v", i, err)
		}
	}
	if len(fx.orders.orders) != 0 {
		t.Error("no order may be recorded for invalid input")
	}
}

func TestClaimPendingGrantsAllUnclaimedGifts(t *testing.T) {
	fx := newGiftFixture(t, newFakeUserRepo())

	if _, err := fx.svc.Gift(context.Background(), GiftCommand{
		GiverEmail:     "giver@example.com",
		RecipientEmail: "friend@example.com",
		ItemIDs:        []string{"c1", "c2"},
	}); err != nil {
		t.Fatalf("Gift: %v", err)
	}

	results, err := fx.svc.ClaimPending(context.Background(), "friend@example.com")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected two claim results, got %d", len(results))
	}
	for _, result := range results {
		if result.Err != nil {
			t.Errorf("unexpected claim failure %+v", result)
		}
	}
	for _, gift := range fx.gifts.gifts {
		if !gift.Claimed {
			t.Errorf("gift %s should be claimed after signup", gift.ID)
		}
	}
	if len(fx.granter.granted) != 2 {
		t.Errorf("expected two grants, got %v", fx.granter.granted)
	}
}

func TestClaimPendingReportsPerGiftFailures(t *testing.T) {
	fx := newGiftFixture(t, newFakeUserRepo())

	if _, err := fx.svc.Gift(context.Background(), GiftCommand{
		GiverEmail:     "giver@example.com",
		RecipientEmail: "friend@example.com",
		ItemIDs:        []string{"c1", "c2"},
	}); err != nil {
		t.Fatalf("Gift: %v", err)
	}

	fx.granter.failFor = map[string]error{"c2": errors.New("store down")}

	results, err := fx.svc.ClaimPending(context.Background(), "friend@example.com")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}

	var failed, succeeded int
	for _, result := range results {
		if result.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("expected settled per-gift results, got %+v", results)
	}

	// The failed gift stays unclaimed for the next attempt.
	var unclaimed int
	for _, gift := range fx.gifts.gifts {
		if !gift.Claimed {
			unclaimed++
		}
	}
	if unclaimed != 1 {
		t.Errorf("expected one unclaimed gift, got %d", unclaimed)
	}
}

func TestClaimPendingIsNoOpWithoutGifts(t *testing.T) {
	fx := newGiftFixture(t, newFakeUserRepo())

	results, err := fx.svc.ClaimPending(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}
