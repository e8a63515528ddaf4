package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/courseloft/api/internal/domain"
	"github.com/courseloft/api/internal/payments"
)

type fakeCatalog struct {
	items map[string]domain.CatalogItem
	err   error
}

func (f *fakeCatalog) GetItem(_ context.Context, itemID string) (domain.CatalogItem, error) {
	if f.err != nil {
		return domain.CatalogItem{}, f.err
	}
	item, ok := f.items[itemID]
	if !ok {
		return domain.CatalogItem{}, fmt.Errorf("catalog: item %s not found", itemID)
	}
	return item, nil
}

func (f *fakeCatalog) GetItems(ctx context.Context, itemIDs []string) ([]domain.CatalogItem, error) {
	out := make([]domain.CatalogItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := f.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

type fakePayments struct {
	createReq   *payments.CheckoutSessionRequest
	session     payments.CheckoutSession
	createErr   error
	customer    payments.Customer
	customerErr error
}

func (f *fakePayments) CreateCheckoutSession(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	f.createReq = &req
	if f.createErr != nil {
		return payments.CheckoutSession{}, f.createErr
	}
	return f.session, nil
}

func (f *fakePayments) RetrieveSession(_ context.Context, _ string) (payments.SessionDetails, error) {
	return payments.SessionDetails{}, errors.New("not implemented")
}

func (f *fakePayments) RetrieveCustomer(_ context.Context, _ string) (payments.Customer, error) {
	return f.customer, f.customerErr
}

func newTestCheckoutService(t *testing.T, pay *fakePayments, sale domain.SaleConfiguration) CheckoutService {
	t.Helper()
	catalog := &fakeCatalog{items: map[string]domain.CatalogItem{
		"c1": {ID: "c1", Title: "Typography", BasePrice: 4200, CreatorName: "Jo Keller", Slug: "typography"},
		"c2": {ID: "c2", Title: "Layout Basics", BasePrice: 5400, CreatorName: "Sam Ruiz", Slug: "layout-basics"},
	}}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Catalog:    catalog,
		Promotions: newTestPromotionService(t),
		Payments:   pay,
		Sale:       sale,
		SuccessURL: "https://shop.example/done",
		CancelURL:  "https://shop.example/cart",
		Currency:   "usd",
		Clock: func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func TestCreateCheckoutIntentBuildsSession(t *testing.T) {
	pay := &fakePayments{session: payments.CheckoutSession{ID: "cs_1", RedirectURL: "https://pay.example/cs_1"}}
	svc := newTestCheckoutService(t, pay, domain.SaleConfiguration{})

	intent, err := svc.CreateCheckoutIntent(context.Background(), CreateCheckoutIntentCommand{
		Email:         "Buyer@Example.com",
		DeclaredTotal: 9600,
		Items: []CheckoutItemInput{
			{ItemID: "c1", Price: 4200},
			{ItemID: "c2", Price: 5400},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutIntent: %v", err)
	}

	if intent.RedirectURL != "https://pay.example/cs_1" || intent.Total != 9600 {
		t.Errorf("unexpected intent %+v", intent)
	}

	req := pay.createReq
	if req == nil {
		t.Fatal("expected session request")
	}
	if len(req.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(req.Items))
	}
	if req.Items[0].Amount != 4200 || req.Items[1].Amount != 5400 {
		t.Errorf("unexpected unit prices %d/%d", req.Items[0].Amount, req.Items[1].Amount)
	}
	if req.Items[0].SKU != "c1" || req.Items[1].SKU != "c2" {
		t.Errorf("unexpected SKUs %q/%q", req.Items[0].SKU, req.Items[1].SKU)
	}
	if req.Metadata[metadataItemIDs] != "c1,c2" {
		t.Errorf("unexpected item ids metadata %q", req.Metadata[metadataItemIDs])
	}
	if req.Metadata[metadataUserEmail] != "buyer@example.com" {
		t.Errorf("expected normalised email in metadata, got %q", req.Metadata[metadataUserEmail])
	}
	if req.Metadata[metadataTotal] != "9600" {
		t.Errorf("unexpected total metadata %q", req.Metadata[metadataTotal])
	}
	if req.CustomerEmail != "buyer@example.com" || req.CustomerID != "" {
		t.Errorf("expected email prefill without customer ref, got %+v", req)
	}
}

func TestCreateCheckoutIntentRejectsBadInput(t *testing.T) {
	pay := &fakePayments{}
	svc := newTestCheckoutService(t, pay, domain.SaleConfiguration{})

	cases := []struct {
		name string
		cmd  CreateCheckoutIntentCommand
		want error
	}{
		{
			name: "empty items",
			cmd:  CreateCheckoutIntentCommand{Email: "b@example.com", DeclaredTotal: 100},
			want: ErrCheckoutInvalidInput,
		},
		{
			name: "zero total",
			cmd: CreateCheckoutIntentCommand{
				Email: "b@example.com",
				Items: []CheckoutItemInput{{ItemID: "c1", Price: 0}},
			},
			want: ErrCheckoutInvalidInput,
		},
		{
			name: "missing email",
			cmd: CreateCheckoutIntentCommand{
				DeclaredTotal: 4200,
				Items:         []CheckoutItemInput{{ItemID: "c1", Price: 4200}},
			},
			want: ErrCheckoutInvalidInput,
		},
		{
			name: "mismatched total",
			cmd: CreateCheckoutIntentCommand{
				Email:         "b@example.com",
				DeclaredTotal: 1000,
				Items: []CheckoutItemInput{
					{ItemID: "c1", Price: 4200},
					{ItemID: "c2", Price: 5400},
				},
			},
			want: ErrCheckoutTotalMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateCheckoutIntent(context.Background(), tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if pay.createReq != nil {
				t.Fatal("no session must be created for invalid input")
			}
		})
	}
}

func TestCreateCheckoutIntentRederivesPricesWithPromo(t *testing.T) {
	pay := &fakePayments{session: payments.CheckoutSession{ID: "cs_2"}}
	svc := newTestCheckoutService(t, pay, domain.SaleConfiguration{Active: true, GlobalDiscountPercentage: 10})

	// SAVE50 covers only c1; c2 falls back to the sale price.
	intent, err := svc.CreateCheckoutIntent(context.Background(), CreateCheckoutIntentCommand{
		Email:         "buyer@example.com",
		PromoCode:     "save50",
		DeclaredTotal: 9600,
		Items: []CheckoutItemInput{
			{ItemID: "c1", Price: 4200},
			{ItemID: "c2", Price: 5400},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutIntent: %v", err)
	}

	req := pay.createReq
	if req.Items[0].Amount != 2100 {
		t.Errorf("expected promo price 2100 for c1, got %d", req.Items[0].Amount)
	}
	if req.Items[1].Amount != 4860 {
		t.Errorf("expected sale price 4860 for c2, got %d", req.Items[1].Amount)
	}
	if intent.Total != 6960 {
		t.Errorf("unexpected total %d", intent.Total)
	}
	if req.Metadata[metadataPromoCode] != "SAVE50" {
		t.Errorf("unexpected promo metadata %q", req.Metadata[metadataPromoCode])
	}
}

func TestCreateCheckoutIntentPropagatesPromoErrors(t *testing.T) {
	pay := &fakePayments{}
	svc := newTestCheckoutService(t, pay, domain.SaleConfiguration{})

	_, err := svc.CreateCheckoutIntent(context.Background(), CreateCheckoutIntentCommand{
		Email:         "buyer@example.com",
		PromoCode:     "NOPE99",
		DeclaredTotal: 4200,
		Items:         []CheckoutItemInput{{ItemID: "c1", Price: 4200}},
	})
	if !errors.Is(err, ErrPromoUnknownCode) {
		t.Fatalf("expected ErrPromoUnknownCode, got %v", err)
	}
}

func TestCreateCheckoutIntentAttachesValidCustomerRef(t *testing.T) {
	pay := &fakePayments{
		session:  payments.CheckoutSession{ID: "cs_3"},
		customer: payments.Customer{ID: "cus_123", Email: "buyer@example.com"},
	}
	svc := newTestCheckoutService(t, pay, domain.SaleConfiguration{})

	_, err := svc.CreateCheckoutIntent(context.Background(), CreateCheckoutIntentCommand{
		Email:         "buyer@example.com",
		CustomerRef:   "cus_123",
		DeclaredTotal: 4200,
		Items:         []CheckoutItemInput{{ItemID: "c1", Price: 4200}},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutIntent: %v", err)
	}

	if pay.createReq.CustomerID != "cus_123" || pay.createReq.CustomerEmail != "" {
		t.Errorf("expected customer attach, got %+v", pay.createReq)
	}
}

func TestCreateCheckoutIntentFallsBackOnStaleCustomerRef(t *testing.T) {
	cases := []struct {
		name string
		pay  *fakePayments
	}{
		{
			name: "deleted customer",
			pay: &fakePayments{
				session:  payments.CheckoutSession{ID: "cs_4"},
				customer: payments.Customer{ID: "cus_gone", Deleted: true},
			},
		},
		{
			name: "lookup error",
			pay: &fakePayments{
				session:     payments.CheckoutSession{ID: "cs_5"},
				customerErr: errors.New("provider down"),
			},
		},
		{
			name: "not found",
			pay: &fakePayments{
				session:     payments.CheckoutSession{ID: "cs_6"},
				customerErr: payments.ErrCustomerNotFound,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestCheckoutService(t, tc.pay, domain.SaleConfiguration{})

			_, err := svc.CreateCheckoutIntent(context.Background(), CreateCheckoutIntentCommand{
				Email:         "buyer@example.com",
				CustomerRef:   "cus_gone",
				DeclaredTotal: 4200,
				Items:         []CheckoutItemInput{{ItemID: "c1", Price: 4200}},
			})
			if err != nil {
				t.Fatalf("CreateCheckoutIntent: %v", err)
			}

			if tc.pay.createReq.CustomerID != "" {
				t.Error("stale customer ref must never be attached")
			}
			if tc.pay.createReq.CustomerEmail != "buyer@example.com" {
				t.Errorf("expected email fallback, got %q", tc.pay.createReq.CustomerEmail)
			}
		})
	}
}

func TestCreateCheckoutIntentWrapsProviderFailure(t *testing.T) {
	pay := &fakePayments{createErr: errors.New("stripe down")}
	svc := newTestCheckoutService(t, pay, domain.SaleConfiguration{})

	_, err := svc.CreateCheckoutIntent(context.Background(), CreateCheckoutIntentCommand{
		Email:         "buyer@example.com",
		DeclaredTotal: 4200,
		Items:         []CheckoutItemInput{{ItemID: "c1", Price: 4200}},
	})
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}
}
