package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessionAPI struct {
	newParams  *stripe.CheckoutSessionParams
	newResult  *stripe.CheckoutSession
	newErr     error
	getID      string
	getParams  *stripe.CheckoutSessionParams
	getResult  *stripe.CheckoutSession
	getErr     error
}

func (f *fakeSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.newParams = params
	return f.newResult, f.newErr
}

func (f *fakeSessionAPI) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.getID = id
	f.getParams = params
	return f.getResult, f.getErr
}

type fakeCustomerAPI struct {
	getID     string
	getResult *stripe.Customer
	getErr    error
}

func (f *fakeCustomerAPI) Get(id string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	f.getID = id
	return f.getResult, f.getErr
}

func newTestProvider(t *testing.T, sessions *fakeSessionAPI, customers *fakeCustomerAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{sessions: sessions, customers: customers},
		Clock: func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestCreateCheckoutSessionBuildsLineItems(t *testing.T) {
	sessions := &fakeSessionAPI{
		newResult: &stripe.CheckoutSession{
			ID:            "cs_test_123",
			URL:           "https://checkout.example/cs_test_123",
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_123"},
			ExpiresAt:     time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC).Unix(),
		},
	}
	provider := newTestProvider(t, sessions, &fakeCustomerAPI{})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Currency:       "usd",
		CustomerEmail:  "buyer@example.com",
		SuccessURL:     "https://shop.example/done",
		CancelURL:      "https://shop.example/cart",
		IdempotencyKey: "cart-abc",
		Metadata:       map[string]string{"itemIds": "c1,c2", "userEmail": "buyer@example.com"},
		Items: []CheckoutLineItem{
			{Name: "Typography", SKU: "c1", Amount: 2100},
			{Name: "Layout Basics", SKU: "c2", Amount: 900},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if session.ID != "cs_test_123" || session.IntentID != "pi_123" {
		t.Errorf("unexpected session %+v", session)
	}
	if session.RedirectURL != "https://checkout.example/cs_test_123" {
		t.Errorf("unexpected redirect url %q", session.RedirectURL)
	}

	params := sessions.newParams
	if params == nil {
		t.Fatal("expected session params to be recorded")
	}
	if got := stripe.StringValue(params.Mode); got != string(stripe.CheckoutSessionModePayment) {
		t.Errorf("unexpected mode %q", got)
	}
	if got := stripe.StringValue(params.CustomerEmail); got != "buyer@example.com" {
		t.Errorf("unexpected customer email %q", got)
	}
	if params.Customer != nil {
		t.Error("customer id should not be set when only an email is provided")
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(params.LineItems))
	}
	first := params.LineItems[0]
	if got := stripe.Int64Value(first.PriceData.UnitAmount); got != 2100 {
		t.Errorf("unexpected unit amount %d", got)
	}
	if got := stripe.StringValue(first.PriceData.Currency); got != "usd" {
		t.Errorf("unexpected currency %q", got)
	}
	if got := first.PriceData.ProductData.Metadata["itemId"]; got != "c1" {
		t.Errorf("unexpected item id metadata %q", got)
	}
	if params.PaymentIntentData == nil || params.PaymentIntentData.Metadata["itemIds"] != "c1,c2" {
		t.Error("expected metadata mirrored onto the payment intent")
	}
	if params.GetParams().IdempotencyKey == nil || *params.GetParams().IdempotencyKey != "cart-abc" {
		t.Error("expected idempotency key to be set")
	}
}

func TestCreateCheckoutSessionPrefersCustomerID(t *testing.T) {
	sessions := &fakeSessionAPI{newResult: &stripe.CheckoutSession{ID: "cs_1"}}
	provider := newTestProvider(t, sessions, &fakeCustomerAPI{})

	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Currency:   "usd",
		CustomerID: "cus_123",
		SuccessURL: "https://shop.example/done",
		CancelURL:  "https://shop.example/cart",
		Items:      []CheckoutLineItem{{Name: "Typography", Amount: 2100}},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if got := stripe.StringValue(sessions.newParams.Customer); got != "cus_123" {
		t.Errorf("unexpected customer %q", got)
	}
	if sessions.newParams.CustomerEmail != nil {
		t.Error("customer email should be omitted when a customer id is attached")
	}
}

func TestCreateCheckoutSessionRequiresItems(t *testing.T) {
	provider := newTestProvider(t, &fakeSessionAPI{}, &fakeCustomerAPI{})

	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Currency: "usd"})
	if err == nil {
		t.Fatal("expected error for empty item list")
	}
}

func TestRetrieveSessionMapsPaidState(t *testing.T) {
	sessions := &fakeSessionAPI{
		getResult: &stripe.CheckoutSession{
			ID:            "cs_test_123",
			AmountTotal:   3000,
			Currency:      stripe.CurrencyUSD,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusSucceeded},
			Customer:      &stripe.Customer{ID: "cus_123"},
			CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
				Email: "buyer@example.com",
			},
			Metadata: map[string]string{"itemIds": "c1,c2"},
		},
	}
	provider := newTestProvider(t, sessions, &fakeCustomerAPI{})

	details, err := provider.RetrieveSession(context.Background(), "cs_test_123")
	if err != nil {
		t.Fatalf("RetrieveSession: %v", err)
	}

	if sessions.getID != "cs_test_123" {
		t.Errorf("unexpected session id %q", sessions.getID)
	}
	if len(sessions.getParams.Expand) == 0 || stripe.StringValue(sessions.getParams.Expand[0]) != "payment_intent" {
		t.Error("expected payment_intent expansion")
	}
	if details.Status != StatusSucceeded || !details.Captured {
		t.Errorf("unexpected status %+v", details)
	}
	if details.AmountTotal != 3000 || details.Currency != "USD" {
		t.Errorf("unexpected amount %d %s", details.AmountTotal, details.Currency)
	}
	if details.CustomerID != "cus_123" || details.CustomerEmail != "buyer@example.com" {
		t.Errorf("unexpected customer fields %+v", details)
	}
	if details.Metadata["itemIds"] != "c1,c2" {
		t.Errorf("unexpected metadata %v", details.Metadata)
	}
}

func TestRetrieveSessionUnpaidIsPending(t *testing.T) {
	sessions := &fakeSessionAPI{
		getResult: &stripe.CheckoutSession{
			ID:            "cs_test_456",
			PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		},
	}
	provider := newTestProvider(t, sessions, &fakeCustomerAPI{})

	details, err := provider.RetrieveSession(context.Background(), "cs_test_456")
	if err != nil {
		t.Fatalf("RetrieveSession: %v", err)
	}
	if details.Status != StatusPending || details.Captured {
		t.Errorf("unexpected details %+v", details)
	}
}

func TestRetrieveSessionCanceledIntentIsFailed(t *testing.T) {
	sessions := &fakeSessionAPI{
		getResult: &stripe.CheckoutSession{
			ID:            "cs_test_789",
			PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_789", Status: stripe.PaymentIntentStatusCanceled},
		},
	}
	provider := newTestProvider(t, sessions, &fakeCustomerAPI{})

	details, err := provider.RetrieveSession(context.Background(), "cs_test_789")
	if err != nil {
		t.Fatalf("RetrieveSession: %v", err)
	}
	if details.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", details.Status)
	}
}

func TestRetrieveCustomer(t *testing.T) {
	customers := &fakeCustomerAPI{
		getResult: &stripe.Customer{ID: "cus_123", Email: "buyer@example.com"},
	}
	provider := newTestProvider(t, &fakeSessionAPI{}, customers)

	customer, err := provider.RetrieveCustomer(context.Background(), "cus_123")
	if err != nil {
		t.Fatalf("RetrieveCustomer: %v", err)
	}
	if customer.ID != "cus_123" || customer.Email != "buyer@example.com" || customer.Deleted {
		t.Errorf("unexpected customer %+v", customer)
	}
}

func TestRetrieveCustomerMissingMapsToSentinel(t *testing.T) {
	customers := &fakeCustomerAPI{
		getErr: &stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing},
	}
	provider := newTestProvider(t, &fakeSessionAPI{}, customers)

	_, err := provider.RetrieveCustomer(context.Background(), "cus_missing")
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestRetrieveCustomerDeleted(t *testing.T) {
	customers := &fakeCustomerAPI{
		getResult: &stripe.Customer{ID: "cus_gone", Deleted: true},
	}
	provider := newTestProvider(t, &fakeSessionAPI{}, customers)

	customer, err := provider.RetrieveCustomer(context.Background(), "cus_gone")
	if err != nil {
		t.Fatalf("RetrieveCustomer: %v", err)
	}
	if !customer.Deleted {
		t.Error("expected deleted customer")
	}
}

func signWebhookPayload(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	signed := fmt.Sprintf("%d.%s", at.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestParseCheckoutCompleted(t *testing.T) {
	payload := []byte(`{
		"id": "evt_123",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_123", "payment_intent": "pi_123"}}
	}`)
	secret := "whsec_test"
	header := signWebhookPayload(t, payload, secret, time.Now())

	session, err := ParseCheckoutCompleted(payload, header, secret)
	if err != nil {
		t.Fatalf("ParseCheckoutCompleted: %v", err)
	}
	if session.SessionID != "cs_test_123" || session.IntentID != "pi_123" || session.EventID != "evt_123" {
		t.Errorf("unexpected session %+v", session)
	}
}

func TestParseCheckoutCompletedAcceptsOtherAPIVersions(t *testing.T) {
	payload := []byte(`{
		"id": "evt_789",
		"api_version": "2023-10-16",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_789", "payment_intent": "pi_789"}}
	}`)
	secret := "whsec_test"
	header := signWebhookPayload(t, payload, secret, time.Now())

	session, err := ParseCheckoutCompleted(payload, header, secret)
	if err != nil {
		t.Fatalf("ParseCheckoutCompleted: %v", err)
	}
	if session.SessionID != "cs_test_789" {
		t.Errorf("unexpected session %+v", session)
	}
}

func TestParseCheckoutCompletedRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id": "evt_123", "type": "checkout.session.completed", "data": {"object": {}}}`)
	header := signWebhookPayload(t, payload, "whsec_other", time.Now())

	_, err := ParseCheckoutCompleted(payload, header, "whsec_test")
	if err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestParseCheckoutCompletedIgnoresOtherEvents(t *testing.T) {
	payload := []byte(`{"id": "evt_456", "type": "customer.created", "data": {"object": {}}}`)
	secret := "whsec_test"
	header := signWebhookPayload(t, payload, secret, time.Now())

	_, err := ParseCheckoutCompleted(payload, header, secret)
	if !errors.Is(err, ErrUnhandledEvent) {
		t.Fatalf("expected ErrUnhandledEvent, got %v", err)
	}
}
