package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or provider confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the provider reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// ErrCustomerNotFound is returned when the provider has no record for a customer reference.
var ErrCustomerNotFound = errors.New("payments: customer not found")

// CheckoutLineItem describes a single course to include in a checkout session.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
// Exactly one of CustomerID or CustomerEmail should be set; CustomerID attaches
// the session to an existing provider customer, CustomerEmail only prefills.
type CheckoutSessionRequest struct {
	Currency       string
	CustomerID     string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession represents the provider session returned to the client.
type CheckoutSession struct {
	ID          string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// SessionDetails is the authoritative view of a session fetched back from the
// provider during reconciliation. Nothing in it comes from the client.
type SessionDetails struct {
	SessionID     string
	IntentID      string
	Status        Status
	Captured      bool
	AmountTotal   int64
	Currency      string
	CustomerID    string
	CustomerEmail string
	Metadata      map[string]string
}

// Customer is the provider-side customer record referenced by stored customer refs.
type Customer struct {
	ID      string
	Email   string
	Deleted bool
}

// Provider defines the contract payment adapters implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error)
	RetrieveCustomer(ctx context.Context, customerID string) (Customer, error)
}
