package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrUnhandledEvent is returned for signed events the service does not act on.
var ErrUnhandledEvent = errors.New("payments: unhandled event type")

// WebhookSession is the subset of a completed checkout event the reconciler needs.
type WebhookSession struct {
	SessionID string
	IntentID  string
	EventID   string
}

// ParseCheckoutCompleted verifies the webhook signature and extracts the
// completed checkout session. Events of any other type return ErrUnhandledEvent.
// The endpoint's API version is not pinned to the SDK's; the fields read here
// are stable across versions.
func ParseCheckoutCompleted(payload []byte, sigHeader, secret string) (WebhookSession, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookSession{}, fmt.Errorf("payments: verify webhook: %w", err)
	}

	if event.Type != "checkout.session.completed" {
		return WebhookSession{}, fmt.Errorf("%w: %s", ErrUnhandledEvent, event.Type)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookSession{}, fmt.Errorf("payments: decode checkout session: %w", err)
	}

	out := WebhookSession{
		SessionID: session.ID,
		EventID:   event.ID,
	}
	if session.PaymentIntent != nil {
		out.IntentID = session.PaymentIntent.ID
	}
	return out, nil
}
