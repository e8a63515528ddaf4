package mail

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/courseloft/api/internal/domain"
)

// Course titles and creator names originate in the CMS and are interpolated
// into HTML, so they pass through a strict sanitiser first.
var sanitizer = bluemonday.StrictPolicy()

// ConfirmationBuilder renders order confirmation emails.
type ConfirmationBuilder struct {
	currencyUnit currency.Unit
	printer      *message.Printer
}

// NewConfirmationBuilder constructs a builder formatting amounts in the given
// ISO currency code.
func NewConfirmationBuilder(currencyCode string) (*ConfirmationBuilder, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(currencyCode)))
	if err != nil {
		return nil, fmt.Errorf("mail: invalid currency %q: %w", currencyCode, err)
	}
	return &ConfirmationBuilder{
		currencyUnit: unit,
		printer:      message.NewPrinter(language.English),
	}, nil
}

// OrderConfirmation renders the purchase confirmation message for an order.
func (b *ConfirmationBuilder) OrderConfirmation(order domain.Order) Message {
	var body strings.Builder
	body.WriteString("<h1>Thanks for your order!</h1>")
	body.WriteString("<p>Your courses are ready in your library.</p>")
	body.WriteString("<ul>")
	for _, line := range order.Items {
		title := sanitizer.Sanitize(line.Title)
		if line.PreorderAtOrder {
			body.WriteString(fmt.Sprintf("<li>%s — %s (available at launch)</li>", title, b.FormatAmount(line.UnitPrice)))
		} else {
			body.WriteString(fmt.Sprintf("<li>%s — %s</li>", title, b.FormatAmount(line.UnitPrice)))
		}
	}
	body.WriteString("</ul>")
	body.WriteString(fmt.Sprintf("<p>Total: <strong>%s</strong></p>", b.FormatAmount(order.Total)))
	body.WriteString(fmt.Sprintf("<p>Order reference: %s</p>", sanitizer.Sanitize(order.ID)))

	return Message{
		To:       order.OwnerEmail,
		Subject:  "Your Courseloft order",
		HTMLBody: body.String(),
	}
}

// GiftNotification renders the email sent to a gift recipient.
func (b *ConfirmationBuilder) GiftNotification(gift domain.Gift, itemTitle string) Message {
	title := sanitizer.Sanitize(itemTitle)
	giver := sanitizer.Sanitize(gift.GiverEmail)
	body := fmt.Sprintf(
		"<h1>You received a course!</h1><p>%s sent you <strong>%s</strong>. Sign in with this email address to start learning.</p>",
		giver, title,
	)
	return Message{
		To:       gift.RecipientEmail,
		Subject:  "A course was gifted to you",
		HTMLBody: body,
	}
}

// FormatAmount renders an integer minor-unit amount as a currency string like
// $21.00. x/text inserts a non-breaking space between symbol and value, which
// is dropped here.
func (b *ConfirmationBuilder) FormatAmount(minorUnits int64) string {
	amount := b.currencyUnit.Amount(float64(minorUnits) / 100)
	formatted := b.printer.Sprintf("%v", currency.Symbol(amount))
	return strings.ReplaceAll(formatted, "\u00a0", "")
}

