package services

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/courseloft/api/internal/domain"
	"github.com/courseloft/api/internal/platform/mail"
)

const defaultSideEffectTimeout = 10 * time.Second

// MailSender submits a rendered message to the mail API.
type MailSender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// MessageBuilder renders outbound email bodies.
type MessageBuilder interface {
	OrderConfirmation(order domain.Order) mail.Message
	GiftNotification(gift domain.Gift, itemTitle string) mail.Message
}

// SideEffectsDeps wires the dependencies of the best-effort dispatcher.
type SideEffectsDeps struct {
	Mail      MailSender
	Messages  MessageBuilder
	Analytics AnalyticsPublisher
	Timeout   time.Duration
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// sideEffects runs mail and analytics work off the request's critical path.
// Each submission detaches from the caller's cancellation, runs in its own
// goroutine, and reports failures through the logger only.
type sideEffects struct {
	mail      MailSender
	messages  MessageBuilder
	analytics AnalyticsPublisher
	timeout   time.Duration
	logger    func(ctx context.Context, event string, fields map[string]any)
	wg        sync.WaitGroup
}

var _ SideEffectDispatcher = (*sideEffects)(nil)

// NewSideEffectDispatcher constructs the dispatcher. Mail and analytics are
// individually optional; a missing dependency turns that submission into a no-op.
func NewSideEffectDispatcher(deps SideEffectsDeps) (*sideEffects, error) {
	if deps.Mail != nil && deps.Messages == nil {
		return nil, errors.New("side effects: message builder is required with a mail sender")
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &sideEffects{
		mail:      deps.Mail,
		messages:  deps.Messages,
		analytics: deps.Analytics,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// SubmitOrderConfirmation queues the confirmation email for the order.
func (d *sideEffects) SubmitOrderConfirmation(ctx context.Context, order domain.Order) {
	if d == nil || d.mail == nil || d.messages == nil {
		return
	}
	msg := d.messages.OrderConfirmation(order)
	d.run(ctx, "sideeffects.mail.confirmation", map[string]any{"orderId": order.ID}, func(ctx context.Context) error {
		return d.mail.Send(ctx, msg)
	})
}

// SubmitGiftNotification queues the recipient notification for a gift.
func (d *sideEffects) SubmitGiftNotification(ctx context.Context, gift domain.Gift, itemTitle string) {
	if d == nil || d.mail == nil || d.messages == nil {
		return
	}
	msg := d.messages.GiftNotification(gift, itemTitle)
	d.run(ctx, "sideeffects.mail.gift", map[string]any{"giftId": gift.ID}, func(ctx context.Context) error {
		return d.mail.Send(ctx, msg)
	})
}

// SubmitEvent queues an analytics event.
func (d *sideEffects) SubmitEvent(ctx context.Context, event AnalyticsEvent) {
	if d == nil || d.analytics == nil {
		return
	}
	d.run(ctx, "sideeffects.analytics", map[string]any{"event": event.Name}, func(ctx context.Context) error {
		_, err := d.analytics.PublishEvent(ctx, event)
		return err
	})
}

// Wait blocks until all submitted work has settled. Used on shutdown and in tests.
func (d *sideEffects) Wait() {
	d.wg.Wait()
}

func (d *sideEffects) run(ctx context.Context, event string, fields map[string]any, fn func(ctx context.Context) error) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		if err := fn(runCtx); err != nil {
			failure := make(map[string]any, len(fields)+1)
			for k, v := range fields {
				failure[k] = v
			}
			failure["error"] = err.Error()
			d.logger(runCtx, event+".failed", failure)
		}
	}()
}
