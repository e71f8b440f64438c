package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidSignature is returned when a provider callback fails verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// WebhookEvent is a provider callback normalised to the transaction it settles.
type WebhookEvent struct {
	Provider      string
	EventID       string
	TransactionID string
	Status        Status
	Amount        int64
	Currency      string
	Reference     string
}

// StripeWebhookParser verifies and decodes Stripe webhook deliveries.
type StripeWebhookParser struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookParser constructs a parser for the endpoint signing secret.
func NewStripeWebhookParser(secret string, tolerance time.Duration) (*StripeWebhookParser, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookParser{secret: secret, tolerance: tolerance}, nil
}

// Parse verifies the Stripe-Signature header and maps the event. ok is false
// for event types that do not settle a transaction.
func (p *StripeWebhookParser) Parse(payload []byte, signature string) (WebhookEvent, bool, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return WebhookEvent{}, false, nil
	}

	switch string(event.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, false, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		status := stripeIntentStatus(intent.Status)
		if string(event.Type) == "payment_intent.payment_failed" {
			status = StatusFailed
		}
		return WebhookEvent{
			Provider:      "stripe",
			EventID:       event.ID,
			TransactionID: intent.Metadata[MetadataTransactionID],
			Status:        status,
			Amount:        intent.Amount,
			Currency:      strings.ToUpper(string(intent.Currency)),
			Reference:     intent.ID,
		}, status.IsTerminal(), nil
	case "refund.created", "refund.updated", "refund.failed", "charge.refund.updated":
		var refund stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
			return WebhookEvent{}, false, fmt.Errorf("stripe: decode refund: %w", err)
		}
		status := stripeRefundStatus(refund.Status)
		return WebhookEvent{
			Provider:      "stripe",
			EventID:       event.ID,
			TransactionID: refund.Metadata[MetadataTransactionID],
			Status:        status,
			Amount:        refund.Amount,
			Currency:      strings.ToUpper(string(refund.Currency)),
			Reference:     refund.ID,
		}, status.IsTerminal(), nil
	default:
		return WebhookEvent{}, false, nil
	}
}
