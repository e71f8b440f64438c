package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *stripeClients
}

// StripeProvider implements the Provider interface using Stripe PaymentIntents and Refunds.
type StripeProvider struct {
	api     stripeClients
	account string
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}

	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateIntent creates a PaymentIntent tagged with the transaction id.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return Intent{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: transactionMetadata(req.TransactionID, req.OrderID, req.Metadata),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"transactionId": req.TransactionID,
		"amount":        req.Amount,
	})

	return Intent{
		Provider:     "stripe",
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       stripeIntentStatus(intent.Status),
	}, nil
}

// Refund creates a refund against the referenced PaymentIntent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	if p == nil {
		return Refund{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.PaymentReference) == "" {
		return Refund{}, errors.New("stripe: payment reference is required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentReference),
		Amount:        stripe.Int64(req.Amount),
		Metadata:      transactionMetadata(req.TransactionID, req.OrderID, req.Metadata),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	refund, err := p.api.refunds.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.PaymentReference,
		"refund":        refund.ID,
		"transactionId": req.TransactionID,
	})
	return Refund{
		Provider:  "stripe",
		Reference: refund.ID,
		Status:    stripeRefundStatus(refund.Status),
	}, nil
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func stripeRefundStatus(status stripe.RefundStatus) Status {
	switch status {
	case stripe.RefundStatusSucceeded:
		return StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
