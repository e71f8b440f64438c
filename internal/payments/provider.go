package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the PSP has not reached a terminal state yet.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the money as moved.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether no further provider updates are expected.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// Metadata keys attached to provider objects so webhooks can be matched back.
const (
	MetadataTransactionID = "transaction_id"
	MetadataOrderID       = "order_id"
)

// IntentRequest asks the provider to collect Amount for an online transaction.
type IntentRequest struct {
	TransactionID  string
	OrderID        string
	CustomerID     string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the provider object the customer confirms.
type Intent struct {
	Provider     string
	Reference    string
	ClientSecret string
	Status       Status
}

// RefundRequest asks the provider to return money from an earlier payment.
type RefundRequest struct {
	TransactionID    string
	OrderID          string
	PaymentReference string
	Amount           int64
	Currency         string
	Reason           string
	IdempotencyKey   string
	Metadata         map[string]string
}

// Refund is the provider refund object.
type Refund struct {
	Provider  string
	Reference string
	Status    Status
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent delegates to the resolved provider.
func (m *Manager) CreateIntent(ctx context.Context, paymentCtx PaymentContext, req IntentRequest) (Intent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (Refund, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Refund{}, err
	}
	refund, err := provider.Refund(ctx, req)
	if err != nil {
		return Refund{}, err
	}
	refund.Provider = key
	return refund, nil
}

func transactionMetadata(transactionID, orderID string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		out[k] = v
	}
	out[MetadataTransactionID] = transactionID
	out[MetadataOrderID] = orderID
	return out
}
