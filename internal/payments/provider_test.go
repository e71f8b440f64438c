package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	lastOp     string
	lastIntent IntentRequest
	lastRefund RefundRequest
	intent     Intent
	refund     Refund
	err        error
}

func (f *fakeProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	f.lastOp = "intent"
	f.lastIntent = req
	return f.intent, f.err
}

func (f *fakeProvider) Refund(_ context.Context, req RefundRequest) (Refund, error) {
	f.lastOp = "refund"
	f.lastRefund = req
	return f.refund, f.err
}

func TestManagerCreateIntentUsesPreferredProvider(t *testing.T) {
	stripe := &fakeProvider{intent: Intent{Reference: "pi_stripe"}}
	komoju := &fakeProvider{intent: Intent{Reference: "pi_komoju"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe, "komoju": komoju})
	require.NoError(t, err)

	intent, err := mgr.CreateIntent(context.Background(), PaymentContext{PreferredProvider: "komoju"}, IntentRequest{Amount: 1000, Currency: "JPY"})
	require.NoError(t, err)

	assert.Equal(t, "komoju", intent.Provider)
	assert.Equal(t, "intent", komoju.lastOp)
	assert.Empty(t, stripe.lastOp)
}

func TestManagerRoutesByCurrency(t *testing.T) {
	stripe := &fakeProvider{}
	komoju := &fakeProvider{}

	mgr, err := NewManager(
		map[string]Provider{"stripe": stripe, "komoju": komoju},
		WithCurrencyRoutes(map[string]string{"jpy": "komoju"}),
	)
	require.NoError(t, err)

	refund, err := mgr.Refund(context.Background(), PaymentContext{Currency: "JPY"}, RefundRequest{PaymentReference: "pi_1", Amount: 300})
	require.NoError(t, err)
	assert.Equal(t, "komoju", refund.Provider)
	assert.Equal(t, int64(300), komoju.lastRefund.Amount)
}

func TestManagerFallsBackToDefault(t *testing.T) {
	stripe := &fakeProvider{}
	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	require.NoError(t, err)

	intent, err := mgr.CreateIntent(context.Background(), PaymentContext{Currency: "USD"}, IntentRequest{Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, "stripe", intent.Provider)
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "komoju": &fakeProvider{}}, WithDefaultProvider(""))
	require.NoError(t, err)

	_, err = mgr.CreateIntent(context.Background(), PaymentContext{PreferredProvider: "unknown"}, IntentRequest{})
	assert.True(t, errors.Is(err, ErrUnsupportedProvider))
}

func TestManagerPropagatesProviderError(t *testing.T) {
	boom := errors.New("card declined")
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{err: boom}})
	require.NoError(t, err)

	_, err = mgr.CreateIntent(context.Background(), PaymentContext{}, IntentRequest{Amount: 1})
	assert.ErrorIs(t, err, boom)
}

func TestNewManagerValidatesProviders(t *testing.T) {
	_, err := NewManager(map[string]Provider{"bad": nil})
	assert.Error(t, err)
	_, err = NewManager(nil)
	assert.Error(t, err)
}
