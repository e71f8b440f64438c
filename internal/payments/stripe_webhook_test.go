package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test"

func signedStripePayload(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestStripeWebhookParserPaymentSucceeded(t *testing.T) {
	parser, err := NewStripeWebhookParser(testWebhookSecret, 0)
	require.NoError(t, err)

	body, header := signedStripePayload(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 1000,
			"currency": "jpy",
			"status": "succeeded",
			"metadata": {"transaction_id": "otx_1", "order_id": "ord_1"}
		}}
	}`)

	event, ok, err := parser.Parse(body, header)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "otx_1", event.TransactionID)
	assert.Equal(t, StatusSucceeded, event.Status)
	assert.Equal(t, int64(1000), event.Amount)
	assert.Equal(t, "JPY", event.Currency)
	assert.Equal(t, "pi_123", event.Reference)
}

func TestStripeWebhookParserRefundFailed(t *testing.T) {
	parser, err := NewStripeWebhookParser(testWebhookSecret, 0)
	require.NoError(t, err)

	body, header := signedStripePayload(t, `{
		"id": "evt_2",
		"object": "event",
		"type": "refund.failed",
		"data": {"object": {
			"id": "re_1",
			"object": "refund",
			"amount": 300,
			"currency": "jpy",
			"status": "failed",
			"metadata": {"transaction_id": "otx_2"}
		}}
	}`)

	event, ok, err := parser.Parse(body, header)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, event.Status)
	assert.Equal(t, "otx_2", event.TransactionID)
}

func TestStripeWebhookParserIgnoresPendingAndUnknown(t *testing.T) {
	parser, err := NewStripeWebhookParser(testWebhookSecret, 0)
	require.NoError(t, err)

	body, header := signedStripePayload(t, `{"id": "evt_3", "object": "event", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)
	_, ok, err := parser.Parse(body, header)
	require.NoError(t, err)
	assert.False(t, ok)

	body, header = signedStripePayload(t, `{"id": "evt_4", "object": "event", "type": "refund.created",
		"data": {"object": {"id": "re_2", "object": "refund", "amount": 1, "currency": "jpy", "status": "pending"}}}`)
	_, ok, err = parser.Parse(body, header)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStripeWebhookParserRejectsBadSignature(t *testing.T) {
	parser, err := NewStripeWebhookParser(testWebhookSecret, 0)
	require.NoError(t, err)

	body, _ := signedStripePayload(t, `{"id": "evt_5", "object": "event", "type": "payment_intent.succeeded", "data": {"object": {}}}`)
	_, _, err = parser.Parse(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
