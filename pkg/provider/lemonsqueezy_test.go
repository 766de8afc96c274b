package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signLemon(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func TestVerifyLemonSignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"meta":{"event_name":"subscription_created"}}`)

	assert.NoError(t, verifyLemonSignature("secret", payload, signLemon("secret", payload)))
	assert.ErrorIs(t, verifyLemonSignature("secret", payload, ""), ErrSignatureInvalid)
	assert.ErrorIs(t, verifyLemonSignature("secret", payload, signLemon("other", payload)), ErrSignatureInvalid)
	assert.ErrorIs(t, verifyLemonSignature("secret", []byte("tampered"), signLemon("secret", payload)), ErrSignatureInvalid)
}

func TestNormalizeLemonEvent(t *testing.T) {
	t.Parallel()

	t.Run("subscription created", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{
			"meta": {
				"event_name": "subscription_created",
				"webhook_id": "wh_1",
				"custom_data": {"organization_id": "0b19f5a1-1d3a-4b1f-9a53-0123456789ab"}
			},
			"data": {
				"id": "314159",
				"attributes": {
					"status": "on_trial",
					"variant_id": 98765,
					"first_subscription_item": {"id": 11, "quantity": 3},
					"renews_at": "2025-07-01T00:00:00Z"
				}
			}
		}`)

		ev, err := normalizeLemonEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, KindSubscriptionCreated, ev.Kind)
		assert.Equal(t, "lemonsqueezy", ev.Provider)
		assert.Equal(t, "wh_1", ev.ProviderEventID)
		assert.Equal(t, "314159", ev.SubscriptionID)
		assert.Equal(t, "0b19f5a1-1d3a-4b1f-9a53-0123456789ab", ev.OrganizationID)
		assert.Equal(t, "trialing", ev.Status)
		assert.Equal(t, "98765", ev.PlanPriceID)
		assert.Equal(t, 3, ev.Seats)
		assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), ev.PeriodEnd)
	})

	t.Run("payment success carries an invoice", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{
			"meta": {"event_name": "subscription_payment_success", "webhook_id": "wh_2"},
			"data": {
				"id": "inv_9",
				"attributes": {"subscription_id": 314159, "total": 6000, "currency": "USD"}
			}
		}`)

		ev, err := normalizeLemonEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, KindPaymentSucceeded, ev.Kind)
		assert.Equal(t, "314159", ev.SubscriptionID)
		require.NotNil(t, ev.Invoice)
		assert.Equal(t, "inv_9", ev.Invoice.ProviderInvoiceID)
		assert.Equal(t, "paid", ev.Invoice.Status)
		assert.Equal(t, int64(6000), ev.Invoice.AmountTotal)
		assert.Equal(t, int64(6000), ev.Invoice.AmountPaid)
		assert.Equal(t, "USD", ev.Invoice.Currency)
		assert.NotNil(t, ev.Invoice.PaidAt)
	})

	t.Run("payment failure leaves the invoice open", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{
			"meta": {"event_name": "subscription_payment_failed", "webhook_id": "wh_3"},
			"data": {
				"id": "inv_10",
				"attributes": {"subscription_id": 314159, "total": 6000, "currency": "USD"}
			}
		}`)

		ev, err := normalizeLemonEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, KindPaymentFailed, ev.Kind)
		require.NotNil(t, ev.Invoice)
		assert.Equal(t, "open", ev.Invoice.Status)
		assert.Nil(t, ev.Invoice.PaidAt)
	})

	t.Run("unrecognized event name", func(t *testing.T) {
		t.Parallel()

		ev, err := normalizeLemonEvent([]byte(`{"meta":{"event_name":"order_created","webhook_id":"wh_4"}}`))
		require.NoError(t, err)
		assert.Equal(t, KindUnknown, ev.Kind)
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()

		_, err := normalizeLemonEvent([]byte("not json"))
		assert.Error(t, err)
	})
}

func TestMapLemonStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "trialing", mapLemonStatus("on_trial"))
	assert.Equal(t, "active", mapLemonStatus("active"))
	assert.Equal(t, "past_due", mapLemonStatus("past_due"))
	assert.Equal(t, "past_due", mapLemonStatus("unpaid"))
	assert.Equal(t, "canceled", mapLemonStatus("cancelled"))
	assert.Equal(t, "canceled", mapLemonStatus("expired"))
	assert.Equal(t, "paused", mapLemonStatus("paused"), "unmapped statuses pass through")
}

func TestLemonSqueezyNormalizeWebhook(t *testing.T) {
	t.Parallel()

	adapter, err := NewLemonSqueezyAdapter(LemonSqueezyConfig{
		APIKey:        "key",
		WebhookSecret: "whsec",
		StoreID:       "1",
	})
	require.NoError(t, err)

	payload := []byte(`{"meta":{"event_name":"subscription_cancelled","webhook_id":"wh_5"},"data":{"id":"314159","attributes":{"status":"cancelled"}}}`)

	ev, err := adapter.NormalizeWebhook(context.Background(), payload, signLemon("whsec", payload))
	require.NoError(t, err)
	assert.Equal(t, KindSubscriptionCanceled, ev.Kind)
	assert.Equal(t, "canceled", ev.Status)

	_, err = adapter.NormalizeWebhook(context.Background(), payload, "deadbeef")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestNewLemonSqueezyAdapterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLemonSqueezyAdapter(LemonSqueezyConfig{WebhookSecret: "s"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewLemonSqueezyAdapter(LemonSqueezyConfig{APIKey: "k"})
	assert.ErrorIs(t, err, ErrMissingSecret)
}
