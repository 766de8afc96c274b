package provider

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePaddleEvent(t *testing.T) {
	t.Parallel()

	t.Run("subscription updated", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{
			"event_id": "evt_01",
			"event_type": "subscription.updated",
			"data": {
				"id": "sub_01",
				"status": "active",
				"custom_data": {"organization_id": "7c9e6679-7425-40de-944b-e07fc1f90ae7"},
				"items": [
					{"price": {"id": "pri_01"}, "quantity": 4}
				],
				"current_billing_period": {
					"starts_at": "2025-06-01T00:00:00Z",
					"ends_at": "2025-07-01T00:00:00Z"
				}
			}
		}`)

		ev, err := normalizePaddleEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, KindSubscriptionUpdated, ev.Kind)
		assert.Equal(t, "paddle", ev.Provider)
		assert.Equal(t, "evt_01", ev.ProviderEventID)
		assert.Equal(t, "sub_01", ev.SubscriptionID)
		assert.Equal(t, "7c9e6679-7425-40de-944b-e07fc1f90ae7", ev.OrganizationID)
		assert.Equal(t, "active", ev.Status)
		assert.Equal(t, "pri_01", ev.PlanPriceID)
		assert.Equal(t, 4, ev.Seats)
		assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), ev.PeriodStart)
		assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), ev.PeriodEnd)
	})

	t.Run("transaction completed", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{
			"event_id": "evt_02",
			"event_type": "transaction.completed",
			"data": {
				"id": "txn_01",
				"subscription_id": "sub_01",
				"billed_at": "2025-06-15T09:30:00Z",
				"details": {"totals": {"total": "8000", "currency_code": "USD"}}
			}
		}`)

		ev, err := normalizePaddleEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, KindPaymentSucceeded, ev.Kind)
		assert.Equal(t, "sub_01", ev.SubscriptionID)
		require.NotNil(t, ev.Invoice)
		assert.Equal(t, "txn_01", ev.Invoice.ProviderInvoiceID, "transaction ID stands in when no invoice ID is given")
		assert.Equal(t, "paid", ev.Invoice.Status)
		assert.Equal(t, int64(8000), ev.Invoice.AmountTotal)
		assert.Equal(t, int64(8000), ev.Invoice.AmountPaid)
		assert.Equal(t, "USD", ev.Invoice.Currency)
		require.NotNil(t, ev.Invoice.PaidAt)
		assert.Equal(t, time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC), *ev.Invoice.PaidAt)
	})

	t.Run("payment failed", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{
			"event_id": "evt_03",
			"event_type": "transaction.payment_failed",
			"data": {
				"invoice_id": "inv_01",
				"subscription_id": "sub_01",
				"details": {"totals": {"total": "8000", "currency_code": "USD"}}
			}
		}`)

		ev, err := normalizePaddleEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, KindPaymentFailed, ev.Kind)
		require.NotNil(t, ev.Invoice)
		assert.Equal(t, "inv_01", ev.Invoice.ProviderInvoiceID)
		assert.Equal(t, "open", ev.Invoice.Status)
		assert.Nil(t, ev.Invoice.PaidAt)
	})

	t.Run("unknown event type", func(t *testing.T) {
		t.Parallel()

		ev, err := normalizePaddleEvent([]byte(`{"event_id":"evt_04","event_type":"address.created","data":{}}`))
		require.NoError(t, err)
		assert.Equal(t, KindUnknown, ev.Kind)
	})
}

func TestMapPaddleStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "trialing", mapPaddleStatus("trialing"))
	assert.Equal(t, "active", mapPaddleStatus("Active"))
	assert.Equal(t, "past_due", mapPaddleStatus("past_due"))
	assert.Equal(t, "canceled", mapPaddleStatus("cancelled"))
	assert.Equal(t, "paused", mapPaddleStatus("paused"), "unmapped statuses pass through")
}

func TestParsePaddleTime(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), parsePaddleTime("2025-06-01T00:00:00Z"))
	assert.True(t, parsePaddleTime(nil).IsZero())
	assert.True(t, parsePaddleTime("yesterday").IsZero())
	assert.True(t, parsePaddleTime(42.0).IsZero())
}

func TestClassifyPaddleErr(t *testing.T) {
	t.Parallel()

	apiErr := &paddleerr.Error{
		Type:   paddleerr.ErrorTypeRequestError,
		Code:   "subscription_locked",
		Detail: "subscription is locked",
	}
	assert.ErrorIs(t, classifyPaddleErr(apiErr), ErrProviderRejected)
	assert.ErrorIs(t, classifyPaddleErr(fmt.Errorf("call paddle: %w", apiErr)), ErrProviderRejected)
	assert.ErrorIs(t, classifyPaddleErr(errors.New("connection refused")), ErrProviderUnavailable)
}

func TestParsePaddleAmount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(8000), parsePaddleAmount("8000"))
	assert.Equal(t, int64(0), parsePaddleAmount(""))
	assert.Equal(t, int64(0), parsePaddleAmount("80.00"))
}
