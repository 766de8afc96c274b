package payments_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/modules/payments"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/provider"
	"github.com/dmitrymomot/billingkit/pkg/seats"
)

type fakeManager struct {
	createFn   func(ctx context.Context, cmd lifecycle.CreateCommand) (*lifecycle.CreateResult, error)
	changeFn   func(ctx context.Context, subID uuid.UUID, cmd lifecycle.ChangeCommand) (*billing.Subscription, int64, error)
	setSeatsFn func(ctx context.Context, subID uuid.UUID, requested int, force bool) (*billing.Subscription, int64, error)
	cancelFn   func(ctx context.Context, subID uuid.UUID, atPeriodEnd bool, reason string) (*billing.Subscription, error)
	getFn      func(ctx context.Context, subID uuid.UUID) (*billing.Subscription, error)
	invoicesFn func(ctx context.Context, subID uuid.UUID) ([]*billing.Invoice, error)
}

func (f *fakeManager) Create(ctx context.Context, cmd lifecycle.CreateCommand) (*lifecycle.CreateResult, error) {
	return f.createFn(ctx, cmd)
}

func (f *fakeManager) Change(ctx context.Context, subID uuid.UUID, cmd lifecycle.ChangeCommand) (*billing.Subscription, int64, error) {
	return f.changeFn(ctx, subID, cmd)
}

func (f *fakeManager) SetSeats(ctx context.Context, subID uuid.UUID, requested int, force bool) (*billing.Subscription, int64, error) {
	return f.setSeatsFn(ctx, subID, requested, force)
}

func (f *fakeManager) Cancel(ctx context.Context, subID uuid.UUID, atPeriodEnd bool, reason string) (*billing.Subscription, error) {
	return f.cancelFn(ctx, subID, atPeriodEnd, reason)
}

func (f *fakeManager) Get(ctx context.Context, subID uuid.UUID) (*billing.Subscription, error) {
	return f.getFn(ctx, subID)
}

func (f *fakeManager) Invoices(ctx context.Context, subID uuid.UUID) ([]*billing.Invoice, error) {
	return f.invoicesFn(ctx, subID)
}

type fakeReceiver struct {
	receiveFn func(ctx context.Context, providerName string, payload []byte, signature string) (bool, error)

	gotSignature string
}

func (f *fakeReceiver) Receive(ctx context.Context, providerName string, payload []byte, signature string) (bool, error) {
	f.gotSignature = signature
	if f.receiveFn != nil {
		return f.receiveFn(ctx, providerName, payload, signature)
	}
	return true, nil
}

type fakeHeaders map[string]string

func (f fakeHeaders) SignatureHeader(providerName string) (string, bool) {
	h, ok := f[providerName]
	return h, ok
}

func sampleSubscription() *billing.Subscription {
	now := time.Now().UTC()
	return &billing.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     uuid.New(),
		Provider:           "stripe",
		PlanID:             "team",
		Status:             billing.StatusActive,
		Seats:              3,
		Amount:             6000,
		Currency:           "USD",
		Interval:           billing.IntervalMonth,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
}

func newRouter(tb testing.TB, mgr *fakeManager, rcv *fakeReceiver) http.Handler {
	tb.Helper()
	return payments.NewService(mgr, rcv, fakeHeaders{"stripe": "Stripe-Signature"}).Router()
}

func doJSON(tb testing.TB, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	tb.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(tb, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateSubscriptionHandler(t *testing.T) {
	t.Parallel()

	t.Run("created", func(t *testing.T) {
		t.Parallel()

		sub := sampleSubscription()
		mgr := &fakeManager{
			createFn: func(ctx context.Context, cmd lifecycle.CreateCommand) (*lifecycle.CreateResult, error) {
				assert.Equal(t, "team", cmd.PlanID)
				assert.Equal(t, 3, cmd.Seats)
				return &lifecycle.CreateResult{Subscription: sub, CheckoutURL: "https://checkout.example/x"}, nil
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodPost, "/subscriptions", map[string]any{
			"organization_id": sub.OrganizationID.String(),
			"plan_id":         "team",
			"provider":        "stripe",
			"seats":           3,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			Subscription struct {
				ID string `json:"id"`
			} `json:"subscription"`
			CheckoutURL string `json:"checkout_url"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, sub.ID.String(), resp.Subscription.ID)
		assert.Equal(t, "https://checkout.example/x", resp.CheckoutURL)
	})

	t.Run("invalid organization id", func(t *testing.T) {
		t.Parallel()

		rec := doJSON(t, newRouter(t, &fakeManager{}, &fakeReceiver{}), http.MethodPost, "/subscriptions", map[string]any{
			"organization_id": "not-a-uuid",
			"plan_id":         "team",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("domain error mapping", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			err  error
			want int
		}{
			{name: "duplicate billable", err: billing.ErrSubscriptionExists, want: http.StatusConflict},
			{name: "seat limit", err: seats.ErrSeatLimitViolation, want: http.StatusUnprocessableEntity},
			{name: "provider rejected", err: provider.ErrProviderRejected, want: http.StatusUnprocessableEntity},
			{name: "provider down", err: provider.ErrProviderUnavailable, want: http.StatusBadGateway},
			{name: "unsupported provider", err: provider.ErrUnsupportedProvider, want: http.StatusBadRequest},
			{name: "unexpected", err: errors.New("boom"), want: http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				mgr := &fakeManager{
					createFn: func(ctx context.Context, cmd lifecycle.CreateCommand) (*lifecycle.CreateResult, error) {
						return nil, tt.err
					},
				}
				rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodPost, "/subscriptions", map[string]any{
					"organization_id": uuid.NewString(),
					"plan_id":         "team",
					"provider":        "stripe",
					"seats":           1,
				})
				assert.Equal(t, tt.want, rec.Code)
			})
		}
	})
}

func TestSubscriptionHandlers(t *testing.T) {
	t.Parallel()

	t.Run("get", func(t *testing.T) {
		t.Parallel()

		sub := sampleSubscription()
		mgr := &fakeManager{
			getFn: func(ctx context.Context, subID uuid.UUID) (*billing.Subscription, error) {
				assert.Equal(t, sub.ID, subID)
				return sub, nil
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodGet, "/subscriptions/"+sub.ID.String(), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get unknown", func(t *testing.T) {
		t.Parallel()

		mgr := &fakeManager{
			getFn: func(ctx context.Context, subID uuid.UUID) (*billing.Subscription, error) {
				return nil, billing.ErrSubscriptionNotFound
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodGet, "/subscriptions/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed subscription id", func(t *testing.T) {
		t.Parallel()

		rec := doJSON(t, newRouter(t, &fakeManager{}, &fakeReceiver{}), http.MethodGet, "/subscriptions/garbage", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update plan returns proration", func(t *testing.T) {
		t.Parallel()

		sub := sampleSubscription()
		mgr := &fakeManager{
			changeFn: func(ctx context.Context, subID uuid.UUID, cmd lifecycle.ChangeCommand) (*billing.Subscription, int64, error) {
				assert.Equal(t, "pro", cmd.PlanID)
				assert.Nil(t, cmd.Seats)
				return sub, 600, nil
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodPut, "/subscriptions/"+sub.ID.String(), map[string]any{"plan_id": "pro"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Proration int64 `json:"proration"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(600), resp.Proration)
	})

	t.Run("update accepts plan and seats together", func(t *testing.T) {
		t.Parallel()

		sub := sampleSubscription()
		mgr := &fakeManager{
			changeFn: func(ctx context.Context, subID uuid.UUID, cmd lifecycle.ChangeCommand) (*billing.Subscription, int64, error) {
				assert.Equal(t, "pro", cmd.PlanID)
				require.NotNil(t, cmd.Seats)
				assert.Equal(t, 5, *cmd.Seats)
				return sub, 3800, nil
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodPut, "/subscriptions/"+sub.ID.String(), map[string]any{
			"plan_id": "pro",
			"seats":   5,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Proration int64 `json:"proration"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(3800), resp.Proration)
	})

	t.Run("update accepts seats alone", func(t *testing.T) {
		t.Parallel()

		sub := sampleSubscription()
		mgr := &fakeManager{
			changeFn: func(ctx context.Context, subID uuid.UUID, cmd lifecycle.ChangeCommand) (*billing.Subscription, int64, error) {
				assert.Empty(t, cmd.PlanID)
				require.NotNil(t, cmd.Seats)
				assert.Equal(t, 4, *cmd.Seats)
				return sub, 2000, nil
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodPut, "/subscriptions/"+sub.ID.String(), map[string]any{"seats": 4})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("update requires plan_id or seats", func(t *testing.T) {
		t.Parallel()

		rec := doJSON(t, newRouter(t, &fakeManager{}, &fakeReceiver{}), http.MethodPut, "/subscriptions/"+uuid.NewString(), map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("concurrent modification conflicts", func(t *testing.T) {
		t.Parallel()

		mgr := &fakeManager{
			setSeatsFn: func(ctx context.Context, subID uuid.UUID, requested int, force bool) (*billing.Subscription, int64, error) {
				return nil, 0, lifecycle.ErrConcurrentModification
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodPut, "/subscriptions/"+uuid.NewString()+"/seats", map[string]any{"seats": 5})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("cancel with empty body", func(t *testing.T) {
		t.Parallel()

		sub := sampleSubscription()
		mgr := &fakeManager{
			cancelFn: func(ctx context.Context, subID uuid.UUID, atPeriodEnd bool, reason string) (*billing.Subscription, error) {
				assert.False(t, atPeriodEnd)
				return sub, nil
			},
		}
		req := httptest.NewRequest(http.MethodPost, "/subscriptions/"+sub.ID.String()+"/cancel", nil)
		rec := httptest.NewRecorder()
		newRouter(t, mgr, &fakeReceiver{}).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("double cancel conflicts", func(t *testing.T) {
		t.Parallel()

		mgr := &fakeManager{
			cancelFn: func(ctx context.Context, subID uuid.UUID, atPeriodEnd bool, reason string) (*billing.Subscription, error) {
				return nil, billing.ErrSubscriptionTerminated
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodPost, "/subscriptions/"+uuid.NewString()+"/cancel", map[string]any{"at_period_end": true})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("list invoices", func(t *testing.T) {
		t.Parallel()

		sub := sampleSubscription()
		mgr := &fakeManager{
			invoicesFn: func(ctx context.Context, subID uuid.UUID) ([]*billing.Invoice, error) {
				return []*billing.Invoice{{
					ID: uuid.New(), SubscriptionID: sub.ID, Provider: "stripe",
					ProviderInvoiceID: "in_1", Status: billing.InvoicePaid,
					AmountTotal: 6000, AmountPaid: 6000, Currency: "USD",
				}}, nil
			},
		}
		rec := doJSON(t, newRouter(t, mgr, &fakeReceiver{}), http.MethodGet, "/subscriptions/"+sub.ID.String()+"/invoices", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp, 1)
		assert.Equal(t, "in_1", resp[0]["provider_invoice_id"])
	})
}

func TestReceiveWebhookHandler(t *testing.T) {
	t.Parallel()

	post := func(tb testing.TB, h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
		tb.Helper()
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{"id":"evt_1"}`)))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()

		rcv := &fakeReceiver{}
		rec := post(t, newRouter(t, &fakeManager{}, rcv), "/webhooks/stripe", map[string]string{"Stripe-Signature": "sig"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sig", rcv.gotSignature, "signature read from the provider's header")

		var resp struct {
			Received  bool `json:"received"`
			Processed bool `json:"processed"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Received)
		assert.True(t, resp.Processed)
	})

	t.Run("processing deferred to the sweeper still returns 200", func(t *testing.T) {
		t.Parallel()

		rcv := &fakeReceiver{
			receiveFn: func(ctx context.Context, providerName string, payload []byte, signature string) (bool, error) {
				return false, nil
			},
		}
		rec := post(t, newRouter(t, &fakeManager{}, rcv), "/webhooks/stripe", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Received  bool `json:"received"`
			Processed bool `json:"processed"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Received)
		assert.False(t, resp.Processed)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()

		rec := post(t, newRouter(t, &fakeManager{}, &fakeReceiver{}), "/webhooks/braintree", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()

		rcv := &fakeReceiver{
			receiveFn: func(ctx context.Context, providerName string, payload []byte, signature string) (bool, error) {
				return false, provider.ErrSignatureInvalid
			},
		}
		rec := post(t, newRouter(t, &fakeManager{}, rcv), "/webhooks/stripe", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("persistence failure asks for redelivery", func(t *testing.T) {
		t.Parallel()

		rcv := &fakeReceiver{
			receiveFn: func(ctx context.Context, providerName string, payload []byte, signature string) (bool, error) {
				return false, errors.New("db down")
			},
		}
		rec := post(t, newRouter(t, &fakeManager{}, rcv), "/webhooks/stripe", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
