package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/plans"
	"github.com/dmitrymomot/billingkit/pkg/provider"
	"github.com/dmitrymomot/billingkit/pkg/retry"
	"github.com/dmitrymomot/billingkit/pkg/seats"
)

// fakeAdapter is a scriptable provider.Adapter for lifecycle tests.
type fakeAdapter struct {
	mu sync.Mutex

	name string

	createFn func(ctx context.Context, params provider.CreateParams) (*provider.CreateResult, error)
	updateFn func(ctx context.Context, params provider.UpdateParams) (*provider.UpdateResult, error)
	cancelFn func(ctx context.Context, providerSubID string, atPeriodEnd bool) error

	createCalls int
	updateCalls int
	cancelCalls int
	lastUpdate  provider.UpdateParams
	lastCancel  bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{name: "fake"}
}

func (f *fakeAdapter) Name() string            { return f.name }
func (f *fakeAdapter) SignatureHeader() string { return "X-Fake-Signature" }

func (f *fakeAdapter) CreateSubscription(ctx context.Context, params provider.CreateParams) (*provider.CreateResult, error) {
	f.mu.Lock()
	f.createCalls++
	fn := f.createFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, params)
	}
	return &provider.CreateResult{
		ProviderSubID: "fake_sub_1",
		Status:        "active",
	}, nil
}

func (f *fakeAdapter) UpdateSubscription(ctx context.Context, params provider.UpdateParams) (*provider.UpdateResult, error) {
	f.mu.Lock()
	f.updateCalls++
	f.lastUpdate = params
	fn := f.updateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, params)
	}
	return &provider.UpdateResult{Status: "active"}, nil
}

func (f *fakeAdapter) CancelSubscription(ctx context.Context, providerSubID string, atPeriodEnd bool) error {
	f.mu.Lock()
	f.cancelCalls++
	f.lastCancel = atPeriodEnd
	fn := f.cancelFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, providerSubID, atPeriodEnd)
	}
	return nil
}

func (f *fakeAdapter) ChargeNow(ctx context.Context, providerSubID string, amount int64, currencyCode string) error {
	return nil
}

func (f *fakeAdapter) NormalizeWebhook(ctx context.Context, payload []byte, signature string) (*provider.Event, error) {
	return nil, provider.ErrSignatureInvalid
}

// env bundles a manager wired against memory stores and a fake adapter
// with a pinned clock.
type env struct {
	manager *lifecycle.Manager
	adapter *fakeAdapter
	subs    *billing.MemorySubscriptionStore
	invs    *billing.MemoryInvoiceStore
	pms     *billing.MemoryPaymentMethodStore
	now     time.Time
}

func testCatalog() plans.StaticSource {
	return plans.StaticSource{
		"team": {
			ID: "team", Name: "Team", PerSeatAmount: 2000, Currency: "USD",
			Interval: billing.IntervalMonth, MaxSeats: 50,
			ProviderPriceIDs: map[string]string{"fake": "price_team"},
		},
		"pro": {
			ID: "pro", Name: "Pro", PerSeatAmount: 3200, Currency: "USD",
			Interval: billing.IntervalMonth, MaxSeats: 50,
			ProviderPriceIDs: map[string]string{"fake": "price_pro"},
		},
		"starter": {
			ID: "starter", Name: "Starter", PerSeatAmount: 900, Currency: "USD",
			Interval: billing.IntervalMonth, MaxSeats: 5, TrialDays: 14,
			ProviderPriceIDs: map[string]string{"fake": "price_starter"},
		},
	}
}

func newEnv(tb testing.TB) *env {
	tb.Helper()

	e := &env{
		adapter: newFakeAdapter(),
		subs:    billing.NewMemorySubscriptionStore(),
		invs:    billing.NewMemoryInvoiceStore(),
		pms:     billing.NewMemoryPaymentMethodStore(),
		now:     time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC),
	}

	mgr, err := lifecycle.NewManager(context.Background(),
		testCatalog(),
		provider.NewRegistry(e.adapter),
		seats.NewManager(func(ctx context.Context, orgID uuid.UUID) (int, error) { return 0, nil }),
		lifecycle.Stores{Subscriptions: e.subs, Invoices: e.invs, PaymentMethods: e.pms},
		lifecycle.WithClock(func() time.Time { return e.now }),
		lifecycle.WithProviderBackoff(retry.Fixed{Interval: time.Millisecond}),
	)
	if err != nil {
		tb.Fatalf("manager setup: %v", err)
	}
	e.manager = mgr
	return e
}

// seedActive inserts a confirmed active subscription on a 30-day cycle
// centered on the pinned clock, so mid-cycle prorations compute over a
// 15-day remainder.
func (e *env) seedActive(seatCount int) *billing.Subscription {
	sub := &billing.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     uuid.New(),
		Provider:           "fake",
		ProviderSubID:      "fake_sub_seeded",
		PlanID:             "team",
		Status:             billing.StatusActive,
		Seats:              seatCount,
		Amount:             2000 * int64(seatCount),
		Currency:           "USD",
		Interval:           billing.IntervalMonth,
		CurrentPeriodStart: e.now.AddDate(0, 0, -15),
		CurrentPeriodEnd:   e.now.AddDate(0, 0, 15),
	}
	if err := e.subs.Create(context.Background(), sub); err != nil {
		panic(err)
	}
	return sub
}
