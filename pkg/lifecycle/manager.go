package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/plans"
	"github.com/dmitrymomot/billingkit/pkg/proration"
	"github.com/dmitrymomot/billingkit/pkg/provider"
	"github.com/dmitrymomot/billingkit/pkg/retry"
	"github.com/dmitrymomot/billingkit/pkg/seats"
)

const (
	// GracePeriod is how long a past-due subscription may recover before
	// the recheck job cancels it.
	GracePeriod = 3 * 24 * time.Hour

	// providerTimeout bounds each outbound provider call.
	providerTimeout = 5 * time.Second

	// providerAttempts caps retries of ErrProviderUnavailable failures.
	providerAttempts = 3
)

// Stores groups the persistence dependencies of the manager.
type Stores struct {
	Subscriptions  billing.SubscriptionStore
	Invoices       billing.InvoiceStore
	PaymentMethods billing.PaymentMethodStore
}

// Manager owns the subscription state machine. It consumes user-initiated
// commands and normalized provider events, serializing everything that
// mutates one subscription behind a per-subscription lock.
type Manager struct {
	catalog   map[string]plans.Plan
	providers *provider.Registry
	seats     *seats.Manager
	stores    Stores
	locks     *keyedMutex
	log       *slog.Logger
	now       func() time.Time
	backoff   retry.BackoffStrategy
}

// NewManager creates a lifecycle manager. Panics if required dependencies
// are nil to fail fast during initialization.
func NewManager(ctx context.Context, src plans.Source, providers *provider.Registry, seatMgr *seats.Manager, stores Stores, opts ...Option) (*Manager, error) {
	if src == nil {
		panic("lifecycle: plans.Source is required")
	}
	if providers == nil {
		panic("lifecycle: provider.Registry is required")
	}
	if seatMgr == nil {
		panic("lifecycle: seats.Manager is required")
	}
	if stores.Subscriptions == nil || stores.Invoices == nil || stores.PaymentMethods == nil {
		panic("lifecycle: all stores are required")
	}

	catalog, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(plans.ErrFailedToLoad, err)
	}

	m := &Manager{
		catalog:   catalog,
		providers: providers,
		seats:     seatMgr,
		stores:    stores,
		locks:     newKeyedMutex(),
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		backoff:   retry.Exponential{InitialInterval: time.Second, MaxInterval: 10 * time.Second, Multiplier: 2, JitterFactor: 0.1},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateCommand carries subscription creation input.
type CreateCommand struct {
	OrganizationID uuid.UUID
	PlanID         string
	Provider       string
	Seats          int
	Email          string
	SuccessURL     string
	CancelURL      string
}

// CreateResult is returned from Create. CheckoutURL is set only for
// redirect-based providers; the subscription then stays incomplete until
// the provider confirms via webhook.
type CreateResult struct {
	Subscription *billing.Subscription
	CheckoutURL  string
}

// Create provisions a new subscription. The record is persisted as
// incomplete before the provider call (the recorded intent); on provider
// rejection it stays incomplete and the command fails.
func (m *Manager) Create(ctx context.Context, cmd CreateCommand) (*CreateResult, error) {
	plan, ok := m.catalog[cmd.PlanID]
	if !ok {
		return nil, plans.ErrPlanNotFound
	}
	adapter, err := m.providers.Resolve(cmd.Provider)
	if err != nil {
		return nil, err
	}
	priceID, err := plan.PriceID(cmd.Provider)
	if err != nil {
		return nil, err
	}
	if err := m.seats.Validate(ctx, cmd.OrganizationID, cmd.Seats, plan.MaxSeats); err != nil {
		return nil, err
	}
	if err := m.supersedeStaleIntent(ctx, cmd.OrganizationID); err != nil {
		return nil, err
	}

	now := m.now()
	sub := &billing.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     cmd.OrganizationID,
		Provider:           cmd.Provider,
		PlanID:             plan.ID,
		Status:             billing.StatusIncomplete,
		Seats:              cmd.Seats,
		Amount:             plan.Total(cmd.Seats),
		Currency:           plan.Currency,
		Interval:           plan.Interval,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   addInterval(now, plan.Interval),
		CreatedAt:          now,
	}
	if err := m.stores.Subscriptions.Create(ctx, sub); err != nil {
		return nil, err
	}

	var res *provider.CreateResult
	err = m.callProvider(ctx, func(ctx context.Context) error {
		var callErr error
		res, callErr = adapter.CreateSubscription(ctx, provider.CreateParams{
			OrganizationID: cmd.OrganizationID.String(),
			PriceID:        priceID,
			Seats:          cmd.Seats,
			TrialDays:      plan.TrialDays,
			Email:          cmd.Email,
			SuccessURL:     cmd.SuccessURL,
			CancelURL:      cmd.CancelURL,
		})
		return callErr
	})
	if err != nil {
		m.log.ErrorContext(ctx, "provider rejected subscription creation",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("provider", cmd.Provider),
			slog.String("error", err.Error()))
		return nil, err
	}

	unlock := m.locks.lock(sub.ID)
	defer unlock()

	sub, err = m.stores.Subscriptions.Get(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	if res.ProviderSubID != "" {
		sub.ProviderSubID = res.ProviderSubID
		target := statusFromProvider(res.Status, billing.StatusActive)
		if plan.TrialDays > 0 && target == billing.StatusActive {
			target = billing.StatusTrialing
		}
		if canTransition(sub.Status, target) {
			sub.Status = target
		}
		if !res.PeriodStart.IsZero() {
			sub.CurrentPeriodStart = res.PeriodStart
			sub.CurrentPeriodEnd = res.PeriodEnd
		}
	}
	if err := m.stores.Subscriptions.Update(ctx, sub); err != nil {
		return nil, err
	}
	if len(res.Items) > 0 {
		if err := m.stores.Subscriptions.ReplaceItems(ctx, sub.ID, itemsFromRefs(sub.ID, res.Items)); err != nil {
			return nil, err
		}
	}

	m.log.InfoContext(ctx, "subscription created",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("organization_id", sub.OrganizationID.String()),
		slog.String("provider", sub.Provider),
		slog.String("status", string(sub.Status)))

	return &CreateResult{Subscription: sub, CheckoutURL: res.CheckoutURL}, nil
}

// supersedeStaleIntent cancels a leftover incomplete subscription for the
// organization so a retried create is not blocked by it. A failed or
// abandoned checkout leaves such a row behind; one that the provider
// already knows about (provider sub ID recorded) is kept, since its
// confirming webhook may still arrive.
func (m *Manager) supersedeStaleIntent(ctx context.Context, orgID uuid.UUID) error {
	existing, err := m.stores.Subscriptions.GetByOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}
	if existing.Status != billing.StatusIncomplete || existing.ProviderSubID != "" {
		return billing.ErrSubscriptionExists
	}

	unlock := m.locks.lock(existing.ID)
	defer unlock()

	existing, err = m.stores.Subscriptions.Get(ctx, existing.ID)
	if err != nil {
		return err
	}
	if existing.Status != billing.StatusIncomplete || existing.ProviderSubID != "" {
		return billing.ErrSubscriptionExists
	}

	now := m.now()
	existing.Status = billing.StatusCanceled
	existing.CanceledAt = &now
	if err := m.stores.Subscriptions.Update(ctx, existing); err != nil {
		return err
	}
	m.log.InfoContext(ctx, "stale incomplete subscription superseded",
		slog.String("subscription_id", existing.ID.String()),
		slog.String("organization_id", orgID.String()))
	return nil
}

// ChangeCommand carries a plan and/or seat change. Zero-value fields keep
// the subscription's current value.
type ChangeCommand struct {
	PlanID string // empty keeps the current plan
	Seats  *int   // nil keeps the current seat count
	Force  bool   // apply a decrease immediately with a prorated credit
}

// Change applies a plan and/or seat change as one operation, so a
// combined move (say plan upgrade plus extra seats) is confirmed with the
// provider once and prorated once. A change that lowers the recurring
// amount is deferred to the current period end unless forced; one that
// raises it applies immediately with a prorated charge.
func (m *Manager) Change(ctx context.Context, subID uuid.UUID, cmd ChangeCommand) (*billing.Subscription, int64, error) {
	unlock := m.locks.lock(subID)
	sub, err := m.stores.Subscriptions.Get(ctx, subID)
	if err != nil {
		unlock()
		return nil, 0, err
	}
	if err := m.checkMutable(sub); err != nil {
		unlock()
		return nil, 0, err
	}

	planID := sub.PlanID
	if cmd.PlanID != "" {
		planID = cmd.PlanID
	}
	plan, ok := m.catalog[planID]
	if !ok {
		unlock()
		return nil, 0, plans.ErrPlanNotFound
	}

	seatCount := sub.Seats
	if cmd.Seats != nil {
		seatCount = *cmd.Seats
	}
	if err := m.seats.Validate(ctx, sub.OrganizationID, seatCount, plan.MaxSeats); err != nil {
		unlock()
		return nil, 0, err
	}
	if planID == sub.PlanID && seatCount == sub.Seats {
		unlock()
		return sub, 0, nil
	}

	newAmount := plan.Total(seatCount)

	// A lowered amount defers to period end: record the pending change, no
	// provider call until the period rolls over.
	if newAmount < sub.Amount && !cmd.Force {
		if planID != sub.PlanID {
			sub.PendingPlanID = planID
		}
		if seatCount != sub.Seats {
			sub.PendingSeats = &seatCount
		}
		err := m.stores.Subscriptions.Update(ctx, sub)
		unlock()
		if err != nil {
			return nil, 0, err
		}
		m.log.InfoContext(ctx, "downgrade deferred to period end",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("pending_plan_id", sub.PendingPlanID),
			slog.Int("pending_seats", seatCount))
		return sub, 0, nil
	}

	// Release the lock for the provider call, then re-acquire to commit the
	// confirmed result.
	snapshot := *sub
	unlock()

	adapter, err := m.providers.Resolve(sub.Provider)
	if err != nil {
		return nil, 0, err
	}
	priceID, err := plan.PriceID(sub.Provider)
	if err != nil {
		return nil, 0, err
	}

	var res *provider.UpdateResult
	err = m.callProvider(ctx, func(ctx context.Context) error {
		var callErr error
		res, callErr = adapter.UpdateSubscription(ctx, provider.UpdateParams{
			ProviderSubID: snapshot.ProviderSubID,
			PriceID:       priceID,
			Seats:         seatCount,
		})
		return callErr
	})
	if err != nil {
		return nil, 0, err
	}

	return m.commitAmountChange(ctx, subID, snapshot, plan.ID, seatCount, newAmount, res.Items)
}

// UpdatePlan changes the subscription's plan. Upgrades apply immediately
// with a prorated charge invoiced the same cycle; downgrades are deferred
// to the current period end.
func (m *Manager) UpdatePlan(ctx context.Context, subID uuid.UUID, newPlanID string) (*billing.Subscription, int64, error) {
	if _, ok := m.catalog[newPlanID]; !ok {
		return nil, 0, plans.ErrPlanNotFound
	}
	return m.Change(ctx, subID, ChangeCommand{PlanID: newPlanID})
}

// SetSeats adjusts the seat count. Increases take effect immediately with
// a prorated charge; decreases defer to period end unless forced, in which
// case a prorated credit is recorded.
func (m *Manager) SetSeats(ctx context.Context, subID uuid.UUID, requested int, force bool) (*billing.Subscription, int64, error) {
	return m.Change(ctx, subID, ChangeCommand{Seats: &requested, Force: force})
}

// Cancel terminates the subscription, either at period end (the aggregate
// stays active with cancel_at_period_end set) or immediately.
func (m *Manager) Cancel(ctx context.Context, subID uuid.UUID, atPeriodEnd bool, reason string) (*billing.Subscription, error) {
	unlock := m.locks.lock(subID)
	sub, err := m.stores.Subscriptions.Get(ctx, subID)
	if err != nil {
		unlock()
		return nil, err
	}
	if sub.IsTerminal() {
		unlock()
		return nil, billing.ErrSubscriptionTerminated
	}
	snapshot := *sub
	unlock()

	adapter, err := m.providers.Resolve(sub.Provider)
	if err != nil {
		return nil, err
	}

	if snapshot.ProviderSubID != "" {
		err = m.callProvider(ctx, func(ctx context.Context) error {
			return adapter.CancelSubscription(ctx, snapshot.ProviderSubID, atPeriodEnd)
		})
		if err != nil {
			return nil, err
		}
	}

	unlock = m.locks.lock(subID)
	defer unlock()

	sub, err = m.stores.Subscriptions.Get(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		// A concurrent command or webhook already terminated it; the
		// provider-side cancel is idempotent, so report the settled state.
		return sub, nil
	}

	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		if !canTransition(sub.Status, billing.StatusCanceled) {
			return nil, billing.ErrInvalidTransition
		}
		now := m.now()
		sub.Status = billing.StatusCanceled
		sub.CanceledAt = &now
	}
	if err := m.stores.Subscriptions.Update(ctx, sub); err != nil {
		return nil, err
	}

	m.log.InfoContext(ctx, "subscription cancel requested",
		slog.String("subscription_id", sub.ID.String()),
		slog.Bool("at_period_end", atPeriodEnd),
		slog.String("reason", reason),
		slog.String("status", string(sub.Status)))

	return sub, nil
}

// Get returns a subscription by ID.
func (m *Manager) Get(ctx context.Context, subID uuid.UUID) (*billing.Subscription, error) {
	return m.stores.Subscriptions.Get(ctx, subID)
}

// Invoices returns the subscription's invoices.
func (m *Manager) Invoices(ctx context.Context, subID uuid.UUID) ([]*billing.Invoice, error) {
	if _, err := m.stores.Subscriptions.Get(ctx, subID); err != nil {
		return nil, err
	}
	return m.stores.Invoices.ListBySubscription(ctx, subID)
}

// Plan resolves a plan from the loaded catalog.
func (m *Manager) Plan(planID string) (plans.Plan, error) {
	plan, ok := m.catalog[planID]
	if !ok {
		return plans.Plan{}, plans.ErrPlanNotFound
	}
	return plan, nil
}

// commitAmountChange re-acquires the lock and commits a provider-confirmed
// plan/seat change, recording the proration delta as an open invoice line.
func (m *Manager) commitAmountChange(ctx context.Context, subID uuid.UUID, snapshot billing.Subscription, planID string, seatCount int, newAmount int64, items []provider.ItemRef) (*billing.Subscription, int64, error) {
	unlock := m.locks.lock(subID)
	defer unlock()

	sub, err := m.stores.Subscriptions.Get(ctx, subID)
	if err != nil {
		return nil, 0, err
	}
	if sub.IsTerminal() {
		return nil, 0, billing.ErrSubscriptionTerminated
	}
	// Another command won the race between our decision and the provider
	// confirmation. Its state is already committed; surface the conflict
	// instead of silently overwriting.
	if sub.PlanID != snapshot.PlanID || sub.Seats != snapshot.Seats || sub.Amount != snapshot.Amount {
		return nil, 0, ErrConcurrentModification
	}

	now := m.now()
	delta, err := proration.Prorate(sub.Amount, newAmount, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, clampToCycle(now, sub.CurrentPeriodStart, sub.CurrentPeriodEnd))
	if err != nil {
		return nil, 0, err
	}

	sub.PlanID = planID
	sub.Seats = seatCount
	sub.Amount = newAmount
	if err := m.stores.Subscriptions.Update(ctx, sub); err != nil {
		return nil, 0, err
	}
	if len(items) > 0 {
		if err := m.stores.Subscriptions.ReplaceItems(ctx, sub.ID, itemsFromRefs(sub.ID, items)); err != nil {
			return nil, 0, err
		}
	}

	if delta != 0 {
		inv := &billing.Invoice{
			SubscriptionID:    sub.ID,
			Provider:          sub.Provider,
			ProviderInvoiceID: "proration_" + uuid.NewString(),
			Status:            billing.InvoiceOpen,
			AmountTotal:       delta,
			Currency:          sub.Currency,
		}
		if err := m.stores.Invoices.Upsert(ctx, inv); err != nil {
			m.log.ErrorContext(ctx, "failed to record proration invoice",
				slog.String("subscription_id", sub.ID.String()),
				slog.Int64("delta", delta),
				slog.String("error", err.Error()))
			return nil, 0, err
		}
	}

	m.log.InfoContext(ctx, "subscription amount changed",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("plan_id", sub.PlanID),
		slog.Int("seats", sub.Seats),
		slog.Int64("proration", delta))

	return sub, delta, nil
}

// checkMutable validates that a command may mutate the subscription.
func (m *Manager) checkMutable(sub *billing.Subscription) error {
	if sub.IsTerminal() {
		return billing.ErrSubscriptionTerminated
	}
	if !sub.Status.Billable() {
		return fmt.Errorf("%w: status %s", ErrNotBillable, sub.Status)
	}
	return nil
}

// callProvider runs a provider call with a bounded timeout, retrying only
// transient unavailability.
func (m *Manager) callProvider(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, providerAttempts, m.backoff,
		func(err error) bool { return errors.Is(err, provider.ErrProviderUnavailable) },
		func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, providerTimeout)
			defer cancel()
			return fn(callCtx)
		})
}

func itemsFromRefs(subID uuid.UUID, refs []provider.ItemRef) []billing.SubscriptionItem {
	items := make([]billing.SubscriptionItem, 0, len(refs))
	for _, ref := range refs {
		items = append(items, billing.SubscriptionItem{
			SubscriptionID: subID,
			ProviderItemID: ref.ProviderItemID,
			PriceID:        ref.PriceID,
			Quantity:       ref.Quantity,
			UnitAmount:     ref.UnitAmount,
		})
	}
	return items
}

func statusFromProvider(s string, fallback billing.Status) billing.Status {
	switch billing.Status(s) {
	case billing.StatusIncomplete, billing.StatusTrialing, billing.StatusActive, billing.StatusPastDue, billing.StatusCanceled:
		return billing.Status(s)
	default:
		return fallback
	}
}

func addInterval(t time.Time, interval billing.Interval) time.Time {
	if interval == billing.IntervalYear {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// clampToCycle bounds an instant to the billing cycle so clock skew around
// period boundaries cannot push the proration window out of range.
func clampToCycle(t, start, end time.Time) time.Time {
	if t.Before(start) {
		return start
	}
	if t.After(end) {
		return end
	}
	return t
}
