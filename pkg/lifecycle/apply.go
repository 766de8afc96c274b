package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/plans"
	"github.com/dmitrymomot/billingkit/pkg/provider"
)

// Apply consumes a normalized provider event and advances the matching
// subscription's state machine. It is the single write path for
// webhook-driven changes, shared by the synchronous ingest path and the
// retry sweep, so it must be idempotent: replaying an already-applied
// event converges on the same state.
func (m *Manager) Apply(ctx context.Context, ev *provider.Event) error {
	if ev == nil {
		return errors.New("lifecycle: nil event")
	}

	switch ev.Kind {
	case provider.KindUnknown:
		m.log.DebugContext(ctx, "ignoring unrecognized provider event",
			slog.String("provider", ev.Provider),
			slog.String("provider_event", ev.ProviderEvent))
		return nil
	case provider.KindPaymentMethodAdded:
		return m.applyPaymentMethod(ctx, ev)
	}

	sub, err := m.resolveSubscription(ctx, ev)
	if err != nil {
		return err
	}

	unlock := m.locks.lock(sub.ID)

	// Re-read under the lock; the unlocked resolve may be stale.
	sub, err = m.stores.Subscriptions.Get(ctx, sub.ID)
	if err != nil {
		unlock()
		return err
	}

	// Terminal is terminal. Late or out-of-order events for a canceled
	// subscription are acknowledged and dropped.
	if sub.IsTerminal() {
		unlock()
		m.log.InfoContext(ctx, "dropping event for canceled subscription",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("kind", string(ev.Kind)))
		return nil
	}

	var pending *pendingPush

	switch ev.Kind {
	case provider.KindSubscriptionCreated, provider.KindSubscriptionUpdated:
		pending, err = m.applySubscriptionState(ctx, sub, ev)
	case provider.KindPeriodRenewed:
		pending, err = m.applyRenewal(ctx, sub, ev)
	case provider.KindSubscriptionCanceled:
		err = m.applyCancellation(ctx, sub, ev)
	case provider.KindPaymentSucceeded:
		pending, err = m.applyPaymentSucceeded(ctx, sub, ev)
	case provider.KindPaymentFailed:
		err = m.applyPaymentFailed(ctx, sub, ev)
	default:
		m.log.DebugContext(ctx, "no handler for event kind", slog.String("kind", string(ev.Kind)))
	}

	unlock()
	if err != nil {
		return err
	}

	// Deferred downgrades applied at renewal are pushed to the provider
	// after the local commit, outside the lock. The local state is
	// authoritative; a push failure is logged and does not fail the event.
	if pending != nil {
		m.pushPendingChange(ctx, pending)
	}
	return nil
}

// resolveSubscription matches an event to a local subscription, first by
// the provider-side subscription ID, then by organization metadata. The
// metadata fallback binds the confirming event of a checkout flow, where
// the provider ID is not yet recorded locally.
func (m *Manager) resolveSubscription(ctx context.Context, ev *provider.Event) (*billing.Subscription, error) {
	if ev.SubscriptionID != "" {
		sub, err := m.stores.Subscriptions.GetByProviderSubID(ctx, ev.Provider, ev.SubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, billing.ErrSubscriptionNotFound) {
			return nil, err
		}
	}

	if ev.OrganizationID != "" {
		orgID, err := uuid.Parse(ev.OrganizationID)
		if err == nil {
			sub, err := m.stores.Subscriptions.GetByOrganization(ctx, orgID)
			if err == nil && sub.Provider == ev.Provider && sub.ProviderSubID == "" {
				return sub, nil
			}
			if err != nil && !errors.Is(err, billing.ErrSubscriptionNotFound) {
				return nil, err
			}
		}
	}

	return nil, ErrUnmatchedEvent
}

// applySubscriptionState syncs status, period, and provider-reported plan
// and seat data onto the local aggregate. Providers without a dedicated
// renewal event signal renewals here through a rolled billing period, so a
// period crossing the stored boundary also consumes any deferred change.
func (m *Manager) applySubscriptionState(ctx context.Context, sub *billing.Subscription, ev *provider.Event) (*pendingPush, error) {
	if sub.ProviderSubID == "" && ev.SubscriptionID != "" {
		sub.ProviderSubID = ev.SubscriptionID
	}

	if target := statusFromProvider(ev.Status, ""); target != "" && target != sub.Status {
		if !canTransition(sub.Status, target) {
			m.log.WarnContext(ctx, "ignoring disallowed status transition from provider",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("from", string(sub.Status)),
				slog.String("to", string(target)))
		} else {
			sub.Status = target
			if target != billing.StatusPastDue {
				sub.PastDueSince = nil
			}
			if target == billing.StatusCanceled {
				now := m.now()
				sub.CanceledAt = &now
			}
		}
	}

	renewed := rollPeriod(sub, ev)
	if ev.Seats > 0 {
		sub.Seats = ev.Seats
	}
	if ev.PlanPriceID != "" {
		if plan, ok := m.planForPrice(sub.Provider, ev.PlanPriceID); ok {
			sub.PlanID = plan.ID
			sub.Amount = plan.Total(sub.Seats)
		}
	}

	// The deferred change wins over provider-reported plan data: the
	// provider has not heard about it yet, the push below tells it.
	var push *pendingPush
	if renewed {
		push = m.takePendingChange(ctx, sub)
	}

	if err := m.stores.Subscriptions.Update(ctx, sub); err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "subscription state synced from provider",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("status", string(sub.Status)))
	return push, nil
}

// rollPeriod syncs the billing period from the event and reports whether
// it crossed the stored period boundary, which is how providers without a
// dedicated renewal event announce a renewal. Providers that report only
// the next renewal date roll the period forward from the stored end.
func rollPeriod(sub *billing.Subscription, ev *provider.Event) bool {
	switch {
	case !ev.PeriodStart.IsZero():
		renewed := !ev.PeriodStart.Before(sub.CurrentPeriodEnd)
		sub.CurrentPeriodStart = ev.PeriodStart
		sub.CurrentPeriodEnd = ev.PeriodEnd
		return renewed
	case !ev.PeriodEnd.IsZero() && ev.PeriodEnd.After(sub.CurrentPeriodEnd):
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = ev.PeriodEnd
		return true
	}
	return false
}

// pendingPush carries a deferred change that must be propagated to the
// provider after the local commit.
type pendingPush struct {
	providerName  string
	providerSubID string
	priceID       string
	seats         int
	subID         uuid.UUID
}

// takePendingChange consumes a deferred plan or seat change recorded on
// the aggregate and returns the provider push it requires, if any. The
// caller persists the aggregate. Returns nil when nothing is pending.
func (m *Manager) takePendingChange(ctx context.Context, sub *billing.Subscription) *pendingPush {
	if sub.PendingPlanID == "" && sub.PendingSeats == nil {
		return nil
	}

	planID := sub.PlanID
	if sub.PendingPlanID != "" {
		planID = sub.PendingPlanID
	}
	seatCount := sub.Seats
	if sub.PendingSeats != nil {
		seatCount = *sub.PendingSeats
	}

	var push *pendingPush
	plan, ok := m.catalog[planID]
	if !ok {
		m.log.ErrorContext(ctx, "pending plan no longer in catalog, discarding deferred change",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("plan_id", planID))
	} else {
		sub.PlanID = plan.ID
		sub.Seats = seatCount
		sub.Amount = plan.Total(seatCount)
		if priceID, err := plan.PriceID(sub.Provider); err == nil && sub.ProviderSubID != "" {
			push = &pendingPush{
				providerName:  sub.Provider,
				providerSubID: sub.ProviderSubID,
				priceID:       priceID,
				seats:         seatCount,
				subID:         sub.ID,
			}
		}
	}
	sub.PendingPlanID = ""
	sub.PendingSeats = nil
	return push
}

// applyRenewal rolls the billing period forward and applies any deferred
// downgrade recorded on the aggregate.
func (m *Manager) applyRenewal(ctx context.Context, sub *billing.Subscription, ev *provider.Event) (*pendingPush, error) {
	if !ev.PeriodStart.IsZero() {
		sub.CurrentPeriodStart = ev.PeriodStart
		sub.CurrentPeriodEnd = ev.PeriodEnd
	} else {
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = addInterval(sub.CurrentPeriodStart, sub.Interval)
	}

	if canTransition(sub.Status, billing.StatusActive) {
		sub.Status = billing.StatusActive
	}
	sub.PastDueSince = nil

	push := m.takePendingChange(ctx, sub)

	if err := m.stores.Subscriptions.Update(ctx, sub); err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "billing period renewed",
		slog.String("subscription_id", sub.ID.String()),
		slog.Time("period_end", sub.CurrentPeriodEnd))
	return push, nil
}

func (m *Manager) applyCancellation(ctx context.Context, sub *billing.Subscription, ev *provider.Event) error {
	if !canTransition(sub.Status, billing.StatusCanceled) {
		return billing.ErrInvalidTransition
	}
	now := m.now()
	sub.Status = billing.StatusCanceled
	sub.CanceledAt = &now
	if err := m.stores.Subscriptions.Update(ctx, sub); err != nil {
		return err
	}
	m.log.InfoContext(ctx, "subscription canceled by provider",
		slog.String("subscription_id", sub.ID.String()))
	return nil
}

// applyPaymentSucceeded records the invoice and recovers the subscription
// to active. A renewal payment carries the new billing period, so a rolled
// period here also consumes any deferred change.
func (m *Manager) applyPaymentSucceeded(ctx context.Context, sub *billing.Subscription, ev *provider.Event) (*pendingPush, error) {
	if ev.Invoice != nil {
		if err := m.recordInvoice(ctx, sub, ev.Invoice); err != nil {
			return nil, err
		}
	}
	if sub.Status == billing.StatusPastDue || sub.Status == billing.StatusTrialing || sub.Status == billing.StatusIncomplete {
		if canTransition(sub.Status, billing.StatusActive) {
			sub.Status = billing.StatusActive
		}
	}
	sub.PastDueSince = nil

	var push *pendingPush
	if rollPeriod(sub, ev) {
		push = m.takePendingChange(ctx, sub)
	}

	if err := m.stores.Subscriptions.Update(ctx, sub); err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "payment succeeded",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("status", string(sub.Status)))
	return push, nil
}

func (m *Manager) applyPaymentFailed(ctx context.Context, sub *billing.Subscription, ev *provider.Event) error {
	if ev.Invoice != nil {
		if err := m.recordInvoice(ctx, sub, ev.Invoice); err != nil {
			return err
		}
	}
	if sub.Status != billing.StatusPastDue {
		if !canTransition(sub.Status, billing.StatusPastDue) {
			// A failed payment on an incomplete subscription leaves it
			// incomplete; there is nothing to dun yet.
			return m.stores.Subscriptions.Update(ctx, sub)
		}
		sub.Status = billing.StatusPastDue
	}
	if sub.PastDueSince == nil {
		now := m.now()
		sub.PastDueSince = &now
	}
	if err := m.stores.Subscriptions.Update(ctx, sub); err != nil {
		return err
	}
	m.log.WarnContext(ctx, "payment failed, subscription past due",
		slog.String("subscription_id", sub.ID.String()),
		slog.Time("past_due_since", *sub.PastDueSince))
	return nil
}

func (m *Manager) recordInvoice(ctx context.Context, sub *billing.Subscription, data *provider.InvoiceData) error {
	inv := &billing.Invoice{
		SubscriptionID:    sub.ID,
		Provider:          sub.Provider,
		ProviderInvoiceID: data.ProviderInvoiceID,
		Status:            invoiceStatusFromProvider(data.Status),
		AmountTotal:       data.AmountTotal,
		AmountPaid:        data.AmountPaid,
		Currency:          data.Currency,
		DueDate:           data.DueDate,
		PaidAt:            data.PaidAt,
	}
	return m.stores.Invoices.Upsert(ctx, inv)
}

func (m *Manager) applyPaymentMethod(ctx context.Context, ev *provider.Event) error {
	if ev.PaymentMethod == nil {
		return nil
	}
	orgID, err := uuid.Parse(ev.OrganizationID)
	if err != nil {
		// Without organization metadata the method cannot be attributed.
		m.log.WarnContext(ctx, "payment method event without organization metadata",
			slog.String("provider", ev.Provider),
			slog.String("provider_event_id", ev.ProviderEventID))
		return nil
	}
	return m.stores.PaymentMethods.Upsert(ctx, &billing.PaymentMethod{
		OrganizationID: orgID,
		Provider:       ev.Provider,
		ProviderID:     ev.PaymentMethod.ProviderID,
		Type:           ev.PaymentMethod.Type,
		Brand:          ev.PaymentMethod.Brand,
		Last4:          ev.PaymentMethod.Last4,
		IsDefault:      ev.PaymentMethod.IsDefault,
	})
}

// pushPendingChange propagates a deferred downgrade to the provider.
func (m *Manager) pushPendingChange(ctx context.Context, push *pendingPush) {
	adapter, err := m.providers.Resolve(push.providerName)
	if err != nil {
		m.log.ErrorContext(ctx, "cannot push deferred change, provider not registered",
			slog.String("provider", push.providerName))
		return
	}
	err = m.callProvider(ctx, func(ctx context.Context) error {
		_, callErr := adapter.UpdateSubscription(ctx, provider.UpdateParams{
			ProviderSubID: push.providerSubID,
			PriceID:       push.priceID,
			Seats:         push.seats,
		})
		return callErr
	})
	if err != nil {
		m.log.ErrorContext(ctx, "failed to push deferred change to provider",
			slog.String("subscription_id", push.subID.String()),
			slog.String("provider", push.providerName),
			slog.String("error", err.Error()))
	}
}

// planForPrice reverse-maps a provider price ID onto the catalog, used to
// resync local plan state when the provider reports a plan change.
func (m *Manager) planForPrice(providerName, priceID string) (plans.Plan, bool) {
	for _, plan := range m.catalog {
		if id, err := plan.PriceID(providerName); err == nil && id == priceID {
			return plan, true
		}
	}
	return plans.Plan{}, false
}

func invoiceStatusFromProvider(s string) billing.InvoiceStatus {
	switch billing.InvoiceStatus(s) {
	case billing.InvoiceDraft, billing.InvoiceOpen, billing.InvoicePaid, billing.InvoiceVoid, billing.InvoiceUncollectible:
		return billing.InvoiceStatus(s)
	default:
		return billing.InvoiceOpen
	}
}
