package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// RecheckPastDue scans past-due subscriptions and cancels those whose
// grace period expired without a recovering payment. It returns the number
// of subscriptions canceled.
func (m *Manager) RecheckPastDue(ctx context.Context) (int, error) {
	now := m.now()
	subs, err := m.stores.Subscriptions.ListPastDue(ctx, now.Add(-GracePeriod))
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, stale := range subs {
		select {
		case <-ctx.Done():
			return canceled, ctx.Err()
		default:
		}

		unlock := m.locks.lock(stale.ID)
		sub, err := m.stores.Subscriptions.Get(ctx, stale.ID)
		if err != nil {
			unlock()
			m.log.ErrorContext(ctx, "recheck failed to load subscription",
				slog.String("subscription_id", stale.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		// Re-verify under the lock: a payment may have recovered the
		// subscription between the scan and now.
		if sub.Status != billing.StatusPastDue || sub.InGracePeriod(now, GracePeriod) {
			unlock()
			continue
		}

		ts := m.now()
		sub.Status = billing.StatusCanceled
		sub.CanceledAt = &ts
		err = m.stores.Subscriptions.Update(ctx, sub)
		unlock()
		if err != nil {
			m.log.ErrorContext(ctx, "recheck failed to cancel subscription",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		m.log.InfoContext(ctx, "grace period expired, subscription canceled",
			slog.String("subscription_id", sub.ID.String()),
			slog.Time("past_due_since", derefTime(sub.PastDueSince)))
		canceled++

		// Best effort: tell the provider so it stops retrying charges.
		m.cancelAtProvider(ctx, sub)
	}
	return canceled, nil
}

// RunRecheck returns a runner that periodically invokes RecheckPastDue
// until the context is canceled. Suitable for errgroup.Go.
func (m *Manager) RunRecheck(ctx context.Context, interval time.Duration) func() error {
	if interval <= 0 {
		interval = time.Hour
	}
	return func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := m.RecheckPastDue(ctx); err != nil && ctx.Err() == nil {
					m.log.ErrorContext(ctx, "past-due recheck failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (m *Manager) cancelAtProvider(ctx context.Context, sub *billing.Subscription) {
	if sub.ProviderSubID == "" {
		return
	}
	adapter, err := m.providers.Resolve(sub.Provider)
	if err != nil {
		return
	}
	if err := m.callProvider(ctx, func(ctx context.Context) error {
		return adapter.CancelSubscription(ctx, sub.ProviderSubID, false)
	}); err != nil {
		m.log.ErrorContext(ctx, "failed to cancel subscription at provider",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("provider", sub.Provider),
			slog.String("error", err.Error()))
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
