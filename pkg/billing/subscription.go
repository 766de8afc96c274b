package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the aggregate root for an organization's billing state.
// Exactly one billable subscription exists per organization at any time;
// the store enforces this on insert. Canceled subscriptions are retained
// for audit and never deleted.
type Subscription struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Provider       string // pinned at creation, never changes mid-lifecycle
	ProviderSubID  string // provider's subscription ID (empty until confirmed)
	PlanID         string
	Status         Status
	Seats          int
	Amount         int64 // total per cycle, minor currency units
	Currency       string
	Interval       Interval

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool

	// PendingPlanID and PendingSeats hold deferred downgrades applied when
	// the current period ends.
	PendingPlanID string
	PendingSeats  *int

	PastDueSince *time.Time // set on payment failure, cleared on recovery
	CanceledAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the subscription is in the active state.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsTerminal reports whether the subscription reached its terminal state.
func (s *Subscription) IsTerminal() bool {
	return s.Status.Terminal()
}

// InGracePeriod reports whether a past-due subscription is still within
// the recovery window ending at deadline.
func (s *Subscription) InGracePeriod(now time.Time, grace time.Duration) bool {
	if s.Status != StatusPastDue || s.PastDueSince == nil {
		return false
	}
	return now.Before(s.PastDueSince.Add(grace))
}

// SubscriptionItem is one priced line of a subscription. The sum of
// UnitAmount*Quantity across items reconciles with Subscription.Amount
// at steady state.
type SubscriptionItem struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	ProviderItemID string
	PriceID        string
	Quantity       int
	UnitAmount     int64
}
