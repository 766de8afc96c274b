package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore defines subscription persistence. Implementations
// must reject a second billable subscription for the same organization
// with ErrSubscriptionExists.
type SubscriptionStore interface {
	// Get retrieves a subscription by ID.
	// Returns ErrSubscriptionNotFound if no subscription exists.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetByOrganization returns the organization's billable (non-terminal)
	// subscription, or ErrSubscriptionNotFound.
	GetByOrganization(ctx context.Context, orgID uuid.UUID) (*Subscription, error)

	// GetByProviderSubID resolves a subscription from provider identifiers,
	// used when correlating inbound webhook events.
	GetByProviderSubID(ctx context.Context, provider, providerSubID string) (*Subscription, error)

	// Create inserts a new subscription.
	Create(ctx context.Context, sub *Subscription) error

	// Update persists mutations to an existing subscription.
	Update(ctx context.Context, sub *Subscription) error

	// ListPastDue returns past-due subscriptions whose grace window started
	// before the given instant. Used by the grace-period recheck job.
	ListPastDue(ctx context.Context, since time.Time) ([]*Subscription, error)

	// ReplaceItems swaps the priced lines of a subscription.
	ReplaceItems(ctx context.Context, subID uuid.UUID, items []SubscriptionItem) error

	// ListItems returns the priced lines of a subscription.
	ListItems(ctx context.Context, subID uuid.UUID) ([]SubscriptionItem, error)
}

// InvoiceStore defines invoice persistence. Paid invoices are immutable:
// Upsert against a paid invoice returns ErrInvoiceImmutable, except that
// re-upserting the paid status is a no-op so event replays stay idempotent.
type InvoiceStore interface {
	Upsert(ctx context.Context, inv *Invoice) error
	GetByProviderID(ctx context.Context, provider, providerInvoiceID string) (*Invoice, error)
	ListBySubscription(ctx context.Context, subID uuid.UUID) ([]*Invoice, error)
}

// PaymentMethodStore defines payment method persistence. Upserting a
// default method clears the default flag on the organization's other methods.
type PaymentMethodStore interface {
	Upsert(ctx context.Context, pm *PaymentMethod) error
	List(ctx context.Context, orgID uuid.UUID) ([]*PaymentMethod, error)
}

// EventStore defines the append-only webhook event log.
type EventStore interface {
	// Insert appends a new event. Returns inserted=false when the
	// (provider, provider_event_id) pair already exists; this is the
	// idempotency primitive for duplicate deliveries.
	Insert(ctx context.Context, ev *WebhookEvent) (inserted bool, err error)

	// Get retrieves an event by ID.
	Get(ctx context.Context, id uuid.UUID) (*WebhookEvent, error)

	// MarkProcessed flags successful processing.
	MarkProcessed(ctx context.Context, id uuid.UUID) error

	// MarkFailed records a failed processing attempt and increments the
	// attempt counter.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// MarkDeadLettered parks the event for manual inspection after
	// retries are exhausted.
	MarkDeadLettered(ctx context.Context, id uuid.UUID) error

	// ListUnprocessed returns events awaiting (re)processing, oldest first,
	// excluding dead-lettered ones.
	ListUnprocessed(ctx context.Context, limit int) ([]*WebhookEvent, error)
}
