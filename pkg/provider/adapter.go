package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Adapter translates normalized billing commands into provider-specific API
// calls and normalizes provider webhook payloads into Events. Adapters are
// pure translation layers: they mutate no local state, and every method
// maps provider failures onto the package's typed errors.
type Adapter interface {
	// Name returns the provider identifier pinned on subscriptions,
	// e.g. "stripe", "paddle", "lemonsqueezy".
	Name() string

	// SignatureHeader returns the HTTP header carrying the provider's
	// webhook signature.
	SignatureHeader() string

	// CreateSubscription provisions a provider-side subscription. For
	// redirect-based providers the result carries a hosted checkout URL
	// and the subscription stays incomplete until the confirming webhook.
	CreateSubscription(ctx context.Context, params CreateParams) (*CreateResult, error)

	// UpdateSubscription changes the plan price and/or seat quantity.
	UpdateSubscription(ctx context.Context, params UpdateParams) (*UpdateResult, error)

	// CancelSubscription cancels either at period end or immediately.
	CancelSubscription(ctx context.Context, providerSubID string, atPeriodEnd bool) error

	// ChargeNow bills an immediate one-off amount against the subscription's
	// payment method, used to settle prorations outside the regular cycle.
	ChargeNow(ctx context.Context, providerSubID string, amount int64, currencyCode string) error

	// NormalizeWebhook verifies the payload signature and translates the
	// provider's native envelope into a normalized Event. Returns
	// ErrSignatureInvalid when verification fails.
	NormalizeWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}

// CreateParams carries provider-agnostic subscription creation input.
type CreateParams struct {
	OrganizationID string
	PriceID        string // provider-specific price/variant identifier
	Seats          int
	TrialDays      int
	Email          string
	SuccessURL     string
	CancelURL      string
}

// CreateResult is the provider's confirmation of a creation command.
type CreateResult struct {
	ProviderSubID string // may be empty for redirect-based providers
	Status        string
	CheckoutURL   string // set only by redirect-based providers
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Items         []ItemRef
}

// UpdateParams carries a plan/seat change for an existing subscription.
type UpdateParams struct {
	ProviderSubID string
	PriceID       string
	Seats         int
}

// UpdateResult is the provider's confirmation of an update command.
type UpdateResult struct {
	Status string
	Items  []ItemRef
}

// ItemRef identifies one priced line on the provider side.
type ItemRef struct {
	ProviderItemID string
	PriceID        string
	Quantity       int
	UnitAmount     int64
}

// Registry resolves adapters by provider name. The provider of a
// subscription is pinned at creation time, so lookup is a pure map access
// with no runtime fallback between providers.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry with the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Resolve returns the adapter for a provider name.
func (r *Registry) Resolve(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
	return a, nil
}

// SignatureHeader returns the webhook signature header for a provider,
// reporting false when the provider is not registered.
func (r *Registry) SignatureHeader(name string) (string, bool) {
	a, err := r.Resolve(name)
	if err != nil {
		return "", false
	}
	return a.SignatureHeader(), true
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
