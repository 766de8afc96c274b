package payments

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
)

// SubscriptionManager is the command surface consumed by the HTTP layer.
// Implemented by lifecycle.Manager.
type SubscriptionManager interface {
	Create(ctx context.Context, cmd lifecycle.CreateCommand) (*lifecycle.CreateResult, error)
	Change(ctx context.Context, subID uuid.UUID, cmd lifecycle.ChangeCommand) (*billing.Subscription, int64, error)
	SetSeats(ctx context.Context, subID uuid.UUID, requested int, force bool) (*billing.Subscription, int64, error)
	Cancel(ctx context.Context, subID uuid.UUID, atPeriodEnd bool, reason string) (*billing.Subscription, error)
	Get(ctx context.Context, subID uuid.UUID) (*billing.Subscription, error)
	Invoices(ctx context.Context, subID uuid.UUID) ([]*billing.Invoice, error)
}

// WebhookReceiver is the intake surface consumed by the webhook endpoint.
// Implemented by ingest.Service.
type WebhookReceiver interface {
	Receive(ctx context.Context, providerName string, payload []byte, signature string) (processed bool, err error)
}

// SignatureHeaders resolves the webhook signature header per provider.
// Implemented by provider.Registry via adapter lookup.
type SignatureHeaders interface {
	SignatureHeader(providerName string) (string, bool)
}

// Service wires the billing HTTP surface.
type Service struct {
	manager SubscriptionManager
	webhook WebhookReceiver
	headers SignatureHeaders
	log     *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates the payments HTTP service. Panics if required
// dependencies are nil.
func NewService(manager SubscriptionManager, webhook WebhookReceiver, headers SignatureHeaders, opts ...Option) *Service {
	if manager == nil {
		panic("payments: SubscriptionManager is required")
	}
	if webhook == nil {
		panic("payments: WebhookReceiver is required")
	}
	if headers == nil {
		panic("payments: SignatureHeaders is required")
	}

	s := &Service{
		manager: manager,
		webhook: webhook,
		headers: headers,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
