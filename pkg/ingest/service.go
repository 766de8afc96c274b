package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/provider"
)

// Applier consumes a normalized provider event. Implemented by the
// lifecycle manager.
type Applier interface {
	Apply(ctx context.Context, ev *provider.Event) error
}

// Service is the webhook intake: it verifies, persists, and processes
// inbound provider events. Persistence happens before processing, so a
// crash after the insert loses nothing; the sweeper picks the event up.
type Service struct {
	providers *provider.Registry
	events    billing.EventStore
	applier   Applier
	dedup     Deduper
	log       *slog.Logger
	now       func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDeduper enables the duplicate fast path. Optional; the unique
// event insert remains the correctness guarantee either way.
func WithDeduper(d Deduper) ServiceOption {
	return func(s *Service) { s.dedup = d }
}

// NewService creates the webhook intake service. Panics if required
// dependencies are nil.
func NewService(providers *provider.Registry, events billing.EventStore, applier Applier, opts ...ServiceOption) *Service {
	if providers == nil {
		panic("ingest: provider.Registry is required")
	}
	if events == nil {
		panic("ingest: billing.EventStore is required")
	}
	if applier == nil {
		panic("ingest: Applier is required")
	}

	s := &Service{
		providers: providers,
		events:    events,
		applier:   applier,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Receive handles one inbound webhook delivery.
//
// The returned error is non-nil only for failures the caller should turn
// into a non-2xx response: unknown provider, invalid signature, or a
// persistence failure (the provider should redeliver). Once the event is
// durably recorded, processing failures are swallowed here and retried by
// the sweeper; processed reports whether the event was applied (or was a
// duplicate of an already-accepted one).
func (s *Service) Receive(ctx context.Context, providerName string, payload []byte, signature string) (processed bool, err error) {
	adapter, err := s.providers.Resolve(providerName)
	if err != nil {
		return false, err
	}

	ev, err := adapter.NormalizeWebhook(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, provider.ErrSignatureInvalid) {
			s.log.WarnContext(ctx, "webhook signature verification failed",
				slog.String("provider", providerName))
		}
		return false, err
	}

	// Dedup fast path: skip the database round trip for deliveries we have
	// already durably recorded. The read is side-effect free; the pair is
	// marked only after a successful insert, so a delivery whose insert
	// failed is never short-circuited on redelivery. First sight (or any
	// dedup error) falls through to the authoritative unique insert.
	if s.dedup != nil {
		if seen, derr := s.dedup.Seen(ctx, providerName, ev.ProviderEventID); derr == nil && seen {
			s.log.DebugContext(ctx, "duplicate webhook short-circuited",
				slog.String("provider", providerName),
				slog.String("provider_event_id", ev.ProviderEventID))
			return true, nil
		}
	}

	normalized, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}

	rec := &billing.WebhookEvent{
		ID:              uuid.New(),
		Provider:        providerName,
		ProviderEventID: ev.ProviderEventID,
		EventType:       ev.ProviderEvent,
		Payload:         payload,
		Normalized:      normalized,
		CreatedAt:       s.now(),
	}
	inserted, err := s.events.Insert(ctx, rec)
	if err != nil {
		return false, err
	}
	if s.dedup != nil {
		// The event is durable now; a mark failure only costs a future DB
		// round trip.
		if derr := s.dedup.Mark(ctx, providerName, ev.ProviderEventID); derr != nil {
			s.log.DebugContext(ctx, "failed to mark webhook as seen",
				slog.String("provider", providerName),
				slog.String("provider_event_id", ev.ProviderEventID),
				slog.String("error", derr.Error()))
		}
	}
	if !inserted {
		s.log.DebugContext(ctx, "duplicate webhook ignored",
			slog.String("provider", providerName),
			slog.String("provider_event_id", ev.ProviderEventID))
		return true, nil
	}

	if err := s.applier.Apply(ctx, ev); err != nil {
		s.log.ErrorContext(ctx, "webhook processing failed, queued for retry",
			slog.String("provider", providerName),
			slog.String("provider_event_id", ev.ProviderEventID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()))
		if merr := s.events.MarkFailed(ctx, rec.ID, err.Error()); merr != nil {
			s.log.ErrorContext(ctx, "failed to record processing failure",
				slog.String("event_id", rec.ID.String()),
				slog.String("error", merr.Error()))
		}
		return false, nil
	}

	if err := s.events.MarkProcessed(ctx, rec.ID); err != nil {
		// The state change is committed; the sweeper will replay the event,
		// which is safe because Apply is idempotent.
		s.log.ErrorContext(ctx, "failed to mark event processed",
			slog.String("event_id", rec.ID.String()),
			slog.String("error", err.Error()))
	}

	s.log.InfoContext(ctx, "webhook processed",
		slog.String("provider", providerName),
		slog.String("provider_event_id", ev.ProviderEventID),
		slog.String("kind", string(ev.Kind)))
	return true, nil
}
