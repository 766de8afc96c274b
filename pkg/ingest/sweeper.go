package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/provider"
	"github.com/dmitrymomot/billingkit/pkg/retry"
)

const (
	// MaxAttempts is the retry cap before an event is dead-lettered.
	MaxAttempts = 8

	// sweepBatchSize bounds one sweep pass.
	sweepBatchSize = 100
)

// Sweeper replays unprocessed webhook events with capped exponential
// backoff. Events that exhaust their attempts are dead-lettered for
// manual inspection; nothing is ever deleted.
type Sweeper struct {
	events  billing.EventStore
	applier Applier
	backoff retry.BackoffStrategy
	log     *slog.Logger
	now     func() time.Time
}

// SweeperOption configures the Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger.
func WithSweeperLogger(log *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSweeperBackoff overrides the retry eligibility schedule.
func WithSweeperBackoff(strategy retry.BackoffStrategy) SweeperOption {
	return func(s *Sweeper) {
		if strategy != nil {
			s.backoff = strategy
		}
	}
}

// WithSweeperClock overrides the time source, used by tests.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a retry sweeper. Panics if required dependencies
// are nil.
func NewSweeper(events billing.EventStore, applier Applier, opts ...SweeperOption) *Sweeper {
	if events == nil {
		panic("ingest: billing.EventStore is required")
	}
	if applier == nil {
		panic("ingest: Applier is required")
	}

	s := &Sweeper{
		events:  events,
		applier: applier,
		backoff: retry.Exponential{
			InitialInterval: 30 * time.Second,
			MaxInterval:     time.Hour,
			Multiplier:      2,
		},
		log: slog.Default(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass over unprocessed events. It returns the number of
// events successfully applied.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	events, err := s.events.ListUnprocessed(ctx, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, rec := range events {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}

		if rec.Attempts >= MaxAttempts {
			if err := s.events.MarkDeadLettered(ctx, rec.ID); err != nil {
				s.log.ErrorContext(ctx, "failed to dead-letter event",
					slog.String("event_id", rec.ID.String()),
					slog.String("error", err.Error()))
				continue
			}
			s.log.ErrorContext(ctx, "event dead-lettered after exhausting retries",
				slog.String("event_id", rec.ID.String()),
				slog.String("provider", rec.Provider),
				slog.String("provider_event_id", rec.ProviderEventID),
				slog.String("last_error", rec.LastError))
			continue
		}
		if !s.eligible(rec) {
			continue
		}

		var ev provider.Event
		if err := json.Unmarshal(rec.Normalized, &ev); err != nil {
			// Unreadable normalized payloads can never succeed; park them.
			s.log.ErrorContext(ctx, "event has unreadable normalized payload, dead-lettering",
				slog.String("event_id", rec.ID.String()),
				slog.String("error", err.Error()))
			if merr := s.events.MarkDeadLettered(ctx, rec.ID); merr != nil {
				s.log.ErrorContext(ctx, "failed to dead-letter event",
					slog.String("event_id", rec.ID.String()),
					slog.String("error", merr.Error()))
			}
			continue
		}

		if err := s.applier.Apply(ctx, &ev); err != nil {
			if merr := s.events.MarkFailed(ctx, rec.ID, err.Error()); merr != nil {
				s.log.ErrorContext(ctx, "failed to record retry failure",
					slog.String("event_id", rec.ID.String()),
					slog.String("error", merr.Error()))
			}
			continue
		}
		if err := s.events.MarkProcessed(ctx, rec.ID); err != nil {
			s.log.ErrorContext(ctx, "failed to mark event processed",
				slog.String("event_id", rec.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		applied++
		s.log.InfoContext(ctx, "event applied on retry",
			slog.String("event_id", rec.ID.String()),
			slog.Int("attempt", rec.Attempts+1))
	}
	return applied, nil
}

// eligible reports whether an event's backoff window has elapsed.
func (s *Sweeper) eligible(rec *billing.WebhookEvent) bool {
	if rec.Attempts == 0 || rec.LastAttemptAt == nil {
		return true
	}
	return !s.now().Before(rec.LastAttemptAt.Add(s.backoff.NextInterval(rec.Attempts)))
}

// Run returns a runner that sweeps on the given interval until the context
// is canceled. Suitable for errgroup.Go.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) func() error {
	if interval <= 0 {
		interval = time.Minute
	}
	return func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
					s.log.ErrorContext(ctx, "event sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}
