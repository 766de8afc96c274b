package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

// EventStore is the pgx-backed billing.EventStore. The unique
// (provider, provider_event_id) index plus ON CONFLICT DO NOTHING makes
// Insert the idempotency gate for webhook deliveries.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ billing.EventStore = (*EventStore)(nil)

// NewEventStore creates a store. Panics if pool is nil.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	if pool == nil {
		panic("postgres: pgx pool is required")
	}
	return &EventStore{pool: pool}
}

func (s *EventStore) Insert(ctx context.Context, ev *billing.WebhookEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (id, provider, provider_event_id, event_type, payload, normalized, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		ev.ID, ev.Provider, ev.ProviderEventID, ev.EventType,
		ev.Payload, ev.Normalized, ev.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *EventStore) Get(ctx context.Context, id uuid.UUID) (*billing.WebhookEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, provider, provider_event_id, event_type, payload, normalized,
			processed, processed_at, attempts, last_attempt_at, last_error, dead_lettered, created_at
		 FROM webhook_events WHERE id = $1`, id)

	var ev billing.WebhookEvent
	err := row.Scan(&ev.ID, &ev.Provider, &ev.ProviderEventID, &ev.EventType,
		&ev.Payload, &ev.Normalized, &ev.Processed, &ev.ProcessedAt,
		&ev.Attempts, &ev.LastAttemptAt, &ev.LastError, &ev.DeadLettered, &ev.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (s *EventStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET processed = TRUE, processed_at = now(), last_error = ''
		 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrEventNotFound
	}
	return nil
}

func (s *EventStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET attempts = attempts + 1, last_attempt_at = now(), last_error = $2
		 WHERE id = $1`, id, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrEventNotFound
	}
	return nil
}

func (s *EventStore) MarkDeadLettered(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET dead_lettered = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrEventNotFound
	}
	return nil
}

func (s *EventStore) ListUnprocessed(ctx context.Context, limit int) ([]*billing.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider, provider_event_id, event_type, payload, normalized,
			processed, processed_at, attempts, last_attempt_at, last_error, dead_lettered, created_at
		 FROM webhook_events
		 WHERE processed = FALSE AND dead_lettered = FALSE
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*billing.WebhookEvent
	for rows.Next() {
		var ev billing.WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.Provider, &ev.ProviderEventID, &ev.EventType,
			&ev.Payload, &ev.Normalized, &ev.Processed, &ev.ProcessedAt,
			&ev.Attempts, &ev.LastAttemptAt, &ev.LastError, &ev.DeadLettered, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
