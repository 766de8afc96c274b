package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

// SubscriptionStore is the pgx-backed billing.SubscriptionStore. The
// one-billable-subscription-per-organization rule is enforced by a partial
// unique index, so a racing second insert fails at the database rather
// than depending on application checks.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

var _ billing.SubscriptionStore = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a store. Panics if pool is nil.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	if pool == nil {
		panic("postgres: pgx pool is required")
	}
	return &SubscriptionStore{pool: pool}
}

const subscriptionColumns = `id, organization_id, provider, provider_sub_id, plan_id, status, seats,
	amount, currency, billing_interval, current_period_start, current_period_end,
	cancel_at_period_end, pending_plan_id, pending_seats, past_due_since,
	canceled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(
		&sub.ID, &sub.OrganizationID, &sub.Provider, &sub.ProviderSubID,
		&sub.PlanID, &sub.Status, &sub.Seats, &sub.Amount, &sub.Currency,
		&sub.Interval, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.PendingPlanID, &sub.PendingSeats,
		&sub.PastDueSince, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *SubscriptionStore) GetByOrganization(ctx context.Context, orgID uuid.UUID) (*billing.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE organization_id = $1 AND status <> 'canceled'`, orgID)
	return scanSubscription(row)
}

func (s *SubscriptionStore) GetByProviderSubID(ctx context.Context, provider, providerSubID string) (*billing.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE provider = $1 AND provider_sub_id = $2`, provider, providerSubID)
	return scanSubscription(row)
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *billing.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		sub.ID, sub.OrganizationID, sub.Provider, sub.ProviderSubID,
		sub.PlanID, sub.Status, sub.Seats, sub.Amount, sub.Currency,
		sub.Interval, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.PendingPlanID, sub.PendingSeats,
		sub.PastDueSince, sub.CanceledAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return billing.ErrSubscriptionExists
		}
		return err
	}
	return nil
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *billing.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET
			provider_sub_id = $2, plan_id = $3, status = $4, seats = $5,
			amount = $6, currency = $7, billing_interval = $8,
			current_period_start = $9, current_period_end = $10,
			cancel_at_period_end = $11, pending_plan_id = $12, pending_seats = $13,
			past_due_since = $14, canceled_at = $15, updated_at = $16
		 WHERE id = $1`,
		sub.ID, sub.ProviderSubID, sub.PlanID, sub.Status, sub.Seats,
		sub.Amount, sub.Currency, sub.Interval,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.PendingPlanID, sub.PendingSeats,
		sub.PastDueSince, sub.CanceledAt, sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

func (s *SubscriptionStore) ListPastDue(ctx context.Context, since time.Time) ([]*billing.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'past_due' AND past_due_since <= $1
		 ORDER BY past_due_since`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SubscriptionStore) ReplaceItems(ctx context.Context, subID uuid.UUID, items []billing.SubscriptionItem) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM subscription_items WHERE subscription_id = $1`, subID); err != nil {
			return err
		}
		for _, item := range items {
			id := item.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO subscription_items (id, subscription_id, provider_item_id, price_id, quantity, unit_amount)
				 VALUES ($1,$2,$3,$4,$5,$6)`,
				id, subID, item.ProviderItemID, item.PriceID, item.Quantity, item.UnitAmount,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SubscriptionStore) ListItems(ctx context.Context, subID uuid.UUID) ([]billing.SubscriptionItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subscription_id, provider_item_id, price_id, quantity, unit_amount
		 FROM subscription_items WHERE subscription_id = $1 ORDER BY price_id`, subID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []billing.SubscriptionItem
	for rows.Next() {
		var item billing.SubscriptionItem
		if err := rows.Scan(&item.ID, &item.SubscriptionID, &item.ProviderItemID,
			&item.PriceID, &item.Quantity, &item.UnitAmount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
