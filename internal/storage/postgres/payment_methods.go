package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// PaymentMethodStore is the pgx-backed billing.PaymentMethodStore.
type PaymentMethodStore struct {
	pool *pgxpool.Pool
}

var _ billing.PaymentMethodStore = (*PaymentMethodStore)(nil)

// NewPaymentMethodStore creates a store. Panics if pool is nil.
func NewPaymentMethodStore(pool *pgxpool.Pool) *PaymentMethodStore {
	if pool == nil {
		panic("postgres: pgx pool is required")
	}
	return &PaymentMethodStore{pool: pool}
}

// Upsert stores a payment method. Setting a default clears the default
// flag on the organization's other methods in the same transaction.
func (s *PaymentMethodStore) Upsert(ctx context.Context, pm *billing.PaymentMethod) error {
	if pm.ID == uuid.Nil {
		pm.ID = uuid.New()
	}
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if pm.IsDefault {
			if _, err := tx.Exec(ctx,
				`UPDATE payment_methods SET is_default = FALSE
				 WHERE organization_id = $1 AND provider_id <> $2`,
				pm.OrganizationID, pm.ProviderID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO payment_methods (id, organization_id, provider, provider_id, type, brand, last4, is_default, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (provider, provider_id) DO UPDATE SET
				type = EXCLUDED.type,
				brand = EXCLUDED.brand,
				last4 = EXCLUDED.last4,
				is_default = EXCLUDED.is_default`,
			pm.ID, pm.OrganizationID, pm.Provider, pm.ProviderID,
			pm.Type, pm.Brand, pm.Last4, pm.IsDefault, pm.CreatedAt,
		)
		return err
	})
}

func (s *PaymentMethodStore) List(ctx context.Context, orgID uuid.UUID) ([]*billing.PaymentMethod, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, organization_id, provider, provider_id, type, brand, last4, is_default, created_at
		 FROM payment_methods WHERE organization_id = $1
		 ORDER BY is_default DESC, created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []*billing.PaymentMethod
	for rows.Next() {
		var pm billing.PaymentMethod
		if err := rows.Scan(&pm.ID, &pm.OrganizationID, &pm.Provider, &pm.ProviderID,
			&pm.Type, &pm.Brand, &pm.Last4, &pm.IsDefault, &pm.CreatedAt); err != nil {
			return nil, err
		}
		methods = append(methods, &pm)
	}
	return methods, rows.Err()
}
