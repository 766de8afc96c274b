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

// InvoiceStore is the pgx-backed billing.InvoiceStore. Paid invoices are
// immutable; the conditional upsert skips them and re-upserting the paid
// status stays a no-op so event replays converge.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

var _ billing.InvoiceStore = (*InvoiceStore)(nil)

// NewInvoiceStore creates a store. Panics if pool is nil.
func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	if pool == nil {
		panic("postgres: pgx pool is required")
	}
	return &InvoiceStore{pool: pool}
}

const invoiceColumns = `id, subscription_id, provider, provider_invoice_id, status,
	amount_total, amount_paid, currency, due_date, paid_at, created_at`

func scanInvoice(row pgx.Row) (*billing.Invoice, error) {
	var inv billing.Invoice
	err := row.Scan(
		&inv.ID, &inv.SubscriptionID, &inv.Provider, &inv.ProviderInvoiceID,
		&inv.Status, &inv.AmountTotal, &inv.AmountPaid, &inv.Currency,
		&inv.DueDate, &inv.PaidAt, &inv.CreatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *InvoiceStore) Upsert(ctx context.Context, inv *billing.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	// The WHERE clause on the conflict update refuses to touch paid rows.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (provider, provider_invoice_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount_total = EXCLUDED.amount_total,
			amount_paid = EXCLUDED.amount_paid,
			currency = EXCLUDED.currency,
			due_date = EXCLUDED.due_date,
			paid_at = EXCLUDED.paid_at
		 WHERE invoices.status <> 'paid'`,
		inv.ID, inv.SubscriptionID, inv.Provider, inv.ProviderInvoiceID,
		inv.Status, inv.AmountTotal, inv.AmountPaid, inv.Currency,
		inv.DueDate, inv.PaidAt, inv.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// The existing row is paid. Replaying the settlement is fine;
		// anything else would mutate a settled document.
		if inv.Status == billing.InvoicePaid {
			return nil
		}
		return billing.ErrInvoiceImmutable
	}
	return nil
}

func (s *InvoiceStore) GetByProviderID(ctx context.Context, provider, providerInvoiceID string) (*billing.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE provider = $1 AND provider_invoice_id = $2`, provider, providerInvoiceID)
	return scanInvoice(row)
}

func (s *InvoiceStore) ListBySubscription(ctx context.Context, subID uuid.UUID) ([]*billing.Invoice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE subscription_id = $1 ORDER BY created_at DESC`, subID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}
