package billing

import (
	"time"

	"github.com/google/uuid"
)

// Invoice records a provider billing document for a subscription.
// Invoices outlive subscription cancellation and become immutable once paid.
type Invoice struct {
	ID                uuid.UUID
	SubscriptionID    uuid.UUID
	Provider          string
	ProviderInvoiceID string
	Status            InvoiceStatus
	AmountTotal       int64 // minor currency units; negative for credits
	AmountPaid        int64
	Currency          string
	DueDate           *time.Time
	PaidAt            *time.Time
	CreatedAt         time.Time
}

// Paid reports whether the invoice has been settled.
func (i *Invoice) Paid() bool {
	return i.Status == InvoicePaid
}

// PaymentMethod belongs to an organization. At most one method per
// organization carries the default flag; stores clear competing defaults
// on upsert.
type PaymentMethod struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Provider       string
	ProviderID     string
	Type           string // card, paypal, bank_transfer...
	Brand          string
	Last4          string
	IsDefault      bool
	CreatedAt      time.Time
}
