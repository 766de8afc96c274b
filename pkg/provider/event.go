package provider

import "time"

// Kind is the closed set of normalized event types. Each adapter maps its
// provider's native event names onto this enum so the lifecycle manager
// never consumes raw provider payloads.
type Kind string

const (
	KindSubscriptionCreated  Kind = "subscription.created"
	KindSubscriptionUpdated  Kind = "subscription.updated"
	KindSubscriptionCanceled Kind = "subscription.canceled"
	KindPeriodRenewed        Kind = "subscription.period_renewed"
	KindPaymentSucceeded     Kind = "invoice.payment_succeeded"
	KindPaymentFailed        Kind = "invoice.payment_failed"
	KindPaymentMethodAdded   Kind = "payment_method.attached"
	KindUnknown              Kind = "unknown"
)

// Event is the normalized form of a provider webhook. Exactly one Kind is
// set; optional payload sections (Invoice, PaymentMethod) are nil unless
// the event carries them.
type Event struct {
	Kind            Kind   `json:"kind"`
	Provider        string `json:"provider"`
	ProviderEventID string `json:"provider_event_id"`
	ProviderEvent   string `json:"provider_event"` // original provider event name

	SubscriptionID string `json:"subscription_id,omitempty"` // provider-side
	OrganizationID string `json:"organization_id,omitempty"` // from provider metadata
	PlanPriceID    string `json:"plan_price_id,omitempty"`
	Status         string `json:"status,omitempty"`
	Seats          int    `json:"seats,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`

	PeriodStart time.Time `json:"period_start,omitzero"`
	PeriodEnd   time.Time `json:"period_end,omitzero"`

	Invoice       *InvoiceData       `json:"invoice,omitempty"`
	PaymentMethod *PaymentMethodData `json:"payment_method,omitempty"`
}

// InvoiceData is the invoice section of a normalized event.
type InvoiceData struct {
	ProviderInvoiceID string     `json:"provider_invoice_id"`
	Status            string     `json:"status"`
	AmountTotal       int64      `json:"amount_total"`
	AmountPaid        int64      `json:"amount_paid"`
	Currency          string     `json:"currency"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

// PaymentMethodData is the payment method section of a normalized event.
type PaymentMethodData struct {
	ProviderID string `json:"provider_id"`
	Type       string `json:"type"`
	Brand      string `json:"brand,omitempty"`
	Last4      string `json:"last4,omitempty"`
	IsDefault  bool   `json:"is_default"`
}
