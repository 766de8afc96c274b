package billing

// Status represents the current state of a subscription.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCanceled
}

// Billable reports whether the subscription currently entitles the
// organization to service (trialing counts as billable).
func (s Status) Billable() bool {
	return s == StatusTrialing || s == StatusActive
}

// Interval represents the billing frequency for a subscription.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Valid reports whether the interval is a known billing interval.
func (i Interval) Valid() bool {
	return i == IntervalMonth || i == IntervalYear
}

// InvoiceStatus represents the provider-side state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceOpen          InvoiceStatus = "open"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceVoid          InvoiceStatus = "void"
	InvoiceUncollectible InvoiceStatus = "uncollectible"
)
