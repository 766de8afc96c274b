// Package billing defines the domain model of the subscription billing
// engine: the Subscription aggregate with its priced items, invoices,
// payment methods, and the append-only webhook event log.
//
// The package carries no behavior beyond small accessors; lifecycle rules
// live in pkg/lifecycle, provider translation in pkg/provider, and webhook
// processing in pkg/ingest. Store interfaces declared here are implemented
// by the in-memory stores in this package and the postgres implementations
// under internal/storage/postgres.
//
// # Invariants
//
//   - One billable (non-canceled) subscription per organization, enforced
//     on SubscriptionStore.Create.
//   - (provider, provider_event_id) is globally unique on the event log,
//     enforced on EventStore.Insert.
//   - Paid invoices are immutable; InvoiceStore.Upsert rejects updates.
//   - At most one default payment method per organization.
package billing
