// Package postgres implements the billing store interfaces on pgx/v5.
// The invariants the domain relies on live in the schema: a partial unique
// index allows one billable subscription per organization, a unique
// (provider, provider_event_id) index deduplicates webhook deliveries, and
// a conditional upsert keeps paid invoices immutable.
package postgres
