// Package ingest is the webhook intake pipeline: verify the signature,
// persist the event, process it, retry what fails.
//
// The unique (provider, provider_event_id) insert is the idempotency
// primitive. A duplicate delivery hits the conflict and is acknowledged
// without reprocessing; an optional redis fast path short-circuits
// recently seen duplicates before the database. Events whose processing
// fails stay in the log and are replayed by the Sweeper with capped
// exponential backoff, then dead-lettered after MaxAttempts.
package ingest
