// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool
// with startup retries, goose migrations run from an embedded filesystem,
// a health check closure, and error classification helpers used by the
// storage implementations.
package pg
