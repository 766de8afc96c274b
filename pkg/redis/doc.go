// Package redis connects to a redis server with startup retries. It backs
// the optional webhook duplicate fast path; the service runs fine without
// it, falling back to database-level idempotency.
package redis
