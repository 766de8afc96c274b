// Package httpserver wraps net/http with environment-driven configuration,
// graceful shutdown on context cancellation or OS signals, and probe
// handlers for liveness and readiness checks.
package httpserver
