package lifecycle

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/retry"
)

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides the time source, used by tests to pin the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithProviderBackoff overrides the backoff strategy applied between
// retries of transient provider failures.
func WithProviderBackoff(strategy retry.BackoffStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.backoff = strategy
		}
	}
}
