package lifecycle

import "errors"

var (
	// ErrConcurrentModification signals that another command committed
	// between this command's decision and its provider-confirmed commit.
	// The caller observes the already-committed state and may retry.
	ErrConcurrentModification = errors.New("subscription modified concurrently")

	// ErrNotBillable signals a command that requires an active or trialing
	// subscription.
	ErrNotBillable = errors.New("subscription is not in a billable state")

	// ErrUnmatchedEvent signals a webhook event that references no known
	// subscription. Retried by the sweep in case the confirming create
	// arrives out of order.
	ErrUnmatchedEvent = errors.New("event does not match any subscription")
)
