package billing

import "errors"

var (
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrSubscriptionExists     = errors.New("organization already has a billable subscription")
	ErrSubscriptionTerminated = errors.New("subscription is terminated")
	ErrInvalidTransition      = errors.New("invalid subscription state transition")

	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrInvoiceImmutable = errors.New("paid invoices cannot be modified")

	ErrEventNotFound = errors.New("webhook event not found")

	ErrValidation = errors.New("validation failed")
)
