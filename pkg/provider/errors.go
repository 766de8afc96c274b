package provider

import "errors"

var (
	// ErrProviderUnavailable covers network failures and provider 5xx
	// responses. Safe to retry with backoff.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrProviderRejected covers provider 4xx business rejections. Never
	// retried; surfaced to the caller.
	ErrProviderRejected = errors.New("payment provider rejected the request")

	// ErrSignatureInvalid indicates webhook signature verification failed.
	// The event is dropped and logged, never persisted.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrMissingAPIKey       = errors.New("provider API key is required")
	ErrMissingSecret       = errors.New("provider webhook secret is required")
)
