// Package provider is the anti-corruption layer between the billing engine
// and external payment processors. Each adapter translates normalized
// commands into one provider's API calls and normalizes that provider's
// webhook payloads into the closed Event enum consumed by the lifecycle
// manager.
//
// Adapters hold no local state; all persistence happens in the calling
// layers. Provider selection is pinned per subscription at creation time
// and resolved through the Registry, so a failing provider never silently
// migrates an existing subscription elsewhere.
//
// Error contract shared by all adapters:
//
//   - ErrProviderUnavailable: transport failures and 5xx, retryable
//   - ErrProviderRejected: 4xx business rejections, never retried
//   - ErrSignatureInvalid: webhook verification failure, event dropped
package provider
