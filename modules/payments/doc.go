// Package payments exposes the billing engine over HTTP: subscription
// commands, invoice listing, and the provider webhook endpoint. The module
// returns a chi router meant to be mounted under a path prefix by the host
// application.
package payments
