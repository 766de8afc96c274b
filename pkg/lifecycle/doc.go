// Package lifecycle implements the subscription state machine and the
// command surface on top of it.
//
// Two inputs drive state: user commands (create, plan change, seat change,
// cancel) and normalized provider events consumed through Apply. Both paths
// serialize per subscription behind a keyed mutex; the lock covers only the
// local read-decide-write sequence and is never held across outbound
// provider calls. A command records its intent, releases the lock, calls
// the provider, then re-acquires the lock to commit the confirmed result.
// If another writer committed in between, the command fails with
// ErrConcurrentModification rather than overwriting.
//
// The state machine is closed: canceled is terminal, and events arriving
// for a canceled subscription are acknowledged and dropped. Past-due
// subscriptions get a grace period to recover via a successful payment;
// RecheckPastDue cancels those that do not.
package lifecycle
