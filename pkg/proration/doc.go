// Package proration computes partial-period billing adjustments for plan
// and seat changes that happen mid-cycle.
//
// The calculator is pure: no clock access, no I/O. Callers pass the cycle
// boundaries and the change instant explicitly, which keeps the math
// trivially testable and lets the lifecycle manager decide when a change
// takes effect.
package proration
