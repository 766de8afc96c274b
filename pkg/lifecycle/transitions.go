package lifecycle

import "github.com/dmitrymomot/billingkit/pkg/billing"

// transitions is the closed set of allowed status changes. canceled is
// terminal: it has no outgoing edges, so any attempted transition out of
// it fails the canTransition check.
var transitions = map[billing.Status][]billing.Status{
	billing.StatusIncomplete: {billing.StatusTrialing, billing.StatusActive, billing.StatusCanceled},
	billing.StatusTrialing:   {billing.StatusActive, billing.StatusPastDue, billing.StatusCanceled},
	billing.StatusActive:     {billing.StatusActive, billing.StatusPastDue, billing.StatusCanceled},
	billing.StatusPastDue:    {billing.StatusActive, billing.StatusCanceled},
	billing.StatusCanceled:   {},
}

// canTransition reports whether moving from one status to another is
// allowed. Same-status transitions are permitted only where listed
// (active -> active covers plan and seat updates).
func canTransition(from, to billing.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
