package seats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSeatLimitViolation = errors.New("seat limit violation")
	ErrNoCounter          = errors.New("seats: no used-seats counter registered")
)

// UsedSeatsFunc returns the number of seats currently occupied by active
// members of an organization. Membership lives outside the billing engine,
// so the count comes in through this narrow interface. Must be fast and
// ideally cached as it's called on every seat change.
type UsedSeatsFunc func(ctx context.Context, orgID uuid.UUID) (int, error)

// Manager enforces seat invariants: seats >= 1, seats <= plan maximum, and
// usedSeats <= seats. Reducing seats below current occupancy fails; the
// caller must remove members first.
type Manager struct {
	used UsedSeatsFunc
}

// NewManager creates a seat manager. Panics on a nil counter to fail fast
// during initialization.
func NewManager(used UsedSeatsFunc) *Manager {
	if used == nil {
		panic("seats: UsedSeatsFunc is required")
	}
	return &Manager{used: used}
}

// Validate checks that requested seats are permissible for the organization
// under the plan's maximum. maxSeats <= 0 means the plan is unlimited.
func (m *Manager) Validate(ctx context.Context, orgID uuid.UUID, requested, maxSeats int) error {
	if requested < 1 {
		return fmt.Errorf("%w: seat count must be at least 1, got %d", ErrSeatLimitViolation, requested)
	}
	if maxSeats > 0 && requested > maxSeats {
		return fmt.Errorf("%w: plan allows at most %d seats, got %d", ErrSeatLimitViolation, maxSeats, requested)
	}

	used, err := m.used(ctx, orgID)
	if err != nil {
		return errors.Join(ErrNoCounter, err)
	}
	if used > requested {
		return fmt.Errorf("%w: %d seats in use, cannot reduce to %d", ErrSeatLimitViolation, used, requested)
	}

	return nil
}

// Used returns the current occupancy for an organization.
func (m *Manager) Used(ctx context.Context, orgID uuid.UUID) (int, error) {
	used, err := m.used(ctx, orgID)
	if err != nil {
		return 0, errors.Join(ErrNoCounter, err)
	}
	return used, nil
}
