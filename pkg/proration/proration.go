package proration

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCycle   = errors.New("proration: cycle end must be after cycle start")
	ErrOutsideCycle   = errors.New("proration: change instant outside billing cycle")
	ErrNegativeAmount = errors.New("proration: amounts must be non-negative")
)

// Prorate computes the charge (positive) or credit (negative) owed when a
// subscription's cycle amount changes mid-cycle. Amounts are in minor
// currency units. Granularity is whole days:
//
//	delta = (newAmount - oldAmount) * remainingDays / totalCycleDays
//
// The result is rounded to the nearest minor unit with banker's rounding
// so repeated prorations carry no systematic bias. A change at cycle start
// yields the full delta; a change at cycle end yields zero.
func Prorate(oldAmount, newAmount int64, cycleStart, cycleEnd, changeAt time.Time) (int64, error) {
	if oldAmount < 0 || newAmount < 0 {
		return 0, ErrNegativeAmount
	}
	if !cycleEnd.After(cycleStart) {
		return 0, ErrInvalidCycle
	}
	if changeAt.Before(cycleStart) || changeAt.After(cycleEnd) {
		return 0, ErrOutsideCycle
	}

	totalDays := daysBetween(cycleStart, cycleEnd)
	remainingDays := daysBetween(changeAt, cycleEnd)
	if totalDays == 0 || remainingDays == 0 {
		return 0, nil
	}

	delta := decimal.NewFromInt(newAmount - oldAmount).
		Mul(decimal.NewFromInt(remainingDays)).
		Div(decimal.NewFromInt(totalDays)).
		RoundBank(0)

	return delta.IntPart(), nil
}

// daysBetween counts whole days from a to b, rounding sub-day remainders
// to the nearest day so mid-day changes bill the closest boundary.
func daysBetween(a, b time.Time) int64 {
	hours := decimal.NewFromFloat(b.Sub(a).Hours())
	return hours.Div(decimal.NewFromInt(24)).RoundBank(0).IntPart()
}

// Schedule composes multiple mid-cycle changes. Each change's delta is
// computed against the immediately preceding settled amount and its own
// remaining-days window, never against the original cycle-start amount.
type Schedule struct {
	cycleStart time.Time
	cycleEnd   time.Time
	baseline   int64
	accrued    int64
}

// NewSchedule starts a proration schedule for one billing cycle with the
// amount in force at cycle start.
func NewSchedule(baseline int64, cycleStart, cycleEnd time.Time) (*Schedule, error) {
	if !cycleEnd.After(cycleStart) {
		return nil, ErrInvalidCycle
	}
	if baseline < 0 {
		return nil, ErrNegativeAmount
	}
	return &Schedule{
		cycleStart: cycleStart,
		cycleEnd:   cycleEnd,
		baseline:   baseline,
	}, nil
}

// Apply records a change to newAmount at changeAt and returns that change's
// delta. The new amount becomes the baseline for subsequent changes.
func (s *Schedule) Apply(newAmount int64, changeAt time.Time) (int64, error) {
	delta, err := Prorate(s.baseline, newAmount, s.cycleStart, s.cycleEnd, changeAt)
	if err != nil {
		return 0, err
	}
	s.baseline = newAmount
	s.accrued += delta
	return delta, nil
}

// Accrued returns the sum of all deltas applied so far, billed on the next
// invoice.
func (s *Schedule) Accrued() int64 {
	return s.accrued
}

// Baseline returns the currently settled cycle amount.
func (s *Schedule) Baseline() int64 {
	return s.baseline
}
