package plans

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/currency"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrInvalidConfiguration = errors.New("invalid plan configuration")
	ErrFailedToLoad         = errors.New("failed to load plans")
)

// Plan describes a priced subscription tier. PerSeatAmount is the price of
// one seat per billing interval in minor currency units; the subscription
// total is PerSeatAmount * seats.
type Plan struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	PerSeatAmount int64  `yaml:"per_seat_amount"`
	Currency      string `yaml:"currency"`

	Interval billing.Interval `yaml:"interval"`

	// MaxSeats caps the seat count; zero means unlimited.
	MaxSeats  int `yaml:"max_seats"`
	TrialDays int `yaml:"trial_days"`

	// ProviderPriceIDs maps a provider name to its price/variant identifier,
	// e.g. {"stripe": "price_...", "paddle": "pri_...", "lemonsqueezy": "variant_..."}.
	ProviderPriceIDs map[string]string `yaml:"provider_price_ids"`
}

// Total returns the cycle amount for the given seat count.
func (p Plan) Total(seats int) int64 {
	return p.PerSeatAmount * int64(seats)
}

// PriceID resolves the provider-specific price identifier.
func (p Plan) PriceID(provider string) (string, error) {
	id, ok := p.ProviderPriceIDs[provider]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: plan %s has no price for provider %s", ErrInvalidConfiguration, p.ID, provider)
	}
	return id, nil
}

// TrialEndsAt calculates when the trial period ends. Returns startedAt
// unchanged if the plan has no trial.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// Validate checks a single plan for internal consistency.
func (p Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: plan ID is required", ErrInvalidConfiguration)
	}
	if p.PerSeatAmount < 0 {
		return fmt.Errorf("%w: plan %s has negative amount", ErrInvalidConfiguration, p.ID)
	}
	if !p.Interval.Valid() {
		return fmt.Errorf("%w: plan %s has invalid interval %q", ErrInvalidConfiguration, p.ID, p.Interval)
	}
	if p.MaxSeats < 0 {
		return fmt.Errorf("%w: plan %s has negative max seats", ErrInvalidConfiguration, p.ID)
	}
	if p.TrialDays < 0 {
		return fmt.Errorf("%w: plan %s has negative trial days", ErrInvalidConfiguration, p.ID)
	}
	if _, err := currency.ParseISO(p.Currency); err != nil {
		return fmt.Errorf("%w: plan %s has invalid currency %q", ErrInvalidConfiguration, p.ID, p.Currency)
	}
	return nil
}

// Validate ensures a catalog is internally consistent. Catches configuration
// errors early so a misconfigured catalog prevents startup.
func Validate(catalog map[string]Plan) error {
	for planID, plan := range catalog {
		if plan.ID != planID {
			return fmt.Errorf("%w: map key %s != plan.ID %s", ErrInvalidConfiguration, planID, plan.ID)
		}
		if err := plan.Validate(); err != nil {
			return err
		}
	}
	return nil
}
