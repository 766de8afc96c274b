package plans_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/plans"
)

func validPlan() plans.Plan {
	return plans.Plan{
		ID:            "team",
		Name:          "Team",
		PerSeatAmount: 2000,
		Currency:      "USD",
		Interval:      billing.IntervalMonth,
		MaxSeats:      50,
		ProviderPriceIDs: map[string]string{
			"stripe": "price_team_monthly",
		},
	}
}

func TestPlanTotal(t *testing.T) {
	t.Parallel()

	p := validPlan()
	assert.Equal(t, int64(2000), p.Total(1))
	assert.Equal(t, int64(10000), p.Total(5))
	assert.Equal(t, int64(0), p.Total(0))
}

func TestPlanPriceID(t *testing.T) {
	t.Parallel()

	p := validPlan()

	id, err := p.PriceID("stripe")
	require.NoError(t, err)
	assert.Equal(t, "price_team_monthly", id)

	_, err = p.PriceID("paddle")
	assert.ErrorIs(t, err, plans.ErrInvalidConfiguration)
}

func TestPlanTrialEndsAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	p := validPlan()
	assert.Equal(t, start, p.TrialEndsAt(start), "no trial leaves start unchanged")

	p.TrialDays = 14
	assert.Equal(t, start.AddDate(0, 0, 14), p.TrialEndsAt(start))
}

func TestPlanValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*plans.Plan)
		valid  bool
	}{
		{name: "valid", mutate: func(p *plans.Plan) {}, valid: true},
		{name: "unlimited seats valid", mutate: func(p *plans.Plan) { p.MaxSeats = 0 }, valid: true},
		{name: "missing id", mutate: func(p *plans.Plan) { p.ID = "" }},
		{name: "negative amount", mutate: func(p *plans.Plan) { p.PerSeatAmount = -1 }},
		{name: "bad interval", mutate: func(p *plans.Plan) { p.Interval = "weekly" }},
		{name: "negative max seats", mutate: func(p *plans.Plan) { p.MaxSeats = -1 }},
		{name: "negative trial days", mutate: func(p *plans.Plan) { p.TrialDays = -1 }},
		{name: "bogus currency", mutate: func(p *plans.Plan) { p.Currency = "DOLLARS" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := validPlan()
			tt.mutate(&p)
			err := p.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, plans.ErrInvalidConfiguration)
			}
		})
	}
}

func TestCatalogValidate(t *testing.T) {
	t.Parallel()

	good := validPlan()
	require.NoError(t, plans.Validate(map[string]plans.Plan{"team": good}))

	err := plans.Validate(map[string]plans.Plan{"other": good})
	assert.ErrorIs(t, err, plans.ErrInvalidConfiguration, "map key must match plan ID")
}

func TestStaticSource(t *testing.T) {
	t.Parallel()

	src := plans.StaticSource{"team": validPlan()}
	catalog, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, catalog, 1)

	bad := validPlan()
	bad.Currency = "NOPE"
	_, err = plans.StaticSource{"team": bad}.Load(context.Background())
	assert.ErrorIs(t, err, plans.ErrInvalidConfiguration)
}

func TestYAMLSource(t *testing.T) {
	t.Parallel()

	t.Run("loads and indexes by id", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: starter
    name: Starter
    per_seat_amount: 900
    currency: USD
    interval: month
    max_seats: 5
    trial_days: 14
    provider_price_ids:
      stripe: price_starter
  - id: business
    name: Business
    per_seat_amount: 19000
    currency: EUR
    interval: year
    provider_price_ids:
      paddle: pri_business
`), 0o600))

		catalog, err := plans.YAMLSource{Path: path}.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, catalog, 2)

		starter := catalog["starter"]
		assert.Equal(t, int64(900), starter.PerSeatAmount)
		assert.Equal(t, billing.IntervalMonth, starter.Interval)
		assert.Equal(t, 14, starter.TrialDays)

		business := catalog["business"]
		assert.Equal(t, billing.IntervalYear, business.Interval)
		assert.Equal(t, 0, business.MaxSeats)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := plans.YAMLSource{Path: "/does/not/exist.yaml"}.Load(context.Background())
		assert.ErrorIs(t, err, plans.ErrFailedToLoad)
	})

	t.Run("invalid catalog rejected", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: broken
    per_seat_amount: -5
    currency: USD
    interval: month
`), 0o600))

		_, err := plans.YAMLSource{Path: path}.Load(context.Background())
		assert.ErrorIs(t, err, plans.ErrInvalidConfiguration)
	})
}
