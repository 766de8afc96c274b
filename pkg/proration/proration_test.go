package proration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/proration"
)

func cycle30(t *testing.T) (time.Time, time.Time) {
	t.Helper()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 30)
}

func TestProrate(t *testing.T) {
	t.Parallel()

	start, end := cycle30(t)

	tests := []struct {
		name      string
		oldAmount int64
		newAmount int64
		changeAt  time.Time
		want      int64
	}{
		{
			name:      "upgrade at mid-cycle",
			oldAmount: 2000,
			newAmount: 3200,
			changeAt:  start.AddDate(0, 0, 15),
			want:      600, // 1200 * 15/30
		},
		{
			name:      "downgrade at mid-cycle yields credit",
			oldAmount: 3200,
			newAmount: 2000,
			changeAt:  start.AddDate(0, 0, 15),
			want:      -600,
		},
		{
			name:      "change at cycle start yields full delta",
			oldAmount: 1000,
			newAmount: 4000,
			changeAt:  start,
			want:      3000,
		},
		{
			name:      "change at cycle end yields zero",
			oldAmount: 1000,
			newAmount: 4000,
			changeAt:  end,
			want:      0,
		},
		{
			name:      "no amount change yields zero",
			oldAmount: 2000,
			newAmount: 2000,
			changeAt:  start.AddDate(0, 0, 10),
			want:      0,
		},
		{
			name:      "banker's rounding on half minor unit",
			oldAmount: 0,
			newAmount: 45, // 45 * 15/30 = 22.5 rounds to 22 (nearest even)
			changeAt:  start.AddDate(0, 0, 15),
			want:      22,
		},
		{
			name:      "sub-day remainder rounds to nearest day",
			oldAmount: 0,
			newAmount: 3000,
			changeAt:  start.AddDate(0, 0, 15).Add(13 * time.Hour), // rounds to 14 days remaining
			want:      1400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := proration.Prorate(tt.oldAmount, tt.newAmount, start, end, tt.changeAt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProrateSymmetry(t *testing.T) {
	t.Parallel()

	start, end := cycle30(t)
	at := start.AddDate(0, 0, 11)

	up, err := proration.Prorate(2000, 5600, start, end, at)
	require.NoError(t, err)
	down, err := proration.Prorate(5600, 2000, start, end, at)
	require.NoError(t, err)

	assert.Equal(t, up, -down, "upgrade and reverse downgrade at the same instant must cancel")
}

func TestProrateErrors(t *testing.T) {
	t.Parallel()

	start, end := cycle30(t)

	t.Run("negative amount", func(t *testing.T) {
		t.Parallel()
		_, err := proration.Prorate(-1, 100, start, end, start)
		assert.ErrorIs(t, err, proration.ErrNegativeAmount)
	})

	t.Run("inverted cycle", func(t *testing.T) {
		t.Parallel()
		_, err := proration.Prorate(100, 200, end, start, start)
		assert.ErrorIs(t, err, proration.ErrInvalidCycle)
	})

	t.Run("change before cycle", func(t *testing.T) {
		t.Parallel()
		_, err := proration.Prorate(100, 200, start, end, start.Add(-time.Hour))
		assert.ErrorIs(t, err, proration.ErrOutsideCycle)
	})

	t.Run("change after cycle", func(t *testing.T) {
		t.Parallel()
		_, err := proration.Prorate(100, 200, start, end, end.Add(time.Hour))
		assert.ErrorIs(t, err, proration.ErrOutsideCycle)
	})
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	start, end := cycle30(t)

	t.Run("each change prorates against the previous baseline", func(t *testing.T) {
		t.Parallel()

		sched, err := proration.NewSchedule(3000, start, end)
		require.NoError(t, err)

		// Day 10: 3000 -> 6000, 20 days remain: +2000.
		d1, err := sched.Apply(6000, start.AddDate(0, 0, 10))
		require.NoError(t, err)
		assert.Equal(t, int64(2000), d1)
		assert.Equal(t, int64(6000), sched.Baseline())

		// Day 20: 6000 -> 3000, 10 days remain: -1000 against the new
		// baseline, not against the original 3000.
		d2, err := sched.Apply(3000, start.AddDate(0, 0, 20))
		require.NoError(t, err)
		assert.Equal(t, int64(-1000), d2)

		assert.Equal(t, int64(1000), sched.Accrued())
	})

	t.Run("invalid cycle rejected", func(t *testing.T) {
		t.Parallel()
		_, err := proration.NewSchedule(1000, end, start)
		assert.ErrorIs(t, err, proration.ErrInvalidCycle)
	})

	t.Run("failed apply leaves baseline untouched", func(t *testing.T) {
		t.Parallel()

		sched, err := proration.NewSchedule(1000, start, end)
		require.NoError(t, err)

		_, err = sched.Apply(2000, end.Add(time.Hour))
		require.ErrorIs(t, err, proration.ErrOutsideCycle)
		assert.Equal(t, int64(1000), sched.Baseline())
		assert.Zero(t, sched.Accrued())
	})
}
