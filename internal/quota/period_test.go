package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextResetDate(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), NextResetDate(now))

	// December rolls into January of the next year
	now = time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), NextResetDate(now))
}

func TestAdvanceResetDate(t *testing.T) {
	reset := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Run("future date unchanged", func(t *testing.T) {
		now := time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, reset, AdvanceResetDate(reset, now))
	})

	t.Run("one period behind", func(t *testing.T) {
		now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), AdvanceResetDate(reset, now))
	})

	t.Run("idle across several periods", func(t *testing.T) {
		now := time.Date(2026, time.July, 20, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC), AdvanceResetDate(reset, now))
	})

	t.Run("boundary instant expires the period", func(t *testing.T) {
		now := reset
		assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), AdvanceResetDate(reset, now))
	})
}

func TestPeriodExpired(t *testing.T) {
	reset := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, PeriodExpired(reset, reset.Add(-time.Second)))
	assert.True(t, PeriodExpired(reset, reset))
	assert.True(t, PeriodExpired(reset, reset.Add(time.Hour)))
}
