package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeeklySchedule_Sunday(t *testing.T) {
	// Sunday March 10, 2024 — weekday==0 hits the ISO-week adjustment.
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	// Synced before this week's Monday (March 4).
	lastWeek := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)
	assert.True(t, WeeklySchedule(now, &lastWeek))

	// Synced this week (after Monday March 4).
	thisWeek := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	assert.False(t, WeeklySchedule(now, &thisWeek))
}

func TestDailySchedule(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, DailySchedule(now, nil))

	yesterday := time.Date(2024, time.March, 9, 23, 0, 0, 0, time.UTC)
	assert.True(t, DailySchedule(now, &yesterday))

	today := time.Date(2024, time.March, 10, 1, 0, 0, 0, time.UTC)
	assert.False(t, DailySchedule(now, &today))
}

func TestRegistry_Order(t *testing.T) {
	reg := NewRegistry(nil)
	// Crop yields must sync before the weather sources that derive their
	// year range from them.
	assert.Equal(t, []string{"conab", "inmet", "nasa-power"}, reg.AllNames())
}

func TestRegistry_Select(t *testing.T) {
	reg := NewRegistry(nil)

	all, err := reg.Select(nil)
	assert.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := reg.Select([]string{"inmet"})
	assert.NoError(t, err)
	assert.Len(t, some, 1)
	assert.Equal(t, "inmet", some[0].Name())

	_, err = reg.Select([]string{"bogus"})
	assert.Error(t, err)
}
